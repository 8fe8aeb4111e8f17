package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"shopledger/internal/db"
	"shopledger/internal/domain"
	"shopledger/internal/logger"
)

const returnPrefix = "RET-"

// InvoiceRepository is the append-mostly sales ledger.
type InvoiceRepository struct {
	table  *db.Table
	cells  cells
	log    *logger.Logger
	now    func() time.Time
	prefix string
}

var invoiceColumns = []db.Column{
	{Name: "invoice_number"},
	{Name: "date"},
	{Name: "customer_name"},
	{Name: "customer_phone"},
	{Name: "customer_address"},
	{Name: "subtotal", Default: "0"},
	{Name: "discount", Default: "0"},
	{Name: "delivery", Default: "0"},
	{Name: "grand_total", Default: "0"},
	{Name: "payment_method", Default: "Cash"},
	{Name: "transaction_id"},
	{Name: "items_json", Default: "[]"},
	{Name: "status", Default: domain.StatusPaid},
	{Name: "original_invoice_no"},
	{Name: "hash"},
}

// OpenInvoices migrates the invoice file and fills in missing hashes.
func OpenInvoices(ctx context.Context, opts Options) (*InvoiceRepository, error) {
	opts = opts.withDefaults()
	log := opts.Logger.WithComponent("invoices")
	r := &InvoiceRepository{
		table:  db.NewTable(filepath.Join(opts.DataDir, InvoicesFile), invoiceColumns, opts.tableOptions()),
		cells:  cells{log: log},
		log:    log,
		now:    opts.Now,
		prefix: opts.InvoicePrefix,
	}

	migrated, err := r.table.Ensure(ctx)
	if err != nil {
		return nil, fmt.Errorf("open invoices: %w", err)
	}
	if migrated {
		log.Infow("invoice schema migrated", "path", r.table.Path())
	}

	filled := 0
	err = r.table.Update(ctx, func(snap *db.Snapshot) (bool, error) {
		for _, rec := range snap.Records {
			if strings.TrimSpace(rec["hash"]) == "" {
				rec["hash"] = InvoiceHash(rec["customer_name"], rec["items_json"], rec["date"])
				filled++
			}
		}
		return filled > 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("backfill invoice hashes: %w", err)
	}
	if filled > 0 {
		log.Infow("generated missing invoice hashes", "count", filled)
	}
	return r, nil
}

func (r *InvoiceRepository) Path() string { return r.table.Path() }

func (r *InvoiceRepository) toInvoice(rec db.Record) domain.Invoice {
	number := strings.TrimSpace(rec["invoice_number"])
	items, err := DecodeItems(rec["items_json"])
	if err != nil {
		r.log.Warnw("unreadable invoice items", "invoice", number, "error", err)
		items = []domain.LineItem{}
	}
	return domain.Invoice{
		Number:            number,
		Date:              strings.TrimSpace(rec["date"]),
		CustomerName:      rec["customer_name"],
		CustomerPhone:     rec["customer_phone"],
		CustomerAddress:   rec["customer_address"],
		Items:             items,
		Subtotal:          r.cells.float(rec, "subtotal", number),
		Discount:          r.cells.float(rec, "discount", number),
		Delivery:          r.cells.float(rec, "delivery", number),
		GrandTotal:        r.cells.float(rec, "grand_total", number),
		PaymentMethod:     rec["payment_method"],
		TransactionID:     rec["transaction_id"],
		Status:            strings.TrimSpace(rec["status"]),
		OriginalInvoiceNo: strings.TrimSpace(rec["original_invoice_no"]),
		Hash:              strings.TrimSpace(rec["hash"]),
	}
}

// putInvoice writes inv into rec and returns the serialised items.
func putInvoice(rec db.Record, inv domain.Invoice) (string, error) {
	itemsJSON, err := EncodeItems(inv.Items)
	if err != nil {
		return "", err
	}
	rec["invoice_number"] = inv.Number
	rec["date"] = inv.Date
	rec["customer_name"] = inv.CustomerName
	rec["customer_phone"] = inv.CustomerPhone
	rec["customer_address"] = inv.CustomerAddress
	rec["subtotal"] = formatFloat(inv.Subtotal)
	rec["discount"] = formatFloat(inv.Discount)
	rec["delivery"] = formatFloat(inv.Delivery)
	rec["grand_total"] = formatFloat(inv.GrandTotal)
	rec["payment_method"] = inv.PaymentMethod
	rec["transaction_id"] = inv.TransactionID
	rec["items_json"] = itemsJSON
	rec["status"] = inv.Status
	rec["original_invoice_no"] = inv.OriginalInvoiceNo
	rec["hash"] = inv.Hash
	return itemsJSON, nil
}

func matchInvoiceNumber(number string) func(db.Record) bool {
	number = strings.TrimSpace(number)
	return func(rec db.Record) bool {
		return strings.TrimSpace(rec["invoice_number"]) == number
	}
}

// NextNumber returns PREFIX-YEAR-SEQ for the current year, with SEQ one more
// than the highest sequence already used that year under the same prefix.
// Returns and unparsable numbers are ignored.
func (r *InvoiceRepository) NextNumber(ctx context.Context) (string, error) {
	snap, err := r.table.Read(ctx)
	if err != nil {
		return "", err
	}
	return r.nextNumber(snap), nil
}

func (r *InvoiceRepository) nextNumber(snap *db.Snapshot) string {
	year := r.now().Year()
	highest := 0
	for _, rec := range snap.Records {
		prefix, y, seq, ok := parseInvoiceNumber(rec["invoice_number"])
		if !ok || prefix != r.prefix || y != year {
			continue
		}
		if seq > highest {
			highest = seq
		}
	}
	return fmt.Sprintf("%s-%d-%03d", r.prefix, year, highest+1)
}

func parseInvoiceNumber(raw string) (string, int, int, bool) {
	parts := strings.Split(strings.TrimSpace(raw), "-")
	if len(parts) != 3 {
		return "", 0, 0, false
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, 0, false
	}
	seq, err := strconv.Atoi(parts[2])
	if err != nil || seq < 0 {
		return "", 0, 0, false
	}
	return parts[0], year, seq, true
}

// prepare validates inv, recomputes its totals and hash and fills defaults.
func (r *InvoiceRepository) prepare(inv domain.Invoice) (domain.Invoice, string, error) {
	inv.Number = strings.TrimSpace(inv.Number)
	inv.OriginalInvoiceNo = strings.TrimSpace(inv.OriginalInvoiceNo)
	if inv.Number == "" {
		return inv, "", validationErr("invoice number is required")
	}
	if err := validateItems(inv.Items); err != nil {
		return inv, "", err
	}
	if inv.Discount < 0 || inv.Delivery < 0 {
		return inv, "", validationErr("discount and delivery must not be negative")
	}
	inv.Status = strings.ToUpper(strings.TrimSpace(inv.Status))
	if inv.Status == "" {
		inv.Status = domain.StatusPaid
	}
	if !domain.ValidStatus(inv.Status) {
		return inv, "", validationErr("unknown status %q", inv.Status)
	}
	if inv.PaymentMethod == "" {
		inv.PaymentMethod = "Cash"
	}
	if inv.Date == "" {
		inv.Date = r.now().Format(domain.InvoiceDateLayout)
	}
	if inv.Items == nil {
		inv.Items = []domain.LineItem{}
	}

	if inv.IsReturn() {
		inv.Discount, inv.Delivery = 0, 0
		inv.Subtotal = returnSubtotal(inv.Items)
		inv.GrandTotal = inv.Subtotal
	} else {
		inv.Subtotal, inv.GrandTotal = ComputeTotals(inv.Items, inv.Discount, inv.Delivery)
	}

	itemsJSON, err := EncodeItems(inv.Items)
	if err != nil {
		return inv, "", err
	}
	inv.Hash = InvoiceHash(inv.CustomerName, itemsJSON, inv.Date)
	return inv, itemsJSON, nil
}

func duplicateWarning(snap *db.Snapshot, hash, except string) string {
	for _, rec := range snap.Records {
		number := strings.TrimSpace(rec["invoice_number"])
		if number != except && strings.TrimSpace(rec["hash"]) == hash {
			return fmt.Sprintf("Possible duplicate of invoice %s", number)
		}
	}
	return ""
}

// Save appends inv to the ledger. Totals are recomputed from the line items
// so that grand_total = subtotal - discount + delivery always holds. The
// returned warning is non-empty when another invoice has the same customer,
// items and date; the invoice is saved regardless.
func (r *InvoiceRepository) Save(ctx context.Context, inv domain.Invoice) (domain.Invoice, string, error) {
	prepared, _, err := r.prepare(inv)
	if err != nil {
		return domain.Invoice{}, "", err
	}

	warning := ""
	err = r.table.Append(ctx, func(snap *db.Snapshot) (db.Record, error) {
		if snap.Find(matchInvoiceNumber(prepared.Number)) >= 0 {
			return nil, validationErr("invoice %s already exists", prepared.Number)
		}
		warning = duplicateWarning(snap, prepared.Hash, "")
		rec := db.Record{}
		if _, err := putInvoice(rec, prepared); err != nil {
			return nil, err
		}
		return rec, nil
	})
	if err != nil {
		return domain.Invoice{}, "", err
	}
	if warning != "" {
		r.log.Warnw("possible duplicate invoice saved", "invoice", prepared.Number, "warning", warning)
	}
	return prepared, warning, nil
}

func (r *InvoiceRepository) List(ctx context.Context) ([]domain.Invoice, error) {
	return r.filter(ctx, func(db.Record) bool { return true })
}

func (r *InvoiceRepository) filter(ctx context.Context, pred func(db.Record) bool) ([]domain.Invoice, error) {
	snap, err := r.table.Read(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Invoice, 0)
	for _, rec := range snap.Records {
		if strings.TrimSpace(rec["invoice_number"]) == "" || !pred(rec) {
			continue
		}
		out = append(out, r.toInvoice(rec))
	}
	return out, nil
}

func (r *InvoiceRepository) Get(ctx context.Context, number string) (*domain.Invoice, error) {
	snap, err := r.table.Read(ctx)
	if err != nil {
		return nil, err
	}
	idx := snap.Find(matchInvoiceNumber(number))
	if idx < 0 {
		return nil, ErrNotFound
	}
	inv := r.toInvoice(snap.Records[idx])
	return &inv, nil
}

// Update edits the invoice in place. The invoice number is immutable.
// Items and totals are recomputed only when the patch touches items,
// discount or delivery; other patches rewrite just the columns they name.
func (r *InvoiceRepository) Update(ctx context.Context, number string, patch domain.InvoicePatch) (domain.Invoice, error) {
	if patch.Items == nil && patch.Discount == nil && patch.Delivery == nil {
		return r.updateHeader(ctx, number, patch)
	}
	var updated domain.Invoice
	err := r.table.Update(ctx, func(snap *db.Snapshot) (bool, error) {
		idx := snap.Find(matchInvoiceNumber(number))
		if idx < 0 {
			return false, ErrNotFound
		}
		inv := r.toInvoice(snap.Records[idx])
		applyInvoicePatch(&inv, patch)
		prepared, _, err := r.prepare(inv)
		if err != nil {
			return false, err
		}
		if _, err := putInvoice(snap.Records[idx], prepared); err != nil {
			return false, err
		}
		updated = prepared
		return true, nil
	})
	return updated, err
}

// updateHeader writes customer, payment, date and status fields without
// decoding items_json, so legacy money columns survive byte for byte.
func (r *InvoiceRepository) updateHeader(ctx context.Context, number string, patch domain.InvoicePatch) (domain.Invoice, error) {
	if patch.Status != nil {
		status := strings.ToUpper(strings.TrimSpace(*patch.Status))
		if !domain.ValidStatus(status) {
			return domain.Invoice{}, validationErr("unknown status %q", status)
		}
		patch.Status = &status
	}

	var updated domain.Invoice
	err := r.table.Update(ctx, func(snap *db.Snapshot) (bool, error) {
		idx := snap.Find(matchInvoiceNumber(number))
		if idx < 0 {
			return false, ErrNotFound
		}
		rec := snap.Records[idx]
		changed := false
		set := func(column string, value *string) {
			if value != nil && rec[column] != *value {
				rec[column] = *value
				changed = true
			}
		}
		if patch.Date != nil {
			date := strings.TrimSpace(*patch.Date)
			set("date", &date)
		}
		set("customer_name", patch.CustomerName)
		set("customer_phone", patch.CustomerPhone)
		set("customer_address", patch.CustomerAddress)
		set("payment_method", patch.PaymentMethod)
		set("transaction_id", patch.TransactionID)
		set("status", patch.Status)
		if changed && (patch.Date != nil || patch.CustomerName != nil) {
			rec["hash"] = InvoiceHash(rec["customer_name"], rec["items_json"], rec["date"])
		}
		updated = r.toInvoice(rec)
		return changed, nil
	})
	return updated, err
}

func applyInvoicePatch(inv *domain.Invoice, patch domain.InvoicePatch) {
	if patch.Date != nil {
		inv.Date = strings.TrimSpace(*patch.Date)
	}
	if patch.CustomerName != nil {
		inv.CustomerName = *patch.CustomerName
	}
	if patch.CustomerPhone != nil {
		inv.CustomerPhone = *patch.CustomerPhone
	}
	if patch.CustomerAddress != nil {
		inv.CustomerAddress = *patch.CustomerAddress
	}
	if patch.Items != nil {
		inv.Items = append([]domain.LineItem(nil), (*patch.Items)...)
	}
	if patch.Discount != nil {
		inv.Discount = *patch.Discount
	}
	if patch.Delivery != nil {
		inv.Delivery = *patch.Delivery
	}
	if patch.PaymentMethod != nil {
		inv.PaymentMethod = *patch.PaymentMethod
	}
	if patch.TransactionID != nil {
		inv.TransactionID = *patch.TransactionID
	}
	if patch.Status != nil {
		inv.Status = strings.ToUpper(strings.TrimSpace(*patch.Status))
	}
}

// Delete removes the invoice and returns it so the caller can decide
// whether to put its items back into stock.
func (r *InvoiceRepository) Delete(ctx context.Context, number string) (domain.Invoice, error) {
	var removed domain.Invoice
	err := r.table.Update(ctx, func(snap *db.Snapshot) (bool, error) {
		idx := snap.Find(matchInvoiceNumber(number))
		if idx < 0 {
			return false, ErrNotFound
		}
		removed = r.toInvoice(snap.Remove(idx))
		return true, nil
	})
	return removed, err
}

// Search does a case-insensitive substring match. Field "all" (or empty)
// looks at the invoice number, customer name and phone; any other field
// must be a column of the file or nothing matches.
func (r *InvoiceRepository) Search(ctx context.Context, query, field string) ([]domain.Invoice, error) {
	snap, err := r.table.Read(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))
	field = strings.TrimSpace(field)

	fields := []string{"invoice_number", "customer_name", "customer_phone"}
	if field != "" && field != "all" {
		if !snap.HasColumn(field) {
			return []domain.Invoice{}, nil
		}
		fields = []string{field}
	}

	out := make([]domain.Invoice, 0)
	for _, rec := range snap.Records {
		for _, f := range fields {
			if strings.Contains(strings.ToLower(rec[f]), query) {
				out = append(out, r.toInvoice(rec))
				break
			}
		}
	}
	return out, nil
}

// UpdateStatus moves the invoice to any of PAID, PARTIAL or DUE. Only the
// status column is written.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, number, status string) error {
	status = strings.ToUpper(strings.TrimSpace(status))
	if !domain.ValidStatus(status) {
		return validationErr("unknown status %q", status)
	}
	return r.table.Update(ctx, func(snap *db.Snapshot) (bool, error) {
		idx := snap.Find(matchInvoiceNumber(number))
		if idx < 0 {
			return false, ErrNotFound
		}
		rec := snap.Records[idx]
		if rec["status"] == status {
			return false, nil
		}
		rec["status"] = status
		return true, nil
	})
}

func (r *InvoiceRepository) ListByStatus(ctx context.Context, status string) ([]domain.Invoice, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	return r.filter(ctx, func(rec db.Record) bool {
		return strings.EqualFold(strings.TrimSpace(rec["status"]), status)
	})
}

// ReturnNumber derives the return invoice number for original, e.g.
// "#SC-2025-001" becomes "RET-SC_2025_001".
func ReturnNumber(original string) string {
	base := strings.ReplaceAll(strings.TrimSpace(original), "#", "")
	return returnPrefix + strings.ReplaceAll(base, "-", "_")
}

// CreateReturn records a refund against original for the given items. The
// return has negative totals, payment method Refund and status PAID. Repeat
// returns against the same invoice get -2, -3, ... suffixes.
func (r *InvoiceRepository) CreateReturn(ctx context.Context, original string, items []domain.LineItem) (domain.Invoice, error) {
	original = strings.TrimSpace(original)
	if len(items) == 0 {
		return domain.Invoice{}, validationErr("return needs at least one item")
	}

	var saved domain.Invoice
	err := r.table.Append(ctx, func(snap *db.Snapshot) (db.Record, error) {
		idx := snap.Find(matchInvoiceNumber(original))
		if idx < 0 {
			return nil, fmt.Errorf("original invoice %s: %w", original, ErrNotFound)
		}
		source := r.toInvoice(snap.Records[idx])
		if source.IsReturn() {
			return nil, validationErr("invoice %s is itself a return", original)
		}

		number := ReturnNumber(original)
		for n := 2; snap.Find(matchInvoiceNumber(number)) >= 0; n++ {
			number = fmt.Sprintf("%s-%d", ReturnNumber(original), n)
		}

		prepared, _, err := r.prepare(domain.Invoice{
			Number:            number,
			Date:              r.now().Format(domain.InvoiceDateLayout),
			CustomerName:      source.CustomerName,
			CustomerPhone:     source.CustomerPhone,
			CustomerAddress:   source.CustomerAddress,
			Items:             items,
			PaymentMethod:     domain.PaymentRefund,
			Status:            domain.StatusPaid,
			OriginalInvoiceNo: source.Number,
		})
		if err != nil {
			return nil, err
		}
		rec := db.Record{}
		if _, err := putInvoice(rec, prepared); err != nil {
			return nil, err
		}
		saved = prepared
		return rec, nil
	})
	if err != nil {
		return domain.Invoice{}, err
	}
	return saved, nil
}

// ReturnsFor lists the return invoices recorded against number.
func (r *InvoiceRepository) ReturnsFor(ctx context.Context, number string) ([]domain.Invoice, error) {
	number = strings.TrimSpace(number)
	return r.filter(ctx, func(rec db.Record) bool {
		return strings.TrimSpace(rec["original_invoice_no"]) == number
	})
}

// FindDuplicate returns the first invoice with hash, or nil when none.
func (r *InvoiceRepository) FindDuplicate(ctx context.Context, hash string) (*domain.Invoice, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, nil
	}
	matches, err := r.filter(ctx, func(rec db.Record) bool {
		return strings.TrimSpace(rec["hash"]) == hash
	})
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return &matches[0], nil
}

// CheckPotentialDuplicate looks for an invoice that Save would flag.
func (r *InvoiceRepository) CheckPotentialDuplicate(ctx context.Context, customer string, items []domain.LineItem, date string) (*domain.Invoice, error) {
	itemsJSON, err := EncodeItems(items)
	if err != nil {
		return nil, err
	}
	return r.FindDuplicate(ctx, InvoiceHash(customer, itemsJSON, date))
}

// DailySales totals grand totals per day from days ago through today,
// oldest first. Days without invoices and future-dated invoices are omitted.
func (r *InvoiceRepository) DailySales(ctx context.Context, days int) ([]domain.DailySales, error) {
	invoices, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	today := startOfDay(r.now())
	cutoff := today.AddDate(0, 0, -days)
	revenue := map[string]decimal.Decimal{}
	counts := map[string]int{}
	for _, inv := range invoices {
		date, ok := domain.ParseDate(inv.Date)
		if !ok || date.Before(cutoff) || startOfDay(date).After(today) {
			continue
		}
		key := date.Format(domain.AddedDateLayout)
		revenue[key] = revenue[key].Add(decimal.NewFromFloat(inv.GrandTotal))
		counts[key]++
	}

	out := make([]domain.DailySales, 0, len(counts))
	for key, count := range counts {
		out = append(out, domain.DailySales{
			Date:         key,
			Revenue:      revenue[key].Round(2).InexactFloat64(),
			InvoiceCount: count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// Summary counts invoices, their revenue, status breakdown and today's sales.
func (r *InvoiceRepository) Summary(ctx context.Context) (domain.InvoiceSummary, error) {
	invoices, err := r.List(ctx)
	if err != nil {
		return domain.InvoiceSummary{}, err
	}
	today := startOfDay(r.now())
	total, todaySales := decimal.Zero, decimal.Zero
	summary := domain.InvoiceSummary{TotalInvoices: len(invoices), StatusCounts: map[string]int{}}
	for _, inv := range invoices {
		amount := decimal.NewFromFloat(inv.GrandTotal)
		total = total.Add(amount)
		if inv.Status != "" {
			summary.StatusCounts[inv.Status]++
		}
		if date, ok := domain.ParseDate(inv.Date); ok && startOfDay(date).Equal(today) {
			todaySales = todaySales.Add(amount)
		}
	}
	summary.TotalRevenue = total.Round(2).InexactFloat64()
	summary.TodaySales = todaySales.Round(2).InexactFloat64()
	return summary, nil
}

// NormalizeItems rewrites items stored in the legacy literal notation as
// JSON. Stored hashes are left as they are. It returns the number of rows
// rewritten.
func (r *InvoiceRepository) NormalizeItems(ctx context.Context) (int, error) {
	converted := 0
	err := r.table.Update(ctx, func(snap *db.Snapshot) (bool, error) {
		for _, rec := range snap.Records {
			raw := strings.TrimSpace(rec["items_json"])
			if raw == "" || isJSONItems(raw) {
				continue
			}
			items, err := DecodeItems(raw)
			if err != nil {
				r.log.Warnw("items left as is", "invoice", rec["invoice_number"], "error", err)
				continue
			}
			encoded, err := EncodeItems(items)
			if err != nil {
				return false, err
			}
			rec["items_json"] = encoded
			converted++
		}
		return converted > 0, nil
	})
	if err != nil {
		return 0, err
	}
	return converted, nil
}
