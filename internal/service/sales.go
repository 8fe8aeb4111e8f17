package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"shopledger/internal/domain"
	"shopledger/internal/repository"
)

type SaleRequest struct {
	Invoice       domain.Invoice `json:"invoice"`
	AllowOversell bool           `json:"allow_oversell"`
}

type SaleResult struct {
	Invoice          domain.Invoice          `json:"invoice"`
	DuplicateWarning string                  `json:"duplicate_warning,omitempty"`
	Shortfalls       []domain.StockShortfall `json:"shortfalls,omitempty"`
}

// ShortfallError lists the lines a sale could not cover from stock. It
// matches repository.ErrInsufficientStock.
type ShortfallError struct {
	Shortfalls []domain.StockShortfall
}

func (e *ShortfallError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("%s (%s): requested %d, available %d", s.Name, s.Size, s.Requested, s.Available))
	}
	return fmt.Sprintf("%s: %s", repository.ErrInsufficientStock, strings.Join(parts, "; "))
}

func (e *ShortfallError) Unwrap() error { return repository.ErrInsufficientStock }

// stockLine is the quantity of one (name, size) pair across an invoice.
type stockLine struct {
	Name string
	Size string
	Qty  int
}

func stockKey(name, size string) string {
	return strings.TrimSpace(name) + "\x00" + strings.ToLower(domain.NormalizeSize(size))
}

func aggregateItems(items []domain.LineItem) map[string]*stockLine {
	result := make(map[string]*stockLine)
	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			continue
		}
		key := stockKey(name, item.Size)
		entry, ok := result[key]
		if !ok {
			entry = &stockLine{Name: name, Size: domain.NormalizeSize(item.Size)}
			result[key] = entry
		}
		entry.Qty += item.Qty
	}
	return result
}

func sortedKeys(maps ...map[string]*stockLine) []string {
	set := make(map[string]struct{})
	for _, m := range maps {
		for key := range m {
			set[key] = struct{}{}
		}
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// shortfalls checks every line of items against current stock. Repeated
// lines for the same product are summed before checking.
func (s *Service) shortfalls(ctx context.Context, items []domain.LineItem) ([]domain.StockShortfall, error) {
	lines := aggregateItems(items)
	var missing []domain.StockShortfall
	for _, key := range sortedKeys(lines) {
		line := lines[key]
		ok, stock, err := s.repo.Inventory.CheckAvailability(ctx, line.Name, line.Size, line.Qty)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, domain.StockShortfall{
				Name: line.Name, Size: line.Size, Requested: line.Qty, Available: stock,
			})
		}
	}
	return missing, nil
}

// adjustStock moves stock for every line. A positive direction puts units
// back, a negative one takes them out. Lines for products that no longer
// exist are logged and skipped.
func (s *Service) adjustStock(ctx context.Context, lines map[string]*stockLine, direction int) error {
	for _, key := range sortedKeys(lines) {
		line := lines[key]
		qty := line.Qty * direction
		if qty == 0 {
			continue
		}
		var err error
		if qty > 0 {
			_, err = s.repo.Inventory.RestoreStock(ctx, line.Name, line.Size, qty)
		} else {
			_, err = s.repo.Inventory.ReduceStock(ctx, line.Name, line.Size, -qty)
		}
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warnw("stock not adjusted, product missing", "name", line.Name, "size", line.Size, "qty", qty)
			continue
		}
		if err != nil {
			return fmt.Errorf("adjust stock for %s (%s): %w", line.Name, line.Size, err)
		}
	}
	return nil
}

// CreateSale checks stock, saves the invoice and takes its items out of
// stock. Without AllowOversell a sale that cannot be covered fails with a
// *ShortfallError and nothing is written. A blank invoice number gets the
// next number in sequence.
func (s *Service) CreateSale(ctx context.Context, req SaleRequest) (SaleResult, error) {
	inv := req.Invoice
	if inv.IsReturn() {
		return SaleResult{}, fmt.Errorf("%w: use a return to record refunds", repository.ErrValidation)
	}
	missing, err := s.shortfalls(ctx, inv.Items)
	if err != nil {
		return SaleResult{}, err
	}
	if len(missing) > 0 && !req.AllowOversell {
		return SaleResult{}, &ShortfallError{Shortfalls: missing}
	}

	if strings.TrimSpace(inv.Number) == "" {
		inv.Number, err = s.repo.Invoices.NextNumber(ctx)
		if err != nil {
			return SaleResult{}, err
		}
	}
	saved, warning, err := s.repo.Invoices.Save(ctx, inv)
	if err != nil {
		return SaleResult{}, err
	}
	if err := s.adjustStock(ctx, aggregateItems(saved.Items), -1); err != nil {
		return SaleResult{}, err
	}

	s.log.Infow("sale recorded", "invoice", saved.Number, "grand_total", saved.GrandTotal, "oversold_lines", len(missing))
	return SaleResult{Invoice: saved, DuplicateWarning: warning, Shortfalls: missing}, nil
}

// CreateReturn records a refund of items against the original invoice.
// Every item must appear on the original and the quantity returned across
// all its returns may not exceed the quantity sold. With restock the items
// go back into stock.
func (s *Service) CreateReturn(ctx context.Context, original string, items []domain.LineItem, restock bool) (domain.Invoice, error) {
	source, err := s.repo.Invoices.Get(ctx, original)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("original invoice %s: %w", original, err)
	}
	previous, err := s.repo.Invoices.ReturnsFor(ctx, source.Number)
	if err != nil {
		return domain.Invoice{}, err
	}

	sold := aggregateItems(source.Items)
	returned := map[string]int{}
	for _, ret := range previous {
		for key, line := range aggregateItems(ret.Items) {
			returned[key] += line.Qty
		}
	}
	for key, line := range aggregateItems(items) {
		bought, ok := sold[key]
		if !ok {
			return domain.Invoice{}, fmt.Errorf("%w: %s (%s) is not on invoice %s", repository.ErrValidation, line.Name, line.Size, source.Number)
		}
		if returned[key]+line.Qty > bought.Qty {
			return domain.Invoice{}, fmt.Errorf("%w: only %d of %s (%s) left to return", repository.ErrValidation, bought.Qty-returned[key], line.Name, line.Size)
		}
	}

	ret, err := s.repo.Invoices.CreateReturn(ctx, source.Number, items)
	if err != nil {
		return domain.Invoice{}, err
	}
	if restock {
		if err := s.adjustStock(ctx, aggregateItems(ret.Items), 1); err != nil {
			return domain.Invoice{}, err
		}
	}
	s.log.Infow("return recorded", "invoice", ret.Number, "original", source.Number, "restock", restock)
	return ret, nil
}

// EditInvoice applies patch. With adjustStock and a change of items the
// difference between the old and new quantities is moved in or out of
// stock; return invoices move stock the other way.
func (s *Service) EditInvoice(ctx context.Context, number string, patch domain.InvoicePatch, adjustStock bool) (domain.Invoice, error) {
	before, err := s.repo.Invoices.Get(ctx, number)
	if err != nil {
		return domain.Invoice{}, err
	}
	updated, err := s.repo.Invoices.Update(ctx, number, patch)
	if err != nil {
		return domain.Invoice{}, err
	}
	if !adjustStock || patch.Items == nil {
		return updated, nil
	}

	oldLines := aggregateItems(before.Items)
	newLines := aggregateItems(updated.Items)
	delta := make(map[string]*stockLine)
	for _, key := range sortedKeys(oldLines, newLines) {
		line := &stockLine{}
		if old := oldLines[key]; old != nil {
			line.Name, line.Size = old.Name, old.Size
			line.Qty += old.Qty
		}
		if next := newLines[key]; next != nil {
			line.Name, line.Size = next.Name, next.Size
			line.Qty -= next.Qty
		}
		delta[key] = line
	}
	direction := 1
	if updated.IsReturn() {
		direction = -1
	}
	if err := s.adjustStock(ctx, delta, direction); err != nil {
		return domain.Invoice{}, err
	}
	return updated, nil
}

// DeleteInvoice removes the invoice. With restoreStock a sale's items go
// back into stock and a return's restocked items come out again.
func (s *Service) DeleteInvoice(ctx context.Context, number string, restoreStock bool) (domain.Invoice, error) {
	removed, err := s.repo.Invoices.Delete(ctx, number)
	if err != nil {
		return domain.Invoice{}, err
	}
	if restoreStock {
		direction := 1
		if removed.IsReturn() {
			direction = -1
		}
		if err := s.adjustStock(ctx, aggregateItems(removed.Items), direction); err != nil {
			return removed, err
		}
	}
	s.log.Infow("invoice deleted", "invoice", removed.Number, "restore_stock", restoreStock)
	return removed, nil
}

// ResolveOriginalInvoice follows a return to the invoice it refunds. It
// returns nil for sales and for returns whose original was deleted.
func (s *Service) ResolveOriginalInvoice(ctx context.Context, inv domain.Invoice) (*domain.Invoice, error) {
	if !inv.IsReturn() {
		return nil, nil
	}
	original, err := s.repo.Invoices.Get(ctx, inv.OriginalInvoiceNo)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return original, err
}

func (s *Service) NextInvoiceNumber(ctx context.Context) (string, error) {
	return s.repo.Invoices.NextNumber(ctx)
}

func (s *Service) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	return s.repo.Invoices.List(ctx)
}

func (s *Service) GetInvoice(ctx context.Context, number string) (*domain.Invoice, error) {
	return s.repo.Invoices.Get(ctx, number)
}

func (s *Service) SearchInvoices(ctx context.Context, query, field string) ([]domain.Invoice, error) {
	return s.repo.Invoices.Search(ctx, query, field)
}

func (s *Service) UpdateInvoiceStatus(ctx context.Context, number, status string) error {
	return s.repo.Invoices.UpdateStatus(ctx, number, status)
}

func (s *Service) InvoicesByStatus(ctx context.Context, status string) ([]domain.Invoice, error) {
	return s.repo.Invoices.ListByStatus(ctx, status)
}

func (s *Service) ReturnsFor(ctx context.Context, number string) ([]domain.Invoice, error) {
	return s.repo.Invoices.ReturnsFor(ctx, number)
}

func (s *Service) CheckDuplicate(ctx context.Context, customer string, items []domain.LineItem, date string) (*domain.Invoice, error) {
	return s.repo.Invoices.CheckPotentialDuplicate(ctx, customer, items, date)
}

func (s *Service) InvoiceSummary(ctx context.Context) (domain.InvoiceSummary, error) {
	return s.repo.Invoices.Summary(ctx)
}

func (s *Service) DailySales(ctx context.Context, days int) ([]domain.DailySales, error) {
	return s.repo.Invoices.DailySales(ctx, days)
}
