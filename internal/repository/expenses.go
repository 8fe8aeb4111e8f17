package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"shopledger/internal/db"
	"shopledger/internal/domain"
	"shopledger/internal/logger"
)

type ExpenseRepository struct {
	table *db.Table
	cells cells
	log   *logger.Logger
	now   func() time.Time
}

var expenseColumns = []db.Column{
	{Name: "expense_id"},
	{Name: "date"},
	{Name: "category"},
	{Name: "amount", Default: "0"},
	{Name: "description"},
	{Name: "related_product"},
	{Name: "allocated", Default: "False"},
}

// OpenExpenses migrates the expense file and gives every legacy row an id.
func OpenExpenses(ctx context.Context, opts Options) (*ExpenseRepository, error) {
	opts = opts.withDefaults()
	log := opts.Logger.WithComponent("expenses")
	r := &ExpenseRepository{
		table: db.NewTable(filepath.Join(opts.DataDir, ExpensesFile), expenseColumns, opts.tableOptions()),
		cells: cells{log: log},
		log:   log,
		now:   opts.Now,
	}

	migrated, err := r.table.Ensure(ctx)
	if err != nil {
		return nil, fmt.Errorf("open expenses: %w", err)
	}
	if migrated {
		log.Infow("expense schema migrated", "path", r.table.Path())
	}

	filled := 0
	err = r.table.Update(ctx, func(snap *db.Snapshot) (bool, error) {
		filled = backfillIDs(snap, "expense_id", expenseIDPrefix)
		return filled > 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("backfill expense ids: %w", err)
	}
	if filled > 0 {
		log.Infow("generated missing expense ids", "count", filled)
	}
	return r, nil
}

func (r *ExpenseRepository) Path() string { return r.table.Path() }

func (r *ExpenseRepository) toExpense(rec db.Record) domain.Expense {
	id := strings.TrimSpace(rec["expense_id"])
	return domain.Expense{
		ID:             id,
		Date:           strings.TrimSpace(rec["date"]),
		Category:       rec["category"],
		Amount:         r.cells.float(rec, "amount", id),
		Description:    rec["description"],
		RelatedProduct: rec["related_product"],
		Allocated:      parseBool(rec["allocated"]),
	}
}

func putExpense(rec db.Record, e domain.Expense) {
	rec["expense_id"] = e.ID
	rec["date"] = e.Date
	rec["category"] = e.Category
	rec["amount"] = formatFloat(e.Amount)
	rec["description"] = e.Description
	rec["related_product"] = e.RelatedProduct
	rec["allocated"] = formatBool(e.Allocated)
}

func matchExpenseID(id string) func(db.Record) bool {
	id = strings.TrimSpace(id)
	return func(rec db.Record) bool {
		return id != "" && strings.TrimSpace(rec["expense_id"]) == id
	}
}

func validateExpense(e domain.Expense) error {
	if strings.TrimSpace(e.Category) == "" {
		return validationErr("expense category is required")
	}
	if e.Amount < 0 {
		return validationErr("expense amount must not be negative")
	}
	return nil
}

// Add records e under a freshly generated id and returns that id.
func (r *ExpenseRepository) Add(ctx context.Context, e domain.Expense) (string, error) {
	e.Category = strings.TrimSpace(e.Category)
	e.RelatedProduct = strings.TrimSpace(e.RelatedProduct)
	if err := validateExpense(e); err != nil {
		return "", err
	}
	if e.Date == "" {
		e.Date = r.now().Format(domain.InvoiceDateLayout)
	}

	err := r.table.Append(ctx, func(snap *db.Snapshot) (db.Record, error) {
		e.ID = nextSequentialID(expenseIDPrefix, takenIDs(snap, "expense_id"))
		rec := db.Record{}
		putExpense(rec, e)
		return rec, nil
	})
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

func (r *ExpenseRepository) List(ctx context.Context) ([]domain.Expense, error) {
	return r.filter(ctx, func(domain.Expense) bool { return true })
}

func (r *ExpenseRepository) filter(ctx context.Context, keep func(domain.Expense) bool) ([]domain.Expense, error) {
	snap, err := r.table.Read(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Expense, 0)
	for _, rec := range snap.Records {
		if e := r.toExpense(rec); keep(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *ExpenseRepository) Get(ctx context.Context, id string) (*domain.Expense, error) {
	snap, err := r.table.Read(ctx)
	if err != nil {
		return nil, err
	}
	idx := snap.Find(matchExpenseID(id))
	if idx < 0 {
		return nil, ErrNotFound
	}
	e := r.toExpense(snap.Records[idx])
	return &e, nil
}

func (r *ExpenseRepository) Update(ctx context.Context, id string, patch domain.ExpensePatch) (domain.Expense, error) {
	var updated domain.Expense
	err := r.table.Update(ctx, func(snap *db.Snapshot) (bool, error) {
		idx := snap.Find(matchExpenseID(id))
		if idx < 0 {
			return false, ErrNotFound
		}
		e := r.toExpense(snap.Records[idx])
		applyExpensePatch(&e, patch)
		if err := validateExpense(e); err != nil {
			return false, err
		}
		putExpense(snap.Records[idx], e)
		updated = e
		return true, nil
	})
	return updated, err
}

func applyExpensePatch(e *domain.Expense, patch domain.ExpensePatch) {
	if patch.Date != nil {
		e.Date = strings.TrimSpace(*patch.Date)
	}
	if patch.Category != nil {
		e.Category = strings.TrimSpace(*patch.Category)
	}
	if patch.Amount != nil {
		e.Amount = *patch.Amount
	}
	if patch.Description != nil {
		e.Description = *patch.Description
	}
	if patch.RelatedProduct != nil {
		e.RelatedProduct = strings.TrimSpace(*patch.RelatedProduct)
	}
	if patch.Allocated != nil {
		e.Allocated = *patch.Allocated
	}
}

func (r *ExpenseRepository) Delete(ctx context.Context, id string) (domain.Expense, error) {
	return r.deleteFirst(ctx, matchExpenseID(id))
}

// DeleteByFields removes the first expense whose date, category, amount,
// description and related product all equal those of e. It exists for rows
// written before expenses carried ids; identical rows are removed one per
// call.
func (r *ExpenseRepository) DeleteByFields(ctx context.Context, e domain.Expense) (domain.Expense, error) {
	return r.deleteFirst(ctx, func(rec db.Record) bool {
		got := r.toExpense(rec)
		return got.Date == strings.TrimSpace(e.Date) &&
			got.Category == e.Category &&
			decimal.NewFromFloat(got.Amount).Equal(decimal.NewFromFloat(e.Amount)) &&
			got.Description == e.Description &&
			strings.TrimSpace(got.RelatedProduct) == strings.TrimSpace(e.RelatedProduct)
	})
}

func (r *ExpenseRepository) deleteFirst(ctx context.Context, pred func(db.Record) bool) (domain.Expense, error) {
	var removed domain.Expense
	err := r.table.Update(ctx, func(snap *db.Snapshot) (bool, error) {
		idx := snap.Find(pred)
		if idx < 0 {
			return false, ErrNotFound
		}
		removed = r.toExpense(snap.Remove(idx))
		return true, nil
	})
	return removed, err
}

// AllocateToProduct ties the expense to a product so it counts towards that
// product's landed cost.
func (r *ExpenseRepository) AllocateToProduct(ctx context.Context, id, productRef string) (domain.Expense, error) {
	productRef = strings.TrimSpace(productRef)
	if productRef == "" {
		return domain.Expense{}, validationErr("product reference is required")
	}
	allocated := true
	return r.Update(ctx, id, domain.ExpensePatch{RelatedProduct: &productRef, Allocated: &allocated})
}

// AllocatedCost sums the expenses whose related product equals any of refs,
// compared trimmed and case-insensitively. Callers usually pass a product's
// id and name.
func (r *ExpenseRepository) AllocatedCost(ctx context.Context, refs ...string) (float64, error) {
	wanted := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref = strings.TrimSpace(ref); ref != "" {
			wanted = append(wanted, ref)
		}
	}
	if len(wanted) == 0 {
		return 0, nil
	}

	expenses, err := r.List(ctx)
	if err != nil {
		return 0, err
	}
	total := decimal.Zero
	for _, e := range expenses {
		related := strings.TrimSpace(e.RelatedProduct)
		for _, ref := range wanted {
			if strings.EqualFold(related, ref) {
				total = total.Add(decimal.NewFromFloat(e.Amount))
				break
			}
		}
	}
	return total.Round(2).InexactFloat64(), nil
}

// Unallocated lists expenses not yet tied to a product.
func (r *ExpenseRepository) Unallocated(ctx context.Context) ([]domain.Expense, error) {
	return r.filter(ctx, func(e domain.Expense) bool { return !e.Allocated })
}

func (r *ExpenseRepository) ByCategory(ctx context.Context) (map[string]float64, error) {
	expenses, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return sumByCategory(expenses), nil
}

func sumByCategory(expenses []domain.Expense) map[string]float64 {
	sums := map[string]decimal.Decimal{}
	for _, e := range expenses {
		sums[e.Category] = sums[e.Category].Add(decimal.NewFromFloat(e.Amount))
	}
	out := make(map[string]float64, len(sums))
	for category, sum := range sums {
		out[category] = sum.Round(2).InexactFloat64()
	}
	return out
}

// Summary totals all expenses plus the current and previous calendar month.
func (r *ExpenseRepository) Summary(ctx context.Context) (domain.ExpenseSummary, error) {
	expenses, err := r.List(ctx)
	if err != nil {
		return domain.ExpenseSummary{}, err
	}
	monthStart := startOfMonth(r.now())
	prevStart := monthStart.AddDate(0, -1, 0)
	total, current, previous := decimal.Zero, decimal.Zero, decimal.Zero
	for _, e := range expenses {
		amount := decimal.NewFromFloat(e.Amount)
		total = total.Add(amount)
		date, ok := domain.ParseDate(e.Date)
		switch {
		case !ok:
		case !date.Before(monthStart):
			current = current.Add(amount)
		case !date.Before(prevStart):
			previous = previous.Add(amount)
		}
	}
	return domain.ExpenseSummary{
		TotalExpenses: total.Round(2).InexactFloat64(),
		ExpenseCount:  len(expenses),
		ByCategory:    sumByCategory(expenses),
		CurrentMonth:  current.Round(2).InexactFloat64(),
		PreviousMonth: previous.Round(2).InexactFloat64(),
	}, nil
}
