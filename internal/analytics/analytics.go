// Package analytics derives dashboard figures from the three ledgers. It
// only reads through the stores' public operations and never mutates.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"shopledger/internal/domain"
	"shopledger/internal/logger"
	"shopledger/internal/repository"
)

const (
	PeriodWeek  = "week"
	PeriodMonth = "month"
	PeriodYear  = "year"
)

type InventorySource interface {
	List(ctx context.Context) ([]domain.Product, error)
}

type InvoiceSource interface {
	List(ctx context.Context) ([]domain.Invoice, error)
}

type ExpenseSource interface {
	List(ctx context.Context) ([]domain.Expense, error)
}

type Options struct {
	LowStockThreshold int
	Now               func() time.Time
	Logger            *logger.Logger
}

type Engine struct {
	inventory InventorySource
	invoices  InvoiceSource
	expenses  ExpenseSource

	lowStock int
	now      func() time.Time
	log      *logger.Logger
}

func New(inventory InventorySource, invoices InvoiceSource, expenses ExpenseSource, opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		inventory: inventory,
		invoices:  invoices,
		expenses:  expenses,
		lowStock:  opts.LowStockThreshold,
		now:       now,
		log:       logger.OrDefault(opts.Logger).WithComponent("analytics"),
	}
}

// datedInvoice and datedExpense carry the parsed date of a record. Records
// whose date cannot be parsed never become one.
type datedInvoice struct {
	domain.Invoice
	at time.Time
}

type datedExpense struct {
	domain.Expense
	at time.Time
}

func (e *Engine) datedInvoices(ctx context.Context) ([]datedInvoice, error) {
	invoices, err := e.invoices.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load invoices: %w", err)
	}
	out := make([]datedInvoice, 0, len(invoices))
	skipped := 0
	for _, inv := range invoices {
		at, ok := domain.ParseDate(inv.Date)
		if !ok {
			skipped++
			continue
		}
		out = append(out, datedInvoice{Invoice: inv, at: at})
	}
	if skipped > 0 {
		e.log.Debugw("invoices without a readable date left out", "count", skipped)
	}
	return out, nil
}

func (e *Engine) datedExpenses(ctx context.Context) ([]datedExpense, error) {
	expenses, err := e.expenses.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load expenses: %w", err)
	}
	out := make([]datedExpense, 0, len(expenses))
	for _, exp := range expenses {
		if at, ok := domain.ParseDate(exp.Date); ok {
			out = append(out, datedExpense{Expense: exp, at: at})
		}
	}
	return out, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func pct(part, whole decimal.Decimal) float64 {
	if !whole.IsPositive() {
		return 0
	}
	return money(part.Div(whole).Mul(decimal.NewFromInt(100)))
}

// MonthlyRevenueExpense returns one entry per calendar month for the last
// months months, oldest first, the current month last.
func (e *Engine) MonthlyRevenueExpense(ctx context.Context, months int) ([]domain.MonthlySummary, error) {
	if months <= 0 {
		return []domain.MonthlySummary{}, nil
	}
	invoices, err := e.datedInvoices(ctx)
	if err != nil {
		return nil, err
	}
	expenses, err := e.datedExpenses(ctx)
	if err != nil {
		return nil, err
	}

	revenue := map[string]decimal.Decimal{}
	for _, inv := range invoices {
		key := inv.at.Format("2006-01")
		revenue[key] = revenue[key].Add(decimal.NewFromFloat(inv.GrandTotal))
	}
	spent := map[string]decimal.Decimal{}
	for _, exp := range expenses {
		key := exp.at.Format("2006-01")
		spent[key] = spent[key].Add(decimal.NewFromFloat(exp.Amount))
	}

	current := startOfMonth(e.now())
	out := make([]domain.MonthlySummary, 0, months)
	for i := months - 1; i >= 0; i-- {
		month := current.AddDate(0, -i, 0)
		key := month.Format("2006-01")
		out = append(out, domain.MonthlySummary{
			Month:      key,
			MonthLabel: month.Format("Jan 2006"),
			Revenue:    money(revenue[key]),
			Expense:    money(spent[key]),
			Profit:     money(revenue[key].Sub(spent[key])),
		})
	}
	return out, nil
}

func (e *Engine) periodStart(period string) (time.Time, error) {
	now := e.now()
	switch period {
	case PeriodWeek:
		return startOfDay(now).AddDate(0, 0, -6), nil
	case PeriodMonth, "":
		return startOfMonth(now), nil
	case PeriodYear:
		return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location()), nil
	}
	return time.Time{}, fmt.Errorf("%w: unknown period %q", repository.ErrValidation, period)
}

// NetProfit is revenue minus expenses minus cost of goods sold for the week
// (last seven days), the calendar month or the calendar year to date. COGS
// values each sold item at the current buying price of its inventory row;
// returned items are taken back out of COGS.
func (e *Engine) NetProfit(ctx context.Context, period string) (domain.ProfitReport, error) {
	if period == "" {
		period = PeriodMonth
	}
	start, err := e.periodStart(period)
	if err != nil {
		return domain.ProfitReport{}, err
	}
	invoices, err := e.datedInvoices(ctx)
	if err != nil {
		return domain.ProfitReport{}, err
	}
	expenses, err := e.datedExpenses(ctx)
	if err != nil {
		return domain.ProfitReport{}, err
	}
	products, err := e.inventory.List(ctx)
	if err != nil {
		return domain.ProfitReport{}, fmt.Errorf("load inventory: %w", err)
	}

	revenue, spent, cogs := decimal.Zero, decimal.Zero, decimal.Zero
	for _, inv := range invoices {
		if inv.at.Before(start) {
			continue
		}
		revenue = revenue.Add(decimal.NewFromFloat(inv.GrandTotal))
		sign := lineSign(inv.Invoice)
		for _, item := range inv.Items {
			cost, ok := buyingPrice(products, item)
			if !ok {
				continue
			}
			cogs = cogs.Add(decimal.NewFromFloat(cost).Mul(decimal.NewFromInt(int64(sign * item.Qty))))
		}
	}
	for _, exp := range expenses {
		if !exp.at.Before(start) {
			spent = spent.Add(decimal.NewFromFloat(exp.Amount))
		}
	}

	gross := revenue.Sub(cogs)
	return domain.ProfitReport{
		Period:      period,
		Revenue:     money(revenue),
		Expenses:    money(spent),
		COGS:        money(cogs),
		GrossProfit: money(gross),
		NetProfit:   money(gross.Sub(spent)),
		MarginPct:   pct(gross, revenue),
	}, nil
}

func buyingPrice(products []domain.Product, item domain.LineItem) (float64, bool) {
	for _, p := range products {
		if domain.SameName(p.Name, item.Name) && domain.SameSize(p.Size, item.Size) {
			return p.BuyingPrice, true
		}
	}
	return 0, false
}

// lineSign is -1 for return invoices so that returned units cancel sales.
func lineSign(inv domain.Invoice) int {
	if inv.IsReturn() {
		return -1
	}
	return 1
}

type tally struct {
	order   []string
	qty     map[string]int
	revenue map[string]decimal.Decimal
}

func newTally() *tally {
	return &tally{qty: map[string]int{}, revenue: map[string]decimal.Decimal{}}
}

func (t *tally) add(key string, qty int, revenue decimal.Decimal) {
	if _, ok := t.qty[key]; !ok {
		t.order = append(t.order, key)
	}
	t.qty[key] += qty
	t.revenue[key] = t.revenue[key].Add(revenue)
}

// ranked returns keys by quantity, highest first, ties in first-seen order.
func (t *tally) ranked(limit int) []string {
	keys := append([]string(nil), t.order...)
	sort.SliceStable(keys, func(i, j int) bool { return t.qty[keys[i]] > t.qty[keys[j]] })
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys
}

func (e *Engine) foldItems(ctx context.Context, key func(domain.LineItem) string) (*tally, error) {
	invoices, err := e.invoices.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load invoices: %w", err)
	}
	t := newTally()
	for _, inv := range invoices {
		sign := lineSign(inv)
		for _, item := range inv.Items {
			qty := sign * item.Qty
			line := decimal.NewFromFloat(item.Price).Mul(decimal.NewFromInt(int64(qty)))
			t.add(key(item), qty, line)
		}
	}
	return t, nil
}

// BestSellingSizes ranks sizes by units sold across all invoices.
func (e *Engine) BestSellingSizes(ctx context.Context, limit int) ([]domain.SizeSales, error) {
	t, err := e.foldItems(ctx, func(item domain.LineItem) string {
		if size := domain.NormalizeSize(item.Size); size != "" {
			return size
		}
		return "Unknown"
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.SizeSales, 0, len(t.order))
	for _, key := range t.ranked(limit) {
		out = append(out, domain.SizeSales{Size: key, Quantity: t.qty[key], Revenue: money(t.revenue[key])})
	}
	return out, nil
}

// TopProducts ranks product names by units sold across all invoices.
func (e *Engine) TopProducts(ctx context.Context, limit int) ([]domain.ProductSales, error) {
	t, err := e.foldItems(ctx, func(item domain.LineItem) string {
		if name := strings.TrimSpace(item.Name); name != "" {
			return name
		}
		return "Unknown"
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProductSales, 0, len(t.order))
	for _, key := range t.ranked(limit) {
		out = append(out, domain.ProductSales{Name: key, QuantitySold: t.qty[key], Revenue: money(t.revenue[key])})
	}
	return out, nil
}

// TopCustomers ranks customers by total spend. Refunds count against the
// customer's spend but not as orders.
func (e *Engine) TopCustomers(ctx context.Context, limit int) ([]domain.CustomerSpend, error) {
	invoices, err := e.invoices.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load invoices: %w", err)
	}
	var order []string
	spend := map[string]decimal.Decimal{}
	orders := map[string]int{}
	for _, inv := range invoices {
		name := strings.TrimSpace(inv.CustomerName)
		if name == "" {
			continue
		}
		if _, ok := spend[name]; !ok {
			order = append(order, name)
		}
		spend[name] = spend[name].Add(decimal.NewFromFloat(inv.GrandTotal))
		if !inv.IsReturn() {
			orders[name]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return spend[order[i]].GreaterThan(spend[order[j]]) })
	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}
	out := make([]domain.CustomerSpend, 0, len(order))
	for _, name := range order {
		out = append(out, domain.CustomerSpend{CustomerName: name, TotalSpend: money(spend[name]), OrderCount: orders[name]})
	}
	return out, nil
}

// DailySalesTrends returns days+1 consecutive days ending today, including
// days without sales.
func (e *Engine) DailySalesTrends(ctx context.Context, days int) ([]domain.DailyTrend, error) {
	if days < 0 {
		days = 0
	}
	invoices, err := e.datedInvoices(ctx)
	if err != nil {
		return nil, err
	}
	today := startOfDay(e.now())
	first := today.AddDate(0, 0, -days)

	revenue := map[string]decimal.Decimal{}
	counts := map[string]int{}
	for _, inv := range invoices {
		day := startOfDay(inv.at)
		if day.Before(first) || day.After(today) {
			continue
		}
		key := day.Format(domain.AddedDateLayout)
		revenue[key] = revenue[key].Add(decimal.NewFromFloat(inv.GrandTotal))
		counts[key]++
	}

	out := make([]domain.DailyTrend, 0, days+1)
	for day := first; !day.After(today); day = day.AddDate(0, 0, 1) {
		key := day.Format(domain.AddedDateLayout)
		out = append(out, domain.DailyTrend{
			Date:         key,
			DayLabel:     day.Format("Mon"),
			Revenue:      money(revenue[key]),
			InvoiceCount: counts[key],
		})
	}
	return out, nil
}

// MonthOverMonth compares this calendar month with the previous one.
func (e *Engine) MonthOverMonth(ctx context.Context) (domain.MonthOverMonth, error) {
	invoices, err := e.datedInvoices(ctx)
	if err != nil {
		return domain.MonthOverMonth{}, err
	}
	expenses, err := e.datedExpenses(ctx)
	if err != nil {
		return domain.MonthOverMonth{}, err
	}
	current := startOfMonth(e.now())
	previous := current.AddDate(0, -1, 0)

	bucket := func(at time.Time) int {
		switch {
		case !at.Before(current):
			return 0
		case !at.Before(previous):
			return 1
		}
		return -1
	}

	var rev, exp [2]decimal.Decimal
	for _, inv := range invoices {
		if b := bucket(inv.at); b >= 0 {
			rev[b] = rev[b].Add(decimal.NewFromFloat(inv.GrandTotal))
		}
	}
	for _, x := range expenses {
		if b := bucket(x.at); b >= 0 {
			exp[b] = exp[b].Add(decimal.NewFromFloat(x.Amount))
		}
	}
	return domain.MonthOverMonth{
		Revenue: comparison(rev[0], rev[1]),
		Expense: comparison(exp[0], exp[1]),
	}, nil
}

func comparison(current, previous decimal.Decimal) domain.PeriodComparison {
	return domain.PeriodComparison{
		CurrentMonth:  money(current),
		PreviousMonth: money(previous),
		ChangePct:     pct(current.Sub(previous), previous),
	}
}

// DashboardSummary gathers the headline figures in one call.
func (e *Engine) DashboardSummary(ctx context.Context) (domain.DashboardSummary, error) {
	products, err := e.inventory.List(ctx)
	if err != nil {
		return domain.DashboardSummary{}, fmt.Errorf("load inventory: %w", err)
	}
	summary := domain.DashboardSummary{}
	value := decimal.Zero
	for _, p := range products {
		summary.TotalStock += p.Stock
		value = value.Add(decimal.NewFromFloat(p.Price).Mul(decimal.NewFromInt(int64(p.Stock))))
		if p.Stock <= e.lowStock {
			summary.LowStockCount++
		}
	}
	summary.InventoryValue = money(value)

	profit, err := e.NetProfit(ctx, PeriodMonth)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	summary.MonthlyRevenue = profit.Revenue
	summary.MonthlyExpense = profit.Expenses
	summary.MonthlyProfit = profit.NetProfit
	summary.ProfitMargin = profit.MarginPct

	trends, err := e.DailySalesTrends(ctx, 7)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	summary.DailyTrends = trends
	if len(trends) > 0 {
		summary.TodaySales = trends[len(trends)-1].Revenue
	}
	return summary, nil
}
