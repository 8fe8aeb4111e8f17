package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	StatusPaid    = "PAID"
	StatusPartial = "PARTIAL"
	StatusDue     = "DUE"

	PaymentRefund = "Refund"

	InvoiceDateLayout = "01/02/2006"
	AddedDateLayout   = "2006-01-02"
)

var (
	Statuses       = []string{StatusPaid, StatusPartial, StatusDue}
	PaymentMethods = []string{"Cash", "bKash", "Nagad", "Card"}
)

func ValidStatus(status string) bool {
	for _, s := range Statuses {
		if s == status {
			return true
		}
	}
	return false
}

type Product struct {
	ID           string  `json:"product_id"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Size         string  `json:"size"`
	Price        float64 `json:"price"`
	BuyingPrice  float64 `json:"buying_price"`
	Stock        int     `json:"stock"`
	AddedDate    string  `json:"added_date"`
	SoldQuantity int     `json:"sold_quantity"`
}

type ProductPatch struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Size        *string  `json:"size,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	BuyingPrice *float64 `json:"buying_price,omitempty"`
	Stock       *int     `json:"stock,omitempty"`
	AddedDate   *string  `json:"added_date,omitempty"`
}

// LineItem is one sold (or returned) product inside an invoice.
type LineItem struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Size        string  `json:"size"`
	Qty         int     `json:"qty"`
	Price       float64 `json:"price"`
}

// UnmarshalJSON accepts numeric sizes and quantities written by older
// versions of the invoice screen.
func (li *LineItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Size        json.RawMessage `json:"size"`
		Qty         json.RawMessage `json:"qty"`
		Price       json.RawMessage `json:"price"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	size, err := rawText(raw.Size)
	if err != nil {
		return fmt.Errorf("size: %w", err)
	}
	qtyText, err := rawText(raw.Qty)
	if err != nil {
		return fmt.Errorf("qty: %w", err)
	}
	priceText, err := rawText(raw.Price)
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}

	qty := 1
	if qtyText != "" {
		parsed, err := strconv.ParseFloat(qtyText, 64)
		if err != nil {
			return fmt.Errorf("qty: not a number")
		}
		qty = int(parsed)
	}
	price := 0.0
	if priceText != "" {
		parsed, err := strconv.ParseFloat(priceText, 64)
		if err != nil {
			return fmt.Errorf("price: not a number")
		}
		price = parsed
	}

	*li = LineItem{
		Name:        raw.Name,
		Description: raw.Description,
		Size:        size,
		Qty:         qty,
		Price:       price,
	}
	return nil
}

func rawText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return NormalizeSize(n.String()), nil
}

type Invoice struct {
	Number            string     `json:"invoice_number"`
	Date              string     `json:"date"`
	CustomerName      string     `json:"customer_name"`
	CustomerPhone     string     `json:"customer_phone"`
	CustomerAddress   string     `json:"customer_address"`
	Items             []LineItem `json:"items"`
	Subtotal          float64    `json:"subtotal"`
	Discount          float64    `json:"discount"`
	Delivery          float64    `json:"delivery"`
	GrandTotal        float64    `json:"grand_total"`
	PaymentMethod     string     `json:"payment_method"`
	TransactionID     string     `json:"transaction_id"`
	Status            string     `json:"status"`
	OriginalInvoiceNo string     `json:"original_invoice_no"`
	Hash              string     `json:"hash"`
}

func (i Invoice) IsReturn() bool {
	return strings.TrimSpace(i.OriginalInvoiceNo) != ""
}

// InvoicePatch edits an invoice in place. Subtotal and grand total are
// always recomputed from the items, discount and delivery.
type InvoicePatch struct {
	Date            *string     `json:"date,omitempty"`
	CustomerName    *string     `json:"customer_name,omitempty"`
	CustomerPhone   *string     `json:"customer_phone,omitempty"`
	CustomerAddress *string     `json:"customer_address,omitempty"`
	Items           *[]LineItem `json:"items,omitempty"`
	Discount        *float64    `json:"discount,omitempty"`
	Delivery        *float64    `json:"delivery,omitempty"`
	PaymentMethod   *string     `json:"payment_method,omitempty"`
	TransactionID   *string     `json:"transaction_id,omitempty"`
	Status          *string     `json:"status,omitempty"`
}

type Expense struct {
	ID             string  `json:"expense_id"`
	Date           string  `json:"date"`
	Category       string  `json:"category"`
	Amount         float64 `json:"amount"`
	Description    string  `json:"description"`
	RelatedProduct string  `json:"related_product"`
	Allocated      bool    `json:"allocated"`
}

type ExpensePatch struct {
	Date           *string  `json:"date,omitempty"`
	Category       *string  `json:"category,omitempty"`
	Amount         *float64 `json:"amount,omitempty"`
	Description    *string  `json:"description,omitempty"`
	RelatedProduct *string  `json:"related_product,omitempty"`
	Allocated      *bool    `json:"allocated,omitempty"`
}

type AgingProduct struct {
	Product
	DaysInStock int `json:"days_in_stock"`
}

type ProductProfit struct {
	ProductID    string  `json:"product_id"`
	Name         string  `json:"name"`
	Size         string  `json:"size"`
	Price        float64 `json:"price"`
	BuyingPrice  float64 `json:"buying_price"`
	SoldQuantity int     `json:"sold_quantity"`
	UnitProfit   float64 `json:"unit_profit"`
	TotalProfit  float64 `json:"total_profit"`
	MarginPct    float64 `json:"margin_pct"`
}

type InventorySummary struct {
	TotalItems      int     `json:"total_items"`
	TotalStock      int     `json:"total_stock"`
	InventoryValue  float64 `json:"inventory_value"`
	InventoryCost   float64 `json:"inventory_cost"`
	PotentialProfit float64 `json:"potential_profit"`
	LowStockCount   int     `json:"low_stock_count"`
}

type InvoiceSummary struct {
	TotalInvoices int            `json:"total_invoices"`
	TotalRevenue  float64        `json:"total_revenue"`
	StatusCounts  map[string]int `json:"status_counts"`
	TodaySales    float64        `json:"today_sales"`
}

type DailySales struct {
	Date         string  `json:"date"`
	Revenue      float64 `json:"revenue"`
	InvoiceCount int     `json:"invoice_count"`
}

type ExpenseSummary struct {
	TotalExpenses float64            `json:"total_expenses"`
	ExpenseCount  int                `json:"expense_count"`
	ByCategory    map[string]float64 `json:"by_category"`
	CurrentMonth  float64            `json:"current_month"`
	PreviousMonth float64            `json:"previous_month"`
}

type MonthlySummary struct {
	Month      string  `json:"month"`
	MonthLabel string  `json:"month_label"`
	Revenue    float64 `json:"revenue"`
	Expense    float64 `json:"expense"`
	Profit     float64 `json:"profit"`
}

type ProfitReport struct {
	Period      string  `json:"period"`
	Revenue     float64 `json:"revenue"`
	Expenses    float64 `json:"expenses"`
	COGS        float64 `json:"cogs"`
	GrossProfit float64 `json:"gross_profit"`
	NetProfit   float64 `json:"net_profit"`
	MarginPct   float64 `json:"margin_pct"`
}

type SizeSales struct {
	Size     string  `json:"size"`
	Quantity int     `json:"quantity"`
	Revenue  float64 `json:"revenue"`
}

type ProductSales struct {
	Name         string  `json:"name"`
	QuantitySold int     `json:"quantity_sold"`
	Revenue      float64 `json:"revenue"`
}

type CustomerSpend struct {
	CustomerName string  `json:"customer_name"`
	TotalSpend   float64 `json:"total_spend"`
	OrderCount   int     `json:"order_count"`
}

type DailyTrend struct {
	Date         string  `json:"date"`
	DayLabel     string  `json:"day_label"`
	Revenue      float64 `json:"revenue"`
	InvoiceCount int     `json:"invoice_count"`
}

type PeriodComparison struct {
	CurrentMonth  float64 `json:"current_month"`
	PreviousMonth float64 `json:"previous_month"`
	ChangePct     float64 `json:"change_pct"`
}

type MonthOverMonth struct {
	Revenue PeriodComparison `json:"revenue"`
	Expense PeriodComparison `json:"expense"`
}

type DashboardSummary struct {
	TotalStock     int          `json:"total_stock"`
	InventoryValue float64      `json:"inventory_value"`
	LowStockCount  int          `json:"low_stock_count"`
	MonthlyRevenue float64      `json:"monthly_revenue"`
	MonthlyExpense float64      `json:"monthly_expense"`
	MonthlyProfit  float64      `json:"monthly_profit"`
	ProfitMargin   float64      `json:"profit_margin"`
	TodaySales     float64      `json:"today_sales"`
	DailyTrends    []DailyTrend `json:"daily_trends"`
}

type StockShortfall struct {
	Name      string `json:"name"`
	Size      string `json:"size"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

var dateLayouts = []string{
	InvoiceDateLayout,
	AddedDateLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/06",
	"1/2/2006",
}

// ParseDate reads the date formats found in the ledger files. The bool is
// false for blank or unrecognised values.
func ParseDate(raw string) (time.Time, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// NormalizeSize makes "42", "42.0" and " 42 " compare equal.
func NormalizeSize(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return value
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return value
}

func SameSize(a, b string) bool {
	return strings.EqualFold(NormalizeSize(a), NormalizeSize(b))
}

func SameName(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}
