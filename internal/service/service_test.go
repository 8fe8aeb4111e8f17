package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"shopledger/internal/analytics"
	"shopledger/internal/domain"
	"shopledger/internal/logger"
	"shopledger/internal/repository"
	"shopledger/internal/settings"
)

var testNow = time.Date(2025, 3, 14, 15, 30, 0, 0, time.Local)

func newTestService(t *testing.T) (*Service, *repository.Repository) {
	t.Helper()
	dir := t.TempDir()
	now := func() time.Time { return testNow }
	repo, err := repository.Open(context.Background(), repository.Options{
		DataDir:     dir,
		LockTimeout: time.Second,
		Now:         now,
		Logger:      logger.Nop(),
	})
	require.NoError(t, err)
	store, err := settings.Open(filepath.Join(dir, "settings.yaml"))
	require.NoError(t, err)
	engine := analytics.New(repo.Inventory, repo.Invoices, repo.Expenses, analytics.Options{
		LowStockThreshold: 5,
		Now:               now,
		Logger:            logger.Nop(),
	})
	return New(repo, engine, store, Options{LowStockThreshold: 5, Logger: logger.Nop()}), repo
}

func seedProduct(t *testing.T, svc *Service, name, size string, stock int) domain.Product {
	t.Helper()
	p, err := svc.SaveProduct(context.Background(), domain.Product{
		Name: name, Size: size, Price: 5000, BuyingPrice: 3000, Stock: stock,
	})
	require.NoError(t, err)
	return p
}

func saleOf(items ...domain.LineItem) SaleRequest {
	return SaleRequest{Invoice: domain.Invoice{
		Date:         "03/14/2025",
		CustomerName: "Rahim",
		Items:        items,
		Delivery:     100,
	}}
}

func line(name, size string, qty int) domain.LineItem {
	return domain.LineItem{Name: name, Size: size, Qty: qty, Price: 5000}
}

func stockOf(t *testing.T, svc *Service, name, size string) domain.Product {
	t.Helper()
	p, err := svc.FindProduct(context.Background(), name, size)
	require.NoError(t, err)
	return *p
}

func TestCreateSaleAssignsNumberAndReducesStock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedProduct(t, svc, "Air Max", "42", 10)

	result, err := svc.CreateSale(ctx, saleOf(line("Air Max", "42.0", 2)))
	require.NoError(t, err)
	assert.Equal(t, "#SC-2025-001", result.Invoice.Number)
	assert.Equal(t, 10100.0, result.Invoice.GrandTotal)
	assert.Empty(t, result.DuplicateWarning)
	assert.Empty(t, result.Shortfalls)

	p := stockOf(t, svc, "Air Max", "42")
	assert.Equal(t, 8, p.Stock)
	assert.Equal(t, 2, p.SoldQuantity)

	again, err := svc.CreateSale(ctx, saleOf(line("Air Max", "42.0", 2)))
	require.NoError(t, err)
	assert.Equal(t, "#SC-2025-002", again.Invoice.Number)
	assert.Equal(t, "Possible duplicate of invoice #SC-2025-001", again.DuplicateWarning)
}

func TestCreateSaleRejectsShortfallWithoutWriting(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedProduct(t, svc, "Air Max", "42", 1)

	_, err := svc.CreateSale(ctx, saleOf(line("Air Max", "42", 2), line("Air Max", "42", 1), line("Jordan", "43", 1)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrInsufficientStock))

	var shortfall *ShortfallError
	require.True(t, errors.As(err, &shortfall))
	assert.Equal(t, []domain.StockShortfall{
		{Name: "Air Max", Size: "42", Requested: 3, Available: 1},
		{Name: "Jordan", Size: "43", Requested: 1, Available: 0},
	}, shortfall.Shortfalls)

	invoices, err := svc.ListInvoices(ctx)
	require.NoError(t, err)
	assert.Empty(t, invoices)
	assert.Equal(t, 1, stockOf(t, svc, "Air Max", "42").Stock)
}

func TestCreateSaleOversellFloorsStock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedProduct(t, svc, "Air Max", "42", 1)

	req := saleOf(line("Air Max", "42", 3))
	req.AllowOversell = true
	result, err := svc.CreateSale(ctx, req)
	require.NoError(t, err)
	require.Len(t, result.Shortfalls, 1)
	assert.Equal(t, 0, stockOf(t, svc, "Air Max", "42").Stock)
}

func TestCreateSaleRejectsReturnInvoice(t *testing.T) {
	svc, _ := newTestService(t)
	req := saleOf(line("Air Max", "42", 1))
	req.Invoice.OriginalInvoiceNo = "#SC-2025-001"
	_, err := svc.CreateSale(context.Background(), req)
	assert.ErrorIs(t, err, repository.ErrValidation)
}

func TestCreateReturnRestocksAndCapsQuantity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedProduct(t, svc, "Air Max", "42", 10)
	sold, err := svc.CreateSale(ctx, saleOf(line("Air Max", "42", 2)))
	require.NoError(t, err)

	ret, err := svc.CreateReturn(ctx, sold.Invoice.Number, []domain.LineItem{line("Air Max", "42", 1)}, true)
	require.NoError(t, err)
	assert.Equal(t, "RET-SC_2025_001", ret.Number)
	assert.Equal(t, -5000.0, ret.GrandTotal)
	assert.Equal(t, domain.PaymentRefund, ret.PaymentMethod)
	assert.Equal(t, 9, stockOf(t, svc, "Air Max", "42").Stock)

	_, err = svc.CreateReturn(ctx, sold.Invoice.Number, []domain.LineItem{line("Air Max", "42", 2)}, true)
	assert.ErrorIs(t, err, repository.ErrValidation)

	_, err = svc.CreateReturn(ctx, sold.Invoice.Number, []domain.LineItem{line("Jordan", "43", 1)}, true)
	assert.ErrorIs(t, err, repository.ErrValidation)

	_, err = svc.CreateReturn(ctx, "#SC-2025-999", []domain.LineItem{line("Air Max", "42", 1)}, true)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	second, err := svc.CreateReturn(ctx, sold.Invoice.Number, []domain.LineItem{line("Air Max", "42", 1)}, false)
	require.NoError(t, err)
	assert.Equal(t, "RET-SC_2025_001-2", second.Number)
	assert.Equal(t, 9, stockOf(t, svc, "Air Max", "42").Stock)

	original, err := svc.ResolveOriginalInvoice(ctx, second)
	require.NoError(t, err)
	require.NotNil(t, original)
	assert.Equal(t, sold.Invoice.Number, original.Number)
}

func TestEditInvoiceMovesStockDifference(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedProduct(t, svc, "Air Max", "42", 10)
	seedProduct(t, svc, "Jordan", "43", 4)
	sold, err := svc.CreateSale(ctx, saleOf(line("Air Max", "42", 2)))
	require.NoError(t, err)

	items := []domain.LineItem{line("Air Max", "42", 3), line("Jordan", "43", 1)}
	updated, err := svc.EditInvoice(ctx, sold.Invoice.Number, domain.InvoicePatch{Items: &items}, true)
	require.NoError(t, err)
	assert.Equal(t, 20100.0, updated.GrandTotal)
	assert.Equal(t, 7, stockOf(t, svc, "Air Max", "42").Stock)
	assert.Equal(t, 3, stockOf(t, svc, "Jordan", "43").Stock)

	name := "Karim"
	_, err = svc.EditInvoice(ctx, sold.Invoice.Number, domain.InvoicePatch{CustomerName: &name}, true)
	require.NoError(t, err)
	assert.Equal(t, 7, stockOf(t, svc, "Air Max", "42").Stock)
}

func TestDeleteInvoiceRestoresStock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedProduct(t, svc, "Air Max", "42", 10)
	sold, err := svc.CreateSale(ctx, saleOf(line("Air Max", "42", 2)))
	require.NoError(t, err)
	ret, err := svc.CreateReturn(ctx, sold.Invoice.Number, []domain.LineItem{line("Air Max", "42", 1)}, false)
	require.NoError(t, err)

	removed, err := svc.DeleteInvoice(ctx, sold.Invoice.Number, true)
	require.NoError(t, err)
	assert.Equal(t, sold.Invoice.Number, removed.Number)
	p := stockOf(t, svc, "Air Max", "42")
	assert.Equal(t, 10, p.Stock)
	assert.Equal(t, 0, p.SoldQuantity)

	original, err := svc.ResolveOriginalInvoice(ctx, ret)
	require.NoError(t, err)
	assert.Nil(t, original)

	_, err = svc.DeleteInvoice(ctx, sold.Invoice.Number, true)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeleteInvoiceSkipsMissingProducts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, "Air Max", "42", 10)
	sold, err := svc.CreateSale(ctx, saleOf(line("Air Max", "42", 2)))
	require.NoError(t, err)
	_, err = svc.DeleteProduct(ctx, p.ID)
	require.NoError(t, err)

	_, err = svc.DeleteInvoice(ctx, sold.Invoice.Number, true)
	assert.NoError(t, err)
}

func TestExpenseAllocationAndResolution(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := seedProduct(t, svc, "Air Max", "42", 10)

	courier, err := svc.AddExpense(ctx, domain.Expense{Category: "Courier", Amount: 300, Date: "03/10/2025"})
	require.NoError(t, err)
	assert.Equal(t, "EXP-00001", courier.ID)
	misc, err := svc.AddExpense(ctx, domain.Expense{Amount: 50, RelatedProduct: "air max", Allocated: true})
	require.NoError(t, err)
	assert.Equal(t, "Other", misc.Category)
	assert.Equal(t, "03/14/2025", misc.Date)

	allocated, err := svc.AllocateExpense(ctx, courier.ID, p.ID)
	require.NoError(t, err)
	assert.True(t, allocated.Allocated)

	cost, err := svc.ProductAllocatedCost(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 350.0, cost)

	related, err := svc.ResolveRelatedProduct(ctx, allocated)
	require.NoError(t, err)
	require.NotNil(t, related)
	assert.Equal(t, p.ID, related.ID)

	related, err = svc.ResolveRelatedProduct(ctx, misc)
	require.NoError(t, err)
	require.NotNil(t, related)
	assert.Equal(t, p.ID, related.ID)

	_, err = svc.DeleteProduct(ctx, p.ID)
	require.NoError(t, err)
	related, err = svc.ResolveRelatedProduct(ctx, allocated)
	require.NoError(t, err)
	assert.Nil(t, related)

	_, err = svc.AllocateExpense(ctx, courier.ID, "SC-SKU-99999")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCategoriesPassThrough(t *testing.T) {
	svc, _ := newTestService(t)
	assert.Contains(t, svc.Categories(), "Customs")

	changed, err := svc.DeleteCategory("Customs")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotContains(t, svc.Categories(), "Customs")

	changed, err = svc.AddCategory("Customs")
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = svc.AddCategory("Customs")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestImportInventoryUpsertsRows(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	input := "name,size,price,buying_price,stock\nAir Max,42,5000,3000,10\nJordan,43,7000,4500,2\n"

	first, err := svc.ImportInventory(ctx, "stock.csv", strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, first.Rows)
	assert.Equal(t, []string{"SC-SKU-00001", "SC-SKU-00002"}, first.ProductIDs)

	before, err := os.ReadFile(repo.Inventory.Path())
	require.NoError(t, err)
	second, err := svc.ImportInventory(ctx, "stock.csv", strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, first.ProductIDs, second.ProductIDs)
	after, err := os.ReadFile(repo.Inventory.Path())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	_, err = svc.ImportInventory(ctx, "stock.csv", strings.NewReader("name,price\nAir Max,1\n"))
	assert.Error(t, err)
}

func TestExportWorkbook(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedProduct(t, svc, "Air Max", "42", 10)
	_, err := svc.CreateSale(ctx, saleOf(line("Air Max", "42", 1)))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, svc.ExportWorkbook(ctx, &buf))
	file, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer file.Close()
	rows, err := file.GetRows("Invoices")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "#SC-2025-001", rows[1][0])

	dir := t.TempDir()
	path, err := svc.ExportWorkbookFile(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "shopledger_export_2025-03-14.xlsx"), path)
	assert.FileExists(t, path)

	fallback, err := svc.ExportWorkbookFile(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "exports", filepath.Base(filepath.Dir(fallback)))
	assert.FileExists(t, fallback)
}

func TestLowStockDefaultsToConfiguredThreshold(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedProduct(t, svc, "Air Max", "42", 5)
	seedProduct(t, svc, "Jordan", "43", 6)

	low, err := svc.LowStock(ctx, 0)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "Air Max", low[0].Name)

	summary, err := svc.InventorySummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LowStockCount)
}
