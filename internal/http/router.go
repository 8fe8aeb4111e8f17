package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"shopledger/internal/logger"
)

func NewRouter(handler *Handler, log *logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID(logger.OrDefault(log).WithComponent("http")))
	r.Use(Logger)
	r.Use(Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(Timeout)

	r.Get("/healthz", handler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", handler.ListProducts)
		r.Post("/products", handler.SaveProduct)
		r.Get("/products/lookup", handler.LookupProduct)
		r.Patch("/products/lookup", handler.PatchProductByNameSize)
		r.Delete("/products/lookup", handler.DeleteProductByNameSize)
		r.Get("/products/next-id", handler.NextProductID)
		r.Get("/products/names", handler.ProductNames)
		r.Get("/products/sizes", handler.ProductSizes)
		r.Get("/products/availability", handler.CheckAvailability)
		r.Get("/products/{id}", handler.GetProduct)
		r.Patch("/products/{id}", handler.PatchProduct)
		r.Delete("/products/{id}", handler.DeleteProduct)
		r.Get("/products/{id}/allocated-cost", handler.ProductAllocatedCost)

		r.Get("/inventory/summary", handler.InventorySummary)
		r.Get("/inventory/low-stock", handler.LowStock)
		r.Get("/inventory/aging", handler.AgingProducts)
		r.Get("/inventory/profit", handler.ProfitBySKU)
		r.Get("/inventory/top-profitable", handler.TopProfitable)
		r.Post("/inventory/import", handler.ImportInventory)

		r.Get("/invoices", handler.ListInvoices)
		r.Post("/invoices", handler.CreateSale)
		r.Get("/invoices/next-number", handler.NextInvoiceNumber)
		r.Get("/invoices/options", handler.InvoiceOptions)
		r.Get("/invoices/summary", handler.InvoiceSummary)
		r.Get("/invoices/daily-sales", handler.DailySales)
		r.Post("/invoices/duplicate-check", handler.CheckDuplicate)
		r.Get("/invoices/{number}", handler.GetInvoice)
		r.Patch("/invoices/{number}", handler.EditInvoice)
		r.Delete("/invoices/{number}", handler.DeleteInvoice)
		r.Put("/invoices/{number}/status", handler.UpdateInvoiceStatus)
		r.Get("/invoices/{number}/returns", handler.ListReturns)
		r.Post("/invoices/{number}/returns", handler.CreateReturn)

		r.Get("/expenses", handler.ListExpenses)
		r.Post("/expenses", handler.AddExpense)
		r.Post("/expenses/delete-matching", handler.DeleteMatchingExpense)
		r.Get("/expenses/summary", handler.ExpenseSummary)
		r.Get("/expenses/by-category", handler.ExpensesByCategory)
		r.Get("/expenses/{id}", handler.GetExpense)
		r.Patch("/expenses/{id}", handler.PatchExpense)
		r.Delete("/expenses/{id}", handler.DeleteExpense)
		r.Post("/expenses/{id}/allocate", handler.AllocateExpense)

		r.Get("/categories", handler.ListCategories)
		r.Post("/categories", handler.AddCategory)
		r.Delete("/categories/{name}", handler.DeleteCategory)

		r.Get("/analytics/dashboard", handler.Dashboard)
		r.Get("/analytics/monthly", handler.MonthlyRevenueExpense)
		r.Get("/analytics/net-profit", handler.NetProfit)
		r.Get("/analytics/sizes", handler.BestSellingSizes)
		r.Get("/analytics/top-products", handler.TopProducts)
		r.Get("/analytics/top-customers", handler.TopCustomers)
		r.Get("/analytics/daily-trends", handler.DailySalesTrends)
		r.Get("/analytics/month-over-month", handler.MonthOverMonth)

		r.Get("/export/workbook", handler.ExportWorkbook)
		r.Post("/export/workbook", handler.SaveWorkbook)
		r.Get("/settings/{key}", handler.GetSetting)
		r.Put("/settings/{key}", handler.PutSetting)
		r.Post("/backups", handler.Backup)
	})

	return r
}
