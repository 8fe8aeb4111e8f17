// Package service is the single entry point the API and command line tools
// use. It combines store operations that must happen together, such as
// saving a sale and taking its items out of stock.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"shopledger/internal/analytics"
	"shopledger/internal/domain"
	"shopledger/internal/logger"
	"shopledger/internal/repository"
	"shopledger/internal/settings"
)

type Options struct {
	LowStockThreshold int
	Logger            *logger.Logger
}

type Service struct {
	repo      *repository.Repository
	analytics *analytics.Engine
	settings  *settings.Store

	lowStock int
	log      *logger.Logger
}

func New(repo *repository.Repository, engine *analytics.Engine, store *settings.Store, opts Options) *Service {
	lowStock := opts.LowStockThreshold
	if lowStock <= 0 {
		lowStock = 5
	}
	return &Service{
		repo:      repo,
		analytics: engine,
		settings:  store,
		lowStock:  lowStock,
		log:       logger.OrDefault(opts.Logger).WithComponent("service"),
	}
}

func (s *Service) LowStockThreshold() int { return s.lowStock }

// Backup copies each ledger file into the backup folder, once per day.
func (s *Service) Backup(ctx context.Context) (map[string]string, error) {
	written, err := s.repo.Backup(ctx)
	if err != nil {
		return written, err
	}
	if len(written) > 0 {
		s.log.Infow("ledger backup written", "files", len(written))
	}
	return written, nil
}

// Products

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.Inventory.List(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.repo.Inventory.GetByID(ctx, id)
}

func (s *Service) FindProduct(ctx context.Context, name, size string) (*domain.Product, error) {
	return s.repo.Inventory.GetByNameSize(ctx, name, size)
}

// SaveProduct upserts p and returns the stored row.
func (s *Service) SaveProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	id, err := s.repo.Inventory.Upsert(ctx, p)
	if err != nil {
		return domain.Product{}, err
	}
	saved, err := s.repo.Inventory.GetByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *saved, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch) (domain.Product, error) {
	return s.repo.Inventory.UpdateByID(ctx, id, patch)
}

func (s *Service) DeleteProduct(ctx context.Context, id string) (domain.Product, error) {
	return s.repo.Inventory.DeleteByID(ctx, id)
}

func (s *Service) UpdateProductByNameSize(ctx context.Context, name, size string, patch domain.ProductPatch) (domain.Product, error) {
	return s.repo.Inventory.UpdateByNameSize(ctx, name, size, patch)
}

func (s *Service) DeleteProductByNameSize(ctx context.Context, name, size string) (domain.Product, error) {
	return s.repo.Inventory.DeleteByNameSize(ctx, name, size)
}

func (s *Service) NextProductID(ctx context.Context) (string, error) {
	return s.repo.Inventory.GenerateProductID(ctx)
}

func (s *Service) CheckAvailability(ctx context.Context, name, size string, qty int) (bool, int, error) {
	return s.repo.Inventory.CheckAvailability(ctx, name, size, qty)
}

// LowStock uses the configured threshold when threshold is not positive.
func (s *Service) LowStock(ctx context.Context, threshold int) ([]domain.Product, error) {
	if threshold <= 0 {
		threshold = s.lowStock
	}
	return s.repo.Inventory.LowStock(ctx, threshold)
}

func (s *Service) AgingProducts(ctx context.Context, days int) ([]domain.AgingProduct, error) {
	return s.repo.Inventory.Aging(ctx, days)
}

func (s *Service) ProfitBySKU(ctx context.Context) ([]domain.ProductProfit, error) {
	return s.repo.Inventory.ProfitBySKU(ctx)
}

func (s *Service) TopProfitable(ctx context.Context, limit int) ([]domain.ProductProfit, error) {
	return s.repo.Inventory.TopProfitable(ctx, limit)
}

func (s *Service) InventorySummary(ctx context.Context) (domain.InventorySummary, error) {
	return s.repo.Inventory.Summary(ctx, s.lowStock)
}

func (s *Service) ProductNames(ctx context.Context) ([]string, error) {
	return s.repo.Inventory.ProductNames(ctx)
}

func (s *Service) SizesFor(ctx context.Context, name string) ([]string, error) {
	return s.repo.Inventory.SizesFor(ctx, name)
}

// Expenses

// AddExpense records e. A blank category falls back to "Other".
func (s *Service) AddExpense(ctx context.Context, e domain.Expense) (domain.Expense, error) {
	if strings.TrimSpace(e.Category) == "" {
		e.Category = "Other"
	}
	id, err := s.repo.Expenses.Add(ctx, e)
	if err != nil {
		return domain.Expense{}, err
	}
	saved, err := s.repo.Expenses.Get(ctx, id)
	if err != nil {
		return domain.Expense{}, err
	}
	return *saved, nil
}

func (s *Service) ListExpenses(ctx context.Context) ([]domain.Expense, error) {
	return s.repo.Expenses.List(ctx)
}

func (s *Service) GetExpense(ctx context.Context, id string) (*domain.Expense, error) {
	return s.repo.Expenses.Get(ctx, id)
}

func (s *Service) UpdateExpense(ctx context.Context, id string, patch domain.ExpensePatch) (domain.Expense, error) {
	return s.repo.Expenses.Update(ctx, id, patch)
}

func (s *Service) DeleteExpense(ctx context.Context, id string) (domain.Expense, error) {
	return s.repo.Expenses.Delete(ctx, id)
}

func (s *Service) DeleteExpenseByFields(ctx context.Context, e domain.Expense) (domain.Expense, error) {
	return s.repo.Expenses.DeleteByFields(ctx, e)
}

// AllocateExpense ties expense id to the product with productID.
func (s *Service) AllocateExpense(ctx context.Context, id, productID string) (domain.Expense, error) {
	product, err := s.repo.Inventory.GetByID(ctx, productID)
	if err != nil {
		return domain.Expense{}, fmt.Errorf("product %s: %w", productID, err)
	}
	return s.repo.Expenses.AllocateToProduct(ctx, id, product.ID)
}

// ProductAllocatedCost sums the allocated expenses that name the product by
// id or by name.
func (s *Service) ProductAllocatedCost(ctx context.Context, productID string) (float64, error) {
	product, err := s.repo.Inventory.GetByID(ctx, productID)
	if err != nil {
		return 0, err
	}
	return s.repo.Expenses.AllocatedCost(ctx, product.ID, product.Name)
}

// ResolveRelatedProduct follows an expense's related_product reference. It
// returns nil when the reference is blank or points at a deleted product.
func (s *Service) ResolveRelatedProduct(ctx context.Context, e domain.Expense) (*domain.Product, error) {
	ref := strings.TrimSpace(e.RelatedProduct)
	if ref == "" {
		return nil, nil
	}
	product, err := s.repo.Inventory.GetByID(ctx, ref)
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	products, err := s.repo.Inventory.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		if strings.EqualFold(strings.TrimSpace(p.Name), ref) {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *Service) UnallocatedExpenses(ctx context.Context) ([]domain.Expense, error) {
	return s.repo.Expenses.Unallocated(ctx)
}

func (s *Service) ExpensesByCategory(ctx context.Context) (map[string]float64, error) {
	return s.repo.Expenses.ByCategory(ctx)
}

func (s *Service) ExpenseSummary(ctx context.Context) (domain.ExpenseSummary, error) {
	return s.repo.Expenses.Summary(ctx)
}

// Categories

// Setting reads one persisted preference such as output_folder.
func (s *Service) Setting(key string) (string, bool) {
	return s.settings.Get(strings.TrimSpace(key))
}

func (s *Service) SetSetting(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" || key == "expense_categories" {
		return fmt.Errorf("%w: setting %q cannot be set directly", repository.ErrValidation, key)
	}
	if err := s.settings.Set(key, strings.TrimSpace(value)); err != nil {
		return err
	}
	s.log.Infow("setting updated", "key", key)
	return nil
}

func (s *Service) Categories() []string {
	return s.settings.Categories()
}

func (s *Service) AddCategory(name string) (bool, error) {
	return s.settings.AddCategory(name)
}

func (s *Service) DeleteCategory(name string) (bool, error) {
	return s.settings.DeleteCategory(name)
}

// Analytics

func (s *Service) MonthlyRevenueExpense(ctx context.Context, months int) ([]domain.MonthlySummary, error) {
	return s.analytics.MonthlyRevenueExpense(ctx, months)
}

func (s *Service) NetProfit(ctx context.Context, period string) (domain.ProfitReport, error) {
	return s.analytics.NetProfit(ctx, period)
}

func (s *Service) BestSellingSizes(ctx context.Context, limit int) ([]domain.SizeSales, error) {
	return s.analytics.BestSellingSizes(ctx, limit)
}

func (s *Service) TopProducts(ctx context.Context, limit int) ([]domain.ProductSales, error) {
	return s.analytics.TopProducts(ctx, limit)
}

func (s *Service) TopCustomers(ctx context.Context, limit int) ([]domain.CustomerSpend, error) {
	return s.analytics.TopCustomers(ctx, limit)
}

func (s *Service) DailySalesTrends(ctx context.Context, days int) ([]domain.DailyTrend, error) {
	return s.analytics.DailySalesTrends(ctx, days)
}

func (s *Service) MonthOverMonth(ctx context.Context) (domain.MonthOverMonth, error) {
	return s.analytics.MonthOverMonth(ctx)
}

func (s *Service) Dashboard(ctx context.Context) (domain.DashboardSummary, error) {
	return s.analytics.DashboardSummary(ctx)
}
