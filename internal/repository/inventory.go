package repository

import (
	"context"
	"errors"
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

// InventoryRepository stores one row per (name, size) product variant.
type InventoryRepository struct {
	table *db.Table
	cells cells
	log   *logger.Logger
	now   func() time.Time
}

func inventoryColumns(today string) []db.Column {
	return []db.Column{
		{Name: "product_id"},
		{Name: "name"},
		{Name: "description"},
		{Name: "size"},
		{Name: "price", Default: "0"},
		{Name: "buying_price", Default: "0"},
		{Name: "stock", Default: "0"},
		{Name: "added_date", Default: today},
		{Name: "sold_quantity", Default: "0"},
	}
}

// OpenInventory migrates the inventory file and backfills missing product ids.
func OpenInventory(ctx context.Context, opts Options) (*InventoryRepository, error) {
	opts = opts.withDefaults()
	log := opts.Logger.WithComponent("inventory")
	today := opts.Now().Format(domain.AddedDateLayout)
	r := &InventoryRepository{
		table: db.NewTable(filepath.Join(opts.DataDir, InventoryFile), inventoryColumns(today), opts.tableOptions()),
		cells: cells{log: log},
		log:   log,
		now:   opts.Now,
	}

	migrated, err := r.table.Ensure(ctx)
	if err != nil {
		return nil, fmt.Errorf("open inventory: %w", err)
	}
	if migrated {
		log.Infow("inventory schema migrated", "path", r.table.Path())
	}

	filled := 0
	err = r.table.Update(ctx, func(snap *db.Snapshot) (bool, error) {
		filled = backfillIDs(snap, "product_id", productIDPrefix)
		return filled > 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("backfill product ids: %w", err)
	}
	if filled > 0 {
		log.Infow("generated missing product ids", "count", filled)
	}
	return r, nil
}

func (r *InventoryRepository) Path() string { return r.table.Path() }

func (r *InventoryRepository) toProduct(rec db.Record) domain.Product {
	key := rec["product_id"]
	if key == "" {
		key = rec["name"]
	}
	return domain.Product{
		ID:           strings.TrimSpace(rec["product_id"]),
		Name:         rec["name"],
		Description:  rec["description"],
		Size:         rec["size"],
		Price:        r.cells.float(rec, "price", key),
		BuyingPrice:  r.cells.float(rec, "buying_price", key),
		Stock:        r.cells.int(rec, "stock", key),
		AddedDate:    rec["added_date"],
		SoldQuantity: r.cells.int(rec, "sold_quantity", key),
	}
}

func putProduct(rec db.Record, p domain.Product) {
	rec["product_id"] = p.ID
	rec["name"] = p.Name
	rec["description"] = p.Description
	rec["size"] = p.Size
	rec["price"] = formatFloat(p.Price)
	rec["buying_price"] = formatFloat(p.BuyingPrice)
	rec["stock"] = formatInt(p.Stock)
	rec["added_date"] = p.AddedDate
	rec["sold_quantity"] = formatInt(p.SoldQuantity)
}

func matchNameSize(name, size string) func(db.Record) bool {
	return func(rec db.Record) bool {
		return domain.SameName(rec["name"], name) && domain.SameSize(rec["size"], size)
	}
}

func matchProductID(id string) func(db.Record) bool {
	id = strings.TrimSpace(id)
	return func(rec db.Record) bool {
		return id != "" && strings.TrimSpace(rec["product_id"]) == id
	}
}

func validateProduct(p domain.Product) error {
	if strings.TrimSpace(p.Name) == "" {
		return validationErr("product name is required")
	}
	if p.Stock < 0 {
		return validationErr("stock must not be negative")
	}
	if p.Price < 0 || p.BuyingPrice < 0 {
		return validationErr("prices must not be negative")
	}
	if p.SoldQuantity < 0 {
		return validationErr("sold quantity must not be negative")
	}
	return nil
}

func (r *InventoryRepository) List(ctx context.Context) ([]domain.Product, error) {
	snap, err := r.table.Read(ctx)
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(snap.Records))
	for _, rec := range snap.Records {
		products = append(products, r.toProduct(rec))
	}
	return products, nil
}

func (r *InventoryRepository) find(ctx context.Context, pred func(db.Record) bool) (*domain.Product, error) {
	snap, err := r.table.Read(ctx)
	if err != nil {
		return nil, err
	}
	idx := snap.Find(pred)
	if idx < 0 {
		return nil, ErrNotFound
	}
	p := r.toProduct(snap.Records[idx])
	return &p, nil
}

func (r *InventoryRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	return r.find(ctx, matchProductID(id))
}

func (r *InventoryRepository) GetByNameSize(ctx context.Context, name, size string) (*domain.Product, error) {
	return r.find(ctx, matchNameSize(name, size))
}

// Upsert inserts p or overwrites the stock, prices and description of the
// row it matches. A row matches by product id when p carries one that
// exists, otherwise by (name, size). An id match whose name or size differs
// from the stored row is rejected; use UpdateByID to rename. The stored
// product id is returned and never changes for an existing row.
func (r *InventoryRepository) Upsert(ctx context.Context, p domain.Product) (string, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Size = domain.NormalizeSize(p.Size)
	p.ID = strings.TrimSpace(p.ID)
	if err := validateProduct(p); err != nil {
		return "", err
	}

	var id string
	err := r.table.Update(ctx, func(snap *db.Snapshot) (bool, error) {
		idx := snap.Find(matchProductID(p.ID))
		if idx >= 0 && !matchNameSize(p.Name, p.Size)(snap.Records[idx]) {
			stored := snap.Records[idx]
			return false, validationErr("product %s is %s (%s), not %s (%s)",
				p.ID, strings.TrimSpace(stored["name"]), strings.TrimSpace(stored["size"]), p.Name, p.Size)
		}
		if idx < 0 {
			idx = snap.Find(matchNameSize(p.Name, p.Size))
		}

		if idx >= 0 {
			rec := snap.Records[idx]
			current := r.toProduct(rec)
			next := current
			if next.ID == "" {
				next.ID = nextSequentialID(productIDPrefix, takenIDs(snap, "product_id"))
			}
			next.Stock = p.Stock
			next.Price = p.Price
			next.BuyingPrice = p.BuyingPrice
			next.Description = p.Description
			id = next.ID
			if next == current {
				return false, nil
			}
			putProduct(rec, next)
			return true, nil
		}

		taken := takenIDs(snap, "product_id")
		if p.ID == "" {
			p.ID = nextSequentialID(productIDPrefix, taken)
		}
		if p.AddedDate == "" {
			p.AddedDate = r.now().Format(domain.AddedDateLayout)
		}
		rec := db.Record{}
		putProduct(rec, p)
		snap.Records = append(snap.Records, rec)
		id = p.ID
		return true, nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// CheckAvailability reports whether qty units of (name, size) are in stock
// and the current stock. A missing product is unavailable with stock 0.
func (r *InventoryRepository) CheckAvailability(ctx context.Context, name, size string, qty int) (bool, int, error) {
	p, err := r.GetByNameSize(ctx, name, size)
	if errors.Is(err, ErrNotFound) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	return p.Stock >= qty, p.Stock, nil
}

// ReduceStock takes qty units off (name, size), never going below zero, and
// adds qty to the sold quantity. It returns the new stock.
func (r *InventoryRepository) ReduceStock(ctx context.Context, name, size string, qty int) (int, error) {
	return r.adjustStock(ctx, name, size, qty, func(p *domain.Product) {
		p.Stock -= qty
		if p.Stock < 0 {
			p.Stock = 0
		}
		p.SoldQuantity += qty
	})
}

// RestoreStock is the inverse of ReduceStock for returned or cancelled
// sales. Sold quantity floors at zero.
func (r *InventoryRepository) RestoreStock(ctx context.Context, name, size string, qty int) (int, error) {
	return r.adjustStock(ctx, name, size, qty, func(p *domain.Product) {
		p.Stock += qty
		p.SoldQuantity -= qty
		if p.SoldQuantity < 0 {
			p.SoldQuantity = 0
		}
	})
}

func (r *InventoryRepository) adjustStock(ctx context.Context, name, size string, qty int, apply func(*domain.Product)) (int, error) {
	if qty < 0 {
		return 0, validationErr("quantity must not be negative")
	}
	stock := 0
	err := r.table.Update(ctx, func(snap *db.Snapshot) (bool, error) {
		idx := snap.Find(matchNameSize(name, size))
		if idx < 0 {
			return false, fmt.Errorf("product %q size %q: %w", name, size, ErrNotFound)
		}
		p := r.toProduct(snap.Records[idx])
		apply(&p)
		putProduct(snap.Records[idx], p)
		stock = p.Stock
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return stock, nil
}

// LowStock lists products with stock at or below threshold.
func (r *InventoryRepository) LowStock(ctx context.Context, threshold int) ([]domain.Product, error) {
	products, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0)
	for _, p := range products {
		if p.Stock <= threshold {
			out = append(out, p)
		}
	}
	return out, nil
}

// Aging lists products added more than days ago that still have stock,
// oldest first. Rows without a readable added date are skipped.
func (r *InventoryRepository) Aging(ctx context.Context, days int) ([]domain.AgingProduct, error) {
	products, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()
	cutoff := now.AddDate(0, 0, -days)
	out := make([]domain.AgingProduct, 0)
	for _, p := range products {
		added, ok := domain.ParseDate(p.AddedDate)
		if !ok || p.Stock <= 0 || !added.Before(cutoff) {
			continue
		}
		out = append(out, domain.AgingProduct{
			Product:     p,
			DaysInStock: int(now.Sub(added).Hours() / 24),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DaysInStock > out[j].DaysInStock })
	return out, nil
}

// ProfitBySKU computes per-product unit profit, total profit over the sold
// quantity and margin against the selling price.
func (r *InventoryRepository) ProfitBySKU(ctx context.Context) ([]domain.ProductProfit, error) {
	products, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProductProfit, 0, len(products))
	for _, p := range products {
		price := decimal.NewFromFloat(p.Price)
		unit := price.Sub(decimal.NewFromFloat(p.BuyingPrice))
		margin := decimal.Zero
		if !price.IsZero() {
			margin = unit.Div(price).Mul(decimal.NewFromInt(100))
		}
		out = append(out, domain.ProductProfit{
			ProductID:    p.ID,
			Name:         p.Name,
			Size:         p.Size,
			Price:        p.Price,
			BuyingPrice:  p.BuyingPrice,
			SoldQuantity: p.SoldQuantity,
			UnitProfit:   unit.Round(2).InexactFloat64(),
			TotalProfit:  unit.Mul(decimal.NewFromInt(int64(p.SoldQuantity))).Round(2).InexactFloat64(),
			MarginPct:    margin.Round(2).InexactFloat64(),
		})
	}
	return out, nil
}

func (r *InventoryRepository) TopProfitable(ctx context.Context, limit int) ([]domain.ProductProfit, error) {
	profits, err := r.ProfitBySKU(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(profits, func(i, j int) bool { return profits[i].TotalProfit > profits[j].TotalProfit })
	if limit > 0 && len(profits) > limit {
		profits = profits[:limit]
	}
	return profits, nil
}

// UpdateByID applies patch to the product with id. The product id itself
// cannot be changed.
func (r *InventoryRepository) UpdateByID(ctx context.Context, id string, patch domain.ProductPatch) (domain.Product, error) {
	return r.update(ctx, matchProductID(id), patch)
}

func (r *InventoryRepository) UpdateByNameSize(ctx context.Context, name, size string, patch domain.ProductPatch) (domain.Product, error) {
	return r.update(ctx, matchNameSize(name, size), patch)
}

func (r *InventoryRepository) update(ctx context.Context, pred func(db.Record) bool, patch domain.ProductPatch) (domain.Product, error) {
	var updated domain.Product
	err := r.table.Update(ctx, func(snap *db.Snapshot) (bool, error) {
		idx := snap.Find(pred)
		if idx < 0 {
			return false, ErrNotFound
		}
		p := r.toProduct(snap.Records[idx])
		applyProductPatch(&p, patch)
		if err := validateProduct(p); err != nil {
			return false, err
		}
		if other := snap.Find(matchNameSize(p.Name, p.Size)); other >= 0 && other != idx {
			return false, validationErr("product %q size %q already exists", p.Name, p.Size)
		}
		putProduct(snap.Records[idx], p)
		updated = p
		return true, nil
	})
	return updated, err
}

func applyProductPatch(p *domain.Product, patch domain.ProductPatch) {
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Size != nil {
		p.Size = domain.NormalizeSize(*patch.Size)
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.BuyingPrice != nil {
		p.BuyingPrice = *patch.BuyingPrice
	}
	if patch.Stock != nil {
		p.Stock = *patch.Stock
	}
	if patch.AddedDate != nil {
		p.AddedDate = strings.TrimSpace(*patch.AddedDate)
	}
}

// DeleteByID removes the product and returns it.
func (r *InventoryRepository) DeleteByID(ctx context.Context, id string) (domain.Product, error) {
	return r.delete(ctx, matchProductID(id))
}

func (r *InventoryRepository) DeleteByNameSize(ctx context.Context, name, size string) (domain.Product, error) {
	return r.delete(ctx, matchNameSize(name, size))
}

func (r *InventoryRepository) delete(ctx context.Context, pred func(db.Record) bool) (domain.Product, error) {
	var removed domain.Product
	err := r.table.Update(ctx, func(snap *db.Snapshot) (bool, error) {
		idx := snap.Find(pred)
		if idx < 0 {
			return false, ErrNotFound
		}
		removed = r.toProduct(snap.Remove(idx))
		return true, nil
	})
	return removed, err
}

// Summary aggregates stock and its value at selling and buying price.
func (r *InventoryRepository) Summary(ctx context.Context, lowStockThreshold int) (domain.InventorySummary, error) {
	products, err := r.List(ctx)
	if err != nil {
		return domain.InventorySummary{}, err
	}
	value, cost := decimal.Zero, decimal.Zero
	summary := domain.InventorySummary{TotalItems: len(products)}
	for _, p := range products {
		stock := decimal.NewFromInt(int64(p.Stock))
		summary.TotalStock += p.Stock
		value = value.Add(stock.Mul(decimal.NewFromFloat(p.Price)))
		cost = cost.Add(stock.Mul(decimal.NewFromFloat(p.BuyingPrice)))
		if p.Stock <= lowStockThreshold {
			summary.LowStockCount++
		}
	}
	summary.InventoryValue = value.Round(2).InexactFloat64()
	summary.InventoryCost = cost.Round(2).InexactFloat64()
	summary.PotentialProfit = value.Sub(cost).Round(2).InexactFloat64()
	return summary, nil
}

// ProductNames returns the distinct product names, sorted.
func (r *InventoryRepository) ProductNames(ctx context.Context) ([]string, error) {
	products, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	names := make([]string, 0)
	for _, p := range products {
		name := strings.TrimSpace(p.Name)
		if _, ok := seen[name]; ok || name == "" {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// SizesFor lists the sizes stocked for name. Numeric sizes sort by value
// and come before the others.
func (r *InventoryRepository) SizesFor(ctx context.Context, name string) ([]string, error) {
	products, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	sizes := make([]string, 0)
	for _, p := range products {
		if !domain.SameName(p.Name, name) {
			continue
		}
		size := domain.NormalizeSize(p.Size)
		if _, ok := seen[size]; ok {
			continue
		}
		seen[size] = struct{}{}
		sizes = append(sizes, size)
	}
	sort.SliceStable(sizes, func(i, j int) bool {
		a, aErr := strconv.ParseFloat(sizes[i], 64)
		b, bErr := strconv.ParseFloat(sizes[j], 64)
		switch {
		case aErr == nil && bErr == nil:
			return a < b
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		}
		return sizes[i] < sizes[j]
	})
	return sizes, nil
}

// GenerateProductID returns the next free product id without reserving it.
func (r *InventoryRepository) GenerateProductID(ctx context.Context) (string, error) {
	snap, err := r.table.Read(ctx)
	if err != nil {
		return "", err
	}
	return nextSequentialID(productIDPrefix, takenIDs(snap, "product_id")), nil
}
