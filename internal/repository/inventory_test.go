package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopledger/internal/domain"
)

func airMax(stock int) domain.Product {
	return domain.Product{Name: "Air Max", Size: "42", Price: 5000, BuyingPrice: 3000, Stock: stock}
}

func TestAirMaxStockScenario(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()
	inv := repo.Inventory

	id, err := inv.Upsert(ctx, airMax(10))
	require.NoError(t, err)
	assert.Equal(t, "SC-SKU-00001", id)

	ok, stock, err := inv.CheckAvailability(ctx, "Air Max", "42", 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10, stock)

	stock, err = inv.ReduceStock(ctx, "Air Max", "42", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, stock)

	ok, stock, err = inv.CheckAvailability(ctx, "Air Max", "42", 10)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 5, stock)

	p, err := inv.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, p.SoldQuantity)
}

func TestCheckAvailabilityMissingProduct(t *testing.T) {
	repo, _ := openTestRepo(t)

	ok, stock, err := repo.Inventory.CheckAvailability(context.Background(), "Ghost", "40", 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, stock)
}

func TestSizeMatchingIsNumericAndCaseInsensitive(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()

	_, err := repo.Inventory.Upsert(ctx, domain.Product{Name: "Air Max", Size: "42.0", Price: 1, Stock: 3})
	require.NoError(t, err)
	_, err = repo.Inventory.Upsert(ctx, domain.Product{Name: "Tee", Size: "xl", Price: 1, Stock: 3})
	require.NoError(t, err)

	p, err := repo.Inventory.GetByNameSize(ctx, " Air Max ", "42")
	require.NoError(t, err)
	assert.Equal(t, "42", p.Size)

	_, err = repo.Inventory.GetByNameSize(ctx, "Tee", "XL")
	require.NoError(t, err)

	_, err = repo.Inventory.GetByNameSize(ctx, "air max", "42")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStockNeverGoesNegative(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()
	_, err := repo.Inventory.Upsert(ctx, airMax(3))
	require.NoError(t, err)

	for _, qty := range []int{2, 5, 1} {
		stock, err := repo.Inventory.ReduceStock(ctx, "Air Max", "42", qty)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, stock, 0)
	}
	p, err := repo.Inventory.GetByNameSize(ctx, "Air Max", "42")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stock)
	assert.Equal(t, 8, p.SoldQuantity)
}

func TestReduceStockMissingProduct(t *testing.T) {
	repo, _ := openTestRepo(t)

	_, err := repo.Inventory.ReduceStock(context.Background(), "Ghost", "40", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRestoreStockFloorsSoldQuantity(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()
	_, err := repo.Inventory.Upsert(ctx, airMax(5))
	require.NoError(t, err)
	_, err = repo.Inventory.ReduceStock(ctx, "Air Max", "42", 2)
	require.NoError(t, err)

	stock, err := repo.Inventory.RestoreStock(ctx, "Air Max", "42", 4)
	require.NoError(t, err)
	assert.Equal(t, 7, stock)

	p, err := repo.Inventory.GetByNameSize(ctx, "Air Max", "42")
	require.NoError(t, err)
	assert.Equal(t, 0, p.SoldQuantity)
}

func TestUpsertIsIdempotent(t *testing.T) {
	repo, dir := openTestRepo(t)
	ctx := context.Background()
	product := airMax(10)
	product.Description = "Running shoe"

	first, err := repo.Inventory.Upsert(ctx, product)
	require.NoError(t, err)
	before := readCSV(t, filepath.Join(dir, InventoryFile))

	second, err := repo.Inventory.Upsert(ctx, product)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, before, readCSV(t, filepath.Join(dir, InventoryFile)))

	products, err := repo.Inventory.List(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 1)
}

func TestUpsertKeepsProductIDAndSalesHistory(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()

	id, err := repo.Inventory.Upsert(ctx, airMax(10))
	require.NoError(t, err)
	_, err = repo.Inventory.ReduceStock(ctx, "Air Max", "42", 4)
	require.NoError(t, err)

	again, err := repo.Inventory.Upsert(ctx, domain.Product{Name: "Air Max", Size: "42", Price: 5500, BuyingPrice: 3100, Stock: 20})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	p, err := repo.Inventory.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 20, p.Stock)
	assert.Equal(t, 5500.0, p.Price)
	assert.Equal(t, 4, p.SoldQuantity)
	assert.Equal(t, "2025-03-14", p.AddedDate)
}

func TestUpsertByProductID(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()
	id, err := repo.Inventory.Upsert(ctx, airMax(10))
	require.NoError(t, err)

	got, err := repo.Inventory.Upsert(ctx, domain.Product{ID: id, Name: "Air Max", Size: "42", Price: 4800, Stock: 1})
	require.NoError(t, err)
	assert.Equal(t, id, got)

	products, err := repo.Inventory.List(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, 4800.0, products[0].Price)

	_, err = repo.Inventory.Upsert(ctx, domain.Product{ID: id, Name: "Jordan", Size: "42", Price: 1, Stock: 1})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = repo.Inventory.Upsert(ctx, domain.Product{ID: id, Name: "Air Max", Size: "43", Price: 1, Stock: 1})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = repo.Inventory.Upsert(ctx, domain.Product{ID: id, Name: "Air Max", Size: "42.0", Price: 4800, Stock: 1})
	require.NoError(t, err)

	products, err = repo.Inventory.List(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Air Max", products[0].Name)
	assert.Equal(t, 1, products[0].Stock)
}

func TestUpsertValidation(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()

	cases := []domain.Product{
		{Name: " ", Size: "42"},
		{Name: "Air Max", Size: "42", Stock: -1},
		{Name: "Air Max", Size: "42", Price: -5},
		{Name: "Air Max", Size: "42", BuyingPrice: -5},
	}
	for _, p := range cases {
		_, err := repo.Inventory.Upsert(ctx, p)
		assert.ErrorIs(t, err, ErrValidation)
	}
}

func TestConcurrentUpsertsGetDistinctIDs(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := repo.Inventory.Upsert(ctx, domain.Product{Name: "Sock", Size: string(rune('A' + i)), Price: 100, Stock: 1})
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], id)
		seen[id] = true
	}
	products, err := repo.Inventory.List(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 8)
}

func TestUpdateAndDelete(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()
	id, err := repo.Inventory.Upsert(ctx, airMax(10))
	require.NoError(t, err)
	_, err = repo.Inventory.Upsert(ctx, domain.Product{Name: "Air Max", Size: "43", Price: 5000, Stock: 1})
	require.NoError(t, err)

	price := 5200.0
	updated, err := repo.Inventory.UpdateByID(ctx, id, domain.ProductPatch{Price: &price})
	require.NoError(t, err)
	assert.Equal(t, 5200.0, updated.Price)
	assert.Equal(t, id, updated.ID)

	size := "43"
	_, err = repo.Inventory.UpdateByID(ctx, id, domain.ProductPatch{Size: &size})
	assert.ErrorIs(t, err, ErrValidation)

	stock := 2
	_, err = repo.Inventory.UpdateByNameSize(ctx, "Air Max", "43", domain.ProductPatch{Stock: &stock})
	require.NoError(t, err)

	_, err = repo.Inventory.UpdateByID(ctx, "SC-SKU-09999", domain.ProductPatch{Price: &price})
	assert.ErrorIs(t, err, ErrNotFound)

	removed, err := repo.Inventory.DeleteByNameSize(ctx, "Air Max", "43")
	require.NoError(t, err)
	assert.Equal(t, 2, removed.Stock)

	removed, err = repo.Inventory.DeleteByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Air Max", removed.Name)

	_, err = repo.Inventory.DeleteByID(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLowStockAndAging(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()
	for _, p := range []domain.Product{
		{Name: "Old", Size: "40", Price: 1, Stock: 4, AddedDate: "2025-01-01"},
		{Name: "Old Empty", Size: "40", Price: 1, Stock: 0, AddedDate: "2025-01-01"},
		{Name: "Fresh", Size: "40", Price: 1, Stock: 9, AddedDate: "2025-03-10"},
		{Name: "Undated", Size: "40", Price: 1, Stock: 9, AddedDate: "someday"},
	} {
		_, err := repo.Inventory.Upsert(ctx, p)
		require.NoError(t, err)
	}

	low, err := repo.Inventory.LowStock(ctx, 5)
	require.NoError(t, err)
	require.Len(t, low, 2)
	assert.Equal(t, "Old", low[0].Name)
	assert.Equal(t, "Old Empty", low[1].Name)

	aging, err := repo.Inventory.Aging(ctx, 30)
	require.NoError(t, err)
	require.Len(t, aging, 1)
	assert.Equal(t, "Old", aging[0].Name)
	assert.Equal(t, 72, aging[0].DaysInStock)
}

func TestProfitBySKU(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()
	_, err := repo.Inventory.Upsert(ctx, airMax(10))
	require.NoError(t, err)
	_, err = repo.Inventory.Upsert(ctx, domain.Product{Name: "Freebie", Size: "0", Stock: 1})
	require.NoError(t, err)
	_, err = repo.Inventory.ReduceStock(ctx, "Air Max", "42", 3)
	require.NoError(t, err)

	profits, err := repo.Inventory.ProfitBySKU(ctx)
	require.NoError(t, err)
	require.Len(t, profits, 2)
	assert.Equal(t, 2000.0, profits[0].UnitProfit)
	assert.Equal(t, 6000.0, profits[0].TotalProfit)
	assert.Equal(t, 40.0, profits[0].MarginPct)
	assert.Equal(t, 0.0, profits[1].MarginPct)

	top, err := repo.Inventory.TopProfitable(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "Air Max", top[0].Name)
}

func TestSummaryNamesAndSizes(t *testing.T) {
	repo, _ := openTestRepo(t)
	ctx := context.Background()
	for _, p := range []domain.Product{
		{Name: "Air Max", Size: "42", Price: 5000, BuyingPrice: 3000, Stock: 10},
		{Name: "Air Max", Size: "9", Price: 5000, BuyingPrice: 3000, Stock: 2},
		{Name: "Air Max", Size: "One Size", Price: 100, Stock: 1},
		{Name: "Jordan", Size: "41", Price: 7000, BuyingPrice: 5000, Stock: 1},
	} {
		_, err := repo.Inventory.Upsert(ctx, p)
		require.NoError(t, err)
	}

	summary, err := repo.Inventory.Summary(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.InventorySummary{
		TotalItems:      4,
		TotalStock:      14,
		InventoryValue:  67100,
		InventoryCost:   41000,
		PotentialProfit: 26100,
		LowStockCount:   3,
	}, summary)

	names, err := repo.Inventory.ProductNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Air Max", "Jordan"}, names)

	sizes, err := repo.Inventory.SizesFor(ctx, "Air Max")
	require.NoError(t, err)
	assert.Equal(t, []string{"9", "42", "One Size"}, sizes)

	next, err := repo.Inventory.GenerateProductID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SC-SKU-00005", next)
}

func TestNonNumericLegacyCellsReadAsZero(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, filepath.Join(dir, InventoryFile),
		"product_id,name,description,size,price,buying_price,stock,added_date,sold_quantity\nSC-SKU-00001,Air Max,,42,n/a,,ten,2025-01-01,\n")

	repo, err := Open(context.Background(), testOptions(dir))
	require.NoError(t, err)
	p, err := repo.Inventory.GetByID(context.Background(), "SC-SKU-00001")
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.Price)
	assert.Equal(t, 0, p.Stock)
	assert.Equal(t, 0, p.SoldQuantity)
}
