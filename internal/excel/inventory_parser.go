package excel

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"shopledger/internal/domain"
)

const defaultImportSize = "One Size"

var headerAliases = map[string]string{
	"product id":    "product_id",
	"sku":           "product_id",
	"name":          "name",
	"product":       "name",
	"product name":  "name",
	"item":          "name",
	"description":   "description",
	"details":       "description",
	"size":          "size",
	"price":         "price",
	"sell price":    "price",
	"selling price": "price",
	"sales price":   "price",
	"buying price":  "buying_price",
	"buy price":     "buying_price",
	"cost":          "buying_price",
	"cost price":    "buying_price",
	"stock":         "stock",
	"qty":           "stock",
	"quantity":      "stock",
	"added date":    "added_date",
}

// ParseInventoryRows reads products from a .csv or .xlsx file. The header
// must name the product, its price and its stock; size defaults to
// "One Size" and buying price to zero.
func ParseInventoryRows(fileName string, reader io.Reader) ([]domain.Product, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("input file is empty")
	}

	var rows [][]string
	switch ext := strings.ToLower(strings.TrimSpace(filepath.Ext(fileName))); ext {
	case ".csv":
		rows, err = parseCSVRows(data)
	case ".xlsx", ".xlsm":
		rows, err = parseExcelRows(data)
	default:
		rows, err = parseExcelRows(data)
		if err != nil {
			rows, err = parseCSVRows(data)
		}
	}
	if err != nil {
		return nil, err
	}
	return parseInventoryTable(rows)
}

func parseInventoryTable(rows [][]string) ([]domain.Product, error) {
	colMap := mapColumns(rows[0])
	for _, required := range []string{"name", "price", "stock"} {
		if _, ok := colMap[required]; !ok {
			return nil, fmt.Errorf("missing required column: %s", required)
		}
	}

	result := make([]domain.Product, 0, len(rows)-1)
	for index := 1; index < len(rows); index++ {
		cells := rows[index]
		name := strings.TrimSpace(readCell(cells, colMap["name"]))
		if name == "" {
			continue
		}

		price, err := parseFloat(readCell(cells, colMap["price"]))
		if err != nil {
			return nil, fmt.Errorf("row %d invalid price: %w", index+1, err)
		}
		stock, err := parseInt(readCell(cells, colMap["stock"]))
		if err != nil {
			return nil, fmt.Errorf("row %d invalid stock: %w", index+1, err)
		}

		buyingPrice := 0.0
		if raw := strings.TrimSpace(readOptionalCell(cells, colMap, "buying_price")); raw != "" {
			buyingPrice, err = parseFloat(raw)
			if err != nil {
				return nil, fmt.Errorf("row %d invalid buying_price: %w", index+1, err)
			}
		}

		size := domain.NormalizeSize(readOptionalCell(cells, colMap, "size"))
		if size == "" {
			size = defaultImportSize
		}

		result = append(result, domain.Product{
			ID:          strings.TrimSpace(readOptionalCell(cells, colMap, "product_id")),
			Name:        name,
			Description: strings.TrimSpace(readOptionalCell(cells, colMap, "description")),
			Size:        size,
			Price:       price,
			BuyingPrice: buyingPrice,
			Stock:       stock,
			AddedDate:   strings.TrimSpace(readOptionalCell(cells, colMap, "added_date")),
		})
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("file has no valid data rows")
	}
	return result, nil
}

func mapColumns(header []string) map[string]int {
	mapped := make(map[string]int)
	for idx, col := range header {
		normalized := normalizeHeader(col)
		if normalized == "" {
			continue
		}
		canonical, ok := headerAliases[normalized]
		if !ok {
			continue
		}
		if _, exists := mapped[canonical]; !exists {
			mapped[canonical] = idx
		}
	}
	return mapped
}

func readOptionalCell(cells []string, colMap map[string]int, key string) string {
	idx, ok := colMap[key]
	if !ok {
		return ""
	}
	return readCell(cells, idx)
}
