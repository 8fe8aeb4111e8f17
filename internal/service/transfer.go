package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"shopledger/internal/excel"
)

type ImportResult struct {
	Rows       int      `json:"rows"`
	ProductIDs []string `json:"product_ids"`
}

// ImportInventory upserts every product row of a .csv or .xlsx file. Rows
// are matched to existing products the same way as a manual save, so an
// import never duplicates a product and never rewrites untouched rows.
func (s *Service) ImportInventory(ctx context.Context, fileName string, reader io.Reader) (ImportResult, error) {
	products, err := excel.ParseInventoryRows(fileName, reader)
	if err != nil {
		return ImportResult{}, fmt.Errorf("parse %s: %w", filepath.Base(fileName), err)
	}

	result := ImportResult{ProductIDs: make([]string, 0, len(products))}
	for idx, p := range products {
		id, err := s.repo.Inventory.Upsert(ctx, p)
		if err != nil {
			return result, fmt.Errorf("row %d (%s): %w", idx+2, p.Name, err)
		}
		result.Rows++
		result.ProductIDs = append(result.ProductIDs, id)
	}
	s.log.Infow("inventory imported", "file", filepath.Base(fileName), "rows", result.Rows)
	return result, nil
}

// ExportWorkbook writes all three ledgers to w as one workbook.
func (s *Service) ExportWorkbook(ctx context.Context, w io.Writer) error {
	products, err := s.repo.Inventory.List(ctx)
	if err != nil {
		return err
	}
	invoices, err := s.repo.Invoices.List(ctx)
	if err != nil {
		return err
	}
	expenses, err := s.repo.Expenses.List(ctx)
	if err != nil {
		return err
	}
	return excel.WriteWorkbook(w, products, invoices, expenses)
}

// ExportWorkbookFile writes the workbook into the configured output folder,
// or dir when no folder is set, and returns its path. With neither it falls
// back to an exports folder inside the data directory.
func (s *Service) ExportWorkbookFile(ctx context.Context, dir string) (string, error) {
	if folder := s.settings.OutputFolder(); folder != "" {
		dir = folder
	}
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(s.repo.DataDir(), "exports")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export folder: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("shopledger_export_%s.xlsx", s.repo.Today().Format("2006-01-02")))
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	if err := s.ExportWorkbook(ctx, file); err != nil {
		file.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close export file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("move export file: %w", err)
	}
	return path, nil
}
