package excel

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"shopledger/internal/domain"
)

const (
	SheetInventory = "Inventory"
	SheetInvoices  = "Invoices"
	SheetExpenses  = "Expenses"
)

var (
	inventoryHeader = []any{"Product ID", "Name", "Description", "Size", "Price", "Buying Price", "Stock", "Added Date", "Sold Quantity"}
	invoiceHeader   = []any{"Invoice Number", "Date", "Customer", "Phone", "Address", "Items", "Subtotal", "Discount", "Delivery", "Grand Total", "Payment Method", "Transaction ID", "Status", "Original Invoice"}
	expenseHeader   = []any{"Expense ID", "Date", "Category", "Amount", "Description", "Related Product", "Allocated"}
)

// WriteWorkbook writes an .xlsx export with one sheet per ledger.
func WriteWorkbook(w io.Writer, products []domain.Product, invoices []domain.Invoice, expenses []domain.Expense) error {
	file := excelize.NewFile()
	defer file.Close()

	bold, err := file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := file.SetSheetName("Sheet1", SheetInventory); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetInvoices, SheetExpenses} {
		if _, err := file.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	inventoryRows := make([][]any, 0, len(products))
	for _, p := range products {
		inventoryRows = append(inventoryRows, []any{
			p.ID, p.Name, p.Description, p.Size, p.Price, p.BuyingPrice, p.Stock, p.AddedDate, p.SoldQuantity,
		})
	}
	invoiceRows := make([][]any, 0, len(invoices))
	for _, inv := range invoices {
		invoiceRows = append(invoiceRows, []any{
			inv.Number, inv.Date, inv.CustomerName, inv.CustomerPhone, inv.CustomerAddress,
			describeItems(inv.Items), inv.Subtotal, inv.Discount, inv.Delivery, inv.GrandTotal,
			inv.PaymentMethod, inv.TransactionID, inv.Status, inv.OriginalInvoiceNo,
		})
	}
	expenseRows := make([][]any, 0, len(expenses))
	for _, e := range expenses {
		expenseRows = append(expenseRows, []any{
			e.ID, e.Date, e.Category, e.Amount, e.Description, e.RelatedProduct, e.Allocated,
		})
	}

	sheets := []struct {
		name   string
		header []any
		rows   [][]any
	}{
		{SheetInventory, inventoryHeader, inventoryRows},
		{SheetInvoices, invoiceHeader, invoiceRows},
		{SheetExpenses, expenseHeader, expenseRows},
	}
	for _, sheet := range sheets {
		if err := writeSheet(file, sheet.name, sheet.header, sheet.rows, bold); err != nil {
			return err
		}
	}

	if _, err := file.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSheet(file *excelize.File, name string, header []any, rows [][]any, headerStyle int) error {
	if err := file.SetSheetRow(name, "A1", &header); err != nil {
		return fmt.Errorf("write %s header: %w", name, err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := file.SetCellStyle(name, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style %s header: %w", name, err)
	}
	for idx, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, idx+2)
		if err != nil {
			return err
		}
		if err := file.SetSheetRow(name, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", name, idx+2, err)
		}
	}
	return nil
}

func describeItems(items []domain.LineItem) string {
	out := ""
	for idx, item := range items {
		if idx > 0 {
			out += "; "
		}
		out += fmt.Sprintf("%s (%s) x%d @ %g", item.Name, item.Size, item.Qty, item.Price)
	}
	return out
}
