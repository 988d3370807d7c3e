package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/ntptech/invoice-collector/internal/models"
)

const invoiceSheet = "Invoices"

var excelHeaders = []string{
	"Source", "Invoice Number", "Symbol", "Date",
	"Seller", "Seller Tax Code", "Untaxed", "Tax", "Total",
	"PDF", "XML",
}

// ExcelReport renders the invoice set as an XLSX workbook: one row per
// invoice plus a summary sheet with per-portal totals.
func ExcelReport(invoices []*models.InvoiceRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", invoiceSheet); err != nil {
		return nil, fmt.Errorf("naming invoice sheet: %w", err)
	}

	for i, h := range excelHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(invoiceSheet, cell, h)
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	endCell, _ := excelize.CoordinatesToCellName(len(excelHeaders), 1)
	f.SetCellStyle(invoiceSheet, "A1", endCell, headerStyle)

	errStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "9A0511"},
	})

	for i, inv := range invoices {
		row := i + 2
		values := []interface{}{
			string(inv.Source), inv.InvoiceNumber, inv.InvoiceSymbol, inv.InvoiceDate,
			inv.SellerName, inv.SellerTaxCode,
			inv.AmountUntaxed, inv.AmountTax, inv.AmountTotal,
			string(inv.PDFStatus), string(inv.XMLStatus),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(invoiceSheet, cell, v)
		}

		if inv.PDFStatus == models.AttachmentError {
			f.SetCellStyle(invoiceSheet, fmt.Sprintf("J%d", row), fmt.Sprintf("J%d", row), errStyle)
		}
		if inv.XMLStatus == models.AttachmentError {
			f.SetCellStyle(invoiceSheet, fmt.Sprintf("K%d", row), fmt.Sprintf("K%d", row), errStyle)
		}
	}

	if err := writeSummarySheet(f, invoices); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("writing workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSummarySheet(f *excelize.File, invoices []*models.InvoiceRecord) error {
	const sheet = "Summary"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("creating summary sheet: %w", err)
	}

	counts := make(map[models.Source]int)
	totals := make(map[models.Source]float64)
	for _, inv := range invoices {
		counts[inv.Source]++
		totals[inv.Source] += inv.AmountTotal
	}

	for i, h := range []string{"Source", "Invoices", "Total Amount"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}
	row := 2
	for _, src := range models.AllSources {
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), string(src))
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), counts[src])
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), totals[src])
		row++
	}
	f.SetCellValue(sheet, fmt.Sprintf("A%d", row), "all")
	f.SetCellValue(sheet, fmt.Sprintf("B%d", row), len(invoices))
	var grand float64
	for _, t := range totals {
		grand += t
	}
	f.SetCellValue(sheet, fmt.Sprintf("C%d", row), grand)
	return nil
}
