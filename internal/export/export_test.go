package export

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/ntptech/invoice-collector/internal/models"
)

func sampleInvoices() []*models.InvoiceRecord {
	return []*models.InvoiceRecord{
		{
			Source: models.SourceGrab, InvoiceNumber: "G1", InvoiceDate: "2026-03-01",
			SellerName: "Grab Vietnam", AmountUntaxed: 90000, AmountTax: 9000, AmountTotal: 99000,
			PDFStatus: models.AttachmentDownloaded, XMLStatus: models.AttachmentNoLink,
		},
		{
			Source: models.SourceTracuu, InvoiceNumber: "T1", InvoiceDate: "2026-03-02",
			SellerName:  "Công ty TNHH Thương mại và Dịch vụ Xuất nhập khẩu Miền Nam",
			AmountTotal: 50000, InvoiceCode: "LOOKUP1",
			PDFStatus: models.AttachmentError, XMLStatus: models.AttachmentDownloaded,
		},
	}
}

func TestExcelReport(t *testing.T) {
	data, err := ExcelReport(sampleInvoices())
	if err != nil {
		t.Fatalf("ExcelReport: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("workbook does not open: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(invoiceSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(rows))
	}
	if rows[0][1] != "Invoice Number" {
		t.Errorf("header row = %v", rows[0])
	}
	if rows[1][1] != "G1" || rows[2][1] != "T1" {
		t.Errorf("invoice rows = %v, %v", rows[1], rows[2])
	}

	sum, err := f.GetRows("Summary")
	if err != nil {
		t.Fatalf("summary sheet missing: %v", err)
	}
	// Header + three portals + grand total
	if len(sum) != 5 {
		t.Fatalf("summary rows = %d", len(sum))
	}
	if sum[4][0] != "all" || sum[4][1] != "2" {
		t.Errorf("grand total row = %v", sum[4])
	}
}

func TestExcelReportEmpty(t *testing.T) {
	data, err := ExcelReport(nil)
	if err != nil {
		t.Fatalf("ExcelReport(nil): %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("empty workbook does not open: %v", err)
	}
	defer f.Close()
}

func TestPDFReport(t *testing.T) {
	data, err := PDFReport(sampleInvoices())
	if err != nil {
		t.Fatalf("PDFReport: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Errorf("output is not a PDF: %q", data[:8])
	}
}

func TestLookupURLPerSource(t *testing.T) {
	for src, want := range map[models.Source]string{
		models.SourceGrab:    "invoice.grab.com",
		models.SourceTracuu:  "tracuuhoadon.vn",
		models.SourceShinhan: "einvoice.shinhan.com.vn",
	} {
		url := lookupURL(&models.InvoiceRecord{Source: src, InvoiceCode: "X"})
		if !bytes.Contains([]byte(url), []byte(want)) {
			t.Errorf("lookupURL(%s) = %q", src, url)
		}
	}
}

func TestTruncateMultibyte(t *testing.T) {
	long := "Công ty TNHH Thương mại và Dịch vụ Xuất nhập khẩu"
	got := truncate(long, 10)
	if len([]rune(got)) > 12 {
		t.Errorf("truncate too long: %q", got)
	}
	if truncate("short", 10) != "short" {
		t.Error("short strings must pass through")
	}
}
