package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"

	"github.com/ntptech/invoice-collector/internal/models"
)

// PDFReport renders a printable summary of the invoice set. Records that
// carry a lookup code get a QR with the portal's lookup URL, so a paper
// copy still leads back to the official record.
func PDFReport(invoices []*models.InvoiceRecord) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, "E-Invoice Collection Report", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(0, 6, fmt.Sprintf("%d invoices", len(invoices)), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	// Column layout in mm on a 180mm printable width
	widths := []float64{22, 30, 22, 50, 28, 28}
	headers := []string{"Source", "Number", "Date", "Seller", "Total", "Lookup"}

	pdf.SetFont("Arial", "B", 8)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for idx, inv := range invoices {
		pdf.CellFormat(widths[0], 12, string(inv.Source), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 12, inv.InvoiceNumber, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[2], 12, inv.InvoiceDate, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[3], 12, truncate(inv.SellerName, 34), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[4], 12, fmt.Sprintf("%.0f", inv.AmountTotal), "1", 0, "R", false, 0, "")

		x, y := pdf.GetXY()
		pdf.CellFormat(widths[5], 12, "", "1", 0, "L", false, 0, "")
		if inv.InvoiceCode != "" {
			if err := embedLookupQR(pdf, inv, idx, x, y); err != nil {
				return nil, err
			}
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("rendering report: %w", err)
	}
	return buf.Bytes(), nil
}

// lookupURL builds the public verification address for a record
func lookupURL(inv *models.InvoiceRecord) string {
	switch inv.Source {
	case models.SourceTracuu:
		return fmt.Sprintf("https://tracuuhoadon.vn/tra-cuu?code=%s", inv.InvoiceCode)
	case models.SourceShinhan:
		return fmt.Sprintf("https://einvoice.shinhan.com.vn/lookup?code=%s", inv.InvoiceCode)
	default:
		return fmt.Sprintf("https://invoice.grab.com/lookup?code=%s", inv.InvoiceCode)
	}
}

func embedLookupQR(pdf *gofpdf.Fpdf, inv *models.InvoiceRecord, idx int, x, y float64) error {
	qrPng, err := qrcode.Encode(lookupURL(inv), qrcode.Low, 128)
	if err != nil {
		return fmt.Errorf("encoding lookup QR for %s: %w", inv.InvoiceNumber, err)
	}

	imgName := fmt.Sprintf("qr_%d", idx)
	opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: true}
	pdf.RegisterImageOptionsReader(imgName, opts, bytes.NewReader(qrPng))
	pdf.ImageOptions(imgName, x+1, y+1, 10, 10, false, opts, 0, "")
	return nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "..."
}
