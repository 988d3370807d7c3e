package scrape

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ntptech/invoice-collector/internal/models"
)

// LinkRef is an anchor-like element found in a row. Href may be empty or a
// javascript: stub; the row index is what lets the capture engine re-locate
// the trigger later.
type LinkRef struct {
	Text string
	Href string
}

// CellTexts extracts the trimmed text of each td in a row
func CellTexts(row *goquery.Selection) []string {
	cells := row.Find("td")
	out := make([]string, 0, cells.Length())
	cells.Each(func(_ int, c *goquery.Selection) {
		out = append(out, strings.TrimSpace(c.Text()))
	})
	return out
}

// RowLinks collects anchor-like elements from a row: real anchors plus
// button elements, since SPA portals trigger downloads from buttons with no
// href at all.
func RowLinks(row *goquery.Selection) []LinkRef {
	var links []LinkRef
	row.Find("a, button").Each(func(_ int, el *goquery.Selection) {
		href, _ := el.Attr("href")
		title, _ := el.Attr("title")
		text := strings.TrimSpace(el.Text())
		if text == "" {
			text = strings.TrimSpace(title)
		}
		links = append(links, LinkRef{Text: text, Href: href})
	})
	return links
}

// ParseRow converts one table row into a normalized invoice record.
// Returns nil for rows with no determinable invoice number: those are
// header, subtotal or decoration rows, not failures.
func ParseRow(row *goquery.Selection, cm ColumnMap, rowIndex int, src models.Source) *models.InvoiceRecord {
	cells := CellTexts(row)
	if len(cells) == 0 {
		return nil
	}

	number := cellAt(cells, cm.Col(FieldInvoiceNumber))
	if strings.ContainsAny(number, " \t:") {
		// Label text bled into the number column (subtotal rows, colspan
		// rows); only a clean id token inside it counts.
		number = FindInvoiceNumberToken([]string{number})
	}
	if number == "" {
		number = FindInvoiceNumberToken(cells)
	}
	if number == "" {
		return nil
	}

	rec := &models.InvoiceRecord{
		Source:        src,
		InvoiceNumber: number,
		InvoiceCode:   cellAt(cells, cm.Col(FieldInvoiceCode)),
		InvoiceSymbol: cellAt(cells, cm.Col(FieldInvoiceSymbol)),
		InvoiceDate:   NormalizeDate(cellAt(cells, cm.Col(FieldInvoiceDate))),
		SellerTaxCode: cellAt(cells, cm.Col(FieldSellerTaxCode)),
		SellerName:    cellAt(cells, cm.Col(FieldSellerName)),
		AmountUntaxed: ParseAmount(cellAt(cells, cm.Col(FieldAmountUntaxed))),
		AmountTax:     ParseAmount(cellAt(cells, cm.Col(FieldAmountTax))),
		AmountTotal:   ParseAmount(cellAt(cells, cm.Col(FieldAmountTotal))),
		RowIndex:      rowIndex,
		PDFStatus:     models.AttachmentNoLink,
		XMLStatus:     models.AttachmentNoLink,
	}
	rec.EnsureTotal()

	if id, ok := row.Attr("data-id"); ok {
		rec.ExternalID = id
	}

	for _, link := range RowLinks(row) {
		text := strings.ToLower(link.Text)
		href := strings.ToLower(link.Href)
		switch {
		case strings.Contains(text, "xml") || strings.Contains(href, "xml"):
			rec.HasXMLLink = true
			rec.XMLStatus = models.AttachmentPending
			if isFetchableURL(link.Href) {
				rec.XMLItemURL = link.Href
			}
		case strings.Contains(text, "pdf") || strings.Contains(href, "pdf") ||
			strings.Contains(href, "download") || strings.Contains(text, "tải"):
			rec.HasPDFLink = true
			rec.PDFStatus = models.AttachmentPending
			if isFetchableURL(link.Href) {
				rec.PDFURL = link.Href
			}
		}
	}

	return rec
}

func cellAt(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}

// isFetchableURL filters out javascript: stubs, fragments and blob handles;
// only plain http(s) URLs can be fetched directly.
func isFetchableURL(href string) bool {
	href = strings.TrimSpace(strings.ToLower(href))
	return strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") ||
		(strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "//"))
}
