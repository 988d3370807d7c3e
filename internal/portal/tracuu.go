package portal

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ntptech/invoice-collector/internal/capture"
	"github.com/ntptech/invoice-collector/internal/models"
	"github.com/ntptech/invoice-collector/internal/scrape"
)

// TracuuAdapter scrapes the tracuuhoadon lookup portal. The listing table
// is server-rendered HTML but omits seller fields, so each record gets a
// best-effort detail-page lookup after the primary scrape.
type TracuuAdapter struct {
	fetchDays  int
	classifier ColumnClassifier
}

// NewTracuuAdapter creates the Tracuu portal adapter
func NewTracuuAdapter(fetchDays int, classifier ColumnClassifier) *TracuuAdapter {
	if fetchDays <= 0 {
		fetchDays = 30
	}
	return &TracuuAdapter{fetchDays: fetchDays, classifier: classifier}
}

func (a *TracuuAdapter) Source() models.Source { return models.SourceTracuu }
func (a *TracuuAdapter) Name() string          { return "Tra cứu hóa đơn" }

func (a *TracuuAdapter) URLPatterns() []string {
	return []string{"tracuuhoadon", "tracuu.hoadon"}
}

func (a *TracuuAdapter) IsLoggedIn(ctx context.Context, page Page) bool {
	url, err := page.CurrentURL(ctx)
	if err != nil {
		return false
	}
	if strings.Contains(url, "/login") || strings.Contains(url, "dang-nhap") {
		return false
	}
	return hasAnyElement(ctx, page,
		"a[href*='dang-xuat']",
		"a[href*='logout']",
		".account-info")
}

// NewEngine attaches a network sniffer: Tracuu streams attachments through
// XHR endpoints the page resolves per invoice, so responses are observed
// in flight rather than intercepted at the Blob layer.
func (a *TracuuAdapter) NewEngine(page Page) *capture.Engine {
	eng := capture.NewEngine(page, nil)
	return eng.WithInterceptor(capture.NewNetworkSniffer(page, eng.Cache()))
}

func (a *TracuuAdapter) ScrapeInvoices(ctx context.Context, page Page) ([]*models.InvoiceRecord, error) {
	records, err := scrapeInvoiceTable(ctx, page, models.SourceTracuu, a.classifier)
	if err != nil {
		return nil, err
	}

	// Detail enrichment is best-effort and must never drop a record
	for _, rec := range records {
		if rec.SellerName != "" && rec.SellerTaxCode != "" {
			continue
		}
		if err := a.FetchDetail(ctx, page, rec); err != nil {
			log.Printf("⚠️ [TRACUU] detail lookup for %s failed: %v", rec.InvoiceNumber, err)
		}
	}
	return records, nil
}

// detailLabels maps record fields to the labels the detail page prints
// next to each value. Keys are diacritics-stripped lowercase.
var detailLabels = map[string][]string{
	"seller_name":     {"ten nguoi ban", "don vi ban hang", "ten don vi", "seller name"},
	"seller_tax_code": {"ma so thue nguoi ban", "mst nguoi ban", "ma so thue", "tax code"},
	"invoice_code":    {"ma tra cuu", "ma nhan hoa don", "lookup code"},
	"invoice_symbol":  {"ky hieu", "serial"},
}

// FetchDetail loads the invoice's detail page and fills missing seller
// fields by label proximity: the value is the first non-empty text in the
// label element's following siblings, or its parent row's last cell.
func (a *TracuuAdapter) FetchDetail(ctx context.Context, page Page, rec *models.InvoiceRecord) error {
	url := a.detailURL(rec)
	if url == "" {
		return fmt.Errorf("no detail reference for invoice %s", rec.InvoiceNumber)
	}

	html, err := page.FetchText(ctx, url)
	if err != nil {
		return fmt.Errorf("fetching detail page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parsing detail page: %w", err)
	}

	if rec.SellerName == "" {
		rec.SellerName = findLabeledValue(doc, detailLabels["seller_name"])
	}
	if rec.SellerTaxCode == "" {
		rec.SellerTaxCode = findLabeledValue(doc, detailLabels["seller_tax_code"])
	}
	if rec.InvoiceCode == "" {
		rec.InvoiceCode = findLabeledValue(doc, detailLabels["invoice_code"])
	}
	if rec.InvoiceSymbol == "" {
		rec.InvoiceSymbol = findLabeledValue(doc, detailLabels["invoice_symbol"])
	}
	return nil
}

// detailURL resolves the detail page address for a record. The listing
// links rows either by explicit href or by a data-id the portal's viewer
// route accepts.
func (a *TracuuAdapter) detailURL(rec *models.InvoiceRecord) string {
	if rec.PDFURL != "" && strings.Contains(rec.PDFURL, "/chi-tiet") {
		return rec.PDFURL
	}
	if rec.ExternalID != "" {
		return "/tra-cuu/chi-tiet/" + rec.ExternalID
	}
	return ""
}

// findLabeledValue scans the document for an element whose own text equals
// one of the labels, then walks outward for the paired value.
func findLabeledValue(doc *goquery.Document, labels []string) string {
	var value string
	doc.Find("td, th, label, span, div, dt").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		own := scrape.NormalizeHeader(ownText(sel))
		matched := false
		for _, l := range labels {
			if own == l || strings.HasPrefix(own, l+":") || strings.HasPrefix(own, l+" :") {
				matched = true
				break
			}
		}
		if !matched {
			return true
		}

		// Value in a following sibling (td/dd/span layouts)
		sel.NextAll().EachWithBreak(func(_ int, sib *goquery.Selection) bool {
			if t := strings.TrimSpace(sib.Text()); t != "" {
				value = t
				return false
			}
			return true
		})
		if value == "" {
			// Label-colon-value inside one cell
			full := strings.TrimSpace(sel.Text())
			if i := strings.Index(full, ":"); i >= 0 && i < len(full)-1 {
				value = strings.TrimSpace(full[i+1:])
			}
		}
		return value == ""
	})
	return value
}

// ownText returns an element's direct text, excluding child elements, so
// a label cell that wraps its value in a span still matches cleanly.
func ownText(sel *goquery.Selection) string {
	var b strings.Builder
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			b.WriteString(c.Text())
		}
	})
	txt := strings.TrimSpace(b.String())
	if txt == "" {
		txt = strings.TrimSpace(sel.Text())
	}
	return strings.TrimSuffix(txt, ":")
}

func (a *TracuuAdapter) DownloadAttachment(ctx context.Context, page Page, eng *capture.Engine, rec *models.InvoiceRecord, kind models.AttachmentKind) models.AttachmentResult {
	url := rec.PDFURL
	hasLink := rec.HasPDFLink
	if kind == models.AttachmentXML {
		url = rec.XMLItemURL
		hasLink = rec.HasXMLLink
	}

	if url != "" && !strings.Contains(url, "/chi-tiet") {
		return eng.DownloadDirect(ctx, url, nil, rec, kind)
	}
	if hasLink {
		return eng.DownloadViaClick(ctx, rowTriggerSelector(rec.RowIndex, kind), rec, kind)
	}
	return markNoLink(rec, kind)
}
