package portal

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ntptech/invoice-collector/internal/capture"
	"github.com/ntptech/invoice-collector/internal/models"
	"github.com/ntptech/invoice-collector/internal/scrape"
)

const (
	grabAPIPageSize = 50
	grabMaxPages    = 20
)

// GrabAdapter scrapes invoice.grab.com. The portal exposes a JSON API the
// page itself uses, so the primary path is paged API calls made from the
// page context; the rendered table is the fallback when the API shape
// drifts.
type GrabAdapter struct {
	fetchDays  int
	classifier ColumnClassifier
}

// NewGrabAdapter creates the Grab portal adapter with a lookback window
func NewGrabAdapter(fetchDays int, classifier ColumnClassifier) *GrabAdapter {
	if fetchDays <= 0 {
		fetchDays = 30
	}
	return &GrabAdapter{fetchDays: fetchDays, classifier: classifier}
}

func (a *GrabAdapter) Source() models.Source { return models.SourceGrab }
func (a *GrabAdapter) Name() string          { return "Grab Invoice" }

func (a *GrabAdapter) URLPatterns() []string {
	return []string{"invoice.grab.com", "grab.com/invoice"}
}

func (a *GrabAdapter) IsLoggedIn(ctx context.Context, page Page) bool {
	url, err := page.CurrentURL(ctx)
	if err != nil {
		return false
	}
	if strings.Contains(url, "/login") || strings.Contains(url, "dang-nhap") {
		return false
	}
	return hasAnyElement(ctx, page,
		"a[href*='logout']",
		"button[data-testid='logout']",
		".user-menu") ||
		!pageTextContains(ctx, page, "đăng nhập", "sign in")
}

// NewEngine returns an engine without an interceptor: Grab serves
// attachments as plain URLs the page-context fetch can reach directly.
func (a *GrabAdapter) NewEngine(page Page) *capture.Engine {
	return capture.NewEngine(page, nil)
}

// grabAPIItem tolerates the API's naming drift: fields have appeared under
// several keys across portal releases.
type grabAPIItem map[string]interface{}

type grabAPIResponse struct {
	Items   []grabAPIItem `json:"items"`
	Data    []grabAPIItem `json:"data"`
	Results []grabAPIItem `json:"results"`
	Total   int           `json:"total"`
}

func (r *grabAPIResponse) records() []grabAPIItem {
	if len(r.Items) > 0 {
		return r.Items
	}
	if len(r.Data) > 0 {
		return r.Data
	}
	return r.Results
}

func (a *GrabAdapter) ScrapeInvoices(ctx context.Context, page Page) ([]*models.InvoiceRecord, error) {
	records, err := a.scrapeAPI(ctx, page)
	if err == nil && len(records) > 0 {
		return records, nil
	}
	if err != nil {
		log.Printf("⚠️ [GRAB] API fetch failed, falling back to table scrape: %v", err)
	}
	return scrapeInvoiceTable(ctx, page, models.SourceGrab, a.classifier)
}

func (a *GrabAdapter) scrapeAPI(ctx context.Context, page Page) ([]*models.InvoiceRecord, error) {
	from, to := dateRange(a.fetchDays)

	var all []*models.InvoiceRecord
	for pageNum := 1; pageNum <= grabMaxPages; pageNum++ {
		url := fmt.Sprintf("/api/invoices?dateFrom=%s&dateTo=%s&page=%d&limit=%d",
			from.Format("2006-01-02"), to.Format("2006-01-02"), pageNum, grabAPIPageSize)

		var resp grabAPIResponse
		if err := page.FetchJSON(ctx, url, &resp); err != nil {
			return nil, fmt.Errorf("invoice API page %d: %w", pageNum, err)
		}

		items := resp.records()
		if len(items) == 0 {
			break
		}
		for i, item := range items {
			rec := a.itemToRecord(item, len(all)+i)
			if rec != nil {
				all = append(all, rec)
			}
		}
		if len(items) < grabAPIPageSize {
			break
		}
	}
	return all, nil
}

func (a *GrabAdapter) itemToRecord(item grabAPIItem, rowIndex int) *models.InvoiceRecord {
	number := pickString(item, "invoiceNumber", "invoice_number", "number", "invoiceNo")
	if number == "" {
		return nil
	}

	rec := &models.InvoiceRecord{
		Source:        models.SourceGrab,
		InvoiceNumber: number,
		ExternalID:    pickString(item, "id", "invoiceId", "invoice_id", "uuid"),
		InvoiceSymbol: pickString(item, "serial", "serialNumber", "serial_number", "templateSerial"),
		InvoiceCode:   pickString(item, "lookupCode", "lookup_code", "searchCode"),
		SellerName:    pickString(item, "sellerName", "seller_name", "merchantName", "merchant_name"),
		SellerTaxCode: pickString(item, "sellerTaxCode", "seller_tax_code", "merchantTaxCode", "taxCode"),
		InvoiceDate:   scrape.NormalizeDate(pickString(item, "invoiceDate", "invoice_date", "issuedDate", "issued_date", "date")),
		AmountUntaxed: pickFloat(item, "untaxedAmount", "untaxed_amount", "subTotal", "subtotal"),
		AmountTax:     pickFloat(item, "taxAmount", "tax_amount", "vat", "vatAmount"),
		AmountTotal:   pickFloat(item, "totalAmount", "total_amount", "total", "grandTotal"),
		RowIndex:      rowIndex,
	}
	rec.EnsureTotal()

	if pdf := pickString(item, "pdfUrl", "pdf_url", "downloadUrl", "download_url", "fileUrl"); pdf != "" {
		rec.PDFURL = pdf
		rec.HasPDFLink = true
	} else if rec.ExternalID != "" {
		// The portal's own viewer fetches by invoice id when no explicit
		// URL is present in the listing payload
		rec.PDFURL = fmt.Sprintf("/api/invoices/%s/pdf", rec.ExternalID)
		rec.HasPDFLink = true
	}
	if xml := pickString(item, "xmlUrl", "xml_url"); xml != "" {
		rec.XMLItemURL = xml
		rec.HasXMLLink = true
	}
	return rec
}

func (a *GrabAdapter) DownloadAttachment(ctx context.Context, page Page, eng *capture.Engine, rec *models.InvoiceRecord, kind models.AttachmentKind) models.AttachmentResult {
	url := rec.PDFURL
	if kind == models.AttachmentXML {
		url = rec.XMLItemURL
	}
	if url == "" {
		return markNoLink(rec, kind)
	}
	return eng.DownloadDirect(ctx, url, nil, rec, kind)
}

// pickString returns the first non-empty string value among the keys
func pickString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
			if f, ok := v.(float64); ok && f != 0 {
				return strings.TrimSuffix(fmt.Sprintf("%v", f), ".000000")
			}
		}
	}
	return ""
}

// pickFloat returns the first parseable numeric value among the keys.
// String values go through the locale-aware amount parser.
func pickFloat(m map[string]interface{}, keys ...string) float64 {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n
		case string:
			if f := scrape.ParseAmount(n); f != 0 {
				return f
			}
		}
	}
	return 0
}
