package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ntptech/invoice-collector/internal/capture"
	"github.com/ntptech/invoice-collector/internal/models"
	"github.com/ntptech/invoice-collector/internal/scrape"
)

// ErrNotLoggedIn is returned when a portal tab exists but carries no
// authenticated session. The user must log in manually first.
var ErrNotLoggedIn = errors.New("not logged in to portal")

// Page is the browser-tab capability adapters work against. Implemented by
// *browser.Page; tests substitute fixtures.
type Page interface {
	capture.PageDriver
	HTML(ctx context.Context) (string, error)
	CurrentURL(ctx context.Context) (string, error)
	WaitForTableRows(ctx context.Context, minRows int, timeout time.Duration) bool
	FetchText(ctx context.Context, url string) (string, error)
	FetchJSON(ctx context.Context, url string, out interface{}) error
}

// Adapter is one portal's scraping strategy. Shared orchestration code
// never branches on the concrete portal; everything source-specific lives
// behind this interface.
type Adapter interface {
	// Source returns the portal's source code
	Source() models.Source
	// Name returns the human-readable portal name
	Name() string
	// URLPatterns are substrings identifying the portal's tabs
	URLPatterns() []string
	// IsLoggedIn checks session heuristics; no single signal is
	// authoritative, so implementations OR several
	IsLoggedIn(ctx context.Context, page Page) bool
	// ScrapeInvoices extracts the normalized record list from the tab
	ScrapeInvoices(ctx context.Context, page Page) ([]*models.InvoiceRecord, error)
	// NewEngine builds the capture engine with the portal's interception
	// technique installed on the page
	NewEngine(page Page) *capture.Engine
	// DownloadAttachment obtains one attachment for one record
	DownloadAttachment(ctx context.Context, page Page, eng *capture.Engine, rec *models.InvoiceRecord, kind models.AttachmentKind) models.AttachmentResult
}

// DetailFetcher is implemented by adapters whose list table lacks seller
// fields, requiring a secondary detail-page lookup per invoice.
type DetailFetcher interface {
	// FetchDetail enriches the record in place, best-effort: a missing
	// detail page never fails the primary record
	FetchDetail(ctx context.Context, page Page, rec *models.InvoiceRecord) error
}

// ColumnClassifier fills table columns the keyword mapper left unmapped.
// Implemented by ai.HeaderClassifier; a nil classifier disables the
// fallback and keyword matches always keep priority.
type ColumnClassifier interface {
	Classify(ctx context.Context, headers []string, cm scrape.ColumnMap) scrape.ColumnMap
}

// Registry holds the registered portal adapters keyed by source
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.Source]Adapter
}

// NewRegistry creates an empty adapter registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.Source]Adapter)}
}

// Register adds an adapter; registering a source twice is an error
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	src := a.Source()
	if !models.ValidSource(src) {
		return fmt.Errorf("adapter has invalid source %q", src)
	}
	if _, exists := r.adapters[src]; exists {
		return fmt.Errorf("adapter for %s is already registered", src)
	}
	r.adapters[src] = a
	return nil
}

// Get returns the adapter for a source
func (r *Registry) Get(src models.Source) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, exists := r.adapters[src]
	if !exists {
		return nil, fmt.Errorf("no adapter registered for %s", src)
	}
	return a, nil
}

// List returns all registered adapters
func (r *Registry) List() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// DefaultRegistry builds the registry with the three production portals.
// classifier may be nil; portals then rely on keyword mapping alone.
func DefaultRegistry(fetchDays int, classifier ColumnClassifier) *Registry {
	r := NewRegistry()
	_ = r.Register(NewGrabAdapter(fetchDays, classifier))
	_ = r.Register(NewTracuuAdapter(fetchDays, classifier))
	_ = r.Register(NewShinhanAdapter(classifier))
	return r
}

// documentFromPage snapshots the tab's rendered HTML into a goquery document
func documentFromPage(ctx context.Context, page Page) (*goquery.Document, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading page HTML: %w", err)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// scrapeInvoiceTable runs the locate → map → parse pipeline over the tab's
// current DOM. Rows without an invoice number are skipped, not errors.
func scrapeInvoiceTable(ctx context.Context, page Page, src models.Source, classifier ColumnClassifier) ([]*models.InvoiceRecord, error) {
	doc, err := documentFromPage(ctx, page)
	if err != nil {
		return nil, err
	}

	loc, err := scrape.LocateTable(doc)
	if err != nil {
		return nil, err
	}
	cm := scrape.MapColumnsForSource(loc.HeaderCells, src)
	if classifier != nil {
		// Fallback for headers the keyword groups did not recognize; the
		// classifier only ever fills gaps, never reassigns mapped columns
		cm = classifier.Classify(ctx, loc.HeaderCells, cm)
	}

	var records []*models.InvoiceRecord
	scrape.DataRows(loc.Table).Each(func(i int, row *goquery.Selection) {
		if rec := scrape.ParseRow(row, cm, i, src); rec != nil {
			records = append(records, rec)
		}
	})

	if loc.LowConfidence && len(records) == 0 {
		// The widest-table heuristic picked something that held no
		// invoices; report not-found instead of a silent empty result
		return nil, scrape.ErrTableNotFound
	}
	return records, nil
}

// hasAnyElement reports whether the page has an element matching any of
// the selectors. Used by login heuristics.
func hasAnyElement(ctx context.Context, page Page, selectors ...string) bool {
	for _, sel := range selectors {
		expr := fmt.Sprintf(`document.querySelector(%q) !== null`, sel)
		var found bool
		if err := page.Eval(ctx, expr, &found); err == nil && found {
			return true
		}
	}
	return false
}

// pageTextContains reports whether the visible page text contains any of
// the given phrases (case-insensitive).
func pageTextContains(ctx context.Context, page Page, phrases ...string) bool {
	var text string
	if err := page.Eval(ctx, `(document.body && document.body.innerText || '').toLowerCase()`, &text); err != nil {
		return false
	}
	for _, p := range phrases {
		if strings.Contains(text, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// rowTriggerSelector re-locates a row's download trigger. The row index was
// recorded at parse time; nth-child is 1-based. By portal convention the
// PDF trigger is the first action link in the row, XML the second.
func rowTriggerSelector(rowIndex int, kind models.AttachmentKind) string {
	pos := 1
	if kind == models.AttachmentXML {
		pos = 2
	}
	return fmt.Sprintf("table tbody tr:nth-child(%d) td:last-child a:nth-of-type(%d), table tbody tr:nth-child(%d) td:last-child button:nth-of-type(%d)",
		rowIndex+1, pos, rowIndex+1, pos)
}

// markNoLink records that the portal row offered no trigger or URL for the
// given kind. Distinct from an error: a missing XML on Grab is normal.
func markNoLink(rec *models.InvoiceRecord, kind models.AttachmentKind) models.AttachmentResult {
	if kind == models.AttachmentXML {
		rec.XMLStatus = models.AttachmentNoLink
	} else {
		rec.PDFStatus = models.AttachmentNoLink
	}
	return models.AttachmentResult{Status: models.AttachmentNoLink}
}

// dateRange computes the lookback window ending today
func dateRange(days int) (time.Time, time.Time) {
	to := time.Now()
	from := to.AddDate(0, 0, -days)
	return from, to
}
