package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ntptech/invoice-collector/internal/capture"
	"github.com/ntptech/invoice-collector/internal/models"
	"github.com/ntptech/invoice-collector/internal/portal"
)

// TabBrowser finds portal tabs in the attached browser. Implemented by
// *browser.Session; tests substitute a fake.
type TabBrowser interface {
	FindTab(patterns []string) (*PageHandle, error)
}

// PageHandle pairs a page with its release hook. Detach is safe to call on
// a zero hook.
type PageHandle struct {
	Page   portal.Page
	Detach func()
}

func (h *PageHandle) release() {
	if h != nil && h.Detach != nil {
		h.Detach()
	}
}

// Notifier receives progress events during long-running operations.
// Implementations must not block; the websocket hub buffers internally.
type Notifier interface {
	Notify(ev models.ProgressEvent)
}

// NopNotifier discards events
type NopNotifier struct{}

func (NopNotifier) Notify(models.ProgressEvent) {}

// Fetcher runs the scrape-and-capture pipeline across all registered
// portals.
type Fetcher struct {
	browser  TabBrowser
	registry *portal.Registry
	notifier Notifier
}

// NewFetcher wires the fetch orchestrator
func NewFetcher(browser TabBrowser, registry *portal.Registry, notifier Notifier) *Fetcher {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Fetcher{browser: browser, registry: registry, notifier: notifier}
}

// CheckTabs reports, per portal, whether a tab is open and logged in.
// Portals are probed independently; one bad tab never hides the others.
func (f *Fetcher) CheckTabs(ctx context.Context) map[models.Source]models.TabStatus {
	statuses := make(map[models.Source]models.TabStatus, len(models.AllSources))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, adapter := range f.registry.List() {
		wg.Add(1)
		go func(a portal.Adapter) {
			defer wg.Done()
			st := f.probeTab(ctx, a)
			mu.Lock()
			statuses[a.Source()] = st
			mu.Unlock()
		}(adapter)
	}
	wg.Wait()
	return statuses
}

func (f *Fetcher) probeTab(ctx context.Context, a portal.Adapter) (st models.TabStatus) {
	defer func() {
		if r := recover(); r != nil {
			st = models.TabStatus{Error: fmt.Sprintf("tab probe panicked: %v", r)}
		}
	}()

	handle, err := f.browser.FindTab(a.URLPatterns())
	if err != nil {
		return models.TabStatus{Error: err.Error()}
	}
	defer handle.release()

	url, _ := handle.Page.CurrentURL(ctx)
	return models.TabStatus{
		Found:    true,
		URL:      url,
		LoggedIn: a.IsLoggedIn(ctx, handle.Page),
	}
}

// FetchInvoices runs all portals concurrently. Each portal is fully
// isolated: a panic or error in one yields an entry in Errors while the
// others' results are kept. Success is true when at least one portal
// produced records.
func (f *Fetcher) FetchInvoices(ctx context.Context) *models.FetchResult {
	started := time.Now()
	result := &models.FetchResult{
		Stats:  make(map[models.Source]int),
		Errors: make(map[models.Source]string),
	}

	adapters := f.registry.List()
	f.notifier.Notify(models.ProgressEvent{
		Kind:    models.EventFetchProgress,
		Message: fmt.Sprintf("Fetching from %d portals", len(adapters)),
	})

	type portalOutcome struct {
		source   models.Source
		invoices []*models.InvoiceRecord
		err      error
	}
	outcomes := make(chan portalOutcome, len(adapters))

	var wg sync.WaitGroup
	for _, adapter := range adapters {
		wg.Add(1)
		go func(a portal.Adapter) {
			defer wg.Done()
			invs, err := f.fetchPortal(ctx, a)
			outcomes <- portalOutcome{source: a.Source(), invoices: invs, err: err}
		}(adapter)
	}
	wg.Wait()
	close(outcomes)

	for out := range outcomes {
		if out.err != nil {
			result.Errors[out.source] = out.err.Error()
			result.Stats[out.source] = 0
			continue
		}
		result.Stats[out.source] = len(out.invoices)
		result.Invoices = append(result.Invoices, out.invoices...)
	}
	result.Success = len(result.Invoices) > 0

	log.Printf("✅ Fetch finished in %s: %d invoices, %d portal errors",
		time.Since(started).Round(time.Millisecond), len(result.Invoices), len(result.Errors))
	f.notifier.Notify(models.ProgressEvent{
		Kind:      models.EventFetchDone,
		Processed: len(result.Invoices),
		Total:     len(result.Invoices),
		Message:   fmt.Sprintf("Fetched %d invoices", len(result.Invoices)),
	})
	return result
}

// fetchPortal runs one portal end to end: find tab, verify session, scrape,
// then capture attachments strictly sequentially.
func (f *Fetcher) fetchPortal(ctx context.Context, a portal.Adapter) (invs []*models.InvoiceRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			invs, err = nil, fmt.Errorf("portal %s panicked: %v", a.Source(), r)
			log.Printf("🔥 [%s] recovered: %v", a.Source(), r)
		}
	}()

	handle, err := f.browser.FindTab(a.URLPatterns())
	if err != nil {
		return nil, fmt.Errorf("no open tab: %w", err)
	}
	defer handle.release()
	page := handle.Page

	if !a.IsLoggedIn(ctx, page) {
		return nil, portal.ErrNotLoggedIn
	}

	invs, err = a.ScrapeInvoices(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("scraping: %w", err)
	}
	log.Printf("📥 [%s] scraped %d invoices", a.Source(), len(invs))
	if len(invs) == 0 {
		return invs, nil
	}

	eng := a.NewEngine(page)
	if err := eng.InstallInterceptor(ctx); err != nil {
		// Records without attachments are still worth syncing
		log.Printf("⚠️ [%s] interceptor install failed, skipping attachments: %v", a.Source(), err)
		return invs, nil
	}
	defer func() {
		if uerr := eng.UninstallInterceptor(ctx); uerr != nil {
			log.Printf("⚠️ [%s] interceptor uninstall failed: %v", a.Source(), uerr)
		}
	}()

	for i, rec := range invs {
		if ctx.Err() != nil {
			// Cancellation keeps everything captured so far
			log.Printf("🛑 [%s] fetch cancelled after %d/%d downloads", a.Source(), i, len(invs))
			return invs, nil
		}
		f.downloadAttachments(ctx, a, page, eng, rec)
		f.notifier.Notify(models.ProgressEvent{
			Kind:      models.EventFetchProgress,
			Source:    a.Source(),
			Processed: i + 1,
			Total:     len(invs),
			Message:   fmt.Sprintf("[%s] attachments %d/%d", a.Source(), i+1, len(invs)),
		})
	}
	return invs, nil
}

func (f *Fetcher) downloadAttachments(ctx context.Context, a portal.Adapter, page portal.Page, eng *capture.Engine, rec *models.InvoiceRecord) {
	for _, kind := range []models.AttachmentKind{models.AttachmentPDF, models.AttachmentXML} {
		res := a.DownloadAttachment(ctx, page, eng, rec, kind)
		rec.ApplyAttachment(kind, res)
		if res.Status == models.AttachmentError {
			log.Printf("⚠️ [%s] %s %s download: %s", a.Source(), rec.InvoiceNumber, kind, res.Error)
		}
	}
}
