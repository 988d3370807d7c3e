package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ntptech/invoice-collector/internal/models"
)

// ErrCaptureTimeout is returned when no capture appears within the wait
// window after a triggered click.
var ErrCaptureTimeout = errors.New("attachment capture timed out")

// maxAttachmentSize caps captured payloads at 10MB, matching the backend's
// staging attachment limit.
const maxAttachmentSize = 10 * 1024 * 1024

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultWaitTimeout  = 12 * time.Second
	// Spacing between sequential downloads; portals rate-limit rapid
	// repeated download triggers.
	defaultSpacing = 500 * time.Millisecond
)

// Engine obtains the bytes of PDF/XML attachments that portals generate
// client-side instead of exposing as plain URLs. One engine serves one
// portal page; downloads are strictly sequential because click simulation
// and capture correlation are stateful across the page.
type Engine struct {
	page         Page
	cache        *Cache
	interceptor  Interceptor
	mu           sync.Mutex
	pollInterval time.Duration
	waitTimeout  time.Duration
	spacing      time.Duration
	lastDownload time.Time
}

// Page extends PageDriver with nothing; the alias keeps call sites readable
type Page = PageDriver

// NewEngine wires an engine to a page. Interceptor may be nil when the
// portal serves plain URLs only.
func NewEngine(page Page, interceptor Interceptor) *Engine {
	return &Engine{
		page:         page,
		cache:        NewCache(),
		interceptor:  interceptor,
		pollInterval: defaultPollInterval,
		waitTimeout:  defaultWaitTimeout,
		spacing:      defaultSpacing,
	}
}

// Cache exposes the engine's capture cache to its interceptor constructor
func (e *Engine) Cache() *Cache {
	return e.cache
}

// WithInterceptor attaches the interception technique after construction,
// so the interceptor can share the engine's cache. Returns the engine for
// chaining.
func (e *Engine) WithInterceptor(i Interceptor) *Engine {
	e.interceptor = i
	return e
}

// InstallInterceptor installs the configured interception technique
func (e *Engine) InstallInterceptor(ctx context.Context) error {
	if e.interceptor == nil {
		return nil
	}
	return e.interceptor.Install(ctx)
}

// UninstallInterceptor restores the page's patched entry points
func (e *Engine) UninstallInterceptor(ctx context.Context) error {
	if e.interceptor == nil {
		return nil
	}
	return e.interceptor.Uninstall(ctx)
}

// directFetchResult mirrors the JSON produced by directFetchScript
type directFetchResult struct {
	OK          bool   `json:"ok"`
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Base64      string `json:"base64"`
	Error       string `json:"error"`
}

// DownloadDirect fetches a plain URL inside the page context (session
// cookies included) and classifies the response. An HTML content type means
// the portal served an error page, not a file.
func (e *Engine) DownloadDirect(ctx context.Context, url string, headers map[string]string, rec *models.InvoiceRecord, kind models.AttachmentKind) models.AttachmentResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pace()

	var res directFetchResult
	if err := e.page.Eval(ctx, directFetchScript(url, headers), &res); err != nil {
		return models.AttachmentResult{Status: models.AttachmentError, Error: err.Error()}
	}

	switch {
	case !res.OK && res.Error != "":
		return models.AttachmentResult{Status: models.AttachmentError, Error: res.Error}
	case !res.OK:
		return models.AttachmentResult{Status: models.AttachmentError, Error: fmt.Sprintf("HTTP %d", res.Status)}
	case res.Base64 == "":
		return models.AttachmentResult{Status: models.AttachmentError, Error: "empty response body"}
	case strings.Contains(strings.ToLower(res.ContentType), "html"):
		return models.AttachmentResult{Status: models.AttachmentNotAFile,
			Error: fmt.Sprintf("expected %s, got %s", kind, res.ContentType)}
	case base64Len(res.Base64) > maxAttachmentSize:
		return models.AttachmentResult{Status: models.AttachmentError, Error: "file exceeds 10MB limit"}
	}

	if kind == models.AttachmentPDF && !strings.HasPrefix(res.Base64, "JVBE") {
		// %PDF magic missing; portals sometimes serve octet-stream error
		// bodies with a 200
		log.Printf("⚠️ Downloaded payload for %s lacks PDF magic (content-type %q)", rec.InvoiceNumber, res.ContentType)
	}

	return models.AttachmentResult{
		Status:   models.AttachmentDownloaded,
		Base64:   res.Base64,
		Filename: filenameFromURL(url, rec, kind),
	}
}

// DownloadViaClick runs the per-attachment capture protocol:
//  1. clear the capture cache baseline,
//  2. re-locate the trigger element by selector (built from the row's
//     stored position; the original element may have gone stale),
//  3. dispatch a bubbling synthetic click,
//  4. poll the cache until a matching capture appears or the wait times out,
//  5. claim the entry, clearing it from the cache.
func (e *Engine) DownloadViaClick(ctx context.Context, selector string, rec *models.InvoiceRecord, kind models.AttachmentKind) models.AttachmentResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pace()

	e.cache.Clear()

	if err := e.page.DispatchClick(ctx, selector); err != nil {
		return models.AttachmentResult{Status: models.AttachmentError,
			Error: fmt.Sprintf("trigger element not clickable (%s): %v", selector, err)}
	}

	f, err := e.awaitCapture(ctx, kind)
	if err != nil {
		return models.AttachmentResult{Status: models.AttachmentError, Error: err.Error()}
	}

	if base64Len(f.Base64) > maxAttachmentSize {
		return models.AttachmentResult{Status: models.AttachmentError, Error: "file exceeds 10MB limit"}
	}

	filename := f.Filename
	if filename == "" {
		filename = GeneratedFilename(rec, kind)
	}
	return models.AttachmentResult{
		Status:   models.AttachmentDownloaded,
		Base64:   f.Base64,
		Filename: filename,
	}
}

// awaitCapture polls the cache for a capture of the wanted kind. A capture
// with an unknown kind is accepted too when its filename matches, since
// blob content types are often empty.
func (e *Engine) awaitCapture(ctx context.Context, kind models.AttachmentKind) (models.CapturedFile, error) {
	deadline := time.NewTimer(e.waitTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(e.pollInterval)
	defer tick.Stop()

	ext := "." + string(kind)
	pred := func(f models.CapturedFile) bool {
		if f.Kind == kind {
			return true
		}
		return strings.HasSuffix(strings.ToLower(f.Filename), ext)
	}

	for {
		if f, ok := e.cache.Drain(pred); ok {
			return f, nil
		}
		select {
		case <-ctx.Done():
			return models.CapturedFile{}, ctx.Err()
		case <-deadline.C:
			return models.CapturedFile{}, ErrCaptureTimeout
		case <-tick.C:
		}
	}
}

// pace enforces the inter-download spacing. Caller holds e.mu.
func (e *Engine) pace() {
	if wait := e.spacing - time.Since(e.lastDownload); wait > 0 {
		time.Sleep(wait)
	}
	e.lastDownload = time.Now()
}

var filenameSanitizeRe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// GeneratedFilename builds the fallback filename when the page supplied
// none: <source>_<invoiceNumber>_<date>.<kind>.
func GeneratedFilename(rec *models.InvoiceRecord, kind models.AttachmentKind) string {
	num := filenameSanitizeRe.ReplaceAllString(rec.InvoiceNumber, "_")
	return fmt.Sprintf("%s_%s_%s.%s", rec.Source, num, time.Now().Format("2006-01-02"), kind)
}

func filenameFromURL(url string, rec *models.InvoiceRecord, kind models.AttachmentKind) string {
	if i := strings.LastIndex(url, "/"); i >= 0 && i < len(url)-1 {
		last := url[i+1:]
		if j := strings.IndexByte(last, '?'); j >= 0 {
			last = last[:j]
		}
		if strings.Contains(last, ".") {
			return last
		}
	}
	return GeneratedFilename(rec, kind)
}

// base64Len approximates the decoded byte length of a base64 string
func base64Len(b64 string) int {
	return len(b64) / 4 * 3
}
