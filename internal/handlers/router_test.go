package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ntptech/invoice-collector/internal/capture"
	"github.com/ntptech/invoice-collector/internal/config"
	"github.com/ntptech/invoice-collector/internal/models"
	"github.com/ntptech/invoice-collector/internal/odoo"
	"github.com/ntptech/invoice-collector/internal/portal"
	"github.com/ntptech/invoice-collector/internal/service"
	"github.com/ntptech/invoice-collector/internal/store"
	"github.com/ntptech/invoice-collector/internal/utils"
	"github.com/ntptech/invoice-collector/internal/websocket"
)

// tabless browser: every portal tab is missing
type tablessBrowser struct{}

func (tablessBrowser) FindTab(patterns []string) (*service.PageHandle, error) {
	return nil, fmt.Errorf("no tab matching %v", patterns)
}

func testRouter(t *testing.T) *Router {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	sealer, err := utils.NewSealer("test-secret")
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}

	hub := websocket.NewHub()
	go hub.Run()

	cfg := &config.Config{}
	cfg.Backend.BatchSize = 5
	fetcher := service.NewFetcher(tablessBrowser{}, portal.DefaultRegistry(30, nil), hub)
	return NewRouter(cfg, fetcher, st, sealer, hub)
}

func TestSettingsRoundTripHTTP(t *testing.T) {
	r := testRouter(t)

	body, _ := json.Marshal(map[string]interface{}{
		"backend_url": "https://odoo.example.com",
		"token":       "secret-token",
		"fetch_days":  14,
		"batch_size":  10,
	})
	req := httptest.NewRequest("PUT", "/api/settings", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("PUT /api/settings = %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/settings", nil))

	var resp struct {
		Settings models.Settings `json:"settings"`
		HasToken bool            `json:"has_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.Settings.BackendURL != "https://odoo.example.com" || resp.Settings.FetchDays != 14 {
		t.Errorf("settings = %+v", resp.Settings)
	}
	if !resp.HasToken {
		t.Error("has_token should be true after storing a token")
	}
	// The sealed token itself must never appear in a response
	if bytes.Contains(w.Body.Bytes(), []byte("secret-token")) {
		t.Error("plaintext token leaked in response")
	}
}

func TestSettingsValidation(t *testing.T) {
	r := testRouter(t)

	body, _ := json.Marshal(map[string]interface{}{"fetch_days": 9000})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("PUT", "/api/settings", bytes.NewReader(body)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("fetch_days 9000 accepted: %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("PUT", "/api/settings", bytes.NewReader([]byte("{not json"))))
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON accepted: %d", w.Code)
	}
}

func TestSyncWithoutFetch(t *testing.T) {
	r := testRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/api/invoices/sync", nil))
	if w.Code != http.StatusPreconditionFailed {
		t.Errorf("sync before fetch = %d, want 412", w.Code)
	}
}

// stubFinder answers staging lookups with a fixed set of known numbers
type stubFinder struct {
	known []string
	err   error
	asked []string
}

func (s *stubFinder) FindStaging(numbers []string) ([]odoo.StagingRecord, error) {
	s.asked = numbers
	if s.err != nil {
		return nil, s.err
	}
	var out []odoo.StagingRecord
	for i, n := range s.known {
		out = append(out, odoo.StagingRecord{ID: int64(i + 1), InvoiceNumber: n, State: "draft"})
	}
	return out, nil
}

func TestVerifySyncReconciles(t *testing.T) {
	r := testRouter(t)
	finder := &stubFinder{known: []string{"OK1", "DUP2"}}
	r.rpc = finder
	r.ops.setLastSync(&models.SyncResult{
		SessionID: "sess-v",
		Details: []models.SyncDetail{
			{InvoiceNumber: "OK1", Status: "created"},
			{InvoiceNumber: "DUP2", Status: "duplicate"},
			{InvoiceNumber: "GONE", Status: "created"},
			{InvoiceNumber: "BAD", Status: "error"},
		},
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/sync/verify", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("verify = %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		SessionID string   `json:"session_id"`
		Checked   int      `json:"checked"`
		Confirmed int      `json:"confirmed"`
		Missing   []string `json:"missing"`
		Verified  bool     `json:"verified"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	// Error records are never looked up; only created/duplicate are
	if len(finder.asked) != 3 {
		t.Errorf("looked up %v, want the 3 accepted numbers", finder.asked)
	}
	if resp.Checked != 3 || resp.Confirmed != 2 || resp.Verified {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Missing) != 1 || resp.Missing[0] != "GONE" {
		t.Errorf("missing = %v", resp.Missing)
	}
	if resp.SessionID != "sess-v" {
		t.Errorf("session_id = %q", resp.SessionID)
	}
}

func TestVerifySyncPreconditions(t *testing.T) {
	r := testRouter(t)

	// No RPC credentials configured
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/sync/verify", nil))
	if w.Code != http.StatusPreconditionFailed {
		t.Errorf("verify without credentials = %d, want 412", w.Code)
	}

	// Credentials present but nothing synced yet
	r.rpc = &stubFinder{}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/sync/verify", nil))
	if w.Code != http.StatusPreconditionFailed {
		t.Errorf("verify before sync = %d, want 412", w.Code)
	}
}

func TestListInvoicesFromCache(t *testing.T) {
	r := testRouter(t)
	_ = r.store.ReplaceInvoices([]*models.InvoiceRecord{
		{Source: models.SourceGrab, InvoiceNumber: "G1"},
		{Source: models.SourceShinhan, InvoiceNumber: "S1"},
	}, "sess-9")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/invoices?source=grab", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/invoices = %d", w.Code)
	}

	var resp struct {
		Invoices []models.InvoiceRecord `json:"invoices"`
		Meta     *models.FetchMeta      `json:"meta"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(resp.Invoices) != 1 || resp.Invoices[0].InvoiceNumber != "G1" {
		t.Errorf("invoices = %+v", resp.Invoices)
	}
	if resp.Meta == nil || resp.Meta.SessionID != "sess-9" {
		t.Errorf("meta = %+v", resp.Meta)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/invoices?source=bogus", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bogus source = %d", w.Code)
	}
}

func TestFetchWithNoTabsStillResponds(t *testing.T) {
	r := testRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/api/invoices/fetch", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("fetch = %d", w.Code)
	}

	var result models.FetchResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if result.Success {
		t.Error("no tabs open, Success must be false")
	}
	if len(result.Errors) != 3 {
		t.Errorf("expected an error per portal, got %v", result.Errors)
	}
}

// idlePage satisfies portal.Page with inert answers
type idlePage struct{}

func (idlePage) Eval(_ context.Context, _ string, out interface{}) error {
	if b, ok := out.(*bool); ok {
		*b = false
	}
	return nil
}
func (idlePage) DispatchClick(context.Context, string) error               { return nil }
func (idlePage) ExposeFunc(context.Context, string, func(string)) error    { return nil }
func (idlePage) HTML(context.Context) (string, error)                      { return "", nil }
func (idlePage) CurrentURL(context.Context) (string, error)                { return "https://x", nil }
func (idlePage) WaitForTableRows(context.Context, int, time.Duration) bool { return false }
func (idlePage) FetchText(context.Context, string) (string, error)         { return "", fmt.Errorf("404") }
func (idlePage) FetchJSON(context.Context, string, interface{}) error      { return fmt.Errorf("404") }

type idleBrowser struct{}

func (idleBrowser) FindTab([]string) (*service.PageHandle, error) {
	return &service.PageHandle{Page: idlePage{}}, nil
}

// stallingAdapter blocks in ScrapeInvoices until its context ends
type stallingAdapter struct{}

func (stallingAdapter) Source() models.Source                        { return models.SourceGrab }
func (stallingAdapter) Name() string                                 { return "stall" }
func (stallingAdapter) URLPatterns() []string                        { return []string{"x"} }
func (stallingAdapter) IsLoggedIn(context.Context, portal.Page) bool { return true }

func (stallingAdapter) ScrapeInvoices(ctx context.Context, _ portal.Page) ([]*models.InvoiceRecord, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("scrape context carried no deadline")
	}
}

func (stallingAdapter) NewEngine(page portal.Page) *capture.Engine {
	return capture.NewEngine(page, nil)
}

func (stallingAdapter) DownloadAttachment(context.Context, portal.Page, *capture.Engine, *models.InvoiceRecord, models.AttachmentKind) models.AttachmentResult {
	return models.AttachmentResult{Status: models.AttachmentNoLink}
}

func TestFetchHonorsConfiguredTimeout(t *testing.T) {
	r := testRouter(t)
	r.cfg.Browser.FetchTimeout = 50 * time.Millisecond

	reg := portal.NewRegistry()
	if err := reg.Register(stallingAdapter{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.fetcher = service.NewFetcher(idleBrowser{}, reg, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/api/invoices/fetch", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("fetch = %d", w.Code)
	}

	var result models.FetchResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if !strings.Contains(result.Errors[models.SourceGrab], "context deadline exceeded") {
		t.Errorf("stalled portal error = %q, want a deadline error", result.Errors[models.SourceGrab])
	}
}

func TestExportEndpoints(t *testing.T) {
	r := testRouter(t)
	_ = r.store.ReplaceInvoices([]*models.InvoiceRecord{
		{Source: models.SourceGrab, InvoiceNumber: "G1", AmountTotal: 1000},
	}, "sess")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/export/xlsx", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("xlsx export = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Errorf("xlsx content type = %q", ct)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/export/pdf", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("pdf export = %d", w.Code)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")) {
		t.Error("pdf export did not produce a PDF")
	}
}
