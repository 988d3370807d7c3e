package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/ntptech/invoice-collector/internal/models"
)

// fakePage simulates the page side: clicks trigger configurable capture
// deliveries into the engine's cache.
type fakePage struct {
	onClick  func(selector string)
	onEval   func(expr string) (string, error)
	bindings map[string]func(string)
	clicks   []string
}

func (f *fakePage) Eval(ctx context.Context, expr string, out interface{}) error {
	if f.onEval == nil {
		return nil
	}
	res, err := f.onEval(expr)
	if err != nil {
		return err
	}
	if out != nil {
		return json.Unmarshal([]byte(res), out)
	}
	return nil
}

func (f *fakePage) DispatchClick(ctx context.Context, selector string) error {
	f.clicks = append(f.clicks, selector)
	if f.onClick != nil {
		f.onClick(selector)
	}
	return nil
}

func (f *fakePage) ExposeFunc(ctx context.Context, name string, fn func(string)) error {
	if f.bindings == nil {
		f.bindings = make(map[string]func(string))
	}
	f.bindings[name] = fn
	return nil
}

func fastEngine(page Page) *Engine {
	e := NewEngine(page, nil)
	e.pollInterval = 5 * time.Millisecond
	e.waitTimeout = 300 * time.Millisecond
	e.spacing = 0
	return e
}

func testRecord(num string) *models.InvoiceRecord {
	return &models.InvoiceRecord{Source: models.SourceShinhan, InvoiceNumber: num}
}

func TestDownloadViaClick_CapturesTriggeredFile(t *testing.T) {
	page := &fakePage{}
	eng := fastEngine(page)

	page.onClick = func(selector string) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			eng.Cache().Append(models.CapturedFile{
				Kind:     models.AttachmentPDF,
				Base64:   "JVBERi0xLjQ=",
				Filename: "invoice_0001234.pdf",
			})
		}()
	}

	res := eng.DownloadViaClick(context.Background(), "tr:nth-child(1) a", testRecord("0001234"), models.AttachmentPDF)
	if res.Status != models.AttachmentDownloaded {
		t.Fatalf("status = %s, error = %s", res.Status, res.Error)
	}
	if res.Base64 != "JVBERi0xLjQ=" {
		t.Errorf("base64 = %q", res.Base64)
	}
	if res.Filename != "invoice_0001234.pdf" {
		t.Errorf("filename = %q", res.Filename)
	}
	if eng.Cache().Len() != 0 {
		t.Errorf("claimed capture must be removed from cache, %d left", eng.Cache().Len())
	}
}

func TestDownloadViaClick_Timeout(t *testing.T) {
	eng := fastEngine(&fakePage{}) // clicks never produce captures

	res := eng.DownloadViaClick(context.Background(), "tr a", testRecord("0001"), models.AttachmentPDF)
	if res.Status != models.AttachmentError {
		t.Fatalf("status = %s, want error", res.Status)
	}
	if res.Error != ErrCaptureTimeout.Error() {
		t.Errorf("error = %q", res.Error)
	}
}

func TestDownloadViaClick_CorrelationNeverSwapsRows(t *testing.T) {
	// Two sequential downloads for two rows: even though each click's
	// capture arrives late, the bytes returned for row 1 must never be the
	// bytes belonging to row 2. The baseline Clear plus drain-and-claim
	// discipline guarantees it.
	page := &fakePage{}
	eng := fastEngine(page)

	payloads := map[string]string{
		"tr:nth-child(1) a": "Um93MQ==",
		"tr:nth-child(2) a": "Um93Mg==",
	}
	page.onClick = func(selector string) {
		b64 := payloads[selector]
		go func() {
			time.Sleep(30 * time.Millisecond)
			eng.Cache().Append(models.CapturedFile{Kind: models.AttachmentPDF, Base64: b64})
		}()
	}

	res1 := eng.DownloadViaClick(context.Background(), "tr:nth-child(1) a", testRecord("1"), models.AttachmentPDF)
	res2 := eng.DownloadViaClick(context.Background(), "tr:nth-child(2) a", testRecord("2"), models.AttachmentPDF)

	if res1.Base64 != "Um93MQ==" {
		t.Errorf("row 1 got %q, want its own payload", res1.Base64)
	}
	if res2.Base64 != "Um93Mg==" {
		t.Errorf("row 2 got %q, want its own payload", res2.Base64)
	}
}

func TestDownloadViaClick_StaleCaptureNotReused(t *testing.T) {
	page := &fakePage{}
	eng := fastEngine(page)

	// A stale capture sits in the cache from an earlier, abandoned attempt
	eng.Cache().Append(models.CapturedFile{Kind: models.AttachmentPDF, Base64: "c3RhbGU="})

	// The click produces nothing: the protocol must time out rather than
	// hand back the stale bytes
	res := eng.DownloadViaClick(context.Background(), "tr a", testRecord("7"), models.AttachmentPDF)
	if res.Status != models.AttachmentError {
		t.Fatalf("status = %s, want error (stale capture must not be claimed)", res.Status)
	}
}

func TestDownloadViaClick_GeneratedFilenameFallback(t *testing.T) {
	page := &fakePage{}
	eng := fastEngine(page)

	page.onClick = func(string) {
		eng.Cache().Append(models.CapturedFile{Kind: models.AttachmentXML, Base64: "PGludm9pY2UvPg=="})
	}

	rec := testRecord("INV/99")
	res := eng.DownloadViaClick(context.Background(), "tr a", rec, models.AttachmentXML)
	if res.Status != models.AttachmentDownloaded {
		t.Fatalf("status = %s", res.Status)
	}
	want := fmt.Sprintf("shinhan_INV_99_%s.xml", time.Now().Format("2006-01-02"))
	if res.Filename != want {
		t.Errorf("filename = %q, want %q", res.Filename, want)
	}
}

func TestDownloadDirect_Classification(t *testing.T) {
	cases := []struct {
		name     string
		response string
		status   models.AttachmentStatus
	}{
		{"ok pdf", `{"ok":true,"status":200,"contentType":"application/pdf","base64":"JVBERi0xLjQ="}`, models.AttachmentDownloaded},
		{"http error", `{"ok":false,"status":404,"contentType":"","base64":""}`, models.AttachmentError},
		{"html error page", `{"ok":true,"status":200,"contentType":"text/html; charset=utf-8","base64":"PGh0bWw+"}`, models.AttachmentNotAFile},
		{"empty body", `{"ok":true,"status":200,"contentType":"application/pdf","base64":""}`, models.AttachmentError},
		{"transport error", `{"ok":false,"status":0,"base64":"","error":"TypeError: failed to fetch"}`, models.AttachmentError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page := &fakePage{onEval: func(string) (string, error) { return tc.response, nil }}
			eng := fastEngine(page)
			res := eng.DownloadDirect(context.Background(), "https://portal/inv/1/pdf", nil, testRecord("1"), models.AttachmentPDF)
			if res.Status != tc.status {
				t.Errorf("status = %s, want %s (error %q)", res.Status, tc.status, res.Error)
			}
		})
	}
}

func TestCache_DrainClaims(t *testing.T) {
	c := NewCache()
	c.Append(models.CapturedFile{Kind: models.AttachmentPDF, Base64: "YQ=="})
	c.Append(models.CapturedFile{Kind: models.AttachmentXML, Base64: "Yg=="})

	f, ok := c.Drain(func(f models.CapturedFile) bool { return f.Kind == models.AttachmentXML })
	if !ok || f.Base64 != "Yg==" {
		t.Fatalf("drain returned %+v, ok=%v", f, ok)
	}
	if c.Len() != 1 {
		t.Errorf("cache len = %d, want 1", c.Len())
	}
	if _, ok := c.Drain(func(f models.CapturedFile) bool { return f.Kind == models.AttachmentXML }); ok {
		t.Error("claimed entry drained twice")
	}
}

func TestBlobInterceptor_BindingDeliversToCache(t *testing.T) {
	page := &fakePage{}
	cache := NewCache()
	ic := NewBlobInterceptor(page, cache)
	if err := ic.Install(context.Background()); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	deliver := page.bindings[captureBinding]
	if deliver == nil {
		t.Fatal("capture binding not registered")
	}

	deliver(`{"kind":"xml","base64":"PGE+PC9hPg==","size":9,"contentType":"text/xml","filename":"inv.xml"}`)
	deliver(`not json`)                   // malformed payloads are dropped, not fatal
	deliver(`{"kind":"pdf","base64":""}`) // empty payloads are ignored

	if cache.Len() != 1 {
		t.Fatalf("cache len = %d, want 1", cache.Len())
	}
	f, _ := cache.Drain(func(models.CapturedFile) bool { return true })
	if f.Kind != models.AttachmentXML || f.Filename != "inv.xml" {
		t.Errorf("captured file = %+v", f)
	}
}
