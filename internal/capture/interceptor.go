package capture

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/ntptech/invoice-collector/internal/models"
)

// PageDriver is the narrow browser capability the capture engine needs.
// The production implementation speaks the DevTools protocol
// (internal/browser); tests substitute a fake.
type PageDriver interface {
	// Eval runs a script expression in the page's privileged context and
	// unmarshals its JSON result into out (out may be nil).
	Eval(ctx context.Context, expr string, out interface{}) error
	// DispatchClick fires a bubbling synthetic click on the first element
	// matching the selector, so the page's own handlers run.
	DispatchClick(ctx context.Context, selector string) error
	// ExposeFunc registers a page-callable function receiving one string
	// argument. This is the one-way page→collector notification channel.
	ExposeFunc(ctx context.Context, name string, fn func(payload string)) error
}

// Interceptor is an installable capture technique. Install patches browser
// primitives inside the page; Uninstall restores them. Captured files land
// in the engine's cache via the PageDriver binding.
type Interceptor interface {
	Install(ctx context.Context) error
	Uninstall(ctx context.Context) error
}

// captureBinding is the page-side function name used to deliver captures
const captureBinding = "__ntpFileCaptured"

// capturePayload mirrors the JSON the page-side hooks send through the binding
type capturePayload struct {
	Kind        string `json:"kind"`
	Base64      string `json:"base64"`
	Size        int    `json:"size"`
	ContentType string `json:"contentType"`
	Filename    string `json:"filename"`
	BlobURL     string `json:"blobUrl"`
}

// bindingHandler parses a page-side capture notification into the cache
func bindingHandler(cache *Cache) func(string) {
	return func(payload string) {
		var p capturePayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			log.Printf("⚠️ Dropping malformed capture payload: %v", err)
			return
		}
		if p.Base64 == "" {
			return
		}
		kind := models.AttachmentPDF
		if p.Kind == "xml" {
			kind = models.AttachmentXML
		}
		cache.Append(models.CapturedFile{
			Kind:        kind,
			Base64:      p.Base64,
			Size:        p.Size,
			ContentType: p.ContentType,
			Filename:    p.Filename,
			BlobURL:     p.BlobURL,
			CapturedAt:  time.Now(),
		})
	}
}

// BlobInterceptor patches the page's binary-object entry points:
// URL.createObjectURL, anchor click, window.open and createElement('a').
// Blob downloads triggered by the page's own script are suppressed from
// saving to disk and redirected into the capture cache instead.
type BlobInterceptor struct {
	page  PageDriver
	cache *Cache
}

// NewBlobInterceptor builds the privileged-context interceptor
func NewBlobInterceptor(page PageDriver, cache *Cache) *BlobInterceptor {
	return &BlobInterceptor{page: page, cache: cache}
}

// Install registers the capture binding and patches the page. Installing
// twice is a no-op on the page side.
func (b *BlobInterceptor) Install(ctx context.Context) error {
	if err := b.page.ExposeFunc(ctx, captureBinding, bindingHandler(b.cache)); err != nil {
		return err
	}
	if err := b.page.Eval(ctx, blobInterceptJS, nil); err != nil {
		return err
	}
	log.Println("🪝 Blob interceptor installed in page context")
	return nil
}

// Uninstall restores the original entry points
func (b *BlobInterceptor) Uninstall(ctx context.Context) error {
	return b.page.Eval(ctx, blobUninstallJS, nil)
}

// NetworkSniffer wraps fetch and XMLHttpRequest and captures responses whose
// content type sniffs as PDF/XML. Used on pages where patching the blob
// entry points is not possible; capture is independent of click timing.
type NetworkSniffer struct {
	page  PageDriver
	cache *Cache
}

// NewNetworkSniffer builds the network-layer interceptor
func NewNetworkSniffer(page PageDriver, cache *Cache) *NetworkSniffer {
	return &NetworkSniffer{page: page, cache: cache}
}

// Install registers the capture binding and wraps the request primitives
func (n *NetworkSniffer) Install(ctx context.Context) error {
	if err := n.page.ExposeFunc(ctx, captureBinding, bindingHandler(n.cache)); err != nil {
		return err
	}
	if err := n.page.Eval(ctx, networkSniffJS, nil); err != nil {
		return err
	}
	log.Println("🪝 Network sniffer installed in page context")
	return nil
}

// Uninstall restores fetch and XMLHttpRequest
func (n *NetworkSniffer) Uninstall(ctx context.Context) error {
	return n.page.Eval(ctx, networkUninstallJS, nil)
}
