package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/chromedp/chromedp"
)

// ErrNoTab is returned when no open tab matches a portal's URL patterns.
// The user must open and log in to the portal before fetching.
var ErrNoTab = errors.New("no open tab matches the portal URL")

// Session attaches to an already-running Chrome over the DevTools protocol.
// The collector never launches its own browser: scraping requires the
// user's live, logged-in portal sessions.
type Session struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
}

// Connect attaches to Chrome at the given DevTools URL
// (e.g. ws://127.0.0.1:9222). Chrome must have been started with
// --remote-debugging-port.
func Connect(parent context.Context, devtoolsURL string) (*Session, error) {
	if devtoolsURL == "" {
		return nil, fmt.Errorf("devtools URL is required (start Chrome with --remote-debugging-port)")
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(parent, devtoolsURL)
	ctx, cancel := chromedp.NewContext(allocCtx)

	// Probe the connection so a wrong port fails here, not mid-scrape
	if _, err := chromedp.Targets(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("cannot reach Chrome at %s: %w", devtoolsURL, err)
	}

	log.Printf("🌐 Attached to Chrome at %s", devtoolsURL)
	return &Session{allocCtx: allocCtx, allocCancel: allocCancel, ctx: ctx, cancel: cancel}, nil
}

// Close detaches from the browser. Tabs stay open; only the collector's
// connection is torn down.
func (s *Session) Close() {
	s.cancel()
	s.allocCancel()
}

// FindTab locates the first open page tab whose URL contains any of the
// given substrings and returns a Page bound to it.
func (s *Session) FindTab(patterns []string) (*Page, error) {
	targets, err := chromedp.Targets(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("listing browser targets: %w", err)
	}

	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		for _, pat := range patterns {
			if strings.Contains(t.URL, pat) {
				tabCtx, tabCancel := chromedp.NewContext(s.ctx, chromedp.WithTargetID(t.TargetID))
				return &Page{ctx: tabCtx, cancel: tabCancel, url: t.URL}, nil
			}
		}
	}

	return nil, ErrNoTab
}
