package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// Page is one browser tab. It satisfies capture.PageDriver: script
// evaluation in the page's context, synthetic click dispatch, and a
// page→collector notification binding.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
	url    string
}

// URL returns the tab URL observed at discovery time
func (p *Page) URL() string {
	return p.url
}

// Detach releases the tab context without closing the tab
func (p *Page) Detach() {
	p.cancel()
}

// Eval runs an expression in the page context. Promises are awaited; the
// settled value is unmarshaled into out when out is non-nil.
func (p *Page) Eval(ctx context.Context, expr string, out interface{}) error {
	runCtx, cancel := mergeDeadline(p.ctx, ctx)
	defer cancel()

	if out == nil {
		// Force an ignorable JSON-representable result; install scripts
		// are IIFEs evaluating to undefined, which CDP cannot serialize.
		var ok bool
		return chromedp.Run(runCtx, chromedp.Evaluate(fmt.Sprintf("(%s\n, true)", expr), &ok, awaitPromise))
	}
	return chromedp.Run(runCtx, chromedp.Evaluate(expr, out, awaitPromise))
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// DispatchClick fires a bubbling synthetic MouseEvent on the first element
// matching the selector. The event must bubble so the page's own delegated
// handlers fire; calling the element's click() directly would hit exactly
// the entry point the interceptor has patched.
func (p *Page) DispatchClick(ctx context.Context, selector string) error {
	selJSON, _ := json.Marshal(selector)
	expr := fmt.Sprintf(`(function () {
		var el = document.querySelector(%s);
		if (!el) return false;
		el.dispatchEvent(new MouseEvent('click', {bubbles: true, cancelable: true, view: window}));
		return true;
	})()`, selJSON)

	var found bool
	if err := p.Eval(ctx, expr, &found); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no element matches %q", selector)
	}
	return nil
}

// ExposeFunc registers a page-callable binding delivering one string
// argument to fn. Callbacks arrive on the tab's event goroutine.
func (p *Page) ExposeFunc(ctx context.Context, name string, fn func(payload string)) error {
	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		if e, ok := ev.(*runtime.EventBindingCalled); ok && e.Name == name {
			fn(e.Payload)
		}
	})

	runCtx, cancel := mergeDeadline(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.ActionFunc(func(c context.Context) error {
		return runtime.AddBinding(name).Do(c)
	}))
}

// HTML returns the document's current outer HTML, after any client-side
// rendering that has happened so far.
func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.Eval(ctx, "document.documentElement.outerHTML", &html)
	return html, err
}

// CurrentURL returns the tab's live location (it may have navigated since
// discovery).
func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	var u string
	if err := p.Eval(ctx, "window.location.href", &u); err != nil {
		return p.url, err
	}
	p.url = u
	return u, nil
}

// WaitForTableRows polls until the page holds a table with at least minRows
// populated body rows, bounded by timeout. On expiry it returns false
// rather than an error: SPA portals sometimes render late, and scraping
// proceeds best-effort with whatever is present.
func (p *Page) WaitForTableRows(ctx context.Context, minRows int, timeout time.Duration) bool {
	expr := fmt.Sprintf(`(function () {
		var tables = document.querySelectorAll('table');
		for (var i = 0; i < tables.length; i++) {
			var rows = tables[i].querySelectorAll('tbody tr');
			var populated = 0;
			for (var j = 0; j < rows.length; j++) {
				if (rows[j].querySelectorAll('td').length > 1) populated++;
			}
			if (populated >= %d) return true;
		}
		return false;
	})()`, minRows)

	deadline := time.Now().Add(timeout)
	for {
		var ready bool
		if err := p.Eval(ctx, expr, &ready); err == nil && ready {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(400 * time.Millisecond):
		}
	}
}

// textFetchResult mirrors the page-side fetch wrapper result
type textFetchResult struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

// FetchText GETs a URL from inside the page (same origin, session cookies
// attached) and returns the response body as text. Used for secondary
// detail-page lookups without navigating the user's tab away.
func (p *Page) FetchText(ctx context.Context, url string) (string, error) {
	urlJSON, _ := json.Marshal(url)
	expr := fmt.Sprintf(`(function () {
		return fetch(%s, {credentials: 'include'}).then(function (r) {
			return r.text().then(function (t) {
				return {ok: r.ok, status: r.status, text: t};
			});
		}).catch(function (e) {
			return {ok: false, status: 0, text: '', error: String(e)};
		});
	})()`, urlJSON)

	var res textFetchResult
	if err := p.Eval(ctx, expr, &res); err != nil {
		return "", err
	}
	if !res.OK {
		if res.Error != "" {
			return "", fmt.Errorf("fetch %s: %s", url, res.Error)
		}
		return "", fmt.Errorf("fetch %s: HTTP %d", url, res.Status)
	}
	return res.Text, nil
}

// FetchJSON GETs a URL from inside the page and unmarshals the JSON body
func (p *Page) FetchJSON(ctx context.Context, url string, out interface{}) error {
	text, err := p.FetchText(ctx, url)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(text), out)
}

// mergeDeadline derives a run context from the tab context that also
// honors the caller's cancellation and deadline.
func mergeDeadline(tabCtx, callCtx context.Context) (context.Context, context.CancelFunc) {
	if callCtx == nil {
		return context.WithCancel(tabCtx)
	}
	runCtx, cancel := context.WithCancel(tabCtx)
	stop := context.AfterFunc(callCtx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}
