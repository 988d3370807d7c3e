package portal

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ntptech/invoice-collector/internal/capture"
	"github.com/ntptech/invoice-collector/internal/models"
)

// shinhanRenderWait bounds how long the SPA gets to render its table
// before scraping proceeds against whatever is present.
const shinhanRenderWait = 9 * time.Second

// ShinhanAdapter scrapes the Shinhan e-invoice portal. The app is a SPA:
// the table renders asynchronously, downloads are produced client-side as
// Blobs with no fetchable URL, and the session lives in a localStorage JWT.
type ShinhanAdapter struct {
	classifier ColumnClassifier
}

// NewShinhanAdapter creates the Shinhan portal adapter
func NewShinhanAdapter(classifier ColumnClassifier) *ShinhanAdapter {
	return &ShinhanAdapter{classifier: classifier}
}

func (a *ShinhanAdapter) Source() models.Source { return models.SourceShinhan }
func (a *ShinhanAdapter) Name() string          { return "Shinhan E-Invoice" }

func (a *ShinhanAdapter) URLPatterns() []string {
	return []string{"einvoice.shinhan", "shinhan.com"}
}

// IsLoggedIn checks the stored access token's expiry without verifying its
// signature; the collector only needs to know whether the portal will still
// honor the session, not to trust the token.
func (a *ShinhanAdapter) IsLoggedIn(ctx context.Context, page Page) bool {
	var token string
	err := page.Eval(ctx,
		`localStorage.getItem('access_token') || localStorage.getItem('token') || sessionStorage.getItem('access_token') || ''`,
		&token)
	if err == nil && token != "" {
		if exp, ok := tokenExpiry(token); ok {
			return time.Now().Before(exp)
		}
		// Opaque token: present counts as logged in
		return true
	}

	url, err := page.CurrentURL(ctx)
	if err != nil {
		return false
	}
	if strings.Contains(url, "login") {
		return false
	}
	return hasAnyElement(ctx, page, ".user-profile", "button[title*='Logout']", "a[href*='logout']")
}

// tokenExpiry reads the exp claim from an unverified JWT
func tokenExpiry(token string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// NewEngine installs the Blob interceptor: Shinhan's export buttons build
// files in page memory and hand them to an anchor click, so capture happens
// at URL.createObjectURL before the browser's download path runs.
func (a *ShinhanAdapter) NewEngine(page Page) *capture.Engine {
	eng := capture.NewEngine(page, nil)
	return eng.WithInterceptor(capture.NewBlobInterceptor(page, eng.Cache()))
}

func (a *ShinhanAdapter) ScrapeInvoices(ctx context.Context, page Page) ([]*models.InvoiceRecord, error) {
	if !page.WaitForTableRows(ctx, 1, shinhanRenderWait) {
		log.Printf("⚠️ [SHINHAN] table did not render within %s, scraping current DOM", shinhanRenderWait)
	}
	return scrapeInvoiceTable(ctx, page, models.SourceShinhan, a.classifier)
}

func (a *ShinhanAdapter) DownloadAttachment(ctx context.Context, page Page, eng *capture.Engine, rec *models.InvoiceRecord, kind models.AttachmentKind) models.AttachmentResult {
	hasLink := rec.HasPDFLink
	if kind == models.AttachmentXML {
		hasLink = rec.HasXMLLink
	}
	if !hasLink {
		return markNoLink(rec, kind)
	}
	return eng.DownloadViaClick(ctx, rowTriggerSelector(rec.RowIndex, kind), rec, kind)
}
