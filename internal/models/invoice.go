package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Source identifies the portal an invoice was scraped from
type Source string

const (
	SourceGrab    Source = "grab"
	SourceTracuu  Source = "tracuu"
	SourceShinhan Source = "shinhan"
)

// AllSources lists the supported portals in fetch order
var AllSources = []Source{SourceGrab, SourceTracuu, SourceShinhan}

// ValidSource reports whether s names a supported portal
func ValidSource(s Source) bool {
	switch s {
	case SourceGrab, SourceTracuu, SourceShinhan:
		return true
	}
	return false
}

// AttachmentKind is the type of a captured attachment file
type AttachmentKind string

const (
	AttachmentPDF AttachmentKind = "pdf"
	AttachmentXML AttachmentKind = "xml"
)

// AttachmentStatus tracks the lifecycle of one attachment kind on a record
type AttachmentStatus string

const (
	AttachmentPending    AttachmentStatus = "pending"
	AttachmentDownloaded AttachmentStatus = "downloaded"
	AttachmentNoLink     AttachmentStatus = "no_link"
	AttachmentNotAFile   AttachmentStatus = "not_a_file"
	AttachmentError      AttachmentStatus = "error"
)

// InvoiceRecord is the canonical unit of work: one invoice scraped from a
// portal table, enriched in place by detail lookups and attachment capture,
// then consumed read-only by the sync orchestrator.
type InvoiceRecord struct {
	ID         uint   `gorm:"primaryKey" json:"-"`
	Source     Source `gorm:"column:source;index" json:"source"`
	ExternalID string `gorm:"column:external_id" json:"external_id"`

	InvoiceNumber string `gorm:"column:invoice_number;index" json:"invoice_number"`
	InvoiceCode   string `gorm:"column:invoice_code" json:"invoice_code"`
	InvoiceSymbol string `gorm:"column:invoice_symbol" json:"invoice_symbol"`
	InvoiceDate   string `gorm:"column:invoice_date" json:"invoice_date"` // YYYY-MM-DD or empty

	SellerTaxCode string `gorm:"column:seller_tax_code" json:"seller_tax_code"`
	SellerName    string `gorm:"column:seller_name" json:"seller_name"`

	AmountUntaxed float64 `gorm:"column:amount_untaxed" json:"amount_untaxed"`
	AmountTax     float64 `gorm:"column:amount_tax" json:"amount_tax"`
	AmountTotal   float64 `gorm:"column:amount_total" json:"amount_total"`

	// Positional context for re-locating download triggers in the live DOM.
	// The original element reference goes stale when the table re-renders,
	// so only the row index and a direct URL (when one exists) are kept.
	RowIndex   int    `gorm:"-" json:"-"`
	PDFURL     string `gorm:"-" json:"-"`
	XMLItemURL string `gorm:"-" json:"-"`
	HasPDFLink bool   `gorm:"-" json:"-"`
	HasXMLLink bool   `gorm:"-" json:"-"`

	PDFStatus   AttachmentStatus `gorm:"column:pdf_status" json:"pdf_status"`
	PDFBase64   string           `gorm:"-" json:"pdf_base64,omitempty"`
	PDFFilename string           `gorm:"column:pdf_filename" json:"pdf_filename,omitempty"`
	PDFError    string           `gorm:"-" json:"pdf_error,omitempty"`

	XMLStatus   AttachmentStatus `gorm:"column:xml_status" json:"xml_status"`
	XMLBase64   string           `gorm:"-" json:"xml_base64,omitempty"`
	XMLFilename string           `gorm:"column:xml_filename" json:"xml_filename,omitempty"`
	XMLError    string           `gorm:"-" json:"xml_error,omitempty"`

	CreatedAt time.Time      `gorm:"column:created_at" json:"-"`
	UpdatedAt time.Time      `gorm:"column:updated_at" json:"-"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the cache table name
func (InvoiceRecord) TableName() string {
	return "invoice_cache"
}

// EnsureTotal fills AmountTotal from the subtotal and tax when the table
// did not carry a total column.
func (r *InvoiceRecord) EnsureTotal() {
	if r.AmountTotal == 0 && (r.AmountUntaxed != 0 || r.AmountTax != 0) {
		r.AmountTotal = r.AmountUntaxed + r.AmountTax
	}
}

// SetAttachment records a successful capture for the given kind. A record's
// status is "downloaded" if and only if the payload is non-empty.
func (r *InvoiceRecord) SetAttachment(kind AttachmentKind, base64Data, filename string) {
	if base64Data == "" {
		r.SetAttachmentError(kind, "empty payload")
		return
	}
	switch kind {
	case AttachmentXML:
		r.XMLBase64 = base64Data
		r.XMLFilename = filename
		r.XMLStatus = AttachmentDownloaded
		r.XMLError = ""
	default:
		r.PDFBase64 = base64Data
		r.PDFFilename = filename
		r.PDFStatus = AttachmentDownloaded
		r.PDFError = ""
	}
}

// ApplyAttachment folds a download attempt's outcome into the record. This
// is the single write path from capture results to record state: downloaded
// results carry their payload in, failures carry their message, and the
// no_link / not_a_file outcomes land as status only.
func (r *InvoiceRecord) ApplyAttachment(kind AttachmentKind, res AttachmentResult) {
	switch res.Status {
	case AttachmentDownloaded:
		r.SetAttachment(kind, res.Base64, res.Filename)
	case AttachmentError:
		r.SetAttachmentError(kind, res.Error)
	case AttachmentNoLink, AttachmentNotAFile:
		if kind == AttachmentXML {
			r.XMLStatus = res.Status
			r.XMLError = res.Error
		} else {
			r.PDFStatus = res.Status
			r.PDFError = res.Error
		}
	}
}

// SetAttachmentError marks a failed capture, keeping the record usable
func (r *InvoiceRecord) SetAttachmentError(kind AttachmentKind, msg string) {
	switch kind {
	case AttachmentXML:
		r.XMLStatus = AttachmentError
		r.XMLError = msg
		r.XMLBase64 = ""
	default:
		r.PDFStatus = AttachmentError
		r.PDFError = msg
		r.PDFBase64 = ""
	}
}

// StripAttachments drops binary payloads before the record goes into the
// local cache, bounding storage size. Status is preserved so the UI can
// still show what was captured.
func (r *InvoiceRecord) StripAttachments() {
	r.PDFBase64 = ""
	r.XMLBase64 = ""
}

var taxCodeRe = regexp.MustCompile(`^\d{10}(\d{3})?$`)

// Validate checks a record before it is handed to the sync orchestrator.
// Mirrors the backend's staging constraints: number and source required,
// Vietnamese tax codes are 10 or 13 digits, amounts non-negative.
func (r *InvoiceRecord) Validate() []string {
	var errs []string

	if strings.TrimSpace(r.InvoiceNumber) == "" {
		errs = append(errs, "missing invoice number")
	}
	if !ValidSource(r.Source) {
		errs = append(errs, fmt.Sprintf("unknown source %q", r.Source))
	}
	if r.InvoiceDate != "" && !isISODate(r.InvoiceDate) {
		errs = append(errs, fmt.Sprintf("invalid invoice date %q", r.InvoiceDate))
	}
	if r.AmountTotal < 0 {
		errs = append(errs, "negative total amount")
	}
	if r.SellerTaxCode != "" {
		cleaned := strings.NewReplacer("-", "", " ", "").Replace(r.SellerTaxCode)
		if !taxCodeRe.MatchString(cleaned) {
			errs = append(errs, fmt.Sprintf("invalid seller tax code %q", r.SellerTaxCode))
		}
	}

	return errs
}

func isISODate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// CapturedFile is one intercepted binary download, transient: created by the
// capture engine's interceptors, consumed and discarded once matched to a
// record.
type CapturedFile struct {
	Kind        AttachmentKind
	Base64      string
	Size        int
	ContentType string
	Filename    string
	BlobURL     string
	CapturedAt  time.Time
}
