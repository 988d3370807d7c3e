package store

import (
	"path/filepath"
	"testing"

	"github.com/ntptech/invoice-collector/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestReplaceInvoicesStripsAttachments(t *testing.T) {
	s := openTestStore(t)

	rec := &models.InvoiceRecord{
		Source:        models.SourceShinhan,
		InvoiceNumber: "SH100",
		InvoiceDate:   "2026-03-10",
		AmountTotal:   120000,
		PDFStatus:     models.AttachmentDownloaded,
		PDFBase64:     "JVBERi0xLjQ=",
		PDFFilename:   "sh100.pdf",
	}
	if err := s.ReplaceInvoices([]*models.InvoiceRecord{rec}, "sess-1"); err != nil {
		t.Fatalf("ReplaceInvoices: %v", err)
	}

	// Caller's record keeps its payload; only the stored copy is stripped
	if rec.PDFBase64 == "" {
		t.Error("ReplaceInvoices must not mutate the caller's record")
	}

	loaded, err := s.LoadInvoices()
	if err != nil {
		t.Fatalf("LoadInvoices: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("got %d records", len(loaded))
	}
	got := loaded[0]
	if got.PDFBase64 != "" {
		t.Error("payload must not be cached")
	}
	if got.PDFStatus != models.AttachmentDownloaded || got.PDFFilename != "sh100.pdf" {
		t.Errorf("attachment metadata lost: %+v", got)
	}
}

func TestReplaceInvoicesOverwritesPreviousFetch(t *testing.T) {
	s := openTestStore(t)

	first := []*models.InvoiceRecord{
		{Source: models.SourceGrab, InvoiceNumber: "OLD1"},
		{Source: models.SourceGrab, InvoiceNumber: "OLD2"},
	}
	if err := s.ReplaceInvoices(first, "sess-1"); err != nil {
		t.Fatal(err)
	}
	second := []*models.InvoiceRecord{
		{Source: models.SourceTracuu, InvoiceNumber: "NEW1"},
	}
	if err := s.ReplaceInvoices(second, "sess-2"); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadInvoices()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0].InvoiceNumber != "NEW1" {
		t.Fatalf("stale fetch leaked into cache: %+v", loaded)
	}

	meta, err := s.LastFetch()
	if err != nil {
		t.Fatal(err)
	}
	if meta == nil || meta.SessionID != "sess-2" {
		t.Errorf("meta = %+v", meta)
	}
}

func TestLoadInvoicesBySource(t *testing.T) {
	s := openTestStore(t)
	_ = s.ReplaceInvoices([]*models.InvoiceRecord{
		{Source: models.SourceGrab, InvoiceNumber: "G1"},
		{Source: models.SourceShinhan, InvoiceNumber: "S1"},
		{Source: models.SourceGrab, InvoiceNumber: "G2"},
	}, "sess")

	grabOnly, err := s.LoadInvoicesBySource(models.SourceGrab)
	if err != nil {
		t.Fatal(err)
	}
	if len(grabOnly) != 2 {
		t.Fatalf("got %d grab records, want 2", len(grabOnly))
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	// Fresh store serves defaults
	defaults, err := s.LoadSettings()
	if err != nil {
		t.Fatal(err)
	}
	if defaults.FetchDays != 30 || defaults.BatchSize != 5 {
		t.Errorf("defaults = %+v", defaults)
	}

	saved := &models.Settings{
		BackendURL:  "https://odoo.example.com",
		TokenSealed: "c2VhbGVk",
		FetchDays:   14,
		BatchSize:   10,
	}
	if err := s.SaveSettings(saved); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadSettings()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.BackendURL != saved.BackendURL || loaded.FetchDays != 14 {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.TokenSealed != "c2VhbGVk" {
		t.Error("sealed token not persisted")
	}

	// Saving again updates the singleton, never adds a row
	saved.FetchDays = 7
	_ = s.SaveSettings(saved)
	again, _ := s.LoadSettings()
	if again.FetchDays != 7 {
		t.Errorf("update not applied: %+v", again)
	}
}

func TestLastFetchEmpty(t *testing.T) {
	s := openTestStore(t)
	meta, err := s.LastFetch()
	if err != nil {
		t.Fatal(err)
	}
	if meta != nil {
		t.Errorf("expected nil meta on empty store, got %+v", meta)
	}
}
