package scrape

import (
	"testing"

	"github.com/ntptech/invoice-collector/internal/models"
)

func TestMapColumns_InvoiceNumberSynonyms(t *testing.T) {
	// The invoice number column must be found regardless of language,
	// case and diacritics.
	cases := [][]string{
		{"STT", "Số Hóa Đơn", "Ngày lập", "Tổng tiền"},
		{"STT", "SO HOA DON", "Ngay lap", "Tong tien"},
		{"#", "Invoice No.", "Invoice Date", "Total"},
		{"#", "Invoice Number", "Date", "Total"},
	}

	for _, headers := range cases {
		cm := MapColumns(headers)
		if got := cm.Col(FieldInvoiceNumber); got != 1 {
			t.Errorf("headers %v: invoice number column = %d, want 1", headers, got)
		}
	}
}

func TestMapColumns_FullTable(t *testing.T) {
	headers := []string{
		"STT",
		"Số hóa đơn",
		"Mã tra cứu",
		"Ký hiệu",
		"Ngày lập",
		"Mã số thuế",
		"Nhà cung cấp",
		"Tiền trước thuế",
		"Tiền thuế",
		"Tổng tiền",
		"Tải về",
	}

	cm := MapColumns(headers)

	want := map[Field]int{
		FieldInvoiceNumber: 1,
		FieldInvoiceCode:   2,
		FieldInvoiceSymbol: 3,
		FieldInvoiceDate:   4,
		FieldSellerTaxCode: 5,
		FieldSellerName:    6,
		FieldAmountUntaxed: 7,
		FieldAmountTax:     8,
		FieldAmountTotal:   9,
		FieldAction:        10,
	}

	for f, idx := range want {
		if got := cm.Col(f); got != idx {
			t.Errorf("field %s mapped to %d, want %d", f, got, idx)
		}
	}
}

func TestMapColumns_HeaderClaimsAtMostOneField(t *testing.T) {
	// Two headers both resembling the number column: only the first claims it
	cm := MapColumns([]string{"Số hóa đơn", "Số hóa đơn gốc"})
	if got := cm.Col(FieldInvoiceNumber); got != 0 {
		t.Errorf("invoice number column = %d, want 0", got)
	}
}

func TestMapColumnsForSource_PositionalFallback(t *testing.T) {
	// Headers with no recognizable keywords at the portal's known width
	headers := make([]string, 8)
	for i := range headers {
		headers[i] = "Cột"
	}

	cm := MapColumnsForSource(headers, models.SourceTracuu)
	if got := cm.Col(FieldInvoiceNumber); got != 0 {
		t.Errorf("fallback invoice number column = %d, want 0", got)
	}
	if got := cm.Col(FieldSellerName); got != 5 {
		t.Errorf("fallback seller name column = %d, want 5", got)
	}

	// Width mismatch must NOT apply the fallback
	cm = MapColumnsForSource(headers[:6], models.SourceTracuu)
	if got := cm.Col(FieldInvoiceNumber); got != -1 {
		t.Errorf("fallback applied at wrong width, invoice number column = %d", got)
	}
}

func TestPositionalFallbacks_PinnedWidths(t *testing.T) {
	// A portal layout change shows up here as a failing test instead of a
	// silent column mis-mapping. Update the fallback layout AND this pin
	// together after verifying the new portal table.
	pins := map[models.Source]struct {
		version string
		width   int
	}{
		models.SourceGrab:    {"2024-09", 7},
		models.SourceTracuu:  {"2024-11", 8},
		models.SourceShinhan: {"2025-01", 10},
	}

	for src, pin := range pins {
		fb, ok := FallbackFor(src)
		if !ok {
			t.Fatalf("no positional fallback registered for %s", src)
		}
		if fb.Version != pin.version {
			t.Errorf("%s fallback version = %s, want %s", src, fb.Version, pin.version)
		}
		if fb.Width != pin.width {
			t.Errorf("%s fallback width = %d, want %d", src, fb.Width, pin.width)
		}
		for f, idx := range fb.Positions {
			if idx < 0 || idx >= fb.Width {
				t.Errorf("%s fallback maps %s to %d, outside width %d", src, f, idx, fb.Width)
			}
		}
	}
}
