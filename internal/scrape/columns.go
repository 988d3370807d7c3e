package scrape

import (
	"strings"

	"github.com/ntptech/invoice-collector/internal/models"
)

// Field is a semantic column role in an invoice table
type Field string

const (
	FieldInvoiceNumber Field = "invoice_number"
	FieldInvoiceCode   Field = "invoice_code"
	FieldInvoiceSymbol Field = "invoice_symbol"
	FieldInvoiceDate   Field = "invoice_date"
	FieldSellerTaxCode Field = "seller_tax_code"
	FieldSellerName    Field = "seller_name"
	FieldAmountUntaxed Field = "amount_untaxed"
	FieldAmountTax     Field = "amount_tax"
	FieldAmountTotal   Field = "amount_total"
	FieldAction        Field = "action"
)

// ColumnMap maps semantic fields to column indexes for one table instance.
// Rebuilt on every scrape, never persisted.
type ColumnMap map[Field]int

// Col returns the mapped index or -1 when the field was not found
func (cm ColumnMap) Col(f Field) int {
	if i, ok := cm[f]; ok {
		return i
	}
	return -1
}

// keywordGroup binds one semantic field to its header synonyms. Keywords are
// matched by substring against NormalizeHeader output, so they are written
// lowercase and without diacritics.
type keywordGroup struct {
	field    Field
	keywords []string
}

// fieldKeywords is priority-ordered: the first group whose keyword matches
// claims the header cell, and each field is claimed at most once. More
// specific phrases sit above generic ones so "tong tien thanh toan" lands
// on the total, not on a bare "tien" match.
var fieldKeywords = []keywordGroup{
	{FieldInvoiceNumber, []string{"so hoa don", "so hd", "invoice no", "invoice number", "so don"}},
	{FieldInvoiceCode, []string{"ma tra cuu", "ma so bi mat", "ma nhan hoa don", "lookup code", "invoice code"}},
	{FieldInvoiceSymbol, []string{"ky hieu", "mau so", "serial", "symbol"}},
	{FieldInvoiceDate, []string{"ngay lap", "ngay hoa don", "ngay phat hanh", "invoice date", "issued date", "ngay", "date"}},
	{FieldSellerTaxCode, []string{"ma so thue", "mst", "tax code", "taxcode"}},
	{FieldSellerName, []string{"ten ncc", "nha cung cap", "nguoi ban", "don vi ban", "ten cong ty", "seller", "supplier"}},
	{FieldAmountUntaxed, []string{"truoc thue", "chua thue", "thanh tien", "tien hang", "subtotal", "before tax"}},
	{FieldAmountTax, []string{"tien thue", "thue gtgt", "vat", "tax amount"}},
	{FieldAmountTotal, []string{"tong tien", "tong cong", "thanh toan", "total"}},
	{FieldAction, []string{"tai ve", "tai xuong", "thao tac", "chuc nang", "hanh dong", "download", "action", "xem"}},
}

// MapColumns infers the semantic role of each header cell. A header matches
// at most one field; the first matching keyword group wins.
func MapColumns(headers []string) ColumnMap {
	cm := make(ColumnMap)
	claimed := make(map[Field]bool)

	for idx, h := range headers {
		norm := NormalizeHeader(h)
		if norm == "" {
			continue
		}
		for _, grp := range fieldKeywords {
			if claimed[grp.field] {
				continue
			}
			if matchesGroup(norm, grp.keywords) {
				cm[grp.field] = idx
				claimed[grp.field] = true
				break
			}
		}
	}

	return cm
}

func matchesGroup(norm string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(norm, kw) {
			return true
		}
	}
	return false
}

// PositionalFallback is a fixed-width column layout for one portal, applied
// only when keyword mapping failed to find the invoice number column AND
// the table's header count equals the layout's known width. Each layout is
// versioned so a portal redesign fails a pinned test instead of silently
// mis-mapping columns.
type PositionalFallback struct {
	Version   string
	Width     int
	Positions map[Field]int
}

// positionalFallbacks holds the current known fixed layouts per portal
var positionalFallbacks = map[models.Source]PositionalFallback{
	models.SourceTracuu: {
		Version: "2024-11",
		Width:   8,
		Positions: map[Field]int{
			FieldInvoiceNumber: 0,
			FieldInvoiceCode:   1,
			FieldInvoiceSymbol: 2,
			FieldInvoiceDate:   3,
			FieldSellerTaxCode: 4,
			FieldSellerName:    5,
			FieldAmountTotal:   6,
			FieldAction:        7,
		},
	},
	models.SourceShinhan: {
		Version: "2025-01",
		Width:   10,
		Positions: map[Field]int{
			FieldInvoiceSymbol: 1,
			FieldInvoiceNumber: 2,
			FieldInvoiceDate:   3,
			FieldSellerTaxCode: 4,
			FieldSellerName:    5,
			FieldAmountUntaxed: 6,
			FieldAmountTax:     7,
			FieldAmountTotal:   8,
			FieldAction:        9,
		},
	},
	models.SourceGrab: {
		Version: "2024-09",
		Width:   7,
		Positions: map[Field]int{
			FieldInvoiceNumber: 0,
			FieldInvoiceSymbol: 1,
			FieldInvoiceDate:   2,
			FieldAmountUntaxed: 3,
			FieldAmountTax:     4,
			FieldAmountTotal:   5,
			FieldAction:        6,
		},
	},
}

// FallbackFor exposes a portal's positional layout for layout-pinning tests
func FallbackFor(src models.Source) (PositionalFallback, bool) {
	fb, ok := positionalFallbacks[src]
	return fb, ok
}

// MapColumnsForSource maps headers by keyword, then falls back to the
// portal's fixed layout when the invoice number column could not be found
// and the header count matches the layout's known width.
func MapColumnsForSource(headers []string, src models.Source) ColumnMap {
	cm := MapColumns(headers)
	if cm.Col(FieldInvoiceNumber) >= 0 {
		return cm
	}
	fb, ok := positionalFallbacks[src]
	if !ok || len(headers) != fb.Width {
		return cm
	}
	for f, idx := range fb.Positions {
		if _, mapped := cm[f]; !mapped {
			cm[f] = idx
		}
	}
	return cm
}
