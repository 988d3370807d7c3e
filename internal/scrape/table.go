package scrape

import (
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrTableNotFound is returned when no candidate invoice table exists in a
// document. Callers treat it as a per-portal failure, not a crash.
var ErrTableNotFound = errors.New("no invoice table found in document")

// minFallbackColumns is the minimum header count for the most-columns
// heuristic. Below this a table is too narrow to be an invoice list.
const minFallbackColumns = 4

// headerKeywords are the phrases that positively identify an invoice table
// by its header row, checked against NormalizeHeader output.
var headerKeywords = []string{
	"so hoa don", "so hd", "invoice no", "invoice number",
	"ky hieu", "ma tra cuu",
}

// classHints are CSS classes the target portals use on their invoice grids
var classHints = []string{
	"invoice-table", "table-invoice", "invoice-list",
	"danh-sach-hoa-don", "mat-table", "p-datatable-table", "grid-invoice",
}

// LocatedTable is a table selected by LocateTable. LowConfidence is set when
// only the most-columns heuristic matched; callers should expect that such a
// table may not hold invoices at all.
type LocatedTable struct {
	Table         *goquery.Selection
	HeaderCells   []string
	LowConfidence bool
}

// LocateTable finds the one table holding invoice rows among potentially
// several unrelated tables. Priority: header keywords, then CSS class hints,
// then the widest table with at least minFallbackColumns header cells.
func LocateTable(doc *goquery.Document) (*LocatedTable, error) {
	tables := doc.Find("table")
	if tables.Length() == 0 {
		return nil, ErrTableNotFound
	}

	// 1. Header keyword match, most reliable across portals
	var byKeyword *LocatedTable
	tables.EachWithBreak(func(_ int, tbl *goquery.Selection) bool {
		headers := HeaderCells(tbl)
		for _, h := range headers {
			norm := NormalizeHeader(h)
			for _, kw := range headerKeywords {
				if strings.Contains(norm, kw) {
					byKeyword = &LocatedTable{Table: tbl, HeaderCells: headers}
					return false
				}
			}
		}
		return true
	})
	if byKeyword != nil {
		return byKeyword, nil
	}

	// 2. Styling hints
	var byClass *LocatedTable
	tables.EachWithBreak(func(_ int, tbl *goquery.Selection) bool {
		class, _ := tbl.Attr("class")
		for _, hint := range classHints {
			if strings.Contains(class, hint) {
				byClass = &LocatedTable{Table: tbl, HeaderCells: HeaderCells(tbl)}
				return false
			}
		}
		return true
	})
	if byClass != nil {
		return byClass, nil
	}

	// 3. Most columns, low confidence: risks picking an unrelated table,
	// so a minimum width is still required
	var widest *goquery.Selection
	var widestHeaders []string
	tables.Each(func(_ int, tbl *goquery.Selection) {
		headers := HeaderCells(tbl)
		if len(headers) >= minFallbackColumns && len(headers) > len(widestHeaders) {
			widest = tbl
			widestHeaders = headers
		}
	})
	if widest != nil {
		return &LocatedTable{Table: widest, HeaderCells: widestHeaders, LowConfidence: true}, nil
	}

	return nil, ErrTableNotFound
}

// HeaderCells extracts the text of a table's header row. Tables without a
// thead fall back to the first row, th or td.
func HeaderCells(tbl *goquery.Selection) []string {
	row := tbl.Find("thead tr").First()
	if row.Length() == 0 {
		row = tbl.Find("tr").First()
	}
	cells := row.Find("th")
	if cells.Length() == 0 {
		cells = row.Find("td")
	}

	out := make([]string, 0, cells.Length())
	cells.Each(func(_ int, c *goquery.Selection) {
		out = append(out, strings.TrimSpace(c.Text()))
	})
	return out
}

// DataRows returns the table's data rows, skipping the header row when the
// table has no tbody.
func DataRows(tbl *goquery.Selection) *goquery.Selection {
	body := tbl.Find("tbody tr")
	if body.Length() > 0 {
		return body
	}
	return tbl.Find("tr").Slice(1, goquery.ToEnd)
}
