package scrape

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func docFromHTML(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("failed to parse fixture HTML: %v", err)
	}
	return doc
}

func TestLocateTable_PrefersKeywordTableOverDecoy(t *testing.T) {
	html := `
	<html><body>
	<table id="nav">
		<tr><th>Menu</th><th>Link</th><th>Info</th></tr>
		<tr><td>Home</td><td>/</td><td>-</td></tr>
	</table>
	<table id="invoices">
		<thead><tr>
			<th>STT</th><th>Số hóa đơn</th><th>Ký hiệu</th><th>Ngày lập</th>
			<th>MST</th><th>Nhà cung cấp</th><th>Tổng tiền</th><th>Tải về</th>
		</tr></thead>
		<tbody><tr><td>1</td><td>0001234</td><td>C24T</td><td>05/03/2024</td>
			<td>0108951191</td><td>ABC Co</td><td>9.000,00</td><td><a href="#">PDF</a></td></tr></tbody>
	</table>
	</body></html>`

	loc, err := LocateTable(docFromHTML(t, html))
	if err != nil {
		t.Fatalf("LocateTable failed: %v", err)
	}
	if id, _ := loc.Table.Attr("id"); id != "invoices" {
		t.Errorf("selected table id = %q, want invoices", id)
	}
	if loc.LowConfidence {
		t.Error("keyword match should not be low confidence")
	}
	if len(loc.HeaderCells) != 8 {
		t.Errorf("header cells = %d, want 8", len(loc.HeaderCells))
	}
}

func TestLocateTable_ClassHint(t *testing.T) {
	html := `
	<table><tr><th>A</th><th>B</th><th>C</th></tr></table>
	<table class="p-datatable-table"><tr><th>c1</th><th>c2</th><th>c3</th><th>c4</th><th>c5</th></tr></table>`

	loc, err := LocateTable(docFromHTML(t, html))
	if err != nil {
		t.Fatalf("LocateTable failed: %v", err)
	}
	if class, _ := loc.Table.Attr("class"); class != "p-datatable-table" {
		t.Errorf("selected table class = %q", class)
	}
}

func TestLocateTable_MostColumnsIsLowConfidence(t *testing.T) {
	html := `
	<table><tr><th>A</th><th>B</th><th>C</th></tr></table>
	<table id="wide"><tr><th>c1</th><th>c2</th><th>c3</th><th>c4</th><th>c5</th><th>c6</th></tr></table>`

	loc, err := LocateTable(docFromHTML(t, html))
	if err != nil {
		t.Fatalf("LocateTable failed: %v", err)
	}
	if id, _ := loc.Table.Attr("id"); id != "wide" {
		t.Errorf("selected table id = %q, want wide", id)
	}
	if !loc.LowConfidence {
		t.Error("most-columns match must be flagged low confidence")
	}
}

func TestLocateTable_NotFound(t *testing.T) {
	// Only a narrow decoy present: below the minimum column count
	html := `<table><tr><th>A</th><th>B</th><th>C</th></tr></table>`
	if _, err := LocateTable(docFromHTML(t, html)); err != ErrTableNotFound {
		t.Errorf("err = %v, want ErrTableNotFound", err)
	}

	if _, err := LocateTable(docFromHTML(t, "<p>no tables</p>")); err != ErrTableNotFound {
		t.Errorf("err = %v, want ErrTableNotFound", err)
	}
}
