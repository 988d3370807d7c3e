package scrape

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks removes combining marks after NFD decomposition, turning
// "Số Hóa Đơn" into "So Hoa Đon". The Vietnamese đ/Đ is a base letter,
// not a mark, so it is folded separately.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var dReplacer = strings.NewReplacer("đ", "d", "Đ", "D")

// NormalizeHeader lowercases a header cell and strips diacritics so that
// "Số Hóa Đơn", "SO HOA DON" and "so hoa don" all compare equal.
func NormalizeHeader(s string) string {
	s = dReplacer.Replace(strings.TrimSpace(s))
	if out, _, err := transform.String(stripMarks, s); err == nil {
		s = out
	}
	s = strings.ToLower(s)
	// Collapse internal whitespace, headers often wrap across lines
	return strings.Join(strings.Fields(s), " ")
}

// ParseAmount converts a display amount to a float, accepting both the
// European convention ("9.000,00") and the US convention ("9,000.00").
// Whichever separator occurs rightmost is the decimal point. Non-parseable
// input yields 0, never an error: the caller treats amounts as best-effort.
func ParseAmount(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	neg := strings.HasPrefix(s, "-") || strings.Contains(s, "(")

	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0
	}

	lastDot := strings.LastIndex(cleaned, ".")
	lastComma := strings.LastIndex(cleaned, ",")

	var decimal byte
	switch {
	case lastDot < 0 && lastComma < 0:
		// plain integer
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			decimal = '.'
		} else {
			decimal = ','
		}
	default:
		// A single separator kind. Exactly three trailing digits is the
		// thousands-grouping shape ("9.000"); anything else is a decimal.
		sep := byte('.')
		last := lastDot
		if lastComma >= 0 {
			sep = ','
			last = lastComma
		}
		if len(cleaned)-last-1 == 3 && strings.Count(cleaned, string(sep)) >= 1 && groupedByThousands(cleaned, sep) {
			decimal = 0
		} else {
			decimal = sep
		}
	}

	var out strings.Builder
	for i := 0; i < len(cleaned); i++ {
		c := cleaned[i]
		switch {
		case c >= '0' && c <= '9':
			out.WriteByte(c)
		case c == decimal && decimal != 0:
			out.WriteByte('.')
		}
	}

	v, err := strconv.ParseFloat(out.String(), 64)
	if err != nil {
		return 0
	}
	if neg {
		v = -v
	}
	return v
}

// groupedByThousands reports whether every group after the first separator
// has exactly three digits, i.e. the separator is grouping, not decimal.
func groupedByThousands(s string, sep byte) bool {
	parts := strings.Split(s, string(sep))
	for i, p := range parts {
		if i == 0 {
			if p == "" || len(p) > 3 {
				return false
			}
			continue
		}
		if len(p) != 3 {
			return false
		}
	}
	return true
}

var (
	dmyRe = regexp.MustCompile(`^(\d{2})[/.\-](\d{2})[/.\-](\d{4})$`)
	isoRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// NormalizeDate converts DD/MM/YYYY, DD-MM-YYYY and DD.MM.YYYY to
// YYYY-MM-DD. ISO dates pass through unchanged. Anything else returns the
// empty string: an unparseable date is nulled, never guessed.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if isoRe.MatchString(s) {
		return s
	}
	if m := dmyRe.FindStringSubmatch(s); m != nil {
		return m[3] + "-" + m[2] + "-" + m[1]
	}
	return ""
}

// invoiceNumRe matches a 4-12 digit numeric id, optionally with one
// leading letter ("A123456"). Used as the last-resort invoice number scan.
var invoiceNumRe = regexp.MustCompile(`^[A-Za-z]?\d{4,12}$`)

// FindInvoiceNumberToken scans cell texts for the first token that looks
// like an invoice number. Tokens containing date punctuation never match.
func FindInvoiceNumberToken(cells []string) string {
	for _, cell := range cells {
		for _, tok := range strings.Fields(cell) {
			if strings.ContainsAny(tok, "/-.") {
				continue
			}
			if invoiceNumRe.MatchString(tok) {
				return tok
			}
		}
	}
	return ""
}
