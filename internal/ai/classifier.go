package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/ntptech/invoice-collector/internal/scrape"
	"github.com/ntptech/invoice-collector/internal/utils"
)

// completer is the narrow LLM capability the classifier needs; tests
// substitute a canned implementation.
type completer interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// HeaderClassifier assigns semantic fields to table headers the keyword
// matcher could not place. It only ever fills gaps: columns the keyword
// matcher already claimed are never shown to the model, so a hallucinated
// answer cannot override a deterministic one.
type HeaderClassifier struct {
	llm completer
}

// NewHeaderClassifier wraps a Gemini client. A nil client disables
// classification; Classify then returns the input map unchanged.
func NewHeaderClassifier(llm *GeminiClient) *HeaderClassifier {
	if llm == nil {
		return &HeaderClassifier{}
	}
	return &HeaderClassifier{llm: llm}
}

var classifiableFields = []scrape.Field{
	scrape.FieldInvoiceNumber,
	scrape.FieldInvoiceCode,
	scrape.FieldInvoiceSymbol,
	scrape.FieldInvoiceDate,
	scrape.FieldSellerTaxCode,
	scrape.FieldSellerName,
	scrape.FieldAmountUntaxed,
	scrape.FieldAmountTax,
	scrape.FieldAmountTotal,
}

const classifyPromptFmt = `You are mapping columns of a Vietnamese e-invoice table.
For each numbered header below, answer with one of these field names, or "unknown":
%s

Headers:
%s

Answer with a JSON object mapping header number (as string) to field name.
Answer with JSON only, no explanation.`

// Classify fills unmapped columns in cm using the model. headers is the
// full header row; only indexes absent from cm are submitted. Errors
// degrade to the unmodified map: classification is an enhancement, never
// a dependency.
func (h *HeaderClassifier) Classify(ctx context.Context, headers []string, cm scrape.ColumnMap) scrape.ColumnMap {
	if h.llm == nil {
		return cm
	}

	claimed := make(map[int]bool, len(cm))
	for _, idx := range cm {
		claimed[idx] = true
	}

	var lines []string
	unmappedIdx := make(map[int]bool)
	for i, header := range headers {
		if claimed[i] || strings.TrimSpace(header) == "" {
			continue
		}
		unmappedIdx[i] = true
		lines = append(lines, fmt.Sprintf("%d: %s", i, header))
	}
	if len(lines) == 0 {
		return cm
	}

	var fieldNames []string
	for _, f := range classifiableFields {
		fieldNames = append(fieldNames, string(f))
	}
	prompt := fmt.Sprintf(classifyPromptFmt,
		strings.Join(fieldNames, ", "), strings.Join(lines, "\n"))

	raw, err := h.llm.GenerateContent(ctx, prompt)
	if err != nil {
		log.Printf("⚠️ Header classification failed, keeping keyword mapping: %v", err)
		return cm
	}

	var answer map[string]string
	if err := json.Unmarshal([]byte(utils.SanitizeJSON(raw)), &answer); err != nil {
		log.Printf("⚠️ Header classification returned invalid JSON: %v", err)
		return cm
	}

	for numStr, fieldName := range answer {
		var idx int
		if _, err := fmt.Sscanf(numStr, "%d", &idx); err != nil {
			continue
		}
		field := scrape.Field(fieldName)
		if !unmappedIdx[idx] || !validField(field) {
			continue
		}
		if _, taken := cm[field]; taken {
			// Keyword matches and earlier answers keep priority
			continue
		}
		cm[field] = idx
		log.Printf("🤖 Classified column %d (%q) as %s", idx, headers[idx], field)
	}
	return cm
}

func validField(f scrape.Field) bool {
	for _, known := range classifiableFields {
		if f == known {
			return true
		}
	}
	return false
}
