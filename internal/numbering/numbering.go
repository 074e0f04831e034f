// Package numbering holds the pure parts of document numbering: rendering
// correlatives and deriving the credit-note series for an original document.
// Allocation itself lives in the store, where the counter row lock is.
package numbering

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Jcrispin99/gym-app-sub001/internal/domain"
)

// FormatCorrelative renders a counter value as a zero-padded decimal of the
// given width. Values wider than the width are rendered in full rather than
// truncated.
func FormatCorrelative(value int64, size int) string {
	if size < 1 {
		size = 1
	}
	return fmt.Sprintf("%0*d", size, value)
}

// CreditNoteCandidate derives the candidate credit-note series code from the
// original document's type and series. A boleta on series B07 maps to BC07,
// a factura on F1 maps to FC01 (last two digits, zero-padded). Anything else
// has no candidate.
func CreditNoteCandidate(documentType string, seriesCode string) string {
	var prefix string
	switch documentType {
	case domain.DocTypeBoleta:
		prefix = "B"
	case domain.DocTypeFactura:
		prefix = "F"
	default:
		return ""
	}

	if !strings.HasPrefix(seriesCode, prefix) {
		return ""
	}
	digits := seriesCode[len(prefix):]
	if digits == "" || !isDigits(digits) {
		return ""
	}
	if len(digits) > 2 {
		digits = digits[len(digits)-2:]
	}
	for len(digits) < 2 {
		digits = "0" + digits
	}
	return prefix + "C" + digits
}

// CreditNotePrefix is the series-code prefix credit notes use for a given
// original document type: BC for boletas, FC for facturas.
func CreditNotePrefix(documentType string) string {
	switch documentType {
	case domain.DocTypeBoleta:
		return "BC"
	case domain.DocTypeFactura:
		return "FC"
	}
	return ""
}

// PickCreditNoteSeries selects the credit-note series for an original
// document from the series configured in scope. Lookup order: exact match on
// the derived candidate code, then the lexicographically first series whose
// code carries the type prefix, then the first series in scope. Returns nil
// when the scope has no series at all.
func PickCreditNoteSeries(documentType string, seriesCode string, inScope []domain.Series) *domain.Series {
	if len(inScope) == 0 {
		return nil
	}

	sorted := make([]domain.Series, len(inScope))
	copy(sorted, inScope)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	if candidate := CreditNoteCandidate(documentType, seriesCode); candidate != "" {
		for i := range sorted {
			if sorted[i].Code == candidate {
				return &sorted[i]
			}
		}
	}
	if prefix := CreditNotePrefix(documentType); prefix != "" {
		for i := range sorted {
			if strings.HasPrefix(sorted[i].Code, prefix) {
				return &sorted[i]
			}
		}
	}
	return &sorted[0]
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
