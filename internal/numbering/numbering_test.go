package numbering

import (
	"testing"

	"github.com/Jcrispin99/gym-app-sub001/internal/domain"
)

func TestFormatCorrelative(t *testing.T) {
	cases := []struct {
		value int64
		size  int
		want  string
	}{
		{1, 8, "00000001"},
		{42, 4, "0042"},
		{123456789, 8, "123456789"},
		{7, 1, "7"},
		{7, 0, "7"},
	}
	for _, tc := range cases {
		if got := FormatCorrelative(tc.value, tc.size); got != tc.want {
			t.Errorf("FormatCorrelative(%d, %d) = %s, want %s", tc.value, tc.size, got, tc.want)
		}
	}
}

func TestCreditNoteCandidate(t *testing.T) {
	cases := []struct {
		documentType string
		seriesCode   string
		want         string
	}{
		{domain.DocTypeBoleta, "B07", "BC07"},
		{domain.DocTypeBoleta, "B1", "BC01"},
		{domain.DocTypeFactura, "F1", "FC01"},
		{domain.DocTypeFactura, "F23", "FC23"},
		{domain.DocTypeFactura, "F123", "FC23"},
		{domain.DocTypeBoleta, "X07", ""},
		{domain.DocTypeBoleta, "B", ""},
		{domain.DocTypeBoleta, "B0A", ""},
		{domain.DocTypeNotaVenta, "NV01", ""},
	}
	for _, tc := range cases {
		if got := CreditNoteCandidate(tc.documentType, tc.seriesCode); got != tc.want {
			t.Errorf("CreditNoteCandidate(%s, %s) = %q, want %q", tc.documentType, tc.seriesCode, got, tc.want)
		}
	}
}

func TestPickCreditNoteSeriesPrefersExactMatch(t *testing.T) {
	inScope := []domain.Series{
		{ID: 3, Code: "FC01"},
		{ID: 2, Code: "BC07"},
		{ID: 1, Code: "BC01"},
	}

	picked := PickCreditNoteSeries(domain.DocTypeBoleta, "B07", inScope)
	if picked == nil || picked.Code != "BC07" {
		t.Fatalf("expected BC07, got %+v", picked)
	}
}

func TestPickCreditNoteSeriesFallsBackToPrefix(t *testing.T) {
	inScope := []domain.Series{
		{ID: 3, Code: "FC01"},
		{ID: 2, Code: "BC99"},
	}

	picked := PickCreditNoteSeries(domain.DocTypeBoleta, "B07", inScope)
	if picked == nil || picked.Code != "BC99" {
		t.Fatalf("expected prefix fallback BC99, got %+v", picked)
	}
}

func TestPickCreditNoteSeriesFallsBackToFirstInScope(t *testing.T) {
	inScope := []domain.Series{
		{ID: 2, Code: "NC02"},
		{ID: 1, Code: "NC01"},
	}

	picked := PickCreditNoteSeries(domain.DocTypeBoleta, "B07", inScope)
	if picked == nil || picked.Code != "NC01" {
		t.Fatalf("expected first in scope NC01, got %+v", picked)
	}
}

func TestPickCreditNoteSeriesEmptyScope(t *testing.T) {
	if picked := PickCreditNoteSeries(domain.DocTypeBoleta, "B07", nil); picked != nil {
		t.Fatalf("expected nil for empty scope, got %+v", picked)
	}
}
