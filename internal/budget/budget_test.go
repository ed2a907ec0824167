package budget

import (
	"strings"
	"testing"

	"github.com/SorrisoLab/SmileFlow/internal/models"
)

func TestComputeFacetas(t *testing.T) {
	q, err := Compute(models.TreatmentFacetas)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.TotalCents != 360000 {
		t.Errorf("total = %d, want 360000", q.TotalCents)
	}
	if q.DiscountCents != 36000 {
		t.Errorf("discount = %d, want 36000", q.DiscountCents)
	}
	if q.FinalCents != 324000 {
		t.Errorf("final = %d, want 324000", q.FinalCents)
	}
	if q.Installments != 6 || q.TeethCount != 6 {
		t.Errorf("installments = %d, teeth = %d", q.Installments, q.TeethCount)
	}
}

func TestComputeClareamento(t *testing.T) {
	q, err := Compute(models.TreatmentClareamento)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.TotalCents != 120000 || q.FinalCents != 108000 {
		t.Errorf("total = %d, final = %d", q.TotalCents, q.FinalCents)
	}
	if q.Installments != 4 || q.TeethCount != 0 {
		t.Errorf("installments = %d, teeth = %d", q.Installments, q.TeethCount)
	}
}

func TestComputeUnknownTreatment(t *testing.T) {
	if _, err := Compute("botox"); err == nil {
		t.Error("expected error for unknown treatment")
	}
}

func TestFormatCents(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{360000, "R$ 3.600,00"},
		{120000, "R$ 1.200,00"},
		{324000, "R$ 3.240,00"},
		{99, "R$ 0,99"},
		{100000000, "R$ 1.000.000,00"},
		{-5000, "-R$ 50,00"},
	}
	for _, c := range cases {
		if got := FormatCents(c.in); got != c.want {
			t.Errorf("FormatCents(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFormatMessageFacetas(t *testing.T) {
	q, _ := Compute(models.TreatmentFacetas)
	msg := FormatMessage(q)
	for _, want := range []string{
		"Facetas em Resina Composta",
		"6 facetas",
		"R$ 3.600,00",
		"R$ 3.240,00",
		"6x sem juros",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("budget message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatMessageClareamentoOmitsTeeth(t *testing.T) {
	q, _ := Compute(models.TreatmentClareamento)
	msg := FormatMessage(q)
	if strings.Contains(msg, "facetas (zona do sorriso)") {
		t.Error("clareamento budget should not list teeth")
	}
	if !strings.Contains(msg, "4x sem juros") {
		t.Errorf("budget message missing installments:\n%s", msg)
	}
}
