// Package budget computes treatment quotes and renders them as patient-facing
// WhatsApp messages.
package budget

import (
	"fmt"
	"strings"

	"github.com/SorrisoLab/SmileFlow/internal/models"
)

// Price table in cents. Facetas covers six front teeth as a package.
const (
	facetasTotalCents     = 360000
	facetasInstallments   = 6
	facetasTeethCount     = 6
	clareamentoTotalCents = 120000
	clareamentoInstall    = 4

	// Cash payment discount, percent.
	cashDiscountPercent = 10
)

// Quote is a computed treatment budget before persistence.
type Quote struct {
	TreatmentType TreatmentType
	TotalCents    int64
	DiscountCents int64
	FinalCents    int64
	Installments  int
	TeethCount    int
}

// TreatmentType aliases the shared model type for callers of this package.
type TreatmentType = models.TreatmentType

// Compute returns the quote for a treatment type.
func Compute(treatment TreatmentType) (Quote, error) {
	switch treatment {
	case models.TreatmentFacetas:
		return newQuote(treatment, facetasTotalCents, facetasInstallments, facetasTeethCount), nil
	case models.TreatmentClareamento:
		return newQuote(treatment, clareamentoTotalCents, clareamentoInstall, 0), nil
	default:
		return Quote{}, fmt.Errorf("unknown treatment type: %s", treatment)
	}
}

func newQuote(treatment TreatmentType, totalCents int64, installments, teethCount int) Quote {
	discount := totalCents * cashDiscountPercent / 100
	return Quote{
		TreatmentType: treatment,
		TotalCents:    totalCents,
		DiscountCents: discount,
		FinalCents:    totalCents - discount,
		Installments:  installments,
		TeethCount:    teethCount,
	}
}

// InstallmentCents returns the per-installment amount, rounded down.
func (q Quote) InstallmentCents() int64 {
	if q.Installments <= 0 {
		return q.TotalCents
	}
	return q.TotalCents / int64(q.Installments)
}

// treatmentLabel returns the long treatment name used in budget messages.
func treatmentLabel(t TreatmentType) string {
	if t == models.TreatmentFacetas {
		return "Facetas em Resina Composta"
	}
	return "Clareamento Dental Profissional"
}

// FormatMessage renders the quote as the WhatsApp budget message shown to the
// patient.
func FormatMessage(q Quote) string {
	var b strings.Builder
	b.WriteString("💰 *ORÇAMENTO PERSONALIZADO*\n\n")
	fmt.Fprintf(&b, "*Tratamento:* %s\n", treatmentLabel(q.TreatmentType))
	if q.TeethCount > 0 {
		fmt.Fprintf(&b, "*Dentes:* %d facetas (zona do sorriso)\n", q.TeethCount)
	}
	fmt.Fprintf(&b, "*Valor:* %s\n", FormatCents(q.TotalCents))
	fmt.Fprintf(&b, "*Desconto à vista (%d%%):* -%s\n\n", cashDiscountPercent, FormatCents(q.DiscountCents))
	fmt.Fprintf(&b, "✨ *VALOR FINAL: %s*\n\n", FormatCents(q.FinalCents))
	fmt.Fprintf(&b, "Esse valor pode ser parcelado em até %dx sem juros no cartão!\n\n", q.Installments)
	b.WriteString("*Você aprova este orçamento?*\n\nDigite:\n1️⃣ - Sim, quero agendar consulta\n2️⃣ - Não, obrigado\n\n(Envie apenas o número)")
	return b.String()
}

// FormatCents renders a cent amount in Brazilian currency format, e.g.
// "R$ 3.600,00".
func FormatCents(cents int64) string {
	negative := cents < 0
	if negative {
		cents = -cents
	}
	reais := cents / 100
	rest := cents % 100

	digits := fmt.Sprintf("%d", reais)
	var grouped strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(d)
	}

	sign := ""
	if negative {
		sign = "-"
	}
	return fmt.Sprintf("%sR$ %s,%02d", sign, grouped.String(), rest)
}
