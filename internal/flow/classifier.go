package flow

import (
	"strings"
	"unicode/utf8"

	"github.com/SorrisoLab/SmileFlow/internal/models"
)

// Reply classifiers. Patients answer numbered menus, but free-text answers
// like "quero facetas" are accepted too. Matching is digit token first, then
// case-insensitive keyword.

// ValidName reports whether text is usable as a patient name.
func ValidName(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) >= 2
}

// ClassifyTreatment maps a reply to a treatment type. ok is false when the
// reply matches neither option.
func ClassifyTreatment(text string) (models.TreatmentType, bool) {
	choice := strings.TrimSpace(text)
	lower := strings.ToLower(choice)
	switch {
	case choice == "1" || strings.Contains(lower, "faceta"):
		return models.TreatmentFacetas, true
	case choice == "2" || strings.Contains(lower, "clarea"):
		return models.TreatmentClareamento, true
	default:
		return "", false
	}
}

// ResultChoice is the patient's verdict on a simulation result.
type ResultChoice int

const (
	ResultUnknown ResultChoice = iota
	ResultApproved
	ResultRetry
)

// ClassifyResult maps a reply in the showing_result state.
func ClassifyResult(text string) ResultChoice {
	choice := strings.TrimSpace(text)
	lower := strings.ToLower(choice)
	switch {
	case choice == "1" || strings.Contains(lower, "gost") && !strings.Contains(lower, "não gost"):
		return ResultApproved
	case choice == "2" || strings.Contains(lower, "não") || strings.Contains(lower, "nova"):
		return ResultRetry
	default:
		return ResultUnknown
	}
}

// ApprovalChoice is the patient's answer to the budget.
type ApprovalChoice int

const (
	ApprovalUnknown ApprovalChoice = iota
	ApprovalAccepted
	ApprovalDeclined
)

// ClassifyApproval maps a reply in the waiting_approval state.
func ClassifyApproval(text string) ApprovalChoice {
	choice := strings.TrimSpace(text)
	lower := strings.ToLower(choice)
	switch {
	case choice == "1" || strings.Contains(lower, "sim") || strings.Contains(lower, "agendar"):
		return ApprovalAccepted
	case choice == "2" || strings.Contains(lower, "não") || strings.Contains(lower, "obrigado"):
		return ApprovalDeclined
	default:
		return ApprovalUnknown
	}
}
