// Package models defines the domain types shared across SmileFlow components.
package models

import (
	"fmt"
	"time"
)

// ConversationState represents a state of the patient dialogue state machine.
type ConversationState string

// Conversation states. All states except StateCompleted and StateCancelled
// accept inbound events; the two terminal states never do.
const (
	StateGreeting         ConversationState = "greeting"
	StateWaitingName      ConversationState = "waiting_name"
	StateWaitingTreatment ConversationState = "waiting_treatment"
	StateWaitingPhoto     ConversationState = "waiting_photo"
	StateProcessing       ConversationState = "processing"
	StateShowingResult    ConversationState = "showing_result"
	StateGeneratingBudget ConversationState = "generating_budget"
	StateWaitingApproval  ConversationState = "waiting_approval"
	StateScheduling       ConversationState = "scheduling"
	StateCompleted        ConversationState = "completed"
	StateCancelled        ConversationState = "cancelled"
)

// ActiveStates lists every non-terminal conversation state. The dialogue
// engine verifies at construction that each of these has a handler.
func ActiveStates() []ConversationState {
	return []ConversationState{
		StateGreeting,
		StateWaitingName,
		StateWaitingTreatment,
		StateWaitingPhoto,
		StateProcessing,
		StateShowingResult,
		StateGeneratingBudget,
		StateWaitingApproval,
		StateScheduling,
	}
}

// IsTerminal reports whether the state ends the conversation lifecycle.
func (s ConversationState) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// TreatmentType identifies the dental treatment a patient asked about.
type TreatmentType string

const (
	TreatmentFacetas     TreatmentType = "facetas"
	TreatmentClareamento TreatmentType = "clareamento"
)

// DisplayName returns the patient-facing name of the treatment.
func (t TreatmentType) DisplayName() string {
	switch t {
	case TreatmentFacetas:
		return "Facetas Dentárias"
	case TreatmentClareamento:
		return "Clareamento Dental"
	default:
		return string(t)
	}
}

// Conversation is the durable record of one patient dialogue. At most one
// conversation per phone number may be in a non-terminal state at a time.
type Conversation struct {
	ID            string            `json:"id"`
	PhoneNumber   string            `json:"phone_number"`
	ContactName   string            `json:"contact_name"`
	State         ConversationState `json:"state"`
	ClinicID      string            `json:"clinic_id"`
	PatientID     string            `json:"patient_id,omitempty"`
	PatientName   string            `json:"patient_name,omitempty"`
	SimulationID  string            `json:"simulation_id,omitempty"`
	TreatmentType TreatmentType     `json:"treatment_type,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	LastMessageAt time.Time         `json:"last_message_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Validate ensures the conversation has the fields every code path relies on.
func (c *Conversation) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if c.PhoneNumber == "" {
		return fmt.Errorf("conversation phone number is required")
	}
	if c.State == "" {
		return fmt.Errorf("conversation state is required")
	}
	return nil
}
