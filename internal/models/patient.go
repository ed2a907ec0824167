package models

import "time"

// Patient is created once a smile simulation completes for a conversation.
type Patient struct {
	ID        string    `json:"id"`
	ClinicID  string    `json:"clinic_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// Simulation status values.
const (
	SimulationStatusProcessing = "processing"
	SimulationStatusCompleted  = "completed"
	SimulationStatusFailed     = "failed"
)

// Simulation records one smile simulation run: the patient's original photo
// and the generated result.
type Simulation struct {
	ID                string        `json:"id"`
	ClinicID          string        `json:"clinic_id"`
	PatientID         string        `json:"patient_id"`
	PatientName       string        `json:"patient_name"`
	PatientPhone      string        `json:"patient_phone"`
	TreatmentType     TreatmentType `json:"treatment_type"`
	OriginalImageURL  string        `json:"original_image_url"`
	ProcessedImageURL string        `json:"processed_image_url,omitempty"`
	Status            string        `json:"status"`
	TeethCount        int           `json:"teeth_count"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Budget is the priced treatment proposal sent to the patient after an
// approved simulation. Amounts are stored in centavos.
type Budget struct {
	ID             string        `json:"id"`
	ClinicID       string        `json:"clinic_id"`
	ConversationID string        `json:"conversation_id"`
	SimulationID   string        `json:"simulation_id"`
	TreatmentType  TreatmentType `json:"treatment_type"`
	TotalCents     int64         `json:"total_cents"`
	DiscountCents  int64         `json:"discount_cents"`
	FinalCents     int64         `json:"final_cents"`
	Installments   int           `json:"installments"`
	CreatedAt      time.Time     `json:"created_at"`
}
