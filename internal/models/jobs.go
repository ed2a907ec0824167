package models

import (
	"encoding/json"
	"fmt"
)

// Background job kinds processed by the job runner.
const (
	JobKindSimulateSmile = "simulate-smile"
	JobKindComputeBudget = "compute-budget"
)

// SimulationJobPayload is the input for a simulate-smile job.
type SimulationJobPayload struct {
	ConversationID string `json:"conversation_id"`
	Phone          string `json:"phone"`
	MediaURL       string `json:"media_url"`
}

// BudgetJobPayload is the input for a compute-budget job.
type BudgetJobPayload struct {
	ConversationID string `json:"conversation_id"`
	Phone          string `json:"phone"`
}

// EncodeJobPayload serializes a job payload to JSON for the jobs table.
func EncodeJobPayload(payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return string(data), nil
}

// DecodeJobPayload deserializes a job payload from its JSON form.
func DecodeJobPayload(payloadJSON string, payload interface{}) error {
	if err := json.Unmarshal([]byte(payloadJSON), payload); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	return nil
}
