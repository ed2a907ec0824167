package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/SorrisoLab/SmileFlow/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// encodeMetadata serializes conversation metadata for storage.
func encodeMetadata(m map[string]string) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation metadata: %w", err)
	}
	return string(data), nil
}

// decodeMetadata deserializes conversation metadata; a bad value is logged
// and treated as empty rather than failing the read.
func decodeMetadata(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	m := make(map[string]string)
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		slog.Error("store decodeMetadata failed, dropping metadata", "error", err)
		return nil
	}
	return m
}

// rowScanner abstracts sql.Row and sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanConversation scans one conversation row.
func scanConversation(row rowScanner) (models.Conversation, error) {
	var c models.Conversation
	var contactName, patientID, patientName, simulationID, treatmentType, metadata sql.NullString
	var lastMessageAt, completedAt sql.NullTime

	err := row.Scan(
		&c.ID, &c.PhoneNumber, &contactName, &c.State, &c.ClinicID,
		&patientID, &patientName, &simulationID, &treatmentType, &metadata,
		&lastMessageAt, &completedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}
	c.ContactName = contactName.String
	c.PatientID = patientID.String
	c.PatientName = patientName.String
	c.SimulationID = simulationID.String
	c.TreatmentType = models.TreatmentType(treatmentType.String)
	c.Metadata = decodeMetadata(metadata.String)
	if lastMessageAt.Valid {
		c.LastMessageAt = lastMessageAt.Time
	}
	if completedAt.Valid {
		t := completedAt.Time
		c.CompletedAt = &t
	}
	return c, nil
}

// scanMessage scans one message row.
func scanMessage(row rowScanner) (models.Message, error) {
	var m models.Message
	var content, mediaURL, providerMessageID, status sql.NullString

	err := row.Scan(
		&m.ID, &m.ConversationID, &m.Direction, &m.Kind,
		&content, &mediaURL, &providerMessageID, &status, &m.CreatedAt,
	)
	if err != nil {
		return m, err
	}
	m.Content = content.String
	m.MediaURL = mediaURL.String
	m.ProviderMessageID = providerMessageID.String
	m.Status = status.String
	return m, nil
}

// scanSimulation scans one simulation row.
func scanSimulation(row rowScanner) (models.Simulation, error) {
	var s models.Simulation
	var patientName, patientPhone, originalURL, processedURL sql.NullString

	err := row.Scan(
		&s.ID, &s.ClinicID, &s.PatientID, &patientName, &patientPhone,
		&s.TreatmentType, &originalURL, &processedURL, &s.Status, &s.TeethCount,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return s, err
	}
	s.PatientName = patientName.String
	s.PatientPhone = patientPhone.String
	s.OriginalImageURL = originalURL.String
	s.ProcessedImageURL = processedURL.String
	return s, nil
}

// scanJob scans a Job row.
func scanJob(row rowScanner) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}

// statePlaceholders builds a placeholder list and argument slice for an IN
// clause over conversation states. Placeholder numbering starts at first.
func statePlaceholders(states []models.ConversationState, first int, postgres bool) (string, []interface{}) {
	placeholders := ""
	args := make([]interface{}, 0, len(states))
	for i, st := range states {
		if i > 0 {
			placeholders += ", "
		}
		if postgres {
			placeholders += fmt.Sprintf("$%d", first+i)
		} else {
			placeholders += "?"
		}
		args = append(args, string(st))
	}
	return placeholders, args
}

// timePtr is a small helper for tests and memory store.
func timePtr(t time.Time) *time.Time { return &t }
