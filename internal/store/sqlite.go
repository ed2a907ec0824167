// Package store provides storage backends for SmileFlow.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/SorrisoLab/SmileFlow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store and JobRepo on a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time interface checks.
var (
	_ Store   = (*SQLiteStore)(nil)
	_ JobRepo = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

const conversationColumns = `id, phone_number, contact_name, state, clinic_id, patient_id, patient_name, simulation_id, treatment_type, metadata, last_message_at, completed_at, created_at, updated_at`

// FindActiveConversationByPhone returns the newest non-terminal conversation
// for the phone, or nil if none exists.
func (s *SQLiteStore) FindActiveConversationByPhone(phone string) (*models.Conversation, error) {
	row := s.db.QueryRow(
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE phone_number = ? AND state NOT IN (?, ?)
		 ORDER BY created_at DESC LIMIT 1`,
		phone, string(models.StateCompleted), string(models.StateCancelled),
	)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore FindActiveConversationByPhone not found", "phone", phone)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore FindActiveConversationByPhone failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query active conversation for %s: %w", phone, err)
	}
	return &c, nil
}

// GetConversation returns a conversation by id, or nil if not found.
func (s *SQLiteStore) GetConversation(id string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversation failed", "error", err, "conversationID", id)
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return &c, nil
}

// CreateConversation inserts a new conversation row.
func (s *SQLiteStore) CreateConversation(c models.Conversation) error {
	metadata, err := encodeMetadata(c.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO conversations (`+conversationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.PhoneNumber, nilIfEmpty(c.ContactName), string(c.State), c.ClinicID,
		nilIfEmpty(c.PatientID), nilIfEmpty(c.PatientName), nilIfEmpty(c.SimulationID),
		nilIfEmpty(string(c.TreatmentType)), metadata,
		c.LastMessageAt, c.CompletedAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore CreateConversation failed", "error", err, "conversationID", c.ID)
		return fmt.Errorf("failed to insert conversation %s: %w", c.ID, err)
	}
	slog.Debug("SQLiteStore CreateConversation succeeded", "conversationID", c.ID, "phone", c.PhoneNumber)
	return nil
}

// UpdateConversation persists all mutable conversation fields by id.
func (s *SQLiteStore) UpdateConversation(c models.Conversation) error {
	metadata, err := encodeMetadata(c.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE conversations SET contact_name = ?, state = ?, clinic_id = ?, patient_id = ?,
		 patient_name = ?, simulation_id = ?, treatment_type = ?, metadata = ?,
		 last_message_at = ?, completed_at = ?, updated_at = ?
		 WHERE id = ?`,
		nilIfEmpty(c.ContactName), string(c.State), c.ClinicID, nilIfEmpty(c.PatientID),
		nilIfEmpty(c.PatientName), nilIfEmpty(c.SimulationID), nilIfEmpty(string(c.TreatmentType)), metadata,
		c.LastMessageAt, c.CompletedAt, c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		slog.Error("SQLiteStore UpdateConversation failed", "error", err, "conversationID", c.ID)
		return fmt.Errorf("failed to update conversation %s: %w", c.ID, err)
	}
	slog.Debug("SQLiteStore UpdateConversation succeeded", "conversationID", c.ID, "state", c.State)
	return nil
}

// TouchConversation updates only last_message_at.
func (s *SQLiteStore) TouchConversation(id string, lastMessageAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`,
		lastMessageAt, id,
	)
	if err != nil {
		slog.Error("SQLiteStore TouchConversation failed", "error", err, "conversationID", id)
		return fmt.Errorf("failed to touch conversation %s: %w", id, err)
	}
	return nil
}

// ListConversations returns the newest conversations up to limit.
func (s *SQLiteStore) ListConversations(limit int) ([]models.Conversation, error) {
	rows, err := s.db.Query(
		`SELECT `+conversationColumns+` FROM conversations ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		slog.Error("SQLiteStore ListConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	return conversations, nil
}

// FindConversationsStuckSince returns conversations in the given states whose
// updated_at is older than the cutoff.
func (s *SQLiteStore) FindConversationsStuckSince(states []models.ConversationState, before time.Time) ([]models.Conversation, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders, args := statePlaceholders(states, 1, false)
	args = append(args, before)

	rows, err := s.db.Query(
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE state IN (`+placeholders+`) AND updated_at < ?`, args...,
	)
	if err != nil {
		slog.Error("SQLiteStore FindConversationsStuckSince query failed", "error", err)
		return nil, fmt.Errorf("failed to query stuck conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// AddMessage appends one message log entry.
func (s *SQLiteStore) AddMessage(m models.Message) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (id, conversation_id, direction, kind, content, media_url, provider_message_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Direction), string(m.Kind),
		nilIfEmpty(m.Content), nilIfEmpty(m.MediaURL), nilIfEmpty(m.ProviderMessageID),
		nilIfEmpty(m.Status), m.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore AddMessage failed", "error", err, "conversationID", m.ConversationID)
		return fmt.Errorf("failed to insert message for conversation %s: %w", m.ConversationID, err)
	}
	slog.Debug("SQLiteStore AddMessage succeeded", "conversationID", m.ConversationID, "direction", m.Direction, "kind", m.Kind)
	return nil
}

// ListMessages returns the message log of a conversation, oldest first.
func (s *SQLiteStore) ListMessages(conversationID string) ([]models.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, direction, kind, content, media_url, provider_message_id, status, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at ASC`, conversationID,
	)
	if err != nil {
		slog.Error("SQLiteStore ListMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// HasInboundProviderMessageID reports whether an inbound message with the
// provider message id was already logged for the conversation.
func (s *SQLiteStore) HasInboundProviderMessageID(conversationID, providerMessageID string) (bool, error) {
	if providerMessageID == "" {
		return false, nil
	}
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM messages
		 WHERE conversation_id = ? AND provider_message_id = ? AND direction = ?`,
		conversationID, providerMessageID, string(models.DirectionInbound),
	).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore HasInboundProviderMessageID failed", "error", err, "conversationID", conversationID)
		return false, fmt.Errorf("failed to check provider message id: %w", err)
	}
	return count > 0, nil
}

// CreatePatient inserts a patient row.
func (s *SQLiteStore) CreatePatient(p models.Patient) error {
	_, err := s.db.Exec(
		`INSERT INTO patients (id, clinic_id, name, phone, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.ClinicID, p.Name, p.Phone, p.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore CreatePatient failed", "error", err, "patientID", p.ID)
		return fmt.Errorf("failed to insert patient %s: %w", p.ID, err)
	}
	return nil
}

// CreateSimulation inserts a simulation row.
func (s *SQLiteStore) CreateSimulation(sim models.Simulation) error {
	_, err := s.db.Exec(
		`INSERT INTO simulations (id, clinic_id, patient_id, patient_name, patient_phone, treatment_type, original_image_url, processed_image_url, status, teeth_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sim.ID, sim.ClinicID, sim.PatientID, nilIfEmpty(sim.PatientName), nilIfEmpty(sim.PatientPhone),
		string(sim.TreatmentType), nilIfEmpty(sim.OriginalImageURL), nilIfEmpty(sim.ProcessedImageURL),
		sim.Status, sim.TeethCount, sim.CreatedAt, sim.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore CreateSimulation failed", "error", err, "simulationID", sim.ID)
		return fmt.Errorf("failed to insert simulation %s: %w", sim.ID, err)
	}
	return nil
}

// UpdateSimulation persists mutable simulation fields by id.
func (s *SQLiteStore) UpdateSimulation(sim models.Simulation) error {
	_, err := s.db.Exec(
		`UPDATE simulations SET processed_image_url = ?, status = ?, updated_at = ? WHERE id = ?`,
		nilIfEmpty(sim.ProcessedImageURL), sim.Status, sim.UpdatedAt, sim.ID,
	)
	if err != nil {
		slog.Error("SQLiteStore UpdateSimulation failed", "error", err, "simulationID", sim.ID)
		return fmt.Errorf("failed to update simulation %s: %w", sim.ID, err)
	}
	return nil
}

// GetSimulation returns a simulation by id, or nil if not found.
func (s *SQLiteStore) GetSimulation(id string) (*models.Simulation, error) {
	row := s.db.QueryRow(
		`SELECT id, clinic_id, patient_id, patient_name, patient_phone, treatment_type, original_image_url, processed_image_url, status, teeth_count, created_at, updated_at
		 FROM simulations WHERE id = ?`, id,
	)
	sim, err := scanSimulation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSimulation failed", "error", err, "simulationID", id)
		return nil, fmt.Errorf("failed to get simulation %s: %w", id, err)
	}
	return &sim, nil
}

// CreateBudget inserts a budget row.
func (s *SQLiteStore) CreateBudget(b models.Budget) error {
	_, err := s.db.Exec(
		`INSERT INTO budgets (id, clinic_id, conversation_id, simulation_id, treatment_type, total_cents, discount_cents, final_cents, installments, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ClinicID, b.ConversationID, b.SimulationID, string(b.TreatmentType),
		b.TotalCents, b.DiscountCents, b.FinalCents, b.Installments, b.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore CreateBudget failed", "error", err, "budgetID", b.ID)
		return fmt.Errorf("failed to insert budget %s: %w", b.ID, err)
	}
	return nil
}

// GetClinicIDByInstance returns the clinic id mapped to a gateway instance
// name, or "" if no mapping exists.
func (s *SQLiteStore) GetClinicIDByInstance(instance string) (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM clinics WHERE gateway_instance = ?`, instance).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetClinicIDByInstance failed", "error", err, "instance", instance)
		return "", fmt.Errorf("failed to look up clinic for instance %s: %w", instance, err)
	}
	return id, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
