// Package store provides storage backends for SmileFlow.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/SorrisoLab/SmileFlow/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements Store and JobRepo on a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time interface checks.
var (
	_ Store   = (*PostgresStore)(nil)
	_ JobRepo = (*PostgresStore)(nil)
)

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running PostgreSQL migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// FindActiveConversationByPhone returns the newest non-terminal conversation
// for the phone, or nil if none exists.
func (s *PostgresStore) FindActiveConversationByPhone(phone string) (*models.Conversation, error) {
	row := s.db.QueryRow(
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE phone_number = $1 AND state NOT IN ($2, $3)
		 ORDER BY created_at DESC LIMIT 1`,
		phone, string(models.StateCompleted), string(models.StateCancelled),
	)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore FindActiveConversationByPhone not found", "phone", phone)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore FindActiveConversationByPhone failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query active conversation for %s: %w", phone, err)
	}
	return &c, nil
}

// GetConversation returns a conversation by id, or nil if not found.
func (s *PostgresStore) GetConversation(id string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversation failed", "error", err, "conversationID", id)
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return &c, nil
}

// CreateConversation inserts a new conversation row.
func (s *PostgresStore) CreateConversation(c models.Conversation) error {
	metadata, err := encodeMetadata(c.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO conversations (`+conversationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		c.ID, c.PhoneNumber, nilIfEmpty(c.ContactName), string(c.State), c.ClinicID,
		nilIfEmpty(c.PatientID), nilIfEmpty(c.PatientName), nilIfEmpty(c.SimulationID),
		nilIfEmpty(string(c.TreatmentType)), metadata,
		c.LastMessageAt, c.CompletedAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore CreateConversation failed", "error", err, "conversationID", c.ID)
		return fmt.Errorf("failed to insert conversation %s: %w", c.ID, err)
	}
	slog.Debug("PostgresStore CreateConversation succeeded", "conversationID", c.ID, "phone", c.PhoneNumber)
	return nil
}

// UpdateConversation persists all mutable conversation fields by id.
func (s *PostgresStore) UpdateConversation(c models.Conversation) error {
	metadata, err := encodeMetadata(c.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE conversations SET contact_name = $1, state = $2, clinic_id = $3, patient_id = $4,
		 patient_name = $5, simulation_id = $6, treatment_type = $7, metadata = $8,
		 last_message_at = $9, completed_at = $10, updated_at = $11
		 WHERE id = $12`,
		nilIfEmpty(c.ContactName), string(c.State), c.ClinicID, nilIfEmpty(c.PatientID),
		nilIfEmpty(c.PatientName), nilIfEmpty(c.SimulationID), nilIfEmpty(string(c.TreatmentType)), metadata,
		c.LastMessageAt, c.CompletedAt, c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		slog.Error("PostgresStore UpdateConversation failed", "error", err, "conversationID", c.ID)
		return fmt.Errorf("failed to update conversation %s: %w", c.ID, err)
	}
	slog.Debug("PostgresStore UpdateConversation succeeded", "conversationID", c.ID, "state", c.State)
	return nil
}

// TouchConversation updates only last_message_at.
func (s *PostgresStore) TouchConversation(id string, lastMessageAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE conversations SET last_message_at = $1 WHERE id = $2`,
		lastMessageAt, id,
	)
	if err != nil {
		slog.Error("PostgresStore TouchConversation failed", "error", err, "conversationID", id)
		return fmt.Errorf("failed to touch conversation %s: %w", id, err)
	}
	return nil
}

// ListConversations returns the newest conversations up to limit.
func (s *PostgresStore) ListConversations(limit int) ([]models.Conversation, error) {
	rows, err := s.db.Query(
		`SELECT `+conversationColumns+` FROM conversations ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		slog.Error("PostgresStore ListConversations query failed", "error", err)
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
func (s *PostgresStore) FindConversationsStuckSince(states []models.ConversationState, before time.Time) ([]models.Conversation, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders, args := statePlaceholders(states, 1, true)
	args = append(args, before)

	rows, err := s.db.Query(
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE state IN (`+placeholders+`) AND updated_at < `+fmt.Sprintf("$%d", len(states)+1), args...,
	)
	if err != nil {
		slog.Error("PostgresStore FindConversationsStuckSince query failed", "error", err)
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
func (s *PostgresStore) AddMessage(m models.Message) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (id, conversation_id, direction, kind, content, media_url, provider_message_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.ConversationID, string(m.Direction), string(m.Kind),
		nilIfEmpty(m.Content), nilIfEmpty(m.MediaURL), nilIfEmpty(m.ProviderMessageID),
		nilIfEmpty(m.Status), m.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore AddMessage failed", "error", err, "conversationID", m.ConversationID)
		return fmt.Errorf("failed to insert message for conversation %s: %w", m.ConversationID, err)
	}
	slog.Debug("PostgresStore AddMessage succeeded", "conversationID", m.ConversationID, "direction", m.Direction, "kind", m.Kind)
	return nil
}

// ListMessages returns the message log of a conversation, oldest first.
func (s *PostgresStore) ListMessages(conversationID string) ([]models.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, direction, kind, content, media_url, provider_message_id, status, created_at
		 FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC`, conversationID,
	)
	if err != nil {
		slog.Error("PostgresStore ListMessages query failed", "error", err, "conversationID", conversationID)
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
func (s *PostgresStore) HasInboundProviderMessageID(conversationID, providerMessageID string) (bool, error) {
	if providerMessageID == "" {
		return false, nil
	}
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM messages
		 WHERE conversation_id = $1 AND provider_message_id = $2 AND direction = $3`,
		conversationID, providerMessageID, string(models.DirectionInbound),
	).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore HasInboundProviderMessageID failed", "error", err, "conversationID", conversationID)
		return false, fmt.Errorf("failed to check provider message id: %w", err)
	}
	return count > 0, nil
}

// CreatePatient inserts a patient row.
func (s *PostgresStore) CreatePatient(p models.Patient) error {
	_, err := s.db.Exec(
		`INSERT INTO patients (id, clinic_id, name, phone, created_at) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.ClinicID, p.Name, p.Phone, p.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore CreatePatient failed", "error", err, "patientID", p.ID)
		return fmt.Errorf("failed to insert patient %s: %w", p.ID, err)
	}
	return nil
}

// CreateSimulation inserts a simulation row.
func (s *PostgresStore) CreateSimulation(sim models.Simulation) error {
	_, err := s.db.Exec(
		`INSERT INTO simulations (id, clinic_id, patient_id, patient_name, patient_phone, treatment_type, original_image_url, processed_image_url, status, teeth_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sim.ID, sim.ClinicID, sim.PatientID, nilIfEmpty(sim.PatientName), nilIfEmpty(sim.PatientPhone),
		string(sim.TreatmentType), nilIfEmpty(sim.OriginalImageURL), nilIfEmpty(sim.ProcessedImageURL),
		sim.Status, sim.TeethCount, sim.CreatedAt, sim.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore CreateSimulation failed", "error", err, "simulationID", sim.ID)
		return fmt.Errorf("failed to insert simulation %s: %w", sim.ID, err)
	}
	return nil
}

// UpdateSimulation persists mutable simulation fields by id.
func (s *PostgresStore) UpdateSimulation(sim models.Simulation) error {
	_, err := s.db.Exec(
		`UPDATE simulations SET processed_image_url = $1, status = $2, updated_at = $3 WHERE id = $4`,
		nilIfEmpty(sim.ProcessedImageURL), sim.Status, sim.UpdatedAt, sim.ID,
	)
	if err != nil {
		slog.Error("PostgresStore UpdateSimulation failed", "error", err, "simulationID", sim.ID)
		return fmt.Errorf("failed to update simulation %s: %w", sim.ID, err)
	}
	return nil
}

// GetSimulation returns a simulation by id, or nil if not found.
func (s *PostgresStore) GetSimulation(id string) (*models.Simulation, error) {
	row := s.db.QueryRow(
		`SELECT id, clinic_id, patient_id, patient_name, patient_phone, treatment_type, original_image_url, processed_image_url, status, teeth_count, created_at, updated_at
		 FROM simulations WHERE id = $1`, id,
	)
	sim, err := scanSimulation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSimulation failed", "error", err, "simulationID", id)
		return nil, fmt.Errorf("failed to get simulation %s: %w", id, err)
	}
	return &sim, nil
}

// CreateBudget inserts a budget row.
func (s *PostgresStore) CreateBudget(b models.Budget) error {
	_, err := s.db.Exec(
		`INSERT INTO budgets (id, clinic_id, conversation_id, simulation_id, treatment_type, total_cents, discount_cents, final_cents, installments, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.ClinicID, b.ConversationID, b.SimulationID, string(b.TreatmentType),
		b.TotalCents, b.DiscountCents, b.FinalCents, b.Installments, b.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore CreateBudget failed", "error", err, "budgetID", b.ID)
		return fmt.Errorf("failed to insert budget %s: %w", b.ID, err)
	}
	return nil
}

// GetClinicIDByInstance returns the clinic id mapped to a gateway instance
// name, or "" if no mapping exists.
func (s *PostgresStore) GetClinicIDByInstance(instance string) (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM clinics WHERE gateway_instance = $1`, instance).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore GetClinicIDByInstance failed", "error", err, "instance", instance)
		return "", fmt.Errorf("failed to look up clinic for instance %s: %w", instance, err)
	}
	return id, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
