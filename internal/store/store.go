// Package store provides storage backends for SmileFlow.
//
// Conversations, their message logs, patients, simulations, and budgets are
// persisted in SQLite or PostgreSQL; an in-memory implementation backs unit
// tests. The package also provides the durable job queue used for background
// work.
package store

import (
	"strings"
	"time"

	"github.com/SorrisoLab/SmileFlow/internal/models"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store creation.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType determines whether a DSN refers to PostgreSQL or SQLite.
// PostgreSQL DSNs use URL schemes or key=value connection strings; anything
// else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Store is the persistence interface consumed by the conversation resolver,
// dialogue engine, and HTTP API.
type Store interface {
	// FindActiveConversationByPhone returns the most recently created
	// conversation for the phone whose state is non-terminal, or nil if the
	// phone has no active conversation.
	FindActiveConversationByPhone(phone string) (*models.Conversation, error)

	// GetConversation returns a conversation by id, or nil if not found.
	GetConversation(id string) (*models.Conversation, error)

	// CreateConversation inserts a new conversation row.
	CreateConversation(c models.Conversation) error

	// UpdateConversation persists all mutable conversation fields by id.
	UpdateConversation(c models.Conversation) error

	// TouchConversation updates only last_message_at. State and updated_at
	// stay untouched, so inbound chatter cannot defer the watchdog deadline,
	// which is keyed on updated_at (the time the state was entered).
	TouchConversation(id string, lastMessageAt time.Time) error

	// ListConversations returns the newest conversations up to limit.
	ListConversations(limit int) ([]models.Conversation, error)

	// FindConversationsStuckSince returns conversations whose state is in
	// states and whose updated_at is before the given cutoff. Used by the
	// background-work watchdog.
	FindConversationsStuckSince(states []models.ConversationState, before time.Time) ([]models.Conversation, error)

	// AddMessage appends one message log entry.
	AddMessage(m models.Message) error

	// ListMessages returns the message log of a conversation, oldest first.
	ListMessages(conversationID string) ([]models.Message, error)

	// HasInboundProviderMessageID reports whether an inbound message with the
	// given provider message id was already logged for the conversation.
	HasInboundProviderMessageID(conversationID, providerMessageID string) (bool, error)

	// CreatePatient inserts a patient row.
	CreatePatient(p models.Patient) error

	// CreateSimulation inserts a simulation row.
	CreateSimulation(s models.Simulation) error

	// UpdateSimulation persists mutable simulation fields by id.
	UpdateSimulation(s models.Simulation) error

	// GetSimulation returns a simulation by id, or nil if not found.
	GetSimulation(id string) (*models.Simulation, error)

	// CreateBudget inserts a budget row.
	CreateBudget(b models.Budget) error

	// GetClinicIDByInstance returns the clinic id mapped to a gateway
	// instance name, or "" if no mapping exists.
	GetClinicIDByInstance(instance string) (string, error)

	// Close releases backend resources.
	Close() error
}
