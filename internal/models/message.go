package models

import "time"

// MessageDirection distinguishes patient messages from clinic replies.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// MessageKind is the payload type of a logged message.
type MessageKind string

const (
	MessageKindText     MessageKind = "text"
	MessageKindImage    MessageKind = "image"
	MessageKindDocument MessageKind = "document"
)

// Message delivery status values.
const (
	MessageStatusDelivered = "delivered"
	MessageStatusSent      = "sent"
)

// Message is one append-only message log entry. Inbound and outbound
// messages are both recorded for audit and replay. ProviderMessageID is set
// on inbound messages only and backs webhook de-duplication.
type Message struct {
	ID                string           `json:"id"`
	ConversationID    string           `json:"conversation_id"`
	Direction         MessageDirection `json:"direction"`
	Kind              MessageKind      `json:"kind"`
	Content           string           `json:"content,omitempty"`
	MediaURL          string           `json:"media_url,omitempty"`
	ProviderMessageID string           `json:"provider_message_id,omitempty"`
	Status            string           `json:"status"`
	CreatedAt         time.Time        `json:"created_at"`
}

// InboundEvent is the normalized form of one gateway webhook delivery. It is
// transient: produced by the webhook normalizer, consumed once by the
// resolver and dialogue engine.
type InboundEvent struct {
	Phone             string      `json:"phone"`
	ContactName       string      `json:"contact_name"`
	Instance          string      `json:"instance"`
	Kind              MessageKind `json:"kind"`
	Text              string      `json:"text,omitempty"`
	MediaURL          string      `json:"media_url,omitempty"`
	ProviderMessageID string      `json:"provider_message_id"`
}
