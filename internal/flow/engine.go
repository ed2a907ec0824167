// Package flow implements the patient dialogue state machine. Inbound
// WhatsApp events drive a conversation through greeting, data collection,
// smile simulation, budgeting, and scheduling; slow work runs as durable
// background jobs that re-enter the machine when they finish.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SorrisoLab/SmileFlow/internal/evolution"
	"github.com/SorrisoLab/SmileFlow/internal/media"
	"github.com/SorrisoLab/SmileFlow/internal/models"
	"github.com/SorrisoLab/SmileFlow/internal/simulation"
	"github.com/SorrisoLab/SmileFlow/internal/store"
	"github.com/SorrisoLab/SmileFlow/internal/util"
)

// ClinicResolver resolves the clinic owning a gateway instance.
type ClinicResolver interface {
	ClinicFor(ctx context.Context, instance string) (string, error)
}

// stateHandler processes one inbound event for a conversation in a given
// state. Handlers send replies first and mutate conversation state last, so a
// failed send leaves the conversation where it was.
type stateHandler func(ctx context.Context, conv *models.Conversation, ev models.InboundEvent) error

// Engine drives conversations through the dialogue state machine.
type Engine struct {
	store     store.Store
	jobs      store.JobRepo
	sender    evolution.Sender
	clinics   ClinicResolver
	fetcher   media.Fetcher
	storage   media.Storage
	generator simulation.Generator
	handlers  map[models.ConversationState]stateHandler
	locks     *phoneLocks
}

// NewEngine creates a dialogue engine. It fails if any non-terminal state is
// left without a handler, so an incomplete handler table is caught at startup
// rather than mid-conversation.
func NewEngine(
	st store.Store,
	jobs store.JobRepo,
	sender evolution.Sender,
	clinics ClinicResolver,
	fetcher media.Fetcher,
	storage media.Storage,
	generator simulation.Generator,
) (*Engine, error) {
	e := &Engine{
		store:     st,
		jobs:      jobs,
		sender:    sender,
		clinics:   clinics,
		fetcher:   fetcher,
		storage:   storage,
		generator: generator,
		locks:     newPhoneLocks(),
	}
	e.handlers = map[models.ConversationState]stateHandler{
		models.StateGreeting:         e.handleGreeting,
		models.StateWaitingName:      e.handleWaitingName,
		models.StateWaitingTreatment: e.handleWaitingTreatment,
		models.StateWaitingPhoto:     e.handleWaitingPhoto,
		models.StateProcessing:       e.handleProcessing,
		models.StateShowingResult:    e.handleShowingResult,
		models.StateGeneratingBudget: e.handleGeneratingBudget,
		models.StateWaitingApproval:  e.handleWaitingApproval,
		models.StateScheduling:       e.handleScheduling,
	}
	for _, state := range models.ActiveStates() {
		if _, ok := e.handlers[state]; !ok {
			return nil, fmt.Errorf("no handler registered for state %s", state)
		}
	}
	return e, nil
}

// ProcessInbound runs one normalized gateway event through the state machine.
// Processing is serialized per phone number. Redelivered webhooks (same
// provider message id) are acknowledged without reprocessing.
func (e *Engine) ProcessInbound(ctx context.Context, ev models.InboundEvent) error {
	unlock := e.locks.lock(ev.Phone)
	defer unlock()

	conv, err := e.Resolve(ctx, ev)
	if err != nil {
		return err
	}

	if ev.ProviderMessageID != "" {
		seen, err := e.store.HasInboundProviderMessageID(conv.ID, ev.ProviderMessageID)
		if err != nil {
			return fmt.Errorf("failed to check for duplicate delivery: %w", err)
		}
		if seen {
			slog.Info("Engine.ProcessInbound: duplicate delivery ignored", "conversationID", conv.ID, "providerMessageID", ev.ProviderMessageID)
			return nil
		}
	}

	handler, ok := e.handlers[conv.State]
	if !ok {
		return fmt.Errorf("no handler for conversation %s in state %s", conv.ID, conv.State)
	}
	receivedAt := time.Now()
	slog.Debug("Engine.ProcessInbound: dispatching", "conversationID", conv.ID, "state", conv.State, "kind", ev.Kind)
	if err := handler(ctx, conv, ev); err != nil {
		return err
	}

	// The inbound row is appended only after the handler succeeds. A failed
	// send leaves no trace of this delivery, so the gateway's redelivery of
	// the same provider message id passes the dedupe check and replays the
	// handler from the unchanged state.
	return e.logInbound(conv.ID, ev, receivedAt)
}

// logInbound records the patient's message in the conversation log.
func (e *Engine) logInbound(conversationID string, ev models.InboundEvent, receivedAt time.Time) error {
	msg := models.Message{
		ID:                util.GenerateMessageID(),
		ConversationID:    conversationID,
		Direction:         models.DirectionInbound,
		Kind:              ev.Kind,
		Content:           ev.Text,
		MediaURL:          ev.MediaURL,
		ProviderMessageID: ev.ProviderMessageID,
		Status:            models.MessageStatusDelivered,
		CreatedAt:         receivedAt,
	}
	if err := e.store.AddMessage(msg); err != nil {
		return fmt.Errorf("failed to log inbound message: %w", err)
	}
	return nil
}

// sendText delivers a text reply and logs it as an outbound message. The
// conversation is not mutated here; callers change state only after the send
// and log both succeed.
func (e *Engine) sendText(ctx context.Context, conv *models.Conversation, text string) error {
	providerID, err := e.sender.SendText(ctx, conv.PhoneNumber, text)
	if err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return e.logOutbound(conv.ID, models.MessageKindText, text, "", providerID)
}

// sendImage delivers an image reply and logs it.
func (e *Engine) sendImage(ctx context.Context, conv *models.Conversation, mediaURL, caption string) error {
	providerID, err := e.sender.SendImage(ctx, conv.PhoneNumber, mediaURL, caption)
	if err != nil {
		return fmt.Errorf("failed to send image: %w", err)
	}
	return e.logOutbound(conv.ID, models.MessageKindImage, caption, mediaURL, providerID)
}

func (e *Engine) logOutbound(conversationID string, kind models.MessageKind, content, mediaURL, providerID string) error {
	msg := models.Message{
		ID:             util.GenerateMessageID(),
		ConversationID: conversationID,
		Direction:      models.DirectionOutbound,
		Kind:           kind,
		Content:        content,
		MediaURL:       mediaURL,
		Status:         models.MessageStatusSent,
		CreatedAt:      time.Now(),
	}
	// Provider ids are only kept on inbound rows for de-duplication; outbound
	// ids are logged for tracing.
	if providerID != "" {
		slog.Debug("Engine.logOutbound: delivered", "conversationID", conversationID, "providerMessageID", providerID)
	}
	if err := e.store.AddMessage(msg); err != nil {
		return fmt.Errorf("failed to log outbound message: %w", err)
	}
	return nil
}

// transition persists a state change along with any accumulated field edits
// on conv.
func (e *Engine) transition(conv *models.Conversation, next models.ConversationState) error {
	prev := conv.State
	conv.State = next
	conv.UpdatedAt = time.Now()
	if next.IsTerminal() && conv.CompletedAt == nil {
		now := time.Now()
		conv.CompletedAt = &now
	}
	if err := e.store.UpdateConversation(*conv); err != nil {
		conv.State = prev
		return fmt.Errorf("failed to persist transition %s -> %s: %w", prev, next, err)
	}
	slog.Info("Engine.transition", "conversationID", conv.ID, "from", prev, "to", next)
	return nil
}
