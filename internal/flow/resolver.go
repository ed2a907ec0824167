package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SorrisoLab/SmileFlow/internal/models"
	"github.com/SorrisoLab/SmileFlow/internal/util"
)

// Resolve finds the active conversation for the event's phone number or
// creates a fresh one in the greeting state. At most one conversation per
// phone is ever non-terminal; a patient whose previous conversation finished
// starts over from the greeting.
func (e *Engine) Resolve(ctx context.Context, ev models.InboundEvent) (*models.Conversation, error) {
	conv, err := e.store.FindActiveConversationByPhone(ev.Phone)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conversation for %s: %w", ev.Phone, err)
	}
	if conv != nil {
		if err := e.store.TouchConversation(conv.ID, time.Now()); err != nil {
			slog.Warn("Engine.Resolve: touch failed", "error", err, "conversationID", conv.ID)
		}
		slog.Debug("Engine.Resolve: reusing active conversation", "conversationID", conv.ID, "state", conv.State)
		return conv, nil
	}

	clinicID, err := e.clinics.ClinicFor(ctx, ev.Instance)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve clinic for new conversation: %w", err)
	}

	now := time.Now()
	conv = &models.Conversation{
		ID:            util.GenerateConversationID(),
		PhoneNumber:   ev.Phone,
		ContactName:   ev.ContactName,
		State:         models.StateGreeting,
		ClinicID:      clinicID,
		Metadata:      map[string]string{"source": "whatsapp", "instance": ev.Instance},
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := conv.Validate(); err != nil {
		return nil, fmt.Errorf("new conversation invalid: %w", err)
	}
	if err := e.store.CreateConversation(*conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	slog.Info("Engine.Resolve: new conversation", "conversationID", conv.ID, "phone", ev.Phone, "clinicID", clinicID)
	return conv, nil
}
