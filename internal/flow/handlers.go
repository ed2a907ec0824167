package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/SorrisoLab/SmileFlow/internal/models"
)

// handleGreeting welcomes the patient and asks for a name. The first inbound
// message of a conversation lands here regardless of its content.
func (e *Engine) handleGreeting(ctx context.Context, conv *models.Conversation, _ models.InboundEvent) error {
	if err := e.sendText(ctx, conv, welcomeReply); err != nil {
		return err
	}
	return e.transition(conv, models.StateWaitingName)
}

// handleWaitingName stores the patient's name and asks which treatment they
// want. Too-short replies are reprompted without a state change.
func (e *Engine) handleWaitingName(ctx context.Context, conv *models.Conversation, ev models.InboundEvent) error {
	if ev.Kind != models.MessageKindText || !ValidName(ev.Text) {
		return e.sendText(ctx, conv, askNameAgainReply)
	}

	name := strings.TrimSpace(ev.Text)
	if err := e.sendText(ctx, conv, greetingFollowup(name)); err != nil {
		return err
	}
	conv.PatientName = name
	return e.transition(conv, models.StateWaitingTreatment)
}

// handleWaitingTreatment records the chosen treatment and asks for a smile
// photo.
func (e *Engine) handleWaitingTreatment(ctx context.Context, conv *models.Conversation, ev models.InboundEvent) error {
	if ev.Kind != models.MessageKindText || ev.Text == "" {
		return e.sendText(ctx, conv, chooseOptionReply)
	}

	treatment, ok := ClassifyTreatment(ev.Text)
	if !ok {
		return e.sendText(ctx, conv, invalidTreatmentReply)
	}

	reply := fmt.Sprintf(askPhotoReplyFormat, treatment.DisplayName())
	if err := e.sendText(ctx, conv, reply); err != nil {
		return err
	}
	conv.TreatmentType = treatment
	return e.transition(conv, models.StateWaitingPhoto)
}

// handleWaitingPhoto acknowledges a received photo, enqueues the simulation
// job, and parks the conversation in processing. Non-photo messages are
// reprompted.
func (e *Engine) handleWaitingPhoto(ctx context.Context, conv *models.Conversation, ev models.InboundEvent) error {
	if ev.Kind != models.MessageKindImage || ev.MediaURL == "" {
		return e.sendText(ctx, conv, needPhotoReply)
	}

	if err := e.sendText(ctx, conv, photoReceivedReply); err != nil {
		return err
	}

	payload, err := models.EncodeJobPayload(models.SimulationJobPayload{
		ConversationID: conv.ID,
		Phone:          conv.PhoneNumber,
		MediaURL:       ev.MediaURL,
	})
	if err != nil {
		return err
	}
	jobID, err := e.jobs.EnqueueJob(models.JobKindSimulateSmile, time.Now(), payload, "sim:"+conv.ID)
	if err != nil {
		return fmt.Errorf("failed to enqueue simulation job: %w", err)
	}
	slog.Info("Engine.handleWaitingPhoto: simulation queued", "conversationID", conv.ID, "jobID", jobID)

	return e.transition(conv, models.StateProcessing)
}

// handleProcessing tells an impatient patient the simulation is still running.
func (e *Engine) handleProcessing(ctx context.Context, conv *models.Conversation, _ models.InboundEvent) error {
	return e.sendText(ctx, conv, stillProcessingReply)
}

// handleShowingResult reads the patient's verdict on the simulation. Approval
// queues the budget job; rejection loops back to waiting_photo for another
// attempt.
func (e *Engine) handleShowingResult(ctx context.Context, conv *models.Conversation, ev models.InboundEvent) error {
	if ev.Kind != models.MessageKindText || ev.Text == "" {
		return e.sendText(ctx, conv, chooseOptionReply)
	}

	switch ClassifyResult(ev.Text) {
	case ResultApproved:
		if err := e.sendText(ctx, conv, generatingBudgetReply); err != nil {
			return err
		}
		payload, err := models.EncodeJobPayload(models.BudgetJobPayload{
			ConversationID: conv.ID,
			Phone:          conv.PhoneNumber,
		})
		if err != nil {
			return err
		}
		jobID, err := e.jobs.EnqueueJob(models.JobKindComputeBudget, time.Now(), payload, "budget:"+conv.ID)
		if err != nil {
			return fmt.Errorf("failed to enqueue budget job: %w", err)
		}
		slog.Info("Engine.handleShowingResult: budget queued", "conversationID", conv.ID, "jobID", jobID)
		return e.transition(conv, models.StateGeneratingBudget)

	case ResultRetry:
		if err := e.sendText(ctx, conv, retrySimulationReply); err != nil {
			return err
		}
		return e.transition(conv, models.StateWaitingPhoto)

	default:
		return e.sendText(ctx, conv, invalidResultChoiceReply)
	}
}

// handleGeneratingBudget mirrors handleProcessing for the budget job.
func (e *Engine) handleGeneratingBudget(ctx context.Context, conv *models.Conversation, _ models.InboundEvent) error {
	return e.sendText(ctx, conv, stillGeneratingBudgetReply)
}

// handleWaitingApproval reads the patient's answer to the budget. Acceptance
// moves to scheduling; refusal completes the conversation politely.
func (e *Engine) handleWaitingApproval(ctx context.Context, conv *models.Conversation, ev models.InboundEvent) error {
	if ev.Kind != models.MessageKindText || ev.Text == "" {
		return e.sendText(ctx, conv, chooseOptionReply)
	}

	switch ClassifyApproval(ev.Text) {
	case ApprovalAccepted:
		if err := e.sendText(ctx, conv, scheduleAskDayReply); err != nil {
			return err
		}
		return e.transition(conv, models.StateScheduling)

	case ApprovalDeclined:
		if err := e.sendText(ctx, conv, declinedReply); err != nil {
			return err
		}
		return e.transition(conv, models.StateCompleted)

	default:
		return e.sendText(ctx, conv, invalidApprovalReply)
	}
}

// handleScheduling confirms the appointment request and completes the
// conversation. The clinic staff follows up with the exact slot; the preferred
// day is kept in conversation metadata for them.
func (e *Engine) handleScheduling(ctx context.Context, conv *models.Conversation, ev models.InboundEvent) error {
	if ev.Kind == models.MessageKindText && strings.TrimSpace(ev.Text) != "" {
		if conv.Metadata == nil {
			conv.Metadata = make(map[string]string)
		}
		conv.Metadata["preferred_day"] = strings.TrimSpace(ev.Text)
	}

	if err := e.sendText(ctx, conv, scheduleConfirmedReply); err != nil {
		return err
	}
	return e.transition(conv, models.StateCompleted)
}
