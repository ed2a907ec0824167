package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SorrisoLab/SmileFlow/internal/budget"
	"github.com/SorrisoLab/SmileFlow/internal/models"
	"github.com/SorrisoLab/SmileFlow/internal/simulation"
	"github.com/SorrisoLab/SmileFlow/internal/store"
	"github.com/SorrisoLab/SmileFlow/internal/util"
)

// RegisterJobHandlers wires the engine's background work into the job runner.
func (e *Engine) RegisterJobHandlers(runner *store.JobRunner) {
	runner.RegisterHandler(models.JobKindSimulateSmile, e.runSimulationJob)
	runner.RegisterDeadLetterHandler(models.JobKindSimulateSmile, e.simulationDeadLetter)
	runner.RegisterHandler(models.JobKindComputeBudget, e.runBudgetJob)
	runner.RegisterDeadLetterHandler(models.JobKindComputeBudget, e.budgetDeadLetter)
}

// runSimulationJob executes one smile simulation: fetch the patient photo,
// call the generation service, store both images, create the patient and
// simulation records, deliver the result, and advance the conversation.
//
// The generation call happens before any rows are written, so a failed
// generation leaves no patient or simulation behind; rows written before a
// later delivery failure are marked failed and never linked. The conversation
// must already be in processing; the enqueue happens just before that
// transition commits, so a state mismatch is returned as an error and
// absorbed by the runner's retry backoff.
func (e *Engine) runSimulationJob(ctx context.Context, payloadJSON string) error {
	var payload models.SimulationJobPayload
	if err := models.DecodeJobPayload(payloadJSON, &payload); err != nil {
		return err
	}

	conv, err := e.store.GetConversation(payload.ConversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		slog.Warn("Engine.runSimulationJob: conversation gone", "conversationID", payload.ConversationID)
		return nil
	}
	if conv.State != models.StateProcessing {
		return fmt.Errorf("conversation %s not in processing (state %s)", conv.ID, conv.State)
	}

	imageData, contentType, err := e.fetcher.Fetch(ctx, payload.MediaURL)
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}

	result, err := e.generator.Generate(ctx, simulation.GenerateRequest{
		ImageBase64:   simulation.EncodeImage(imageData),
		MimeType:      contentType,
		TreatmentType: string(conv.TreatmentType),
		TeethCount:    teethCountFor(conv.TreatmentType),
	})
	if err != nil {
		return err
	}
	processedData, err := simulation.DecodeImage(result.ProcessedBase64)
	if err != nil {
		return err
	}
	processedType := result.MimeType
	if processedType == "" {
		processedType = "image/jpeg"
	}

	now := time.Now()
	baseKey := fmt.Sprintf("%s/%s/%d", conv.ClinicID, conv.ID, now.UnixMilli())
	originalURL, err := e.storage.Upload(ctx, baseKey+"-original.jpg", contentType, imageData)
	if err != nil {
		return err
	}
	processedURL, err := e.storage.Upload(ctx, baseKey+"-processed.jpg", processedType, processedData)
	if err != nil {
		return err
	}

	patient := models.Patient{
		ID:        util.GeneratePatientID(),
		ClinicID:  conv.ClinicID,
		Name:      conv.PatientName,
		Phone:     conv.PhoneNumber,
		CreatedAt: now,
	}
	if err := e.store.CreatePatient(patient); err != nil {
		return err
	}

	sim := models.Simulation{
		ID:                util.GenerateSimulationID(),
		ClinicID:          conv.ClinicID,
		PatientID:         patient.ID,
		PatientName:       conv.PatientName,
		PatientPhone:      conv.PhoneNumber,
		TreatmentType:     conv.TreatmentType,
		OriginalImageURL:  originalURL,
		ProcessedImageURL: processedURL,
		Status:            models.SimulationStatusProcessing,
		TeethCount:        teethCountFor(conv.TreatmentType),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.store.CreateSimulation(sim); err != nil {
		return err
	}
	slog.Info("Engine.runSimulationJob: simulation stored", "conversationID", conv.ID, "simulationID", sim.ID, "patientID", patient.ID)

	// From here on the row exists. If delivery fails it is marked failed so
	// a retry starts a fresh record instead of leaving one stuck processing;
	// the conversation never links to it.
	if err := e.deliverSimulationResult(ctx, conv, originalURL, processedURL); err != nil {
		e.markSimulationFailed(&sim)
		return err
	}

	sim.Status = models.SimulationStatusCompleted
	sim.UpdatedAt = time.Now()
	if err := e.store.UpdateSimulation(sim); err != nil {
		return err
	}

	conv.PatientID = patient.ID
	conv.SimulationID = sim.ID
	return e.transition(conv, models.StateShowingResult)
}

// deliverSimulationResult sends the before/after images and the feedback
// prompt.
func (e *Engine) deliverSimulationResult(ctx context.Context, conv *models.Conversation, originalURL, processedURL string) error {
	if err := e.sendImage(ctx, conv, originalURL, beforeCaption); err != nil {
		return err
	}
	if err := e.sendImage(ctx, conv, processedURL, afterCaption(shortTreatmentName(conv.TreatmentType))); err != nil {
		return err
	}
	return e.sendText(ctx, conv, simulationDoneReply)
}

func (e *Engine) markSimulationFailed(sim *models.Simulation) {
	sim.Status = models.SimulationStatusFailed
	sim.UpdatedAt = time.Now()
	if err := e.store.UpdateSimulation(*sim); err != nil {
		slog.Error("Engine.markSimulationFailed", "simulationID", sim.ID, "error", err)
	}
}

// simulationDeadLetter apologizes and sends the conversation back to
// waiting_photo after the simulation job exhausts its retries. If the
// conversation already left processing (the watchdog got there first, or the
// patient restarted) it does nothing.
func (e *Engine) simulationDeadLetter(ctx context.Context, payloadJSON string) error {
	var payload models.SimulationJobPayload
	if err := models.DecodeJobPayload(payloadJSON, &payload); err != nil {
		return err
	}
	conv, err := e.store.GetConversation(payload.ConversationID)
	if err != nil {
		return err
	}
	if conv == nil || conv.State != models.StateProcessing {
		return nil
	}
	slog.Warn("Engine.simulationDeadLetter: reverting to waiting_photo", "conversationID", conv.ID)
	if err := e.sendText(ctx, conv, simulationFailedReply); err != nil {
		return err
	}
	return e.transition(conv, models.StateWaitingPhoto)
}

// runBudgetJob computes the treatment quote, persists it, and sends the
// budget message. The conversation must be in generating_budget.
func (e *Engine) runBudgetJob(ctx context.Context, payloadJSON string) error {
	var payload models.BudgetJobPayload
	if err := models.DecodeJobPayload(payloadJSON, &payload); err != nil {
		return err
	}

	conv, err := e.store.GetConversation(payload.ConversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		slog.Warn("Engine.runBudgetJob: conversation gone", "conversationID", payload.ConversationID)
		return nil
	}
	if conv.State != models.StateGeneratingBudget {
		return fmt.Errorf("conversation %s not in generating_budget (state %s)", conv.ID, conv.State)
	}

	// The approved simulation is the source of truth for the priced
	// treatment; the conversation field is the fallback for older rows.
	treatment := conv.TreatmentType
	if conv.SimulationID != "" {
		sim, err := e.store.GetSimulation(conv.SimulationID)
		if err != nil {
			return err
		}
		if sim != nil {
			treatment = sim.TreatmentType
		}
	}

	quote, err := budget.Compute(treatment)
	if err != nil {
		return err
	}

	b := models.Budget{
		ID:             util.GenerateBudgetID(),
		ClinicID:       conv.ClinicID,
		ConversationID: conv.ID,
		SimulationID:   conv.SimulationID,
		TreatmentType:  treatment,
		TotalCents:     quote.TotalCents,
		DiscountCents:  quote.DiscountCents,
		FinalCents:     quote.FinalCents,
		Installments:   quote.Installments,
		CreatedAt:      time.Now(),
	}
	if err := e.store.CreateBudget(b); err != nil {
		return err
	}
	slog.Info("Engine.runBudgetJob: budget stored", "conversationID", conv.ID, "budgetID", b.ID, "finalCents", b.FinalCents)

	if err := e.sendText(ctx, conv, budget.FormatMessage(quote)); err != nil {
		return err
	}
	return e.transition(conv, models.StateWaitingApproval)
}

// budgetDeadLetter apologizes and returns the conversation to showing_result
// so the patient can ask for the budget again or start a new simulation.
func (e *Engine) budgetDeadLetter(ctx context.Context, payloadJSON string) error {
	var payload models.BudgetJobPayload
	if err := models.DecodeJobPayload(payloadJSON, &payload); err != nil {
		return err
	}
	conv, err := e.store.GetConversation(payload.ConversationID)
	if err != nil {
		return err
	}
	if conv == nil || conv.State != models.StateGeneratingBudget {
		return nil
	}
	slog.Warn("Engine.budgetDeadLetter: reverting to showing_result", "conversationID", conv.ID)
	if err := e.sendText(ctx, conv, budgetFailedReply); err != nil {
		return err
	}
	return e.transition(conv, models.StateShowingResult)
}

// teethCountFor returns the number of treated teeth stored on a simulation.
func teethCountFor(t models.TreatmentType) int {
	if t == models.TreatmentFacetas {
		return 6
	}
	return 0
}

// shortTreatmentName is the one-word name used in the result image caption.
func shortTreatmentName(t models.TreatmentType) string {
	if t == models.TreatmentFacetas {
		return "Facetas"
	}
	return "Clareamento"
}
