package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SorrisoLab/SmileFlow/internal/media"
	"github.com/SorrisoLab/SmileFlow/internal/models"
	"github.com/SorrisoLab/SmileFlow/internal/simulation"
	"github.com/SorrisoLab/SmileFlow/internal/store"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	fail  bool
	count int
}

func (f *fakeSender) record(content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("gateway unavailable")
	}
	f.count++
	f.sent = append(f.sent, content)
	return fmt.Sprintf("OUT%d", f.count), nil
}

func (f *fakeSender) SendText(_ context.Context, _, text string) (string, error) {
	return f.record(text)
}

func (f *fakeSender) SendImage(_ context.Context, _, _, caption string) (string, error) {
	return f.record(caption)
}

func (f *fakeSender) SendDocument(_ context.Context, _, _, fileName string) (string, error) {
	return f.record(fileName)
}

func (f *fakeSender) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeSender) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeClinics struct{}

func (fakeClinics) ClinicFor(context.Context, string) (string, error) { return "clinic_1", nil }

type fakeFetcher struct{ fail bool }

func (f *fakeFetcher) Fetch(context.Context, string) ([]byte, string, error) {
	if f.fail {
		return nil, "", errors.New("download failed")
	}
	return []byte("photo-bytes"), "image/jpeg", nil
}

type fakeGenerator struct{ fail bool }

func (f *fakeGenerator) Generate(_ context.Context, _ simulation.GenerateRequest) (simulation.GenerateResponse, error) {
	if f.fail {
		return simulation.GenerateResponse{}, errors.New("generation failed")
	}
	return simulation.GenerateResponse{
		ProcessedBase64: simulation.EncodeImage([]byte("processed-bytes")),
		MimeType:        "image/jpeg",
	}, nil
}

type testRig struct {
	engine    *Engine
	store     *store.InMemoryStore
	sender    *fakeSender
	fetcher   *fakeFetcher
	generator *fakeGenerator
	msgSeq    int
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	st := store.NewInMemoryStore()
	sender := &fakeSender{}
	fetcher := &fakeFetcher{}
	generator := &fakeGenerator{}
	engine, err := NewEngine(st, st, sender, fakeClinics{}, fetcher, media.NewMemoryStorage(), generator)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &testRig{engine: engine, store: st, sender: sender, fetcher: fetcher, generator: generator}
}

func (r *testRig) text(t *testing.T, phone, text string) {
	t.Helper()
	r.msgSeq++
	err := r.engine.ProcessInbound(context.Background(), models.InboundEvent{
		Phone:             phone,
		ContactName:       "Maria",
		Instance:          "clinic-main",
		Kind:              models.MessageKindText,
		Text:              text,
		ProviderMessageID: fmt.Sprintf("IN%d", r.msgSeq),
	})
	if err != nil {
		t.Fatalf("ProcessInbound(%q): %v", text, err)
	}
}

func (r *testRig) image(t *testing.T, phone string) {
	t.Helper()
	r.msgSeq++
	err := r.engine.ProcessInbound(context.Background(), models.InboundEvent{
		Phone:             phone,
		Instance:          "clinic-main",
		Kind:              models.MessageKindImage,
		MediaURL:          "https://cdn.example/smile.jpg",
		ProviderMessageID: fmt.Sprintf("IN%d", r.msgSeq),
	})
	if err != nil {
		t.Fatalf("ProcessInbound(image): %v", err)
	}
}

func (r *testRig) conversation(t *testing.T, phone string) *models.Conversation {
	t.Helper()
	conversations, err := r.store.ListConversations(10)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	for i := range conversations {
		if conversations[i].PhoneNumber == phone {
			return &conversations[i]
		}
	}
	t.Fatalf("no conversation for %s", phone)
	return nil
}

// runDueJob claims the single due job and executes its registered handler
// through the engine directly.
func (r *testRig) runDueJob(t *testing.T, kind string) error {
	t.Helper()
	jobs, err := r.store.ClaimDueJobs(time.Now(), 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 due job, got %d", len(jobs))
	}
	if jobs[0].Kind != kind {
		t.Fatalf("job kind = %s, want %s", jobs[0].Kind, kind)
	}
	execErr := map[string]func(context.Context, string) error{
		models.JobKindSimulateSmile: r.engine.runSimulationJob,
		models.JobKindComputeBudget: r.engine.runBudgetJob,
	}[kind](context.Background(), jobs[0].PayloadJSON)
	if execErr == nil {
		if err := r.store.CompleteJob(jobs[0].ID); err != nil {
			t.Fatalf("CompleteJob: %v", err)
		}
	} else {
		if err := r.store.FailJob(jobs[0].ID, execErr.Error(), time.Now()); err != nil {
			t.Fatalf("FailJob: %v", err)
		}
	}
	return execErr
}

const phone = "5511999998888"

func TestFullConversationFlow(t *testing.T) {
	r := newTestRig(t)

	r.text(t, phone, "oi")
	if got := r.conversation(t, phone).State; got != models.StateWaitingName {
		t.Fatalf("after greeting state = %s", got)
	}

	r.text(t, phone, "Maria Silva")
	conv := r.conversation(t, phone)
	if conv.State != models.StateWaitingTreatment {
		t.Fatalf("after name state = %s", conv.State)
	}
	if conv.PatientName != "Maria Silva" {
		t.Errorf("patient name = %q", conv.PatientName)
	}

	r.text(t, phone, "1")
	conv = r.conversation(t, phone)
	if conv.State != models.StateWaitingPhoto || conv.TreatmentType != models.TreatmentFacetas {
		t.Fatalf("after treatment state = %s, treatment = %s", conv.State, conv.TreatmentType)
	}

	r.image(t, phone)
	if got := r.conversation(t, phone).State; got != models.StateProcessing {
		t.Fatalf("after photo state = %s", got)
	}

	if err := r.runDueJob(t, models.JobKindSimulateSmile); err != nil {
		t.Fatalf("simulation job: %v", err)
	}
	conv = r.conversation(t, phone)
	if conv.State != models.StateShowingResult {
		t.Fatalf("after simulation state = %s", conv.State)
	}
	if conv.PatientID == "" || conv.SimulationID == "" {
		t.Errorf("patient/simulation ids not linked: %+v", conv)
	}
	if r.store.CountPatients() != 1 || r.store.CountSimulations() != 1 {
		t.Errorf("patients = %d, simulations = %d", r.store.CountPatients(), r.store.CountSimulations())
	}
	sim, err := r.store.GetSimulation(conv.SimulationID)
	if err != nil {
		t.Fatalf("GetSimulation: %v", err)
	}
	if sim == nil || sim.Status != models.SimulationStatusCompleted {
		t.Errorf("simulation status not completed: %+v", sim)
	}

	r.text(t, phone, "1")
	if got := r.conversation(t, phone).State; got != models.StateGeneratingBudget {
		t.Fatalf("after result approval state = %s", got)
	}

	if err := r.runDueJob(t, models.JobKindComputeBudget); err != nil {
		t.Fatalf("budget job: %v", err)
	}
	if got := r.conversation(t, phone).State; got != models.StateWaitingApproval {
		t.Fatalf("after budget state = %s", got)
	}
	budgets := r.store.ListBudgets()
	if len(budgets) != 1 || budgets[0].FinalCents != 324000 {
		t.Fatalf("unexpected budgets: %+v", budgets)
	}
	if !strings.Contains(r.sender.last(), "ORÇAMENTO") {
		t.Errorf("budget message not sent, last = %q", r.sender.last())
	}

	r.text(t, phone, "1")
	if got := r.conversation(t, phone).State; got != models.StateScheduling {
		t.Fatalf("after approval state = %s", got)
	}

	r.text(t, phone, "15/12/2025")
	conv = r.conversation(t, phone)
	if conv.State != models.StateCompleted {
		t.Fatalf("final state = %s", conv.State)
	}
	if conv.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if conv.Metadata["preferred_day"] != "15/12/2025" {
		t.Errorf("preferred day = %q", conv.Metadata["preferred_day"])
	}
}

func TestInvalidNameReprompts(t *testing.T) {
	r := newTestRig(t)
	r.text(t, phone, "oi")
	before := r.sender.total()

	r.text(t, phone, "A")
	conv := r.conversation(t, phone)
	if conv.State != models.StateWaitingName {
		t.Errorf("state changed to %s on invalid name", conv.State)
	}
	if r.sender.total() != before+1 {
		t.Errorf("expected exactly one reprompt, sent %d", r.sender.total()-before)
	}
}

func TestInvalidTreatmentReprompts(t *testing.T) {
	r := newTestRig(t)
	r.text(t, phone, "oi")
	r.text(t, phone, "Maria Silva")

	r.text(t, phone, "7")
	if got := r.conversation(t, phone).State; got != models.StateWaitingTreatment {
		t.Errorf("state changed to %s on invalid choice", got)
	}
}

func TestTextWhileWaitingPhotoReprompts(t *testing.T) {
	r := newTestRig(t)
	r.text(t, phone, "oi")
	r.text(t, phone, "Maria Silva")
	r.text(t, phone, "2")

	r.text(t, phone, "aqui está")
	if got := r.conversation(t, phone).State; got != models.StateWaitingPhoto {
		t.Errorf("state changed to %s on text in waiting_photo", got)
	}
}

func TestDuplicateDeliveryIgnored(t *testing.T) {
	r := newTestRig(t)
	r.text(t, phone, "oi")
	before := r.sender.total()

	// Redeliver the same provider message id.
	err := r.engine.ProcessInbound(context.Background(), models.InboundEvent{
		Phone:             phone,
		Kind:              models.MessageKindText,
		Text:              "oi",
		Instance:          "clinic-main",
		ProviderMessageID: "IN1",
	})
	if err != nil {
		t.Fatalf("redelivery errored: %v", err)
	}
	if r.sender.total() != before {
		t.Errorf("redelivery produced %d extra sends", r.sender.total()-before)
	}
	if got := r.conversation(t, phone).State; got != models.StateWaitingName {
		t.Errorf("redelivery changed state to %s", got)
	}
}

func TestMessageDuringProcessing(t *testing.T) {
	r := newTestRig(t)
	r.text(t, phone, "oi")
	r.text(t, phone, "Maria Silva")
	r.text(t, phone, "1")
	r.image(t, phone)

	r.text(t, phone, "e aí?")
	if got := r.conversation(t, phone).State; got != models.StateProcessing {
		t.Errorf("state changed to %s while processing", got)
	}
	if !strings.Contains(r.sender.last(), "processando") {
		t.Errorf("expected please-wait reply, got %q", r.sender.last())
	}
}

func TestSendFailureAbortsTransition(t *testing.T) {
	r := newTestRig(t)
	r.sender.fail = true

	err := r.engine.ProcessInbound(context.Background(), models.InboundEvent{
		Phone:             phone,
		Kind:              models.MessageKindText,
		Text:              "oi",
		Instance:          "clinic-main",
		ProviderMessageID: "IN1",
	})
	if err == nil {
		t.Fatal("expected error when send fails")
	}
	if got := r.conversation(t, phone).State; got != models.StateGreeting {
		t.Errorf("state advanced to %s despite failed send", got)
	}
}

func TestFailedDeliveryReplaysOnRedelivery(t *testing.T) {
	r := newTestRig(t)
	ev := models.InboundEvent{
		Phone:             phone,
		ContactName:       "Maria",
		Instance:          "clinic-main",
		Kind:              models.MessageKindText,
		Text:              "oi",
		ProviderMessageID: "IN1",
	}

	r.sender.fail = true
	if err := r.engine.ProcessInbound(context.Background(), ev); err == nil {
		t.Fatal("expected error when send fails")
	}

	// The gateway redelivers the same provider message id. The failed
	// attempt must not have logged the inbound row, so the handler runs
	// again from the unchanged state.
	r.sender.fail = false
	if err := r.engine.ProcessInbound(context.Background(), ev); err != nil {
		t.Fatalf("redelivery errored: %v", err)
	}
	if got := r.conversation(t, phone).State; got != models.StateWaitingName {
		t.Errorf("state = %s, want waiting_name after replayed delivery", got)
	}
	if r.sender.total() != 1 {
		t.Errorf("sent %d messages, want the welcome exactly once", r.sender.total())
	}
}

func TestDeliveryFailureMarksSimulationFailed(t *testing.T) {
	r := newTestRig(t)
	r.text(t, phone, "oi")
	r.text(t, phone, "Maria Silva")
	r.text(t, phone, "1")
	r.image(t, phone)

	r.sender.fail = true
	if err := r.runDueJob(t, models.JobKindSimulateSmile); err == nil {
		t.Fatal("expected simulation job to fail on delivery")
	}

	sims := r.store.ListSimulations()
	if len(sims) != 1 || sims[0].Status != models.SimulationStatusFailed {
		t.Errorf("unexpected simulations: %+v", sims)
	}
	conv := r.conversation(t, phone)
	if conv.SimulationID != "" {
		t.Errorf("conversation linked to a failed simulation: %s", conv.SimulationID)
	}
	if conv.State != models.StateProcessing {
		t.Errorf("state = %s, want processing while retries remain", conv.State)
	}
}

func TestSimulationFailureLeavesNoRows(t *testing.T) {
	r := newTestRig(t)
	r.text(t, phone, "oi")
	r.text(t, phone, "Maria Silva")
	r.text(t, phone, "1")
	r.image(t, phone)
	r.generator.fail = true

	if err := r.runDueJob(t, models.JobKindSimulateSmile); err == nil {
		t.Fatal("expected simulation job to fail")
	}
	if r.store.CountPatients() != 0 || r.store.CountSimulations() != 0 {
		t.Errorf("failed attempt left rows: patients = %d, simulations = %d", r.store.CountPatients(), r.store.CountSimulations())
	}
	if got := r.conversation(t, phone).State; got != models.StateProcessing {
		t.Errorf("state = %s, want processing while retries remain", got)
	}
}

func TestSimulationDeadLetterRevertsToWaitingPhoto(t *testing.T) {
	r := newTestRig(t)
	r.text(t, phone, "oi")
	r.text(t, phone, "Maria Silva")
	r.text(t, phone, "1")
	r.image(t, phone)

	conv := r.conversation(t, phone)
	payload, err := models.EncodeJobPayload(models.SimulationJobPayload{ConversationID: conv.ID, Phone: phone})
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	if err := r.engine.simulationDeadLetter(context.Background(), payload); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	if got := r.conversation(t, phone).State; got != models.StateWaitingPhoto {
		t.Errorf("state = %s, want waiting_photo", got)
	}
	if !strings.Contains(r.sender.last(), "erro ao processar") {
		t.Errorf("apology not sent, last = %q", r.sender.last())
	}
}

func TestRetryPhotoAfterSimulationDeadLetter(t *testing.T) {
	r := newTestRig(t)
	r.text(t, phone, "oi")
	r.text(t, phone, "Maria Silva")
	r.text(t, phone, "1")
	r.image(t, phone)

	// Exhaust every attempt, then dead-letter.
	r.generator.fail = true
	for i := 0; i < 3; i++ {
		if err := r.runDueJob(t, models.JobKindSimulateSmile); err == nil {
			t.Fatal("expected simulation job to fail")
		}
	}
	conv := r.conversation(t, phone)
	payload, err := models.EncodeJobPayload(models.SimulationJobPayload{ConversationID: conv.ID, Phone: phone})
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	if err := r.engine.simulationDeadLetter(context.Background(), payload); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	if got := r.conversation(t, phone).State; got != models.StateWaitingPhoto {
		t.Fatalf("state = %s, want waiting_photo", got)
	}

	// The retry photo must enqueue a fresh runnable job; the failed one
	// carries the same dedupe key and must not swallow it.
	r.generator.fail = false
	r.image(t, phone)
	if got := r.conversation(t, phone).State; got != models.StateProcessing {
		t.Fatalf("state = %s, want processing after retry photo", got)
	}
	if err := r.runDueJob(t, models.JobKindSimulateSmile); err != nil {
		t.Fatalf("retry simulation job: %v", err)
	}
	if got := r.conversation(t, phone).State; got != models.StateShowingResult {
		t.Errorf("state = %s, want showing_result after retry", got)
	}
}

func TestBudgetDeadLetterRevertsToShowingResult(t *testing.T) {
	r := newTestRig(t)
	r.text(t, phone, "oi")
	r.text(t, phone, "Maria Silva")
	r.text(t, phone, "1")
	r.image(t, phone)
	if err := r.runDueJob(t, models.JobKindSimulateSmile); err != nil {
		t.Fatalf("simulation job: %v", err)
	}
	r.text(t, phone, "1")

	conv := r.conversation(t, phone)
	payload, err := models.EncodeJobPayload(models.BudgetJobPayload{ConversationID: conv.ID, Phone: phone})
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	if err := r.engine.budgetDeadLetter(context.Background(), payload); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	if got := r.conversation(t, phone).State; got != models.StateShowingResult {
		t.Errorf("state = %s, want showing_result", got)
	}
	if !strings.Contains(r.sender.last(), "entre em contato") {
		t.Errorf("apology missing manual-contact hint, last = %q", r.sender.last())
	}
}

func TestDeadLetterNoopsWhenStateMoved(t *testing.T) {
	r := newTestRig(t)
	r.text(t, phone, "oi")
	conv := r.conversation(t, phone)

	payload, err := models.EncodeJobPayload(models.SimulationJobPayload{ConversationID: conv.ID, Phone: phone})
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	before := r.sender.total()
	if err := r.engine.simulationDeadLetter(context.Background(), payload); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	if r.sender.total() != before {
		t.Error("dead letter acted on a conversation outside processing")
	}
}

func TestRejectedResultLoopsToWaitingPhoto(t *testing.T) {
	r := newTestRig(t)
	r.text(t, phone, "oi")
	r.text(t, phone, "Maria Silva")
	r.text(t, phone, "1")
	r.image(t, phone)
	if err := r.runDueJob(t, models.JobKindSimulateSmile); err != nil {
		t.Fatalf("simulation job: %v", err)
	}

	r.text(t, phone, "2")
	if got := r.conversation(t, phone).State; got != models.StateWaitingPhoto {
		t.Errorf("state = %s, want waiting_photo after rejection", got)
	}
}

func TestDeclinedBudgetCompletesConversation(t *testing.T) {
	r := newTestRig(t)
	r.text(t, phone, "oi")
	r.text(t, phone, "Maria Silva")
	r.text(t, phone, "2")
	r.image(t, phone)
	if err := r.runDueJob(t, models.JobKindSimulateSmile); err != nil {
		t.Fatalf("simulation job: %v", err)
	}
	r.text(t, phone, "1")
	if err := r.runDueJob(t, models.JobKindComputeBudget); err != nil {
		t.Fatalf("budget job: %v", err)
	}

	r.text(t, phone, "não, obrigado")
	conv := r.conversation(t, phone)
	if conv.State != models.StateCompleted {
		t.Fatalf("state = %s, want completed", conv.State)
	}
	if conv.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestNewConversationAfterCompletion(t *testing.T) {
	r := newTestRig(t)
	r.text(t, phone, "oi")
	first := r.conversation(t, phone)

	// Force the conversation terminal, then message again.
	first.State = models.StateCompleted
	if err := r.store.UpdateConversation(*first); err != nil {
		t.Fatalf("UpdateConversation: %v", err)
	}

	r.text(t, phone, "oi de novo")
	conversations, err := r.store.ListConversations(10)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(conversations) != 2 {
		t.Fatalf("expected a second conversation, got %d", len(conversations))
	}
	active, err := r.store.FindActiveConversationByPhone(phone)
	if err != nil {
		t.Fatalf("FindActiveConversationByPhone: %v", err)
	}
	if active == nil || active.ID == first.ID {
		t.Error("active conversation should be the new one")
	}
	if active.State != models.StateWaitingName {
		t.Errorf("new conversation state = %s", active.State)
	}
}

func TestWatchdogRevertsStuckProcessing(t *testing.T) {
	r := newTestRig(t)
	r.text(t, phone, "oi")
	r.text(t, phone, "Maria Silva")
	r.text(t, phone, "1")
	r.image(t, phone)

	// Age the conversation past the deadline.
	conv := r.conversation(t, phone)
	conv.UpdatedAt = time.Now().Add(-time.Hour)
	if err := r.store.UpdateConversation(*conv); err != nil {
		t.Fatalf("UpdateConversation: %v", err)
	}

	w := NewWatchdog(r.engine)
	w.Sweep(context.Background())

	if got := r.conversation(t, phone).State; got != models.StateWaitingPhoto {
		t.Errorf("state = %s, want waiting_photo after watchdog sweep", got)
	}
}

func TestWatchdogRevertsDespitePatientPings(t *testing.T) {
	r := newTestRig(t)
	r.text(t, phone, "oi")
	r.text(t, phone, "Maria Silva")
	r.text(t, phone, "1")
	r.image(t, phone)

	conv := r.conversation(t, phone)
	conv.UpdatedAt = time.Now().Add(-time.Hour)
	if err := r.store.UpdateConversation(*conv); err != nil {
		t.Fatalf("UpdateConversation: %v", err)
	}

	// An impatient patient keeps pinging. The touch must not push the
	// deadline out.
	r.text(t, phone, "e aí?")
	r.text(t, phone, "alguém?")

	w := NewWatchdog(r.engine)
	w.Sweep(context.Background())

	if got := r.conversation(t, phone).State; got != models.StateWaitingPhoto {
		t.Errorf("state = %s, want waiting_photo despite inbound pings", got)
	}
}

func TestWatchdogIgnoresFreshProcessing(t *testing.T) {
	r := newTestRig(t)
	r.text(t, phone, "oi")
	r.text(t, phone, "Maria Silva")
	r.text(t, phone, "1")
	r.image(t, phone)

	w := NewWatchdog(r.engine)
	w.Sweep(context.Background())

	if got := r.conversation(t, phone).State; got != models.StateProcessing {
		t.Errorf("state = %s, watchdog touched a fresh conversation", got)
	}
}
