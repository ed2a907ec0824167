package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SorrisoLab/SmileFlow/internal/models"
	"github.com/SorrisoLab/SmileFlow/internal/store"
)

type fakeProcessor struct {
	events []models.InboundEvent
	err    error
}

func (p *fakeProcessor) ProcessInbound(ctx context.Context, ev models.InboundEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func newTestServer() (*Server, *store.InMemoryStore, *fakeProcessor) {
	st := store.NewInMemoryStore()
	proc := &fakeProcessor{}
	return NewServer(st, proc), st, proc
}

const webhookBody = `{
	"event": "messages.upsert",
	"instance": "clinic-main",
	"data": {
		"key": {"remoteJid": "5511999998888@s.whatsapp.net", "fromMe": false, "id": "MSG1"},
		"pushName": "Maria",
		"message": {"conversation": "oi"}
	}
}`

func TestWebhookAcceptsMessage(t *testing.T) {
	srv, _, proc := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(webhookBody))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(proc.events) != 1 {
		t.Fatalf("processed %d events, want 1", len(proc.events))
	}
	ev := proc.events[0]
	if ev.Phone != "5511999998888" || ev.Text != "oi" || ev.Instance != "clinic-main" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestWebhookAcknowledgesInvalidJSON(t *testing.T) {
	srv, _, proc := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 so the gateway does not redeliver", rec.Code)
	}
	if len(proc.events) != 0 {
		t.Errorf("malformed body reached the processor")
	}
}

func TestWebhookAcknowledgesIgnorableEvent(t *testing.T) {
	srv, _, proc := newTestServer()

	body := strings.Replace(webhookBody, "messages.upsert", "connection.update", 1)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 so the gateway does not retry", rec.Code)
	}
	if len(proc.events) != 0 {
		t.Errorf("ignorable event reached the processor")
	}
}

func TestWebhookReportsProcessingFailure(t *testing.T) {
	srv, _, proc := newTestServer()
	proc.err = errors.New("store unavailable")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(webhookBody))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.Status != "error" || resp.RunID == "" {
		t.Errorf("error response missing run id: %+v", resp)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestConversationsEndpoint(t *testing.T) {
	srv, st, _ := newTestServer()
	now := time.Now()
	for _, id := range []string{"conv_1", "conv_2"} {
		err := st.CreateConversation(models.Conversation{
			ID:          id,
			PhoneNumber: "5511999998888",
			State:       models.StateGreeting,
			ClinicID:    "clinic_1",
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/conversations?limit=1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Status string                `json:"status"`
		Result []models.Conversation `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if len(resp.Result) != 1 {
		t.Errorf("returned %d conversations, want 1", len(resp.Result))
	}
}

func TestConversationsRejectsBadLimit(t *testing.T) {
	srv, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/conversations?limit=abc", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestMessagesEndpoint(t *testing.T) {
	srv, st, _ := newTestServer()
	now := time.Now()
	err := st.CreateConversation(models.Conversation{
		ID:          "conv_1",
		PhoneNumber: "5511999998888",
		State:       models.StateWaitingName,
		ClinicID:    "clinic_1",
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = st.AddMessage(models.Message{
		ID:             "msg_1",
		ConversationID: "conv_1",
		Direction:      models.DirectionInbound,
		Kind:           models.MessageKindText,
		Content:        "oi",
		CreatedAt:      now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/conversations/conv_1/messages", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Status string           `json:"status"`
		Result []models.Message `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if len(resp.Result) != 1 || resp.Result[0].Content != "oi" {
		t.Errorf("unexpected messages: %+v", resp.Result)
	}
}

func TestMessagesUnknownConversation(t *testing.T) {
	srv, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/conversations/conv_missing/messages", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
