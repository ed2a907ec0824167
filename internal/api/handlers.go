// Package api provides HTTP handlers for SmileFlow endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/SorrisoLab/SmileFlow/internal/evolution"
	"github.com/SorrisoLab/SmileFlow/internal/models"
	"github.com/SorrisoLab/SmileFlow/internal/util"
)

// defaultConversationListLimit caps GET /conversations results.
const defaultConversationListLimit = 100

// webhookHandler receives Evolution API deliveries. Ignorable payloads (own
// echoes, non-message events) are acknowledged with 200 so the gateway does
// not retry them.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	runID := util.GenerateRunID()
	slog.Debug("Server.webhookHandler: processing webhook", "runID", runID)

	// Undecodable bodies are acknowledged like any other ignorable delivery;
	// a non-2xx answer would only make the gateway redeliver the same junk.
	var payload evolution.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("Server.webhookHandler: failed to decode JSON", "error", err, "runID", runID)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Event ignored", nil))
		return
	}

	ev, ok := evolution.Normalize(payload)
	if !ok {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Event ignored", nil))
		return
	}

	if err := s.processor.ProcessInbound(r.Context(), ev); err != nil {
		slog.Error("Server.webhookHandler: processing failed", "error", err, "runID", runID, "phone", ev.Phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.ErrorWithRunID("Failed to process message", runID))
		return
	}

	slog.Info("Server.webhookHandler: message processed", "runID", runID, "phone", ev.Phone, "kind", ev.Kind)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}

// conversationsHandler lists the newest conversations for clinic dashboards.
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultConversationListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit parameter"))
			return
		}
		limit = n
	}

	conversations, err := s.store.ListConversations(limit)
	if err != nil {
		slog.Error("Server.conversationsHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list conversations"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conversations))
}

// messagesHandler returns the message log of one conversation.
func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	conv, err := s.store.GetConversation(id)
	if err != nil {
		slog.Error("Server.messagesHandler: lookup failed", "error", err, "conversationID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}

	messages, err := s.store.ListMessages(id)
	if err != nil {
		slog.Error("Server.messagesHandler: list failed", "error", err, "conversationID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list messages"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(messages))
}

// inboundProcessor is the slice of the dialogue engine the webhook handler
// needs, kept narrow for handler tests.
type inboundProcessor interface {
	ProcessInbound(ctx context.Context, ev models.InboundEvent) error
}
