package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/SorrisoLab/SmileFlow/internal/models"
)

// Watchdog defaults. A conversation parked in a background-work state for
// longer than the deadline is assumed orphaned (crashed job, lost dead
// letter) and is reverted so the patient is not stuck forever.
const (
	DefaultWatchdogInterval = time.Minute
	DefaultWatchdogDeadline = 10 * time.Minute
)

// Watchdog sweeps conversations stuck in processing or generating_budget.
type Watchdog struct {
	engine   *Engine
	interval time.Duration
	deadline time.Duration
}

// NewWatchdog creates a watchdog over the engine's store.
func NewWatchdog(engine *Engine) *Watchdog {
	return &Watchdog{
		engine:   engine,
		interval: DefaultWatchdogInterval,
		deadline: DefaultWatchdogDeadline,
	}
}

// Run starts the sweep loop. It blocks until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	slog.Info("Watchdog.Run: starting", "interval", w.interval, "deadline", w.deadline)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Watchdog.Run: stopping")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep reverts every conversation stuck past the deadline. It is exported so
// tests can trigger a pass directly.
func (w *Watchdog) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.deadline)
	stuck, err := w.engine.store.FindConversationsStuckSince(
		[]models.ConversationState{models.StateProcessing, models.StateGeneratingBudget},
		cutoff,
	)
	if err != nil {
		slog.Error("Watchdog.Sweep: query failed", "error", err)
		return
	}

	for i := range stuck {
		conv := stuck[i]
		unlock := w.engine.locks.lock(conv.PhoneNumber)
		w.revert(ctx, &conv)
		unlock()
	}
}

// revert re-reads the conversation under the phone lock and unwinds it if it
// is still stuck. Reading again avoids racing a job that finished between the
// sweep query and the lock.
func (w *Watchdog) revert(ctx context.Context, stale *models.Conversation) {
	conv, err := w.engine.store.GetConversation(stale.ID)
	if err != nil || conv == nil {
		return
	}

	switch conv.State {
	case models.StateProcessing:
		slog.Warn("Watchdog.revert: simulation stuck, reverting", "conversationID", conv.ID)
		if err := w.engine.sendText(ctx, conv, simulationFailedReply); err != nil {
			slog.Error("Watchdog.revert: send failed", "error", err, "conversationID", conv.ID)
			return
		}
		if err := w.engine.transition(conv, models.StateWaitingPhoto); err != nil {
			slog.Error("Watchdog.revert: transition failed", "error", err, "conversationID", conv.ID)
		}
	case models.StateGeneratingBudget:
		slog.Warn("Watchdog.revert: budget stuck, reverting", "conversationID", conv.ID)
		if err := w.engine.sendText(ctx, conv, budgetFailedReply); err != nil {
			slog.Error("Watchdog.revert: send failed", "error", err, "conversationID", conv.ID)
			return
		}
		if err := w.engine.transition(conv, models.StateShowingResult); err != nil {
			slog.Error("Watchdog.revert: transition failed", "error", err, "conversationID", conv.ID)
		}
	}
}
