package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJobRunnerCompletesJob(t *testing.T) {
	repo := NewInMemoryStore()
	runner := NewJobRunner(repo, time.Second)

	var gotPayload string
	runner.RegisterHandler("simulate-smile", func(ctx context.Context, payload string) error {
		gotPayload = payload
		return nil
	})

	id, err := repo.EnqueueJob("simulate-smile", time.Now().Add(-time.Second), `{"conversation_id":"conv_1"}`, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runner.poll(context.Background())

	if gotPayload != `{"conversation_id":"conv_1"}` {
		t.Errorf("handler payload = %q", gotPayload)
	}
	job, _ := repo.GetJob(id)
	if job.Status != JobStatusDone {
		t.Errorf("status = %s, want done", job.Status)
	}
}

func TestJobRunnerRetriesWithBackoff(t *testing.T) {
	repo := NewInMemoryStore()
	runner := NewJobRunner(repo, time.Second)
	runner.RegisterHandler("simulate-smile", func(ctx context.Context, payload string) error {
		return errors.New("generator unavailable")
	})

	id, err := repo.EnqueueJob("simulate-smile", time.Now().Add(-time.Second), "{}", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runner.poll(context.Background())

	job, _ := repo.GetJob(id)
	if job.Status != JobStatusQueued {
		t.Fatalf("status = %s, want queued for retry", job.Status)
	}
	if job.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", job.Attempt)
	}
	if !job.RunAt.After(time.Now().Add(20 * time.Second)) {
		t.Errorf("run_at = %v, expected backoff of at least 30s", job.RunAt)
	}
}

func TestJobRunnerInvokesDeadLetterHandler(t *testing.T) {
	repo := NewInMemoryStore()
	runner := NewJobRunner(repo, time.Second)
	runner.RegisterHandler("simulate-smile", func(ctx context.Context, payload string) error {
		return errors.New("generator unavailable")
	})
	deadLettered := 0
	runner.RegisterDeadLetterHandler("simulate-smile", func(ctx context.Context, payload string) error {
		deadLettered++
		return nil
	})

	id, err := repo.EnqueueJob("simulate-smile", time.Now().Add(-time.Second), "{}", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Burn the first two attempts so the next claim is the final one.
	for i := 0; i < 2; i++ {
		if _, err := repo.ClaimDueJobs(time.Now(), 10); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := repo.FailJob(id, "generator unavailable", time.Now().Add(-time.Second)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	runner.poll(context.Background())

	if deadLettered != 1 {
		t.Errorf("dead-letter handler invoked %d times, want 1", deadLettered)
	}
	job, _ := repo.GetJob(id)
	if job.Status != JobStatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
}

func TestJobRunnerRecoverStaleJobs(t *testing.T) {
	repo := NewInMemoryStore()
	runner := NewJobRunner(repo, time.Second)

	id, err := repo.EnqueueJob("compute-budget", time.Now().Add(-time.Hour), "{}", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.ClaimDueJobs(time.Now().Add(-10*time.Minute), 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := runner.RecoverStaleJobs(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	job, _ := repo.GetJob(id)
	if job.Status != JobStatusQueued {
		t.Errorf("status = %s, want queued after recovery", job.Status)
	}
}
