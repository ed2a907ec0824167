// Package api provides the HTTP surface and the main server logic for
// SmileFlow.
//
// It exposes the gateway webhook endpoint plus small read-only endpoints for
// clinic dashboards, and wires together the store, dialogue engine, job
// runner, and watchdog.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/SorrisoLab/SmileFlow/internal/evolution"
	"github.com/SorrisoLab/SmileFlow/internal/flow"
	"github.com/SorrisoLab/SmileFlow/internal/media"
	"github.com/SorrisoLab/SmileFlow/internal/simulation"
	"github.com/SorrisoLab/SmileFlow/internal/store"
	"github.com/SorrisoLab/SmileFlow/internal/tenant"
)

// Server defaults.
const (
	DefaultAddr            = ":8080"
	DefaultJobPollInterval = 5 * time.Second
	shutdownTimeout        = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	JobPollInterval time.Duration
}

// Option defines a configuration option for server creation.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithJobPollInterval overrides how often the job runner polls for due jobs.
func WithJobPollInterval(d time.Duration) Option {
	return func(o *Opts) { o.JobPollInterval = d }
}

// Server handles HTTP requests.
type Server struct {
	store     store.Store
	processor inboundProcessor
	router    *mux.Router
}

// NewServer creates a server over the given store and dialogue engine.
func NewServer(st store.Store, processor inboundProcessor) *Server {
	s := &Server{store: st, processor: processor}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/webhook", s.webhookHandler).Methods(http.MethodPost)
	s.router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/conversations", s.conversationsHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/conversations/{id}/messages", s.messagesHandler).Methods(http.MethodGet)
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run assembles the full service and blocks until SIGINT/SIGTERM. Module
// option slices come from the command line layer.
func Run(
	storeOpts []store.Option,
	evoOpts []evolution.Option,
	simOpts []simulation.Option,
	s3Opts []media.S3Option,
	tenantOpts []tenant.Option,
	apiOpts []Option,
) error {
	cfg := Opts{Addr: DefaultAddr, JobPollInterval: DefaultJobPollInterval}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	st, jobs, err := openStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	sender, err := evolution.NewClient(evoOpts...)
	if err != nil {
		return fmt.Errorf("failed to create gateway client: %w", err)
	}

	generator, err := simulation.NewClient(simOpts...)
	if err != nil {
		return fmt.Errorf("failed to create simulation client: %w", err)
	}

	storage, err := openStorage(s3Opts)
	if err != nil {
		return fmt.Errorf("failed to create media storage: %w", err)
	}

	clinics := tenant.NewResolver(st, tenantOpts...)

	engine, err := flow.NewEngine(st, jobs, sender, clinics, media.NewHTTPFetcher(), storage, generator)
	if err != nil {
		return fmt.Errorf("failed to create dialogue engine: %w", err)
	}

	runner := store.NewJobRunner(jobs, cfg.JobPollInterval)
	engine.RegisterJobHandlers(runner)
	if err := runner.RecoverStaleJobs(); err != nil {
		slog.Warn("api.Run: stale job recovery failed", "error", err)
	}

	watchdog := flow.NewWatchdog(engine)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runner.Run(ctx)
	go watchdog.Run(ctx)

	server := NewServer(st, engine)
	httpServer := &http.Server{Addr: cfg.Addr, Handler: server.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api.Run: HTTP server listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("api.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown failed: %w", err)
	}
	slog.Info("api.Run: stopped")
	return nil
}

// openStore builds the storage backend from options. The same backend serves
// both the conversation store and the job queue so the two commit to one
// database.
func openStore(opts []store.Option) (store.Store, store.JobRepo, error) {
	var cfg store.Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Warn("api.openStore: no database DSN, using in-memory store")
		mem := store.NewInMemoryStore()
		return mem, mem, nil
	}
	if store.DetectDSNType(cfg.DSN) == "postgres" {
		pg, err := store.NewPostgresStore(opts...)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg, nil
	}
	sq, err := store.NewSQLiteStore(opts...)
	if err != nil {
		return nil, nil, err
	}
	return sq, sq, nil
}

// openStorage builds media storage. Without a configured bucket the service
// falls back to in-memory storage, which only makes sense for local runs.
func openStorage(opts []media.S3Option) (media.Storage, error) {
	var cfg media.S3Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Bucket == "" {
		slog.Warn("api.openStorage: no S3 bucket configured, using in-memory media storage")
		return media.NewMemoryStorage(), nil
	}
	return media.NewS3Storage(opts...)
}
