// Package httpserver provides the HTTP REST API for the reference
// resolution service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/reference-resolution-service/internal/database"
	"github.com/helixir/reference-resolution-service/internal/domain"
	"github.com/helixir/reference-resolution-service/internal/observability"
)

// JobService is the orchestrator surface exposed over HTTP.
type JobService interface {
	Submit(ctx context.Context, rawText string) (uuid.UUID, error)
	GetStatus(jobID uuid.UUID) (domain.Job, error)
	GetResults(jobID uuid.UUID) ([]domain.JobResult, error)
	Cancel(jobID uuid.UUID) error
	List() []domain.Job
}

// EntryService is the entry store surface exposed over HTTP.
type EntryService interface {
	GetByPMID(ctx context.Context, pmid string) (*domain.Entry, error)
	List(ctx context.Context, filter domain.EntryFilter) ([]*domain.Entry, int64, error)
	ListFailedExtractions(ctx context.Context) ([]*domain.Entry, error)
	DeleteByPMID(ctx context.Context, pmid string) error
	DeleteByTimestamp(ctx context.Context, createdAt time.Time) ([]*domain.Entry, error)
	Stats(ctx context.Context) (*domain.EntryStats, error)
}

// ArtifactStore locates and removes stored content artifacts.
type ArtifactStore interface {
	ArtifactPath(kind, filename string) (string, error)
	RemoveArtifacts(filename string) error
}

// ReferenceBackfiller fetches missing cited-reference lists for stored
// entries.
type ReferenceBackfiller interface {
	Run(ctx context.Context) (checked, extracted int, err error)
}

// HealthChecker reports database health for the readiness probe.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	jobs       JobService
	entries    EntryService
	artifacts  ArtifactStore
	backfill   ReferenceBackfiller
	health     HealthChecker
	metrics    *observability.Metrics
	logger     zerolog.Logger

	metricsPath string
}

// Config holds HTTP server configuration.
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// MetricsPath mounts the Prometheus handler when non-empty.
	MetricsPath string
	// Metrics records API-side store operations. May be nil.
	Metrics *observability.Metrics
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(
	cfg Config,
	jobs JobService,
	entries EntryService,
	artifacts ArtifactStore,
	backfill ReferenceBackfiller,
	health HealthChecker,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		jobs:        jobs,
		entries:     entries,
		artifacts:   artifacts,
		backfill:    backfill,
		health:      health,
		metrics:     cfg.Metrics,
		logger:      logger.With().Str("component", "http-server").Logger(),
		metricsPath: cfg.MetricsPath,
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(requestLogMiddleware(s.logger))

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)
	if s.metricsPath != "" {
		r.Handle(s.metricsPath, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/process-references", s.processReferences)

		r.Get("/jobs", s.listJobs)
		r.Get("/jobs/{jobID}", s.getJobStatus)
		r.Get("/jobs/{jobID}/results", s.getJobResults)
		r.Post("/jobs/{jobID}/cancel", s.cancelJob)

		r.Get("/entries", s.listEntries)
		r.Get("/entries/stats", s.getEntryStats)
		r.Get("/entries/{pmid}", s.getEntry)
		r.Delete("/entries/by-timestamp", s.deleteEntriesByTimestamp)
		r.Delete("/entries/{pmid}", s.deleteEntry)

		r.Get("/failed-extractions", s.listFailedExtractions)

		r.Post("/extract-references", s.extractReferences)

		r.Get("/content/{kind}/{pmid}", s.getContent)
	})

	return r
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler reports readiness including database connectivity.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
