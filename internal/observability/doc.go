// Package observability provides logging and metrics support for the
// reference resolution service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for jobs, references, and external requests
//   - Context helpers for propagating observability data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("job_id", jobID).Msg("job started")
//
// Add job context to logger:
//
//	logger = observability.WithJobContext(logger, jobID)
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("reference_resolution")
//
// Record metrics:
//
//	metrics.JobsStarted.Inc()
//	metrics.ReferencesProcessed.WithLabelValues("completed").Inc()
//	metrics.PubMedRequestsTotal.WithLabelValues("esearch").Inc()
//
// # Context Helpers
//
// Store and retrieve request context:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	ctx = observability.WithJobID(ctx, jobID)
//
//	reqID := observability.RequestIDFromContext(ctx)
//	jobID := observability.JobIDFromContext(ctx)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - request_id: HTTP request identifier
//   - job_id: Resolution job identifier
//   - reference_index: Position of a reference within its job
//   - pmid: PubMed identifier of a resolved reference
//   - filename: Artifact base filename for a resolved reference
//   - endpoint: E-utilities endpoint (esearch, efetch, elink)
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
