package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the reference resolution service.
// Metrics are organized by subsystem: jobs, references, external requests,
// entries, and content downloads. All counters and histograms are registered
// via promauto for automatic registration with the default Prometheus registry.
type Metrics struct {
	// JobsStarted counts the total number of resolution jobs submitted.
	JobsStarted prometheus.Counter

	// JobsCompleted counts jobs that finished processing every reference.
	JobsCompleted prometheus.Counter

	// JobsFailed counts jobs that ended in an orchestration failure.
	JobsFailed prometheus.Counter

	// JobsCancelled counts jobs cancelled before completion.
	JobsCancelled prometheus.Counter

	// JobDuration observes the end-to-end duration of jobs in seconds.
	JobDuration prometheus.Histogram

	// ReferencesProcessed counts processed references, labeled by outcome
	// (completed, failed, duplicate).
	ReferencesProcessed *prometheus.CounterVec

	// ReferencesPerJob observes the distribution of reference counts per job.
	ReferencesPerJob prometheus.Histogram

	// ExtractionOutcomes counts entry store outcomes by extraction status.
	ExtractionOutcomes *prometheus.CounterVec

	// PubMedRequestsTotal counts E-utilities requests, labeled by endpoint.
	PubMedRequestsTotal *prometheus.CounterVec

	// PubMedRequestsFailed counts failed E-utilities requests, labeled by endpoint and error type.
	PubMedRequestsFailed *prometheus.CounterVec

	// PubMedRequestDuration observes E-utilities request duration in seconds, labeled by endpoint.
	PubMedRequestDuration *prometheus.HistogramVec

	// PubMedRateLimited counts rate limit responses from the E-utilities API.
	PubMedRateLimited prometheus.Counter

	// EntriesInserted counts entries written to the entry store.
	EntriesInserted prometheus.Counter

	// EntriesDuplicate counts references that resolved to an already stored PMID.
	EntriesDuplicate prometheus.Counter

	// EntriesDeleted counts entries removed from the entry store.
	EntriesDeleted prometheus.Counter

	// ArtifactsDownloaded counts stored artifacts, labeled by kind (txt, pdf, ref).
	ArtifactsDownloaded *prometheus.CounterVec

	// ArtifactDownloadsFailed counts failed artifact fetches, labeled by kind.
	ArtifactDownloadsFailed *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Jobs
		JobsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Total number of resolution jobs started",
		}),
		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of resolution jobs completed",
		}),
		JobsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of resolution jobs that failed",
		}),
		JobsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_cancelled_total",
			Help:      "Total number of resolution jobs cancelled",
		}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of resolution jobs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),

		// References
		ReferencesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "references_processed_total",
			Help:      "Total number of references processed by outcome",
		}, []string{"outcome"}),
		ReferencesPerJob: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "references_per_job",
			Help:      "Number of references per submitted job",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200},
		}),
		ExtractionOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_outcomes_total",
			Help:      "Total number of entry outcomes by extraction status",
		}, []string{"status"}),

		// PubMed
		PubMedRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pubmed_requests_total",
			Help:      "Total number of E-utilities requests by endpoint",
		}, []string{"endpoint"}),
		PubMedRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pubmed_requests_failed_total",
			Help:      "Total number of failed E-utilities requests by endpoint",
		}, []string{"endpoint", "error_type"}),
		PubMedRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pubmed_request_duration_seconds",
			Help:      "Duration of E-utilities requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		PubMedRateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pubmed_rate_limited_total",
			Help:      "Total number of rate limit responses from the E-utilities API",
		}),

		// Entries
		EntriesInserted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_inserted_total",
			Help:      "Total number of entries written to the entry store",
		}),
		EntriesDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_duplicate_total",
			Help:      "Total number of references skipped as duplicates",
		}),
		EntriesDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_deleted_total",
			Help:      "Total number of entries deleted from the entry store",
		}),

		// Content
		ArtifactsDownloaded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_downloaded_total",
			Help:      "Total number of artifacts downloaded by kind",
		}, []string{"kind"}),
		ArtifactDownloadsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_downloads_failed_total",
			Help:      "Total number of failed artifact downloads by kind",
		}, []string{"kind"}),
	}
}

// RecordJobStarted records that a job has started.
func (m *Metrics) RecordJobStarted(totalRefs int) {
	m.JobsStarted.Inc()
	m.ReferencesPerJob.Observe(float64(totalRefs))
}

// RecordJobCompleted records that a job has completed.
func (m *Metrics) RecordJobCompleted(durationSeconds float64) {
	m.JobsCompleted.Inc()
	m.JobDuration.Observe(durationSeconds)
}

// RecordJobFailed records that a job has failed.
func (m *Metrics) RecordJobFailed(durationSeconds float64) {
	m.JobsFailed.Inc()
	m.JobDuration.Observe(durationSeconds)
}

// RecordJobCancelled records that a job has been cancelled.
func (m *Metrics) RecordJobCancelled() {
	m.JobsCancelled.Inc()
}

// RecordReferenceProcessed records one processed reference by outcome.
func (m *Metrics) RecordReferenceProcessed(outcome string) {
	m.ReferencesProcessed.WithLabelValues(outcome).Inc()
}

// RecordExtractionOutcome records one entry outcome by extraction status.
func (m *Metrics) RecordExtractionOutcome(status string) {
	m.ExtractionOutcomes.WithLabelValues(status).Inc()
}

// RecordPubMedRequest records an E-utilities request.
func (m *Metrics) RecordPubMedRequest(endpoint string, durationSeconds float64) {
	m.PubMedRequestsTotal.WithLabelValues(endpoint).Inc()
	m.PubMedRequestDuration.WithLabelValues(endpoint).Observe(durationSeconds)
}

// RecordPubMedRequestFailed records a failed E-utilities request.
func (m *Metrics) RecordPubMedRequestFailed(endpoint, errorType string) {
	m.PubMedRequestsFailed.WithLabelValues(endpoint, errorType).Inc()
}

// RecordPubMedRateLimited records a rate limit response from the E-utilities API.
func (m *Metrics) RecordPubMedRateLimited() {
	m.PubMedRateLimited.Inc()
}

// RecordEntryInserted records an entry written to the store.
func (m *Metrics) RecordEntryInserted() {
	m.EntriesInserted.Inc()
}

// RecordEntryDuplicate records a reference skipped as a duplicate.
func (m *Metrics) RecordEntryDuplicate() {
	m.EntriesDuplicate.Inc()
}

// RecordEntriesDeleted records entries removed from the store.
func (m *Metrics) RecordEntriesDeleted(count int) {
	m.EntriesDeleted.Add(float64(count))
}

// RecordArtifactDownloaded records a stored artifact by kind.
func (m *Metrics) RecordArtifactDownloaded(kind string) {
	m.ArtifactsDownloaded.WithLabelValues(kind).Inc()
}

// RecordArtifactDownloadFailed records a failed artifact fetch by kind.
func (m *Metrics) RecordArtifactDownloadFailed(kind string) {
	m.ArtifactDownloadsFailed.WithLabelValues(kind).Inc()
}
