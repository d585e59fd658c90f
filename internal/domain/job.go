package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle states of a reference resolution job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobResultStatus represents the outcome of one reference within a job.
type JobResultStatus string

const (
	JobResultCompleted JobResultStatus = "completed"
	JobResultFailed    JobResultStatus = "failed"
	// JobResultDuplicate means the reference resolved to a PMID that was
	// already present in the entry store, so no new entry was written.
	JobResultDuplicate JobResultStatus = "duplicate"
)

// JobResult records the outcome of one processed reference. One result is
// appended as each item finishes, in reference order.
type JobResult struct {
	ReferenceIndex int             `json:"reference_index"`
	Status         JobResultStatus `json:"status"`
	PMID           string          `json:"pmid,omitempty"`
	ExtractedTitle string          `json:"extracted_title,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	ProcessedAt    time.Time       `json:"processed_at"`
}

// Job represents one submitted batch of references.
type Job struct {
	ID uuid.UUID `json:"id"`

	Status JobStatus `json:"status"`

	// ErrorMessage is set only when the job itself failed, never for
	// individual reference failures.
	ErrorMessage string `json:"error_message,omitempty"`

	// Progress counters. At all times
	// CompletedRefs+FailedRefs+DuplicateRefs <= ProcessedRefs <= TotalRefs.
	TotalRefs     int `json:"total_refs"`
	ProcessedRefs int `json:"processed_refs"`
	CompletedRefs int `json:"completed_refs"`
	FailedRefs    int `json:"failed_refs"`
	DuplicateRefs int `json:"duplicate_refs"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Results holds one record per processed reference, ordered by
	// reference index.
	Results []JobResult `json:"results,omitempty"`
}

// Duration returns the elapsed time since the job was created, or the
// total run time if the job has reached a terminal state.
func (j *Job) Duration() time.Duration {
	if j.Status.IsTerminal() {
		return j.UpdatedAt.Sub(j.CreatedAt)
	}
	return time.Since(j.CreatedAt)
}

// IsActive returns true if the job is still in progress.
func (j *Job) IsActive() bool {
	return !j.Status.IsTerminal()
}
