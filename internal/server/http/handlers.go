package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/helixir/reference-resolution-service/internal/content"
	"github.com/helixir/reference-resolution-service/internal/domain"
)

// Request body and pagination bounds.
const (
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
	maxPageSize        = 200
)

// processReferencesRequest is the JSON body for submitting reference text.
type processReferencesRequest struct {
	Text string `json:"text"`
}

// deleteByTimestampRequest identifies failed entries by creation time.
type deleteByTimestampRequest struct {
	CreatedAt string `json:"created_at"`
}

// processReferences handles POST /process-references. Segmentation runs
// synchronously, so unparseable input is rejected before a job exists.
func (s *Server) processReferences(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req processReferencesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	jobID, err := s.jobs.Submit(r.Context(), req.Text)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, submitJobResponse{
		JobID:  jobID.String(),
		Status: string(domain.JobStatusPending),
	})
}

// listJobs handles GET /jobs.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.List()

	out := make([]jobResponse, len(jobs))
	for i, j := range jobs {
		out[i] = domainJobToResponse(j)
	}
	writeJSON(w, http.StatusOK, listJobsResponse{Jobs: out, TotalCount: len(out)})
}

// getJobStatus handles GET /jobs/{jobID}.
func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	job, err := s.jobs.GetStatus(jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domainJobToResponse(job))
}

// getJobResults handles GET /jobs/{jobID}/results.
func (s *Server) getJobResults(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	results, err := s.jobs.GetResults(jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]jobResultResponse, len(results))
	for i, res := range results {
		out[i] = domainResultToResponse(res)
	}
	writeJSON(w, http.StatusOK, jobResultsResponse{JobID: jobID.String(), Results: out})
}

// cancelJob handles POST /jobs/{jobID}/cancel. Cancellation is
// idempotent; cancelling a finished job succeeds without effect.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	if err := s.jobs.Cancel(jobID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelJobResponse{
		Success: true,
		Message: "cancellation requested",
	})
}

// listEntries handles GET /entries with search, status, content and
// pagination query parameters.
func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	filter := domain.EntryFilter{
		Search:  strings.TrimSpace(r.URL.Query().Get("search")),
		Status:  domain.EntryStatusClass(r.URL.Query().Get("status")),
		Content: domain.ContentFilter(r.URL.Query().Get("content")),
	}

	var ok bool
	if filter.Limit, ok = parseIntParam(w, r, "limit"); !ok {
		return
	}
	if filter.Offset, ok = parseIntParam(w, r, "offset"); !ok {
		return
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}

	entries, totalCount, err := s.entries.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listEntriesResponse{
		Entries:    domainEntriesToResponse(entries),
		TotalCount: int(totalCount),
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
}

// getEntry handles GET /entries/{pmid}.
func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.entries.GetByPMID(r.Context(), chi.URLParam(r, "pmid"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domainEntryToResponse(entry))
}

// getEntryStats handles GET /entries/stats.
func (s *Server) getEntryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.entries.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domainStatsToResponse(stats))
}

// listFailedExtractions handles GET /failed-extractions.
func (s *Server) listFailedExtractions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.entries.ListFailedExtractions(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listEntriesResponse{
		Entries:    domainEntriesToResponse(entries),
		TotalCount: len(entries),
	})
}

// extractReferences handles POST /extract-references. It runs the
// reference backfill synchronously: every resolved entry without a
// stored cited-reference list gets one fetch attempt.
func (s *Server) extractReferences(w http.ResponseWriter, r *http.Request) {
	checked, extracted, err := s.backfill.Run(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, extractReferencesResponse{
		Checked:        checked,
		ExtractedCount: extracted,
	})
}

// deleteEntry handles DELETE /entries/{pmid}. The entry row is removed
// first, then its artifacts; a failed artifact cleanup is reported in
// the log but does not undo the deletion.
func (s *Server) deleteEntry(w http.ResponseWriter, r *http.Request) {
	pmid := chi.URLParam(r, "pmid")

	entry, err := s.entries.GetByPMID(r.Context(), pmid)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.entries.DeleteByPMID(r.Context(), pmid); err != nil {
		writeDomainError(w, err)
		return
	}
	s.removeArtifacts(entry)
	if s.metrics != nil {
		s.metrics.RecordEntriesDeleted(1)
	}

	writeJSON(w, http.StatusOK, deleteEntriesResponse{Deleted: 1})
}

// deleteEntriesByTimestamp handles DELETE /entries/by-timestamp. Failed
// entries carry no PMID, so their identity is the creation timestamp;
// every row with that exact timestamp is removed.
func (s *Server) deleteEntriesByTimestamp(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req deleteByTimestampRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	createdAt, err := time.Parse(time.RFC3339Nano, req.CreatedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid created_at format: expected RFC3339")
		return
	}

	deleted, err := s.entries.DeleteByTimestamp(r.Context(), createdAt)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	for _, entry := range deleted {
		s.removeArtifacts(entry)
	}
	if s.metrics != nil {
		s.metrics.RecordEntriesDeleted(len(deleted))
	}

	writeJSON(w, http.StatusOK, deleteEntriesResponse{Deleted: len(deleted)})
}

// getContent handles GET /content/{kind}/{pmid}, streaming the stored
// artifact. A false availability flag and a missing file both map to
// 404; a flag/file mismatch is additionally logged as an inconsistency.
func (s *Server) getContent(w http.ResponseWriter, r *http.Request) {
	kind := domain.ContentKind(chi.URLParam(r, "kind"))
	pmid := chi.URLParam(r, "pmid")

	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "kind must be one of txt, pdf, ref")
		return
	}

	entry, err := s.entries.GetByPMID(r.Context(), pmid)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if !entry.Available(kind) {
		writeDomainError(w, domain.NewNotFoundError("content", fmt.Sprintf("%s/%s", kind, pmid)))
		return
	}

	path, err := s.artifacts.ArtifactPath(storageKind(kind), entry.Filename)
	if err != nil {
		if os.IsNotExist(err) {
			// Availability flag set but the file is gone.
			s.logger.Warn().
				Str("pmid", pmid).
				Str("kind", string(kind)).
				Str("filename", entry.Filename).
				Msg("availability flag set but artifact file missing")
			writeDomainError(w, domain.NewNotFoundError("content", fmt.Sprintf("%s/%s", kind, pmid)))
			return
		}
		writeDomainError(w, err)
		return
	}

	http.ServeFile(w, r, path)
}

// removeArtifacts deletes an entry's stored files, logging failures.
func (s *Server) removeArtifacts(entry *domain.Entry) {
	if entry.Filename == "" {
		return
	}
	if err := s.artifacts.RemoveArtifacts(entry.Filename); err != nil {
		s.logger.Warn().
			Err(err).
			Str("pmid", entry.PMID).
			Str("filename", entry.Filename).
			Msg("failed to remove entry artifacts")
	}
}

// storageKind maps a content URL kind to its corpus directory name.
func storageKind(kind domain.ContentKind) string {
	switch kind {
	case domain.ContentKindTxt:
		return content.KindTxt
	case domain.ContentKindPDF:
		return content.KindPDF
	default:
		return content.KindRef
	}
}

// writeDomainError maps domain errors to HTTP status codes and writes a
// JSON error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var apiErr *domain.ExternalAPIError
	switch {
	case errors.Is(err, domain.ErrNoReferences):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited by an upstream service")
	case errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, fmt.Sprintf("upstream %s error", apiErr.Source))
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a UUID path parameter, writing a 400 on failure. The
// parse error is not echoed to avoid reflecting malicious input.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

// parseIntParam parses a non-negative integer query parameter, writing a
// 400 on malformed input. A missing parameter yields zero.
func parseIntParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a non-negative integer", name))
		return 0, false
	}
	return v, true
}
