package httpserver

import (
	"time"

	"github.com/helixir/reference-resolution-service/internal/domain"
)

type submitJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type jobResponse struct {
	JobID         string    `json:"job_id"`
	Status        string    `json:"status"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	TotalRefs     int       `json:"total_refs"`
	ProcessedRefs int       `json:"processed_refs"`
	CompletedRefs int       `json:"completed_refs"`
	FailedRefs    int       `json:"failed_refs"`
	DuplicateRefs int       `json:"duplicate_refs"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Duration      string    `json:"duration,omitempty"`
}

type listJobsResponse struct {
	Jobs       []jobResponse `json:"jobs"`
	TotalCount int           `json:"total_count"`
}

type jobResultResponse struct {
	ReferenceIndex int       `json:"reference_index"`
	Status         string    `json:"status"`
	PMID           string    `json:"pmid,omitempty"`
	ExtractedTitle string    `json:"extracted_title,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ProcessedAt    time.Time `json:"processed_at"`
}

type jobResultsResponse struct {
	JobID   string              `json:"job_id"`
	Results []jobResultResponse `json:"results"`
}

type cancelJobResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type entryResponse struct {
	ID                int64     `json:"id"`
	PMID              string    `json:"pmid,omitempty"`
	Filename          string    `json:"filename,omitempty"`
	ExtractionStatus  string    `json:"extraction_status"`
	TxtAvailable      bool      `json:"txt_available"`
	PDFAvailable      bool      `json:"pdf_available"`
	RefAvailable      bool      `json:"ref_available"`
	OriginalReference string    `json:"original_reference"`
	ExtractedTitle    string    `json:"extracted_title,omitempty"`
	FoundTitle        string    `json:"found_title,omitempty"`
	FirstAuthor       string    `json:"first_author,omitempty"`
	Journal           string    `json:"journal,omitempty"`
	Year              string    `json:"year,omitempty"`
	DOI               string    `json:"doi,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type listEntriesResponse struct {
	Entries    []entryResponse `json:"entries"`
	TotalCount int             `json:"total_count"`
	Limit      int             `json:"limit"`
	Offset     int             `json:"offset"`
}

type entryStatsResponse struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	WithTxt   int            `json:"with_txt"`
	WithPDF   int            `json:"with_pdf"`
	WithRef   int            `json:"with_ref"`
	ByStatus  map[string]int `json:"by_status"`
}

type deleteEntriesResponse struct {
	Deleted int `json:"deleted"`
}

type extractReferencesResponse struct {
	Checked        int `json:"checked"`
	ExtractedCount int `json:"extracted_count"`
}

// Converter functions

func domainJobToResponse(j domain.Job) jobResponse {
	resp := jobResponse{
		JobID:         j.ID.String(),
		Status:        string(j.Status),
		ErrorMessage:  j.ErrorMessage,
		TotalRefs:     j.TotalRefs,
		ProcessedRefs: j.ProcessedRefs,
		CompletedRefs: j.CompletedRefs,
		FailedRefs:    j.FailedRefs,
		DuplicateRefs: j.DuplicateRefs,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
	if d := j.Duration(); d > 0 {
		resp.Duration = d.String()
	}
	return resp
}

func domainResultToResponse(r domain.JobResult) jobResultResponse {
	return jobResultResponse{
		ReferenceIndex: r.ReferenceIndex,
		Status:         string(r.Status),
		PMID:           r.PMID,
		ExtractedTitle: r.ExtractedTitle,
		ErrorMessage:   r.ErrorMessage,
		ProcessedAt:    r.ProcessedAt,
	}
}

func domainEntryToResponse(e *domain.Entry) entryResponse {
	return entryResponse{
		ID:                e.ID,
		PMID:              e.PMID,
		Filename:          e.Filename,
		ExtractionStatus:  string(e.ExtractionStatus),
		TxtAvailable:      e.TxtAvailable,
		PDFAvailable:      e.PDFAvailable,
		RefAvailable:      e.RefAvailable,
		OriginalReference: e.OriginalReference,
		ExtractedTitle:    e.ExtractedTitle,
		FoundTitle:        e.FoundTitle,
		FirstAuthor:       e.FirstAuthor,
		Journal:           e.Journal,
		Year:              e.Year,
		DOI:               e.DOI,
		CreatedAt:         e.CreatedAt,
	}
}

func domainEntriesToResponse(entries []*domain.Entry) []entryResponse {
	out := make([]entryResponse, len(entries))
	for i, e := range entries {
		out[i] = domainEntryToResponse(e)
	}
	return out
}

func domainStatsToResponse(s *domain.EntryStats) entryStatsResponse {
	byStatus := make(map[string]int, len(s.ByStatus))
	for status, count := range s.ByStatus {
		byStatus[string(status)] = count
	}
	return entryStatsResponse{
		Total:     s.Total,
		Succeeded: s.Succeeded,
		Failed:    s.Failed,
		WithTxt:   s.WithTxt,
		WithPDF:   s.WithPDF,
		WithRef:   s.WithRef,
		ByStatus:  byStatus,
	}
}
