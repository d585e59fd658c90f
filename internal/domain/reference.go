// Package domain provides domain models and business logic for the
// Reference Resolution Service.
package domain

// ReferenceItem is one citation extracted from submitted reference text.
// Items are immutable once created and ordered by Index.
type ReferenceItem struct {
	Index   int
	RawText string
}

// ExtractionResult is the output of title extraction for one reference.
// Failed is set when the language model could not produce a usable title;
// the remaining fields are best-effort and may be empty.
type ExtractionResult struct {
	Title       string
	FirstAuthor string
	Journal     string
	Year        string
	Failed      bool
}

// MatchCandidate is one record returned by the bibliographic search.
type MatchCandidate struct {
	PMID       string
	FoundTitle string
	DOI        string
	Journal    string
	Year       string
	// FirstAuthor is the surname of the first listed author, when known.
	FirstAuthor string
}

// ResolutionStatus represents the outcome of matching one reference
// against the bibliographic search index.
type ResolutionStatus string

const (
	// ResolutionMatched means a candidate scored at or above the match threshold.
	ResolutionMatched ResolutionStatus = "matched"
	// ResolutionNoMatch means the search returned no candidate above the
	// threshold. A low-confidence hit is equivalent to no result.
	ResolutionNoMatch ResolutionStatus = "no_match"
	// ResolutionSearchError means the search capability itself failed,
	// which may be transient.
	ResolutionSearchError ResolutionStatus = "search_error"
)

// ResolutionResult is the outcome of matching for one reference.
type ResolutionResult struct {
	Status ResolutionStatus
	// Best is the chosen candidate when Status is ResolutionMatched.
	Best *MatchCandidate
	// Score is the normalized word-overlap similarity in [0,1] used for
	// the match decision.
	Score float64
}

// AcquisitionResult is the outcome of content fetching for a matched
// reference. Availability flags report which artifacts were stored.
type AcquisitionResult struct {
	Filename     string
	TxtAvailable bool
	PDFAvailable bool
	RefAvailable bool
	// FailureStep names the fetch sub-step that failed for infrastructure
	// reasons, if any. Unavailable content is not a failure.
	FailureStep string
}
