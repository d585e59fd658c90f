package domain

import "time"

// ExtractionStatus represents the final outcome of processing one
// reference. These values must match the database enum extraction_status.
type ExtractionStatus string

const (
	ExtractionStatusSuccess               ExtractionStatus = "success"
	ExtractionStatusTitleExtractionFailed ExtractionStatus = "title_extraction_failed"
	ExtractionStatusSearchFailed          ExtractionStatus = "pubmed_search_failed"
	ExtractionStatusDownloadFailed        ExtractionStatus = "content_download_failed"
	ExtractionStatusParsingError          ExtractionStatus = "parsing_error"
)

// IsSuccess returns true if the status represents a resolved reference.
// A resolved reference may still have no retrievable content.
func (s ExtractionStatus) IsSuccess() bool {
	return s == ExtractionStatusSuccess
}

// Valid reports whether s is one of the known extraction statuses.
func (s ExtractionStatus) Valid() bool {
	switch s {
	case ExtractionStatusSuccess,
		ExtractionStatusTitleExtractionFailed,
		ExtractionStatusSearchFailed,
		ExtractionStatusDownloadFailed,
		ExtractionStatusParsingError:
		return true
	default:
		return false
	}
}

// Entry is the durable record of one processed reference, success or
// failure. Identity is PMID when resolution succeeded; failed entries
// are identified by the (CreatedAt, OriginalReference) pair since no
// stable external key exists.
type Entry struct {
	ID                int64
	PMID              string
	Filename          string
	ExtractionStatus  ExtractionStatus
	TxtAvailable      bool
	PDFAvailable      bool
	RefAvailable      bool
	OriginalReference string
	ExtractedTitle    string
	FoundTitle        string
	FirstAuthor       string
	Journal           string
	Year              string
	DOI               string
	CreatedAt         time.Time
}

// ContentKind identifies a stored artifact type for an entry.
type ContentKind string

const (
	ContentKindTxt ContentKind = "txt"
	ContentKindPDF ContentKind = "pdf"
	ContentKindRef ContentKind = "ref"
)

// Valid reports whether k is one of the known content kinds.
func (k ContentKind) Valid() bool {
	switch k {
	case ContentKindTxt, ContentKindPDF, ContentKindRef:
		return true
	default:
		return false
	}
}

// Available reports whether the entry's availability flag for kind k is set.
func (e *Entry) Available(k ContentKind) bool {
	switch k {
	case ContentKindTxt:
		return e.TxtAvailable
	case ContentKindPDF:
		return e.PDFAvailable
	case ContentKindRef:
		return e.RefAvailable
	default:
		return false
	}
}

// EntryStatusClass is a coarse status filter for entry listings.
type EntryStatusClass string

const (
	EntryStatusAny     EntryStatusClass = ""
	EntryStatusSuccess EntryStatusClass = "success"
	EntryStatusFailed  EntryStatusClass = "failed"
)

// ContentFilter selects entries by content availability.
type ContentFilter string

const (
	ContentFilterAny    ContentFilter = ""
	ContentFilterHasTxt ContentFilter = "has_txt"
	ContentFilterHasPDF ContentFilter = "has_pdf"
	ContentFilterHasRef ContentFilter = "has_ref"
	ContentFilterNone   ContentFilter = "none"
)

// EntryFilter narrows entry listings. Filters are conjunctive: when
// several are supplied an entry must satisfy all of them.
type EntryFilter struct {
	// Search matches case-insensitively against the original reference,
	// extracted and found titles, and first author.
	Search  string
	Status  EntryStatusClass
	Content ContentFilter
	Limit   int
	Offset  int
}

// EntryStats summarizes the entry store for dashboards.
type EntryStats struct {
	Total     int
	Succeeded int
	Failed    int
	WithTxt   int
	WithPDF   int
	WithRef   int
	ByStatus  map[ExtractionStatus]int
}
