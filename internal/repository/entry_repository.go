package repository

import (
	"context"
	"time"

	"github.com/helixir/reference-resolution-service/internal/domain"
)

// EntryRepository manages the durable store of processed reference entries.
// Resolved entries are keyed by PMID; failed entries carry no PMID and are
// identified by their creation timestamp and original reference text.
type EntryRepository interface {
	// Insert persists a new entry and returns it with its assigned ID and
	// creation timestamp. Returns domain.ErrAlreadyExists if an entry with
	// the same PMID already exists.
	Insert(ctx context.Context, entry *domain.Entry) (*domain.Entry, error)

	// InsertIfAbsent persists the entry unless one with the same PMID
	// already exists. It reports whether a row was inserted. The check and
	// insert are a single statement, so concurrent jobs never create
	// duplicate PMID rows. Entries without a PMID are always inserted.
	InsertIfAbsent(ctx context.Context, entry *domain.Entry) (bool, error)

	// ExistsByPMID reports whether an entry with the given PMID exists.
	// Returns domain.ErrInvalidInput if pmid is empty.
	ExistsByPMID(ctx context.Context, pmid string) (bool, error)

	// GetByPMID retrieves an entry by its PMID.
	// Returns domain.ErrNotFound if no matching entry exists.
	GetByPMID(ctx context.Context, pmid string) (*domain.Entry, error)

	// List retrieves entries matching the filter criteria, newest first.
	// Returns the matching entries and total count for pagination.
	// The total count reflects all matching records regardless of limit/offset.
	List(ctx context.Context, filter domain.EntryFilter) ([]*domain.Entry, int64, error)

	// ListFailedExtractions retrieves all entries whose status is not
	// success, newest first. Used to review references needing manual
	// follow-up.
	ListFailedExtractions(ctx context.Context) ([]*domain.Entry, error)

	// ListMissingReferences retrieves resolved entries that have no stored
	// cited-reference list, oldest first. Used by the reference backfill.
	ListMissingReferences(ctx context.Context) ([]*domain.Entry, error)

	// SetRefAvailable updates the ref_available flag for the entry with
	// the given PMID. Returns domain.ErrNotFound if no matching entry
	// exists.
	SetRefAvailable(ctx context.Context, pmid string, available bool) error

	// DeleteByPMID removes the entry with the given PMID.
	// Returns domain.ErrNotFound if no matching entry exists.
	DeleteByPMID(ctx context.Context, pmid string) error

	// DeleteByTimestamp removes all entries created at exactly the given
	// timestamp and returns the deleted rows so callers can remove any
	// stored artifacts. This is the deletion path for failed entries,
	// which have no PMID. Returns domain.ErrNotFound if nothing matched.
	DeleteByTimestamp(ctx context.Context, createdAt time.Time) ([]*domain.Entry, error)

	// Stats returns aggregate counts over the entry store.
	Stats(ctx context.Context) (*domain.EntryStats, error)
}
