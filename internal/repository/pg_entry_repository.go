package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/reference-resolution-service/internal/domain"
)

// Compile-time interface verification.
var _ EntryRepository = (*PgEntryRepository)(nil)

// entryColumns is the canonical select list for entry rows. Nullable text
// columns collapse to empty strings so domain.Entry stays pointer-free.
const entryColumns = `id, COALESCE(pmid, ''), COALESCE(filename, ''), extraction_status,
		txt_available, pdf_available, ref_available, original_reference,
		COALESCE(extracted_title, ''), COALESCE(found_title, ''), COALESCE(first_author, ''),
		COALESCE(journal, ''), COALESCE(year, ''), COALESCE(doi, ''), created_at`

// PgEntryRepository is a PostgreSQL implementation of EntryRepository.
type PgEntryRepository struct {
	db DBTX
}

// NewPgEntryRepository creates a new PostgreSQL entry repository.
func NewPgEntryRepository(db DBTX) *PgEntryRepository {
	return &PgEntryRepository{db: db}
}

// Insert persists a new entry and returns it with its assigned ID and timestamp.
func (r *PgEntryRepository) Insert(ctx context.Context, entry *domain.Entry) (*domain.Entry, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO entries (
			pmid, filename, extraction_status,
			txt_available, pdf_available, ref_available,
			original_reference, extracted_title, found_title,
			first_author, journal, year, doi
		) VALUES (
			NULLIF($1, ''), NULLIF($2, ''), $3, $4, $5, $6, $7,
			NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''),
			NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, '')
		)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		entry.PMID,
		entry.Filename,
		entry.ExtractionStatus,
		entry.TxtAvailable,
		entry.PDFAvailable,
		entry.RefAvailable,
		entry.OriginalReference,
		entry.ExtractedTitle,
		entry.FoundTitle,
		entry.FirstAuthor,
		entry.Journal,
		entry.Year,
		entry.DOI,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.NewAlreadyExistsError("entry", entry.PMID)
		}
		return nil, fmt.Errorf("failed to insert entry: %w", err)
	}

	return entry, nil
}

// InsertIfAbsent persists the entry unless one with the same PMID already exists.
func (r *PgEntryRepository) InsertIfAbsent(ctx context.Context, entry *domain.Entry) (bool, error) {
	if err := validateEntry(entry); err != nil {
		return false, err
	}

	// ON CONFLICT targets the partial unique index on pmid, so the
	// existence check and the insert happen in one statement.
	query := `
		INSERT INTO entries (
			pmid, filename, extraction_status,
			txt_available, pdf_available, ref_available,
			original_reference, extracted_title, found_title,
			first_author, journal, year, doi
		) VALUES (
			NULLIF($1, ''), NULLIF($2, ''), $3, $4, $5, $6, $7,
			NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''),
			NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, '')
		)
		ON CONFLICT (pmid) WHERE pmid IS NOT NULL DO NOTHING
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		entry.PMID,
		entry.Filename,
		entry.ExtractionStatus,
		entry.TxtAvailable,
		entry.PDFAvailable,
		entry.RefAvailable,
		entry.OriginalReference,
		entry.ExtractedTitle,
		entry.FoundTitle,
		entry.FirstAuthor,
		entry.Journal,
		entry.Year,
		entry.DOI,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict: an entry with this PMID already exists.
			return false, nil
		}
		return false, fmt.Errorf("failed to insert entry: %w", err)
	}

	return true, nil
}

// ExistsByPMID reports whether an entry with the given PMID exists.
func (r *PgEntryRepository) ExistsByPMID(ctx context.Context, pmid string) (bool, error) {
	if pmid == "" {
		return false, domain.NewValidationError("pmid", "PMID is required")
	}

	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM entries WHERE pmid = $1)`
	if err := r.db.QueryRow(ctx, query, pmid).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check entry existence: %w", err)
	}

	return exists, nil
}

// GetByPMID retrieves an entry by its PMID.
func (r *PgEntryRepository) GetByPMID(ctx context.Context, pmid string) (*domain.Entry, error) {
	if pmid == "" {
		return nil, domain.NewValidationError("pmid", "PMID is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM entries WHERE pmid = $1`, entryColumns)

	entry, err := scanEntry(r.db.QueryRow(ctx, query, pmid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("entry", pmid)
		}
		return nil, fmt.Errorf("failed to get entry by PMID: %w", err)
	}

	return entry, nil
}

// List retrieves entries matching the filter criteria, newest first.
func (r *PgEntryRepository) List(ctx context.Context, filter domain.EntryFilter) ([]*domain.Entry, int64, error) {
	applyPaginationDefaults(&filter.Limit, &filter.Offset)

	// Build dynamic WHERE clause
	var conditions []string
	var args []interface{}
	argIndex := 1

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf(
			`(original_reference ILIKE $%d OR extracted_title ILIKE $%d OR found_title ILIKE $%d OR first_author ILIKE $%d)`,
			argIndex, argIndex, argIndex, argIndex))
		args = append(args, "%"+filter.Search+"%")
		argIndex++
	}

	switch filter.Status {
	case domain.EntryStatusSuccess:
		conditions = append(conditions, fmt.Sprintf("extraction_status = $%d", argIndex))
		args = append(args, domain.ExtractionStatusSuccess)
		argIndex++
	case domain.EntryStatusFailed:
		conditions = append(conditions, fmt.Sprintf("extraction_status != $%d", argIndex))
		args = append(args, domain.ExtractionStatusSuccess)
		argIndex++
	case domain.EntryStatusAny:
	default:
		return nil, 0, domain.NewValidationError("status", fmt.Sprintf("unknown status filter %q", filter.Status))
	}

	switch filter.Content {
	case domain.ContentFilterHasTxt:
		conditions = append(conditions, "txt_available")
	case domain.ContentFilterHasPDF:
		conditions = append(conditions, "pdf_available")
	case domain.ContentFilterHasRef:
		conditions = append(conditions, "ref_available")
	case domain.ContentFilterNone:
		conditions = append(conditions, "NOT txt_available AND NOT pdf_available AND NOT ref_available")
	case domain.ContentFilterAny:
	default:
		return nil, 0, domain.NewValidationError("content", fmt.Sprintf("unknown content filter %q", filter.Content))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Count total matching records
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM entries %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count entries: %w", err)
	}

	// Query with pagination
	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM entries
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`,
		entryColumns, whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.Entry, 0, filter.Limit)
	for rows.Next() {
		entry, err := scanEntryFromRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating entries: %w", err)
	}

	return entries, totalCount, nil
}

// ListFailedExtractions retrieves all entries whose status is not success.
func (r *PgEntryRepository) ListFailedExtractions(ctx context.Context) ([]*domain.Entry, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM entries
		WHERE extraction_status != $1
		ORDER BY created_at DESC, id DESC`, entryColumns)

	rows, err := r.db.Query(ctx, query, domain.ExtractionStatusSuccess)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed extractions: %w", err)
	}
	defer rows.Close()

	var entries []*domain.Entry
	for rows.Next() {
		entry, err := scanEntryFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}

	return entries, nil
}

// ListMissingReferences retrieves resolved entries that have no stored
// cited-reference list, oldest first so long-standing gaps fill first.
func (r *PgEntryRepository) ListMissingReferences(ctx context.Context) ([]*domain.Entry, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM entries
		WHERE pmid IS NOT NULL AND filename IS NOT NULL AND NOT ref_available
		ORDER BY created_at ASC, id ASC`, entryColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries missing references: %w", err)
	}
	defer rows.Close()

	var entries []*domain.Entry
	for rows.Next() {
		entry, err := scanEntryFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}

	return entries, nil
}

// SetRefAvailable updates the ref_available flag for the given PMID.
func (r *PgEntryRepository) SetRefAvailable(ctx context.Context, pmid string, available bool) error {
	if pmid == "" {
		return domain.NewValidationError("pmid", "PMID is required")
	}

	result, err := r.db.Exec(ctx, `UPDATE entries SET ref_available = $2 WHERE pmid = $1`, pmid, available)
	if err != nil {
		return fmt.Errorf("failed to update reference availability: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("entry", pmid)
	}

	return nil
}

// DeleteByPMID removes the entry with the given PMID.
func (r *PgEntryRepository) DeleteByPMID(ctx context.Context, pmid string) error {
	if pmid == "" {
		return domain.NewValidationError("pmid", "PMID is required")
	}

	result, err := r.db.Exec(ctx, `DELETE FROM entries WHERE pmid = $1`, pmid)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("entry", pmid)
	}

	return nil
}

// DeleteByTimestamp removes all entries created at exactly the given timestamp
// and returns the deleted rows so the caller can remove any stored artifacts.
func (r *PgEntryRepository) DeleteByTimestamp(ctx context.Context, createdAt time.Time) ([]*domain.Entry, error) {
	if createdAt.IsZero() {
		return nil, domain.NewValidationError("created_at", "timestamp is required")
	}

	query := fmt.Sprintf(`DELETE FROM entries WHERE created_at = $1 RETURNING %s`, entryColumns)

	rows, err := r.db.Query(ctx, query, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to delete entries by timestamp: %w", err)
	}
	defer rows.Close()

	var entries []*domain.Entry
	for rows.Next() {
		entry, err := scanEntryFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deleted entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deleted entries: %w", err)
	}

	if len(entries) == 0 {
		return nil, domain.NewNotFoundError("entries", createdAt.Format(time.RFC3339Nano))
	}

	return entries, nil
}

// Stats returns aggregate counts over the entry store.
func (r *PgEntryRepository) Stats(ctx context.Context) (*domain.EntryStats, error) {
	stats := &domain.EntryStats{
		ByStatus: make(map[domain.ExtractionStatus]int),
	}

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE extraction_status = 'success'),
			COUNT(*) FILTER (WHERE extraction_status != 'success'),
			COUNT(*) FILTER (WHERE txt_available),
			COUNT(*) FILTER (WHERE pdf_available),
			COUNT(*) FILTER (WHERE ref_available)
		FROM entries`

	err := r.db.QueryRow(ctx, query).Scan(
		&stats.Total,
		&stats.Succeeded,
		&stats.Failed,
		&stats.WithTxt,
		&stats.WithPDF,
		&stats.WithRef,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute entry stats: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT extraction_status, COUNT(*)
		FROM entries
		GROUP BY extraction_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to compute status breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status domain.ExtractionStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status breakdown: %w", err)
		}
		stats.ByStatus[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status breakdown: %w", err)
	}

	return stats, nil
}

// validateEntry checks the invariants required before persisting an entry.
func validateEntry(entry *domain.Entry) error {
	if entry == nil {
		return domain.NewValidationError("entry", "entry cannot be nil")
	}
	if entry.OriginalReference == "" {
		return domain.NewValidationError("original_reference", "original reference text is required")
	}
	if !entry.ExtractionStatus.Valid() {
		return domain.NewValidationError("extraction_status", fmt.Sprintf("unknown status %q", entry.ExtractionStatus))
	}
	if entry.ExtractionStatus.IsSuccess() && entry.PMID == "" {
		return domain.NewValidationError("pmid", "successful entries require a PMID")
	}
	return nil
}

// scanEntry scans a single row into an Entry.
func scanEntry(row pgx.Row) (*domain.Entry, error) {
	var e domain.Entry
	if err := row.Scan(
		&e.ID, &e.PMID, &e.Filename, &e.ExtractionStatus,
		&e.TxtAvailable, &e.PDFAvailable, &e.RefAvailable, &e.OriginalReference,
		&e.ExtractedTitle, &e.FoundTitle, &e.FirstAuthor,
		&e.Journal, &e.Year, &e.DOI, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

// scanEntryFromRows scans the current row from pgx.Rows into an Entry.
func scanEntryFromRows(rows pgx.Rows) (*domain.Entry, error) {
	var e domain.Entry
	if err := rows.Scan(
		&e.ID, &e.PMID, &e.Filename, &e.ExtractionStatus,
		&e.TxtAvailable, &e.PDFAvailable, &e.RefAvailable, &e.OriginalReference,
		&e.ExtractedTitle, &e.FoundTitle, &e.FirstAuthor,
		&e.Journal, &e.Year, &e.DOI, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}
