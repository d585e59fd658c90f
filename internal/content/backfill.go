package content

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/helixir/reference-resolution-service/internal/domain"
)

// RefSource fetches cited-reference lists by PMID.
type RefSource interface {
	FetchReferences(ctx context.Context, pmid string) ([]string, error)
}

// BackfillEntrySource is the subset of the entry repository the
// reference backfill needs.
type BackfillEntrySource interface {
	ListMissingReferences(ctx context.Context) ([]*domain.Entry, error)
	SetRefAvailable(ctx context.Context, pmid string, available bool) error
}

// RefBackfiller fills in cited-reference lists for entries that were
// stored without one, typically because the reference fetch failed
// during the original acquisition.
type RefBackfiller struct {
	source  RefSource
	entries BackfillEntrySource
	storage *Storage
	logger  zerolog.Logger
}

// NewRefBackfiller creates a reference backfiller.
func NewRefBackfiller(source RefSource, entries BackfillEntrySource, storage *Storage, logger zerolog.Logger) *RefBackfiller {
	return &RefBackfiller{
		source:  source,
		entries: entries,
		storage: storage,
		logger:  logger.With().Str("component", "ref-backfill").Logger(),
	}
}

// Run scans the entry store for resolved entries without a stored
// reference list and fetches one for each. A fetch failure or an
// article with no retrievable references skips that entry; only a
// store read failure or context cancellation aborts the run. It
// returns how many entries were checked and how many gained a
// reference list.
func (b *RefBackfiller) Run(ctx context.Context) (checked, extracted int, err error) {
	entries, err := b.entries.ListMissingReferences(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return checked, extracted, ctx.Err()
		}
		if entry.PMID == "" || entry.Filename == "" {
			continue
		}
		checked++

		log := b.logger.With().Str("pmid", entry.PMID).Str("filename", entry.Filename).Logger()

		citations, err := b.source.FetchReferences(ctx, entry.PMID)
		if err != nil {
			if cancelled(err) {
				return checked, extracted, err
			}
			log.Warn().Err(err).Msg("reference fetch failed, skipping entry")
			continue
		}
		if len(citations) == 0 {
			log.Debug().Msg("no references available")
			continue
		}

		if err := b.storage.WriteRefs(entry.Filename, citations); err != nil {
			log.Warn().Err(err).Msg("failed to store reference list")
			continue
		}

		if err := b.entries.SetRefAvailable(ctx, entry.PMID, true); err != nil {
			log.Warn().Err(err).Msg("failed to mark references available")
			continue
		}

		extracted++
		log.Info().Int("citations", len(citations)).Msg("backfilled reference list")
	}

	return checked, extracted, nil
}
