package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/reference-resolution-service/internal/domain"
)

type stubExtractor struct {
	fn func(ctx context.Context, reference string) (domain.ExtractionResult, error)
}

func (s *stubExtractor) ExtractTitle(ctx context.Context, reference string) (domain.ExtractionResult, error) {
	return s.fn(ctx, reference)
}

type stubResolver struct {
	fn func(ctx context.Context, extraction domain.ExtractionResult) (domain.ResolutionResult, error)
}

func (s *stubResolver) Resolve(ctx context.Context, extraction domain.ExtractionResult) (domain.ResolutionResult, error) {
	return s.fn(ctx, extraction)
}

type stubAcquirer struct {
	fn    func(ctx context.Context, pmid, firstAuthor, originalRef string) (domain.AcquisitionResult, error)
	calls int
	mu    sync.Mutex
}

func (s *stubAcquirer) Acquire(ctx context.Context, pmid, firstAuthor, originalRef string) (domain.AcquisitionResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(ctx, pmid, firstAuthor, originalRef)
	}
	return domain.AcquisitionResult{Filename: firstAuthor + "_" + pmid, TxtAvailable: true}, nil
}

func (s *stubAcquirer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// memStore is an in-memory EntryStore that mimics the PMID unique index.
type memStore struct {
	mu        sync.Mutex
	entries   []*domain.Entry
	pmids     map[string]bool
	existsErr error
	insertErr error
}

func newMemStore() *memStore {
	return &memStore{pmids: make(map[string]bool)}
}

func (m *memStore) ExistsByPMID(ctx context.Context, pmid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsErr != nil {
		return false, m.existsErr
	}
	return m.pmids[pmid], nil
}

func (m *memStore) InsertIfAbsent(ctx context.Context, entry *domain.Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return false, m.insertErr
	}
	if entry.PMID != "" {
		if m.pmids[entry.PMID] {
			return false, nil
		}
		m.pmids[entry.PMID] = true
	}
	stored := *entry
	m.entries = append(m.entries, &stored)
	return true, nil
}

func (m *memStore) stored() []*domain.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// racedStore simulates another job inserting the same PMID between the
// dedup check and the insert.
type racedStore struct {
	*memStore
}

func (r *racedStore) ExistsByPMID(ctx context.Context, pmid string) (bool, error) {
	return false, nil
}

func okExtractor() *stubExtractor {
	return &stubExtractor{fn: func(_ context.Context, reference string) (domain.ExtractionResult, error) {
		return domain.ExtractionResult{Title: reference, FirstAuthor: "Smith"}, nil
	}}
}

func matchResolver(pmid string) *stubResolver {
	return &stubResolver{fn: func(_ context.Context, extraction domain.ExtractionResult) (domain.ResolutionResult, error) {
		return domain.ResolutionResult{
			Status: domain.ResolutionMatched,
			Best:   &domain.MatchCandidate{PMID: pmid, FoundTitle: extraction.Title, FirstAuthor: "Smith"},
			Score:  1.0,
		}, nil
	}}
}

func newTestOrchestrator(t *testing.T, deps Deps) *Orchestrator {
	t.Helper()
	if deps.Extractor == nil {
		deps.Extractor = okExtractor()
	}
	if deps.Resolver == nil {
		deps.Resolver = matchResolver("11111111")
	}
	if deps.Acquirer == nil {
		deps.Acquirer = &stubAcquirer{}
	}
	if deps.Store == nil {
		deps.Store = newMemStore()
	}
	o := New(deps, Config{ItemTimeout: 5 * time.Second}, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = o.Close(ctx)
	})
	return o
}

func waitTerminal(t *testing.T, o *Orchestrator, id uuid.UUID) domain.Job {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := o.GetStatus(id)
		return err == nil && job.Status.IsTerminal()
	}, 3*time.Second, 5*time.Millisecond)

	job, err := o.GetStatus(id)
	require.NoError(t, err)
	return job
}

func TestOrchestrator_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects text with no references", func(t *testing.T) {
		o := newTestOrchestrator(t, Deps{})

		id, err := o.Submit(ctx, "   \n  ")
		assert.Equal(t, uuid.Nil, id)
		assert.True(t, errors.Is(err, domain.ErrNoReferences))
		assert.Empty(t, o.List())
	})

	t.Run("creates a job per submission", func(t *testing.T) {
		o := newTestOrchestrator(t, Deps{})

		id, err := o.Submit(ctx, "1. Smith J. CRISPR screens. Nature. 2021.")
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, id)

		job := waitTerminal(t, o, id)
		assert.Equal(t, 1, job.TotalRefs)
	})
}

func TestOrchestrator_Pipeline(t *testing.T) {
	ctx := context.Background()

	t.Run("mixed outcomes across a batch", func(t *testing.T) {
		store := newMemStore()
		resolver := &stubResolver{fn: func(_ context.Context, extraction domain.ExtractionResult) (domain.ResolutionResult, error) {
			if strings.Contains(extraction.Title, "Alpha") {
				return domain.ResolutionResult{
					Status: domain.ResolutionMatched,
					Best:   &domain.MatchCandidate{PMID: "11111111", FoundTitle: extraction.Title},
					Score:  0.9,
				}, nil
			}
			return domain.ResolutionResult{Status: domain.ResolutionNoMatch}, nil
		}}
		o := newTestOrchestrator(t, Deps{Resolver: resolver, Store: store})

		id, err := o.Submit(ctx, "1. Smith J. Title Alpha. 2020.\n2. Doe J. Title Beta. 2021.")
		require.NoError(t, err)

		job := waitTerminal(t, o, id)
		assert.Equal(t, domain.JobStatusCompleted, job.Status)
		assert.Equal(t, 2, job.TotalRefs)
		assert.Equal(t, 2, job.ProcessedRefs)
		assert.Equal(t, 1, job.CompletedRefs)
		assert.Equal(t, 1, job.FailedRefs)
		assert.Equal(t, 0, job.DuplicateRefs)

		entries := store.stored()
		require.Len(t, entries, 2)
		assert.Equal(t, domain.ExtractionStatusSuccess, entries[0].ExtractionStatus)
		assert.Equal(t, "11111111", entries[0].PMID)
		assert.Equal(t, domain.ExtractionStatusSearchFailed, entries[1].ExtractionStatus)
		assert.Empty(t, entries[1].PMID)

		results, err := o.GetResults(id)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, 0, results[0].ReferenceIndex)
		assert.Equal(t, domain.JobResultCompleted, results[0].Status)
		assert.Equal(t, "11111111", results[0].PMID)
		assert.Equal(t, 1, results[1].ReferenceIndex)
		assert.Equal(t, domain.JobResultFailed, results[1].Status)
		assert.NotEmpty(t, results[1].ErrorMessage)
	})

	t.Run("extraction failure records failed entry", func(t *testing.T) {
		store := newMemStore()
		extractor := &stubExtractor{fn: func(_ context.Context, _ string) (domain.ExtractionResult, error) {
			return domain.ExtractionResult{Failed: true}, nil
		}}
		o := newTestOrchestrator(t, Deps{Extractor: extractor, Store: store})

		id, err := o.Submit(ctx, "1. Garbled citation text here.")
		require.NoError(t, err)

		job := waitTerminal(t, o, id)
		assert.Equal(t, domain.JobStatusCompleted, job.Status)
		assert.Equal(t, 1, job.FailedRefs)

		entries := store.stored()
		require.Len(t, entries, 1)
		assert.Equal(t, domain.ExtractionStatusTitleExtractionFailed, entries[0].ExtractionStatus)
		assert.Equal(t, "Garbled citation text here.", entries[0].OriginalReference)
	})

	t.Run("known PMID is a duplicate without downloads", func(t *testing.T) {
		store := newMemStore()
		store.pmids["11111111"] = true
		acquirer := &stubAcquirer{}
		o := newTestOrchestrator(t, Deps{Store: store, Acquirer: acquirer})

		id, err := o.Submit(ctx, "1. Smith J. Already resolved title. 2020.")
		require.NoError(t, err)

		job := waitTerminal(t, o, id)
		assert.Equal(t, domain.JobStatusCompleted, job.Status)
		assert.Equal(t, 1, job.DuplicateRefs)
		assert.Equal(t, 0, job.CompletedRefs)
		assert.Zero(t, acquirer.callCount())
		assert.Empty(t, store.stored())

		results, err := o.GetResults(id)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, domain.JobResultDuplicate, results[0].Status)
		assert.Equal(t, "11111111", results[0].PMID)
	})

	t.Run("concurrent insert conflict becomes duplicate", func(t *testing.T) {
		// The dedup check reports absent but the insert loses the race.
		store := newMemStore()
		store.pmids["22222222"] = true
		o := newTestOrchestrator(t, Deps{
			Resolver: matchResolver("22222222"),
			Store:    &racedStore{memStore: store},
		})

		id, err := o.Submit(ctx, "1. Smith J. Raced title. 2020.")
		require.NoError(t, err)

		job := waitTerminal(t, o, id)
		assert.Equal(t, 1, job.DuplicateRefs)
		assert.Equal(t, 0, job.CompletedRefs)
	})

	t.Run("acquisition failure step stores content_download_failed", func(t *testing.T) {
		store := newMemStore()
		acquirer := &stubAcquirer{fn: func(_ context.Context, pmid, firstAuthor, _ string) (domain.AcquisitionResult, error) {
			return domain.AcquisitionResult{
				Filename:     firstAuthor + "_" + pmid,
				RefAvailable: true,
				FailureStep:  "txt",
			}, nil
		}}
		o := newTestOrchestrator(t, Deps{Store: store, Acquirer: acquirer})

		id, err := o.Submit(ctx, "1. Smith J. Partially fetched title. 2020.")
		require.NoError(t, err)

		job := waitTerminal(t, o, id)
		assert.Equal(t, 1, job.FailedRefs)

		entries := store.stored()
		require.Len(t, entries, 1)
		assert.Equal(t, domain.ExtractionStatusDownloadFailed, entries[0].ExtractionStatus)
		assert.True(t, entries[0].RefAvailable)
		assert.False(t, entries[0].TxtAvailable)
		assert.Equal(t, "11111111", entries[0].PMID)
	})

	t.Run("store write fault fails the job", func(t *testing.T) {
		store := newMemStore()
		store.insertErr = fmt.Errorf("connection refused")
		o := newTestOrchestrator(t, Deps{Store: store})

		id, err := o.Submit(ctx, "1. Smith J. Unwritable title. 2020.")
		require.NoError(t, err)

		job := waitTerminal(t, o, id)
		assert.Equal(t, domain.JobStatusFailed, job.Status)
		assert.Contains(t, job.ErrorMessage, "entry store write failed")
		assert.Equal(t, 0, job.ProcessedRefs)
	})

	t.Run("counters satisfy the progress invariant", func(t *testing.T) {
		o := newTestOrchestrator(t, Deps{})

		id, err := o.Submit(ctx, "1. First title here.\n2. Second title here.\n3. Third title here.")
		require.NoError(t, err)

		job := waitTerminal(t, o, id)
		recorded := job.CompletedRefs + job.FailedRefs + job.DuplicateRefs
		assert.LessOrEqual(t, recorded, job.ProcessedRefs)
		assert.LessOrEqual(t, job.ProcessedRefs, job.TotalRefs)
		assert.Equal(t, job.TotalRefs, job.ProcessedRefs)
	})
}

func TestOrchestrator_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancellation observed between items", func(t *testing.T) {
		firstItemStarted := make(chan struct{})
		release := make(chan struct{})
		var once sync.Once
		extractor := &stubExtractor{fn: func(_ context.Context, reference string) (domain.ExtractionResult, error) {
			once.Do(func() {
				close(firstItemStarted)
				<-release
			})
			return domain.ExtractionResult{Title: reference}, nil
		}}
		o := newTestOrchestrator(t, Deps{Extractor: extractor})

		id, err := o.Submit(ctx, "1. First title here.\n2. Second title here.\n3. Third title here.")
		require.NoError(t, err)

		<-firstItemStarted
		require.NoError(t, o.Cancel(id))
		close(release)

		job := waitTerminal(t, o, id)
		assert.Equal(t, domain.JobStatusCancelled, job.Status)
		// The in-flight item ran to completion; later items never started.
		assert.Equal(t, 1, job.ProcessedRefs)
		assert.Len(t, job.Results, 1)
	})

	t.Run("cancel is idempotent and a no-op on terminal jobs", func(t *testing.T) {
		o := newTestOrchestrator(t, Deps{})

		id, err := o.Submit(ctx, "1. Smith J. Some title. 2020.")
		require.NoError(t, err)
		waitTerminal(t, o, id)

		assert.NoError(t, o.Cancel(id))
		assert.NoError(t, o.Cancel(id))

		job, err := o.GetStatus(id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, job.Status)
	})

	t.Run("unknown job returns not found", func(t *testing.T) {
		o := newTestOrchestrator(t, Deps{})
		err := o.Cancel(uuid.New())
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestOrchestrator_Queries(t *testing.T) {
	ctx := context.Background()

	t.Run("status and results for unknown job", func(t *testing.T) {
		o := newTestOrchestrator(t, Deps{})

		_, err := o.GetStatus(uuid.New())
		assert.True(t, errors.Is(err, domain.ErrNotFound))

		_, err = o.GetResults(uuid.New())
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("status returns an isolated snapshot", func(t *testing.T) {
		o := newTestOrchestrator(t, Deps{})

		id, err := o.Submit(ctx, "1. Smith J. Some title. 2020.")
		require.NoError(t, err)
		waitTerminal(t, o, id)

		job, err := o.GetStatus(id)
		require.NoError(t, err)
		require.Len(t, job.Results, 1)
		job.Results[0].PMID = "mutated"

		again, err := o.GetStatus(id)
		require.NoError(t, err)
		assert.NotEqual(t, "mutated", again.Results[0].PMID)
	})

	t.Run("list is newest first", func(t *testing.T) {
		o := newTestOrchestrator(t, Deps{})

		first, err := o.Submit(ctx, "1. Smith J. Earlier title. 2020.")
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
		second, err := o.Submit(ctx, "1. Doe J. Later title. 2021.")
		require.NoError(t, err)

		waitTerminal(t, o, first)
		waitTerminal(t, o, second)

		jobs := o.List()
		require.Len(t, jobs, 2)
		assert.Equal(t, second, jobs[0].ID)
		assert.Equal(t, first, jobs[1].ID)
	})
}
