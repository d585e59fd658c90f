// Package jobs coordinates asynchronous reference resolution jobs. A job
// owns one batch of segmented references and processes them sequentially
// in a background goroutine, recording one outcome per reference. Jobs
// live in an in-memory registry; the entry store holds the durable state.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/reference-resolution-service/internal/domain"
	"github.com/helixir/reference-resolution-service/internal/observability"
	"github.com/helixir/reference-resolution-service/internal/segment"
)

const (
	// DefaultRetentionPeriod is how long finished jobs stay queryable.
	DefaultRetentionPeriod = 24 * time.Hour
	// DefaultItemTimeout bounds the processing of one reference.
	DefaultItemTimeout = 3 * time.Minute
	// storeWriteTimeout bounds entry store calls independently of the item
	// deadline, so an expired item can still record its failure entry.
	storeWriteTimeout = 10 * time.Second
)

// Extractor parses one citation into structured metadata.
type Extractor interface {
	ExtractTitle(ctx context.Context, reference string) (domain.ExtractionResult, error)
}

// Resolver matches extracted metadata against the bibliographic index.
type Resolver interface {
	Resolve(ctx context.Context, extraction domain.ExtractionResult) (domain.ResolutionResult, error)
}

// Acquirer fetches and stores content artifacts for a resolved reference.
type Acquirer interface {
	Acquire(ctx context.Context, pmid, firstAuthor, originalRef string) (domain.AcquisitionResult, error)
}

// EntryStore is the subset of the entry repository the orchestrator uses.
type EntryStore interface {
	ExistsByPMID(ctx context.Context, pmid string) (bool, error)
	InsertIfAbsent(ctx context.Context, entry *domain.Entry) (bool, error)
}

// Config holds orchestration settings. Zero values fall back to defaults.
type Config struct {
	// RetentionPeriod is how long terminal jobs remain in the registry.
	RetentionPeriod time.Duration
	// ItemTimeout is the per-reference processing deadline.
	ItemTimeout time.Duration
}

// Deps bundles the collaborators a job pipeline runs through.
type Deps struct {
	Extractor Extractor
	Resolver  Resolver
	Acquirer  Acquirer
	Store     EntryStore
	// Metrics may be nil, in which case no metrics are recorded.
	Metrics *observability.Metrics
}

// jobRecord pairs a job with its cancellation signal. The signal is
// observed between items only; in-flight item calls run to completion.
type jobRecord struct {
	job       domain.Job
	cancelCtx context.Context
	cancel    context.CancelFunc
}

// Orchestrator runs reference resolution jobs and answers status polls.
type Orchestrator struct {
	extractor Extractor
	resolver  Resolver
	acquirer  Acquirer
	store     EntryStore
	metrics   *observability.Metrics
	logger    zerolog.Logger

	retention   time.Duration
	itemTimeout time.Duration

	// baseCtx is the parent of item contexts. Cancelled only on Close, so
	// job cancellation never aborts an in-flight item call.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu   sync.Mutex
	jobs map[uuid.UUID]*jobRecord
}

// New creates an orchestrator. Zero config fields fall back to defaults.
func New(deps Deps, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.RetentionPeriod <= 0 {
		cfg.RetentionPeriod = DefaultRetentionPeriod
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = DefaultItemTimeout
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	return &Orchestrator{
		extractor:   deps.Extractor,
		resolver:    deps.Resolver,
		acquirer:    deps.Acquirer,
		store:       deps.Store,
		metrics:     deps.Metrics,
		logger:      logger.With().Str("component", "jobs").Logger(),
		retention:   cfg.RetentionPeriod,
		itemTimeout: cfg.ItemTimeout,
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
		jobs:        make(map[uuid.UUID]*jobRecord),
	}
}

// Submit segments rawText synchronously and starts a background job for
// the resulting references. Segmentation failures surface to the caller
// and no job is created.
func (o *Orchestrator) Submit(ctx context.Context, rawText string) (uuid.UUID, error) {
	items, err := segment.Segment(rawText)
	if err != nil {
		return uuid.Nil, err
	}

	now := time.Now().UTC()
	rec := &jobRecord{
		job: domain.Job{
			ID:        uuid.New(),
			Status:    domain.JobStatusPending,
			TotalRefs: len(items),
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	rec.cancelCtx, rec.cancel = context.WithCancel(o.baseCtx)

	o.mu.Lock()
	o.jobs[rec.job.ID] = rec
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.RecordJobStarted(len(items))
	}

	o.logger.Info().
		Str("job_id", rec.job.ID.String()).
		Int("total_refs", len(items)).
		Msg("job submitted")

	o.wg.Add(1)
	go o.run(rec, items)

	return rec.job.ID, nil
}

// GetStatus returns a snapshot of the job, including its results so far.
func (o *Orchestrator) GetStatus(jobID uuid.UUID) (domain.Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.jobs[jobID]
	if !ok {
		return domain.Job{}, domain.NewNotFoundError("job", jobID.String())
	}
	return snapshot(rec), nil
}

// GetResults returns a copy of the job's results in reference order.
func (o *Orchestrator) GetResults(jobID uuid.UUID) ([]domain.JobResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.jobs[jobID]
	if !ok {
		return nil, domain.NewNotFoundError("job", jobID.String())
	}
	results := make([]domain.JobResult, len(rec.job.Results))
	copy(results, rec.job.Results)
	return results, nil
}

// Cancel requests cancellation of a running job. The signal is observed
// between items, so the current reference finishes first. Cancelling a
// terminal job is a no-op.
func (o *Orchestrator) Cancel(jobID uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.jobs[jobID]
	if !ok {
		return domain.NewNotFoundError("job", jobID.String())
	}
	if rec.job.Status.IsTerminal() {
		return nil
	}
	rec.cancel()
	return nil
}

// List returns snapshots of all known jobs, newest first.
func (o *Orchestrator) List() []domain.Job {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]domain.Job, 0, len(o.jobs))
	for _, rec := range o.jobs {
		out = append(out, snapshot(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Close signals cancellation to all active jobs and waits for their
// current items to drain. When ctx expires first, item contexts are
// cancelled and the context error is returned.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	for _, rec := range o.jobs {
		rec.cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.baseCancel()
		return nil
	case <-ctx.Done():
		o.baseCancel()
		<-done
		return ctx.Err()
	}
}

// run is the job goroutine. Items are processed strictly sequentially;
// the cancellation signal is checked before each item starts.
func (o *Orchestrator) run(rec *jobRecord, items []domain.ReferenceItem) {
	defer o.wg.Done()

	logger := o.logger.With().Str("job_id", rec.job.ID.String()).Logger()
	started := time.Now()

	o.mu.Lock()
	rec.job.Status = domain.JobStatusProcessing
	rec.job.UpdatedAt = time.Now().UTC()
	o.mu.Unlock()

	for _, item := range items {
		if rec.cancelCtx.Err() != nil {
			o.finish(rec, domain.JobStatusCancelled, "")
			if o.metrics != nil {
				o.metrics.RecordJobCancelled()
			}
			logger.Info().Int("processed_refs", o.processedCount(rec)).Msg("job cancelled")
			return
		}

		result, err := o.processItem(logger, item)
		if err != nil {
			o.finish(rec, domain.JobStatusFailed, err.Error())
			if o.metrics != nil {
				o.metrics.RecordJobFailed(time.Since(started).Seconds())
			}
			logger.Error().Err(err).Int("reference_index", item.Index).Msg("job failed")
			return
		}
		o.record(rec, result)
		if o.metrics != nil {
			o.metrics.RecordReferenceProcessed(string(result.Status))
		}
	}

	if rec.cancelCtx.Err() != nil {
		o.finish(rec, domain.JobStatusCancelled, "")
		if o.metrics != nil {
			o.metrics.RecordJobCancelled()
		}
		logger.Info().Msg("job cancelled")
		return
	}

	o.finish(rec, domain.JobStatusCompleted, "")
	if o.metrics != nil {
		o.metrics.RecordJobCompleted(time.Since(started).Seconds())
	}
	logger.Info().
		Int("total_refs", rec.job.TotalRefs).
		Dur("duration", time.Since(started)).
		Msg("job completed")
}

// processItem runs one reference through extract, resolve, dedup check,
// acquire and store. Per-item failures are downgraded to a recorded
// outcome; only entry store faults return an error, which fails the job.
func (o *Orchestrator) processItem(logger zerolog.Logger, item domain.ReferenceItem) (domain.JobResult, error) {
	ctx, cancel := context.WithTimeout(o.baseCtx, o.itemTimeout)
	defer cancel()

	result := domain.JobResult{ReferenceIndex: item.Index}

	extraction, err := o.extractor.ExtractTitle(ctx, item.RawText)
	if err != nil || extraction.Failed {
		msg := "no usable title in citation"
		if err != nil {
			msg = fmt.Sprintf("title extraction failed: %v", err)
		}
		if serr := o.writeFailureEntry(item, extraction, domain.ExtractionStatusTitleExtractionFailed); serr != nil {
			return result, serr
		}
		result.Status = domain.JobResultFailed
		result.ExtractedTitle = extraction.Title
		result.ErrorMessage = msg
		return result, nil
	}
	result.ExtractedTitle = extraction.Title

	resolution, err := o.resolver.Resolve(ctx, extraction)
	if err != nil || resolution.Status != domain.ResolutionMatched {
		msg := "no candidate above match threshold"
		switch {
		case err != nil:
			msg = fmt.Sprintf("search failed: %v", err)
		case resolution.Status == domain.ResolutionSearchError:
			msg = "search failed"
		}
		if serr := o.writeFailureEntry(item, extraction, domain.ExtractionStatusSearchFailed); serr != nil {
			return result, serr
		}
		result.Status = domain.JobResultFailed
		result.ErrorMessage = msg
		return result, nil
	}

	best := resolution.Best
	result.PMID = best.PMID

	exists, err := o.existsByPMID(best.PMID)
	if err != nil {
		return result, err
	}
	if exists {
		result.Status = domain.JobResultDuplicate
		if o.metrics != nil {
			o.metrics.RecordEntryDuplicate()
		}
		return result, nil
	}

	firstAuthor := best.FirstAuthor
	if firstAuthor == "" {
		firstAuthor = extraction.FirstAuthor
	}

	acq, acqErr := o.acquirer.Acquire(ctx, best.PMID, firstAuthor, item.RawText)
	o.recordArtifacts(acq)

	status := domain.ExtractionStatusSuccess
	if acqErr != nil || acq.FailureStep != "" {
		status = domain.ExtractionStatusDownloadFailed
	}

	entry := &domain.Entry{
		PMID:              best.PMID,
		Filename:          acq.Filename,
		ExtractionStatus:  status,
		TxtAvailable:      acq.TxtAvailable,
		PDFAvailable:      acq.PDFAvailable,
		RefAvailable:      acq.RefAvailable,
		OriginalReference: item.RawText,
		ExtractedTitle:    extraction.Title,
		FoundTitle:        best.FoundTitle,
		FirstAuthor:       firstAuthor,
		Journal:           coalesce(best.Journal, extraction.Journal),
		Year:              coalesce(best.Year, extraction.Year),
		DOI:               best.DOI,
	}

	inserted, err := o.insertIfAbsent(entry, status)
	if err != nil {
		return result, err
	}
	if !inserted {
		// Another job resolved the same PMID between the check and the insert.
		result.Status = domain.JobResultDuplicate
		if o.metrics != nil {
			o.metrics.RecordEntryDuplicate()
		}
		return result, nil
	}

	if status.IsSuccess() {
		result.Status = domain.JobResultCompleted
	} else {
		result.Status = domain.JobResultFailed
		switch {
		case acqErr != nil:
			result.ErrorMessage = fmt.Sprintf("content acquisition failed: %v", acqErr)
		default:
			result.ErrorMessage = fmt.Sprintf("content acquisition failed at step %q", acq.FailureStep)
		}
	}

	logger.Debug().
		Int("reference_index", item.Index).
		Str("pmid", best.PMID).
		Str("status", string(status)).
		Msg("reference processed")

	return result, nil
}

// writeFailureEntry stores the failure record for a reference that never
// obtained a PMID. Failed entries are identified by creation timestamp.
func (o *Orchestrator) writeFailureEntry(item domain.ReferenceItem, extraction domain.ExtractionResult, status domain.ExtractionStatus) error {
	entry := &domain.Entry{
		ExtractionStatus:  status,
		OriginalReference: item.RawText,
		ExtractedTitle:    extraction.Title,
		FirstAuthor:       extraction.FirstAuthor,
		Journal:           extraction.Journal,
		Year:              extraction.Year,
	}
	_, err := o.insertIfAbsent(entry, status)
	return err
}

// existsByPMID checks the dedup key with a store-scoped deadline so an
// expired item context cannot masquerade as a store fault.
func (o *Orchestrator) existsByPMID(pmid string) (bool, error) {
	ctx, cancel := context.WithTimeout(o.baseCtx, storeWriteTimeout)
	defer cancel()

	exists, err := o.store.ExistsByPMID(ctx, pmid)
	if err != nil {
		return false, fmt.Errorf("entry store lookup failed: %w", err)
	}
	return exists, nil
}

func (o *Orchestrator) insertIfAbsent(entry *domain.Entry, status domain.ExtractionStatus) (bool, error) {
	ctx, cancel := context.WithTimeout(o.baseCtx, storeWriteTimeout)
	defer cancel()

	inserted, err := o.store.InsertIfAbsent(ctx, entry)
	if err != nil {
		return false, fmt.Errorf("entry store write failed: %w", err)
	}
	if o.metrics != nil {
		o.metrics.RecordExtractionOutcome(string(status))
		if inserted {
			o.metrics.RecordEntryInserted()
		}
	}
	return inserted, nil
}

func (o *Orchestrator) recordArtifacts(acq domain.AcquisitionResult) {
	if o.metrics == nil {
		return
	}
	if acq.TxtAvailable {
		o.metrics.RecordArtifactDownloaded("txt")
	}
	if acq.PDFAvailable {
		o.metrics.RecordArtifactDownloaded("pdf")
	}
	if acq.RefAvailable {
		o.metrics.RecordArtifactDownloaded("ref")
	}
	if acq.FailureStep != "" {
		o.metrics.RecordArtifactDownloadFailed(acq.FailureStep)
	}
}

// record appends one result and maintains the progress counters.
func (o *Orchestrator) record(rec *jobRecord, result domain.JobResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	result.ProcessedAt = time.Now().UTC()
	rec.job.Results = append(rec.job.Results, result)
	rec.job.ProcessedRefs++
	switch result.Status {
	case domain.JobResultCompleted:
		rec.job.CompletedRefs++
	case domain.JobResultFailed:
		rec.job.FailedRefs++
	case domain.JobResultDuplicate:
		rec.job.DuplicateRefs++
	}
	rec.job.UpdatedAt = result.ProcessedAt
}

// finish moves the job into a terminal state and schedules its eviction
// from the registry.
func (o *Orchestrator) finish(rec *jobRecord, status domain.JobStatus, errMsg string) {
	o.mu.Lock()
	rec.job.Status = status
	rec.job.ErrorMessage = errMsg
	rec.job.UpdatedAt = time.Now().UTC()
	jobID := rec.job.ID
	o.mu.Unlock()

	rec.cancel()

	time.AfterFunc(o.retention, func() {
		o.mu.Lock()
		delete(o.jobs, jobID)
		o.mu.Unlock()
	})
}

func (o *Orchestrator) processedCount(rec *jobRecord) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return rec.job.ProcessedRefs
}

// snapshot copies the job, detaching the results slice. Callers hold o.mu.
func snapshot(rec *jobRecord) domain.Job {
	job := rec.job
	job.Results = make([]domain.JobResult, len(rec.job.Results))
	copy(job.Results, rec.job.Results)
	return job
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
