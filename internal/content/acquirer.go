package content

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/helixir/reference-resolution-service/internal/domain"
)

// PMCSource is the subset of the PubMed client the acquirer needs.
type PMCSource interface {
	LinkPMC(ctx context.Context, pmid string) (string, error)
	FetchPMCText(ctx context.Context, pmcID string) (string, error)
	FetchReferences(ctx context.Context, pmid string) ([]string, error)
}

// PDFSource fetches article PDFs by PMC identifier.
type PDFSource interface {
	FetchPDF(ctx context.Context, pmcID string) ([]byte, error)
}

// Acquirer fetches and stores the artifacts for a resolved reference.
// The txt, pdf, and ref sub-steps are independent: one failing does not
// stop the others, and an article with no retrievable content at all is
// still a successful acquisition with every availability flag false.
type Acquirer struct {
	source  PMCSource
	pdfs    PDFSource
	storage *Storage
	logger  zerolog.Logger
}

// NewAcquirer creates a content acquirer.
func NewAcquirer(source PMCSource, pdfs PDFSource, storage *Storage, logger zerolog.Logger) *Acquirer {
	return &Acquirer{
		source:  source,
		pdfs:    pdfs,
		storage: storage,
		logger:  logger.With().Str("component", "content").Logger(),
	}
}

// Acquire fetches full text, PDF, and the cited-reference list for a
// matched reference. FailureStep names the first sub-step that failed
// for infrastructure reasons; unavailable content is not a failure.
// The returned error is non-nil only when the context was cancelled.
func (a *Acquirer) Acquire(ctx context.Context, pmid, firstAuthor, originalRef string) (domain.AcquisitionResult, error) {
	result := domain.AcquisitionResult{
		Filename: BuildFilename(firstAuthor, pmid, originalRef),
	}
	log := a.logger.With().Str("pmid", pmid).Str("filename", result.Filename).Logger()

	fail := func(step string, err error) {
		if result.FailureStep == "" {
			result.FailureStep = step
		}
		log.Warn().Err(err).Str("step", step).Msg("content sub-step failed")
	}

	// Full text and PDF both hang off the PMC record, so the link is
	// resolved once up front.
	pmcID, err := a.source.LinkPMC(ctx, pmid)
	if err != nil {
		if cancelled(err) {
			return result, err
		}
		fail("pmc_link", err)
	}

	if pmcID != "" {
		if err := a.acquireTxt(ctx, pmcID, result.Filename, &result); err != nil {
			if cancelled(err) {
				return result, err
			}
			fail(KindTxt, err)
		}

		if err := a.acquirePDF(ctx, pmcID, result.Filename, &result); err != nil {
			if cancelled(err) {
				return result, err
			}
			fail(KindPDF, err)
		}
	} else {
		log.Debug().Msg("no PMC record, skipping full text and PDF")
	}

	if err := a.acquireRefs(ctx, pmid, result.Filename, &result); err != nil {
		if cancelled(err) {
			return result, err
		}
		fail("ref", err)
	}

	return result, nil
}

// acquireTxt fetches and stores the flattened PMC full text.
func (a *Acquirer) acquireTxt(ctx context.Context, pmcID, filename string, result *domain.AcquisitionResult) error {
	text, err := a.source.FetchPMCText(ctx, pmcID)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	if err := a.storage.WriteTxt(filename, text); err != nil {
		return err
	}
	result.TxtAvailable = true
	return nil
}

// acquirePDF fetches and stores the article PDF. A missing or
// policy-rejected PDF is unavailable content, not a failure.
func (a *Acquirer) acquirePDF(ctx context.Context, pmcID, filename string, result *domain.AcquisitionResult) error {
	data, err := a.pdfs.FetchPDF(ctx, pmcID)
	if err != nil {
		if errors.Is(err, ErrNotPDF) || errors.Is(err, ErrTooLarge) {
			a.logger.Debug().Err(err).Str("pmc_id", pmcID).Msg("pdf unavailable")
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := a.storage.WritePDF(filename, data); err != nil {
		return err
	}
	result.PDFAvailable = true
	return nil
}

// acquireRefs fetches and stores the cited-reference list.
func (a *Acquirer) acquireRefs(ctx context.Context, pmid, filename string, result *domain.AcquisitionResult) error {
	citations, err := a.source.FetchReferences(ctx, pmid)
	if err != nil {
		return err
	}
	if len(citations) == 0 {
		return nil
	}
	if err := a.storage.WriteRefs(filename, citations); err != nil {
		return err
	}
	result.RefAvailable = true
	return nil
}

// cancelled reports whether err stems from context cancellation.
func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
