package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors for PDF fetching. ErrNotPDF and ErrTooLarge mean the
// article's PDF is unavailable under our policy, not that fetching
// itself broke.
var (
	// ErrNotPDF is returned when the response is not a PDF document.
	ErrNotPDF = errors.New("pdf: response is not a PDF")
	// ErrTooLarge is returned when the file exceeds the maximum allowed size.
	ErrTooLarge = errors.New("pdf: file exceeds maximum size")
	// ErrFetchFailed is returned when the download fails due to network
	// or server errors.
	ErrFetchFailed = errors.New("pdf: fetch failed")
)

// DefaultPMCBaseURL is the PMC article base URL PDFs are fetched from.
const DefaultPMCBaseURL = "https://www.ncbi.nlm.nih.gov/pmc"

// DefaultMaxPDFSize is the PDF size ceiling (50MB).
const DefaultMaxPDFSize = 50 * 1024 * 1024

// PDFConfig holds PDF fetcher configuration.
type PDFConfig struct {
	// BaseURL is the PMC base URL. Defaults to DefaultPMCBaseURL.
	BaseURL string
	// Timeout is the HTTP request timeout. Default: 60 seconds.
	Timeout time.Duration
	// MaxSize is the maximum file size in bytes. Default: DefaultMaxPDFSize.
	MaxSize int64
	// UserAgent is the User-Agent header.
	UserAgent string
}

// PDFFetcher downloads article PDFs from PMC.
type PDFFetcher struct {
	client    *http.Client
	baseURL   string
	maxSize   int64
	userAgent string
}

// NewPDFFetcher creates a PDF fetcher with the given configuration.
func NewPDFFetcher(cfg PDFConfig) *PDFFetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPMCBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = DefaultMaxPDFSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; Helixir-ReferenceResolution/1.0; +https://helixir.io/bot)"
	}

	return &PDFFetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   cfg.BaseURL,
		maxSize:   cfg.MaxSize,
		userAgent: cfg.UserAgent,
	}
}

// FetchPDF tries the known PMC PDF URL patterns for a PMC identifier
// and returns the first PDF found.
// Returns ErrNotPDF when no pattern yields a PDF document.
// Returns ErrTooLarge when the PDF exceeds the size ceiling.
// Returns ErrFetchFailed wrapped with the cause for transport errors.
func (f *PDFFetcher) FetchPDF(ctx context.Context, pmcID string) ([]byte, error) {
	urls := []string{
		fmt.Sprintf("%s/articles/PMC%s/pdf/", f.baseURL, pmcID),
		fmt.Sprintf("%s/articles/PMC%s/pdf/main.pdf", f.baseURL, pmcID),
	}

	var lastErr error
	for _, u := range urls {
		data, err := f.fetchOne(ctx, u)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// fetchOne downloads a single candidate URL and validates the response.
func (f *PDFFetcher) fetchOne(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %w", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/pdf, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: HTTP %d", ErrNotPDF, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrFetchFailed, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "pdf") {
		return nil, fmt.Errorf("%w: Content-Type is %q", ErrNotPDF, contentType)
	}

	// Read one extra byte to detect oversized files.
	content, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrFetchFailed, err)
	}
	if int64(len(content)) > f.maxSize {
		return nil, fmt.Errorf("%w: exceeded %d bytes", ErrTooLarge, f.maxSize)
	}

	return content, nil
}
