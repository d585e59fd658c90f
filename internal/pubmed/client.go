package pubmed

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/reference-resolution-service/internal/domain"
	"github.com/helixir/reference-resolution-service/internal/observability"
)

const (
	// DefaultBaseURL is the base URL for NCBI E-utilities API.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is the rate limit without an API key (3 requests/second).
	// With an API key, the limit increases to 10 requests/second.
	DefaultRateLimit = 3.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 3

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRetMax is the default number of PMIDs requested per search.
	DefaultRetMax = 5

	// sourceName is the human-readable name for this source.
	sourceName = "PubMed"

	// defaultUserAgent identifies the service to NCBI.
	defaultUserAgent = "Helixir-ReferenceResolution/1.0 (mailto:support@helixir.io)"

	// maxResponseBytes caps how much of an E-utilities response is read.
	maxResponseBytes = 10 << 20

	// minFullTextLength is the minimum character count for a flattened
	// PMC document to count as full text. Shorter payloads are stub
	// records, not articles.
	minFullTextLength = 100
)

// yearPattern matches the first four-digit year in a MedlineDate
// string such as "2020 Jan-Feb" or "Winter 2019".
var yearPattern = regexp.MustCompile(`\d{4}`)

// Config holds the configuration for the PubMed client.
type Config struct {
	// BaseURL is the base URL for the E-utilities API.
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is the NCBI API key for higher rate limits.
	// Optional but recommended for production use.
	APIKey string

	// Timeout is the request timeout.
	// Defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	// Defaults to DefaultRateLimit (3 req/sec) if zero.
	// With an API key, you can increase this to 10 req/sec.
	RateLimit float64

	// MaxRetries is the maximum number of retries for 429/5xx responses.
	MaxRetries int

	// Metrics records E-utilities request outcomes. May be nil.
	Metrics *observability.Metrics
}

// applyDefaults applies default values to the config.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
}

// Client is an NCBI E-utilities client. A single instance is shared by
// all jobs so that the rate limiter covers the whole process.
type Client struct {
	config     Config
	httpClient *HTTPClient
}

// New creates a new PubMed client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	burst := int(cfg.RateLimit)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		config: cfg,
		httpClient: NewHTTPClient(HTTPClientConfig{
			Timeout:    cfg.Timeout,
			RateLimit:  cfg.RateLimit,
			BurstSize:  burst,
			MaxRetries: cfg.MaxRetries,
			Metrics:    cfg.Metrics,
		}),
	}
}

// NewWithHTTPClient creates a new PubMed client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Search queries esearch.fcgi and returns the PMIDs matching term,
// sorted by relevance. retmax caps the number of results; values
// below 1 fall back to DefaultRetMax.
func (c *Client) Search(ctx context.Context, term string, retmax int) ([]string, error) {
	if strings.TrimSpace(term) == "" {
		return nil, domain.NewValidationError("term", "search term is required")
	}
	if retmax < 1 {
		retmax = DefaultRetMax
	}

	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", term)
	params.Set("retmax", strconv.Itoa(retmax))
	params.Set("retmode", "xml")
	params.Set("sort", "relevance")

	body, err := c.get(ctx, "esearch.fcgi", params)
	if err != nil {
		return nil, fmt.Errorf("esearch failed: %w", err)
	}

	var result ESearchResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("esearch: failed to parse XML response: %w", err)
	}

	// Phrases the index does not know yield no results, not an error.
	if result.ErrorList != nil && len(result.ErrorList.PhraseNotFound) > 0 {
		return nil, nil
	}

	return result.IDList.IDs, nil
}

// Fetch retrieves article metadata for the given PMIDs via efetch.fcgi
// and returns one match candidate per article, in response order.
func (c *Client) Fetch(ctx context.Context, pmids []string) ([]domain.MatchCandidate, error) {
	if len(pmids) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(pmids, ","))
	params.Set("retmode", "xml")

	body, err := c.get(ctx, "efetch.fcgi", params)
	if err != nil {
		return nil, fmt.Errorf("efetch failed: %w", err)
	}

	var result PubmedArticleSet
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("efetch: failed to parse XML response: %w", err)
	}

	candidates := make([]domain.MatchCandidate, 0, len(result.Articles))
	for _, article := range result.Articles {
		candidates = append(candidates, candidateFromArticle(article))
	}
	return candidates, nil
}

// LinkPMC resolves the PMC identifier for a PMID via elink.fcgi.
// It returns an empty string without error when the article has no
// PMC record.
func (c *Client) LinkPMC(ctx context.Context, pmid string) (string, error) {
	if pmid == "" {
		return "", domain.NewValidationError("pmid", "pmid is required")
	}

	params := url.Values{}
	params.Set("dbfrom", "pubmed")
	params.Set("db", "pmc")
	params.Set("id", pmid)
	params.Set("retmode", "xml")

	body, err := c.get(ctx, "elink.fcgi", params)
	if err != nil {
		return "", fmt.Errorf("elink failed: %w", err)
	}

	var result ELinkResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("elink: failed to parse XML response: %w", err)
	}

	for _, ls := range result.LinkSets {
		for _, db := range ls.LinkSetDbs {
			if db.DbTo != "pmc" {
				continue
			}
			for _, link := range db.Links {
				if link.ID != "" {
					return link.ID, nil
				}
			}
		}
	}
	return "", nil
}

// FetchPMCText retrieves the PMC full-text XML for a PMC identifier
// and flattens it to plain text. It returns an empty string without
// error when no usable full text is available.
func (c *Client) FetchPMCText(ctx context.Context, pmcID string) (string, error) {
	if pmcID == "" {
		return "", domain.NewValidationError("pmc_id", "pmc id is required")
	}

	params := url.Values{}
	params.Set("db", "pmc")
	params.Set("id", pmcID)
	params.Set("retmode", "xml")

	body, err := c.get(ctx, "efetch.fcgi", params)
	if err != nil {
		return "", fmt.Errorf("efetch pmc failed: %w", err)
	}

	text := flattenPMCText(body)
	if len(strings.TrimSpace(text)) < minFullTextLength {
		return "", nil
	}
	return text, nil
}

// FetchReferences retrieves the reference list of an article via
// efetch.fcgi and returns one citation string per cited work.
// References without citation text fall back to their PMID.
func (c *Client) FetchReferences(ctx context.Context, pmid string) ([]string, error) {
	if pmid == "" {
		return nil, domain.NewValidationError("pmid", "pmid is required")
	}

	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", pmid)
	params.Set("retmode", "xml")

	body, err := c.get(ctx, "efetch.fcgi", params)
	if err != nil {
		return nil, fmt.Errorf("efetch failed: %w", err)
	}

	var result PubmedArticleSet
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("efetch: failed to parse XML response: %w", err)
	}

	if len(result.Articles) == 0 || result.Articles[0].PubmedData.ReferenceList == nil {
		return nil, nil
	}

	refs := result.Articles[0].PubmedData.ReferenceList.References
	citations := make([]string, 0, len(refs))
	for _, ref := range refs {
		citation := strings.TrimSpace(ref.Citation)
		if citation == "" && ref.ArticleIdList != nil {
			for _, aid := range ref.ArticleIdList.ArticleIds {
				if aid.IdType == "pubmed" && aid.Value != "" {
					citation = "PMID: " + aid.Value
					break
				}
			}
		}
		if citation != "" {
			citations = append(citations, citation)
		}
	}
	return citations, nil
}

// get executes one E-utilities GET request and returns the response body.
// The API key is appended when configured.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	u, err := url.Parse(c.config.BaseURL + "/" + endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	if c.config.APIKey != "" {
		params.Set("api_key", c.config.APIKey)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// candidateFromArticle converts an efetch article record to a match candidate.
func candidateFromArticle(article PubmedArticle) domain.MatchCandidate {
	citation := article.MedlineCitation

	journal := citation.Article.Journal.Title
	if journal == "" {
		journal = citation.Article.Journal.ISOAbbreviation
	}

	return domain.MatchCandidate{
		PMID:        citation.PMID.Value,
		FoundTitle:  strings.TrimSpace(citation.Article.ArticleTitle),
		DOI:         extractDOI(citation.Article, article.PubmedData),
		Journal:     journal,
		Year:        extractYear(citation.Article.Journal.JournalIssue.PubDate),
		FirstAuthor: firstAuthorSurname(citation.Article.AuthorList),
	}
}

// extractDOI extracts the DOI from article metadata.
// It checks ELocationID first (more reliable), then ArticleIdList.
func extractDOI(article Article, pubmedData PubmedData) string {
	for _, eloc := range article.ELocationID {
		if eloc.EIdType == "doi" && (eloc.Valid == "" || eloc.Valid == "Y") {
			return eloc.Value
		}
	}

	for _, aid := range pubmedData.ArticleIdList.ArticleIds {
		if aid.IdType == "doi" {
			return aid.Value
		}
	}

	return ""
}

// extractYear extracts the publication year from a PubDate, falling
// back to the first four-digit run in a MedlineDate.
func extractYear(pd PubDate) string {
	if pd.Year != "" {
		return pd.Year
	}
	if pd.MedlineDate != "" {
		return yearPattern.FindString(pd.MedlineDate)
	}
	return ""
}

// firstAuthorSurname returns the surname of the first listed personal
// author, skipping authors flagged invalid and collective names.
func firstAuthorSurname(list *AuthorList) string {
	if list == nil {
		return ""
	}
	for _, a := range list.Authors {
		if a.ValidYN == "N" {
			continue
		}
		if a.LastName != "" {
			return a.LastName
		}
	}
	return ""
}

// flattenPMCText converts PMC JATS XML into plain text. The article
// title becomes the first line, abstract and body paragraphs follow in
// document order, and body section headings are upper-cased.
func flattenPMCText(data []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var (
		parts []string
		buf   strings.Builder
		stack []string
		title string
	)

	inAny := func(name string) bool {
		for _, s := range stack {
			if s == name {
				return true
			}
		}
		return false
	}

	collapse := func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)

		case xml.CharData:
			switch {
			case title == "" && inAny("article-title") && !inAny("body"):
				buf.Write(t)
			case inAny("p") && (inAny("abstract") || inAny("body")):
				buf.Write(t)
			case inAny("body") && inAny("title") && !inAny("p"):
				buf.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "article-title":
				if title == "" {
					title = collapse(buf.String())
				}
				buf.Reset()
			case "p":
				if text := collapse(buf.String()); text != "" {
					parts = append(parts, text)
				}
				buf.Reset()
			case "title":
				if heading := collapse(buf.String()); heading != "" && inAny("body") {
					parts = append(parts, strings.ToUpper(heading))
				}
				buf.Reset()
			}
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if title != "" {
		parts = append([]string{"TITLE: " + title}, parts...)
	}
	return strings.Join(parts, "\n\n")
}
