// Package resolver matches extracted reference titles against PubMed.
//
// Resolution builds a sequence of progressively looser search queries
// and accepts the first candidate whose title overlaps the extracted
// title strongly enough. Loose queries recover references whose titles
// were transcribed imperfectly, while the overlap score keeps bad hits
// out.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/reference-resolution-service/internal/domain"
)

const (
	// DefaultMatchThreshold is the minimum word-overlap score for a
	// candidate to count as a match.
	DefaultMatchThreshold = 0.5

	// DefaultMaxCandidates is the number of top search results scored
	// per query.
	DefaultMaxCandidates = 5

	// minQuotedTitleLength is the minimum title length for the exact
	// quoted-title strategy. Very short titles quoted verbatim match
	// too many unrelated records.
	minQuotedTitleLength = 10

	// maxSignificantWords caps the significant-word query length.
	maxSignificantWords = 8

	// maxKeywords caps the keyword-only query length.
	maxKeywords = 5
)

// stopwords are excluded from significant-word queries and from
// overlap scoring.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "have": {}, "has": {}, "had": {}, "do": {},
	"does": {}, "did": {}, "will": {}, "would": {}, "could": {},
	"should": {}, "may": {}, "might": {}, "must": {}, "can": {},
	"this": {}, "that": {}, "these": {}, "those": {},
}

// wordPattern matches candidate significant words: alphabetic runs of
// at least three letters.
var wordPattern = regexp.MustCompile(`[a-zA-Z]{3,}`)

// nonAlphanumeric is stripped before tokenizing titles for scoring.
var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// Searcher is the subset of the PubMed client the resolver needs.
type Searcher interface {
	Search(ctx context.Context, term string, retmax int) ([]string, error)
	Fetch(ctx context.Context, pmids []string) ([]domain.MatchCandidate, error)
}

// Config holds resolver settings.
type Config struct {
	// MatchThreshold is the minimum overlap score in (0,1] for a match.
	MatchThreshold float64

	// MaxCandidates is the number of top search results scored per query.
	MaxCandidates int
}

// Resolver matches extraction results to PubMed records.
type Resolver struct {
	searcher  Searcher
	threshold float64
	retmax    int
	logger    zerolog.Logger
}

// New creates a resolver. Zero config fields fall back to defaults.
func New(searcher Searcher, cfg Config, logger zerolog.Logger) *Resolver {
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = DefaultMatchThreshold
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	return &Resolver{
		searcher:  searcher,
		threshold: cfg.MatchThreshold,
		retmax:    cfg.MaxCandidates,
		logger:    logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve runs the search strategies in priority order and returns the
// first candidate scoring at or above the threshold. A low-confidence
// hit is equivalent to no result. Transport failures in one strategy do
// not stop later, simpler queries from being tried; if nothing matched
// and at least one strategy failed, the outcome is a search error
// rather than a definite no-match.
func (r *Resolver) Resolve(ctx context.Context, extraction domain.ExtractionResult) (domain.ResolutionResult, error) {
	title := strings.TrimSpace(extraction.Title)
	if title == "" {
		return domain.ResolutionResult{Status: domain.ResolutionNoMatch}, nil
	}

	sawError := false
	for i, strategy := range BuildStrategies(title, extraction.FirstAuthor) {
		result, err := r.tryStrategy(ctx, strategy, title)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return domain.ResolutionResult{Status: domain.ResolutionSearchError}, err
			}
			sawError = true
			r.logger.Warn().Err(err).Int("strategy", i+1).Str("query", strategy).
				Msg("search strategy failed")
			continue
		}
		if result.Status == domain.ResolutionMatched {
			r.logger.Debug().Int("strategy", i+1).Str("pmid", result.Best.PMID).
				Float64("score", result.Score).Msg("reference matched")
			return result, nil
		}
	}

	if sawError {
		return domain.ResolutionResult{Status: domain.ResolutionSearchError}, nil
	}
	return domain.ResolutionResult{Status: domain.ResolutionNoMatch}, nil
}

// tryStrategy runs one query and scores its candidates against the
// extracted title. Ties keep the earlier-ranked candidate.
func (r *Resolver) tryStrategy(ctx context.Context, query, title string) (domain.ResolutionResult, error) {
	pmids, err := r.searcher.Search(ctx, query, r.retmax)
	if err != nil {
		return domain.ResolutionResult{}, fmt.Errorf("search: %w", err)
	}
	if len(pmids) == 0 {
		return domain.ResolutionResult{Status: domain.ResolutionNoMatch}, nil
	}

	candidates, err := r.searcher.Fetch(ctx, pmids)
	if err != nil {
		return domain.ResolutionResult{}, fmt.Errorf("fetch: %w", err)
	}

	var best *domain.MatchCandidate
	bestScore := 0.0
	for i := range candidates {
		score := Score(title, candidates[i].FoundTitle)
		if best == nil || score > bestScore {
			best = &candidates[i]
			bestScore = score
		}
	}

	if best != nil && bestScore >= r.threshold {
		return domain.ResolutionResult{
			Status: domain.ResolutionMatched,
			Best:   best,
			Score:  bestScore,
		}, nil
	}
	return domain.ResolutionResult{Status: domain.ResolutionNoMatch}, nil
}

// BuildStrategies returns the search queries to try, strictest first.
// When an author is known, the author-constrained query leads.
func BuildStrategies(title, firstAuthor string) []string {
	clean := cleanTitle(title)

	var strategies []string

	author := strings.TrimSpace(strings.ReplaceAll(firstAuthor, ",", ""))
	if author != "" && len(clean) > minQuotedTitleLength {
		strategies = append(strategies, fmt.Sprintf(`"%s"[Title] AND %s[First Author]`, clean, author))
	}

	if len(clean) > minQuotedTitleLength {
		strategies = append(strategies, fmt.Sprintf(`"%s"[Title]`, clean))
	}
	strategies = append(strategies, clean+"[Title]")

	significant := significantWords(clean)
	if len(significant) >= 3 {
		fields := make([]string, len(significant))
		for i, w := range significant {
			fields[i] = w + "[Title/Abstract]"
		}
		strategies = append(strategies, strings.Join(fields, " AND "))
	}
	if len(significant) >= 2 {
		strategies = append(strategies, strings.Join(topKeywords(significant), " AND "))
	}

	strategies = append(strategies, clean)
	return strategies
}

// cleanTitle strips quoting and colons that confuse the query parser.
func cleanTitle(title string) string {
	clean := strings.ReplaceAll(title, `"`, "")
	clean = strings.ReplaceAll(clean, ":", "")
	return strings.TrimSpace(clean)
}

// significantWords extracts the non-stopword words of at least three
// letters, in title order, capped at maxSignificantWords.
func significantWords(title string) []string {
	words := wordPattern.FindAllString(strings.ToLower(title), -1)
	significant := make([]string, 0, len(words))
	for _, w := range words {
		if _, ok := stopwords[w]; ok {
			continue
		}
		significant = append(significant, w)
		if len(significant) == maxSignificantWords {
			break
		}
	}
	return significant
}

// topKeywords returns the longest significant words, at most
// maxKeywords of them. Longer words are rarer and discriminate better.
// Ties keep title order.
func topKeywords(significant []string) []string {
	keywords := make([]string, len(significant))
	copy(keywords, significant)
	sort.SliceStable(keywords, func(i, j int) bool {
		return len(keywords[i]) > len(keywords[j])
	})
	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	return keywords
}

// Score computes the normalized word-overlap similarity of two titles:
// the Jaccard index of their stopword-free token sets. It is symmetric
// and ranges over [0,1]; an empty union scores 0.
func Score(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// tokenSet lower-cases, strips punctuation, and splits a title into a
// set of non-stopword tokens.
func tokenSet(s string) map[string]struct{} {
	normalized := nonAlphanumeric.ReplaceAllString(strings.ToLower(s), " ")
	set := make(map[string]struct{})
	for _, w := range strings.Fields(normalized) {
		if _, ok := stopwords[w]; ok {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}
