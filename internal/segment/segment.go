// Package segment splits raw pasted bibliography text into individual
// reference items.
package segment

import (
	"regexp"
	"strings"

	"github.com/helixir/reference-resolution-service/internal/domain"
)

// minReferenceLength filters out fragments left behind by marker
// splitting, such as stray numbering or punctuation.
const minReferenceLength = 3

// markerPatterns are the numbered-list styles tried in order: "1. ",
// "[1]", "(1)" and "1) ". Each matches a numbering marker at the start
// of a line, so a citation spans lines until the next marker.
var markerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*\d+\.\s+`),
	regexp.MustCompile(`(?m)^\s*\[\d+\]\s*`),
	regexp.MustCompile(`(?m)^\s*\(\d+\)\s*`),
	regexp.MustCompile(`(?m)^\s*\d+\)\s+`),
}

var blankLinePattern = regexp.MustCompile(`\n\s*\n`)

// leadingMarkerPattern matches any of the numbering styles at the start
// of a single item. The fallback paths split on lines rather than on
// markers, so a lone numbered citation would otherwise keep its "1. ".
var leadingMarkerPattern = regexp.MustCompile(`^\s*(?:\d+\.\s+|\[\d+\]\s*|\(\d+\)\s*|\d+\)\s+)`)

// Segment splits rawText into ordered reference items. The dominant
// heuristic is numbered-list markers at line starts; the first marker
// style that yields at least two items wins. Unnumbered input falls
// back to blank-line separation and finally to one item per non-blank
// line, so a single unnumbered citation still segments.
//
// Returns a domain.ParsingError wrapping domain.ErrNoReferences when
// the input is blank or no items survive filtering. Indices are
// assigned sequentially from zero and each item's text is preserved
// verbatim apart from surrounding whitespace and a leading numbering
// marker, which is stripped regardless of which heuristic applied.
func Segment(rawText string) ([]domain.ReferenceItem, error) {
	text := strings.TrimSpace(rawText)
	if text == "" {
		return nil, domain.NewParsingError("no reference text provided")
	}

	for _, pattern := range markerPatterns {
		if !pattern.MatchString(text) {
			continue
		}
		parts := collect(pattern.Split(text, -1))
		if len(parts) > 1 {
			return toItems(parts), nil
		}
	}

	// No numbering detected: try blank-line separated citations.
	if parts := collect(blankLinePattern.Split(text, -1)); len(parts) > 1 {
		return toItems(parts), nil
	}

	// Last resort: treat each non-blank line as one citation.
	parts := collect(strings.Split(text, "\n"))
	if len(parts) == 0 {
		return nil, domain.NewParsingError("no references detected in input")
	}

	return toItems(parts), nil
}

// collect trims the split fragments, strips any leftover numbering
// marker, and drops empty or too-short ones.
func collect(raw []string) []string {
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		p = leadingMarkerPattern.ReplaceAllString(p, "")
		p = strings.TrimSpace(p)
		if len(p) < minReferenceLength {
			continue
		}
		parts = append(parts, p)
	}
	return parts
}

func toItems(parts []string) []domain.ReferenceItem {
	items := make([]domain.ReferenceItem, len(parts))
	for i, p := range parts {
		items[i] = domain.ReferenceItem{Index: i, RawText: p}
	}
	return items
}
