// Package llm provides LLM-based reference metadata extraction for the
// Reference Resolution Service.
//
// This package defines the abstractions and prompt engineering required to
// extract the article title, first author, journal and year from a single
// free-text citation using large language models (OpenAI, Anthropic). The
// extracted title drives the PubMed search downstream.
//
// Example usage:
//
//	extractor, err := llm.NewTitleExtractor(cfg)
//	result, err := extractor.ExtractTitle(ctx, "1. Smith J. CRISPR screens. Nature. 2021.")
package llm

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/helixir/reference-resolution-service/internal/domain"
)

// TitleExtractor defines the interface for LLM-based citation parsing.
//
// Implementations should handle provider-specific API calls, response parsing,
// and error handling while conforming to this unified interface.
type TitleExtractor interface {
	// ExtractTitle parses a single citation and returns the extracted
	// metadata. A response the model produced but that cannot be used
	// (unparseable JSON, missing title) is reported via Failed on the
	// result so the caller can record the outcome and continue. An error
	// is returned only when no usable response was obtained at all, such
	// as a transport failure, an API error, or context cancellation.
	// Implementations make exactly one outbound call per invocation; the
	// caller decides whether a failed reference is worth resubmitting.
	ExtractTitle(ctx context.Context, reference string) (domain.ExtractionResult, error)

	// Provider returns the name of the LLM provider (e.g., "openai", "anthropic").
	Provider() string

	// Model returns the model identifier being used.
	Model() string
}

// titleResponse is the expected JSON structure from LLM responses. Year is
// raw because models return it as either a string or a bare number.
type titleResponse struct {
	Title       *string         `json:"title"`
	FirstAuthor *string         `json:"first_author"`
	Journal     *string         `json:"journal"`
	Year        json.RawMessage `json:"year"`
}

// BuildExtractionPrompt builds the system and user prompts for citation
// parsing. The system prompt instructs the LLM on its role and response
// format. The user prompt carries the citation text.
func BuildExtractionPrompt(reference string) (systemPrompt, userPrompt string) {
	systemPrompt = "You are a precise academic reference parser. " +
		"Extract information accurately and return valid JSON."

	var sb strings.Builder
	sb.WriteString("Extract the following information from this academic reference:\n")
	sb.WriteString("1. Article title (the main title of the paper/article)\n")
	sb.WriteString("2. First author's last name (just the surname)\n")
	sb.WriteString("3. Journal name (if available)\n")
	sb.WriteString("4. Publication year (if available)\n\n")
	sb.WriteString("Reference: \"")
	sb.WriteString(reference)
	sb.WriteString("\"\n\n")
	sb.WriteString("Respond with JSON in exactly this format:\n")
	sb.WriteString(`{"title": "extracted title or null if not found", ` +
		`"first_author": "last name of first author or first significant word if no author", ` +
		`"journal": "journal name or null if not found", ` +
		`"year": "publication year or null if not found"}`)
	sb.WriteString("\n\nGuidelines:\n")
	sb.WriteString("- If the first author's last name contains spaces, replace them with dashes.\n")
	sb.WriteString("- If there is no identifiable author (like an organization), use the first significant word.\n")
	sb.WriteString("- Focus on extracting the main article title, not book or chapter titles.\n")
	sb.WriteString("- Return null for any field that cannot be reliably extracted.")

	return systemPrompt, sb.String()
}

var (
	codeFencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	authorCleanup    = regexp.MustCompile(`[^\w\-]`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
)

// parseExtraction turns raw model output into a domain.ExtractionResult.
// Unusable output sets Failed rather than returning an error, so the
// per-reference pipeline can record the outcome and move on.
func parseExtraction(content string) domain.ExtractionResult {
	content = strings.TrimSpace(content)
	if m := codeFencePattern.FindStringSubmatch(content); m != nil {
		content = m[1]
	}

	// Some models wrap the JSON object in prose. Take the outermost braces.
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		content = content[start : end+1]
	}

	var parsed titleResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return domain.ExtractionResult{Failed: true}
	}

	result := domain.ExtractionResult{
		Title:       cleanField(parsed.Title),
		FirstAuthor: cleanAuthorName(cleanField(parsed.FirstAuthor)),
		Journal:     cleanField(parsed.Journal),
		Year:        parseYear(parsed.Year),
	}

	if result.Title == "" {
		result.Failed = true
	}

	return result
}

// cleanField trims a nullable string field, treating the literal "null"
// the same as a JSON null.
func cleanField(s *string) string {
	if s == nil {
		return ""
	}
	v := strings.TrimSpace(*s)
	if strings.EqualFold(v, "null") {
		return ""
	}
	return v
}

// cleanAuthorName normalizes a surname for use in filenames: whitespace
// runs become dashes and punctuation other than dashes is stripped. The
// placeholder "Unknown" collapses to empty so the caller applies its own
// fallback.
func cleanAuthorName(name string) string {
	if name == "" || strings.EqualFold(name, "unknown") {
		return ""
	}
	cleaned := whitespaceRun.ReplaceAllString(strings.TrimSpace(name), "-")
	cleaned = authorCleanup.ReplaceAllString(cleaned, "")
	return cleaned
}

// parseYear accepts the year as a JSON string or bare number.
func parseYear(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if strings.EqualFold(asString, "null") {
			return ""
		}
		return asString
	}

	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber.String()
	}

	return ""
}
