// Package content acquires and stores article artifacts for resolved
// references: PMC full text, PDFs, and cited-reference lists.
package content

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Artifact kinds, used both as corpus subdirectory names and as the
// kind segment of content URLs.
const (
	KindTxt = "txt"
	KindPDF = "pdf"
	KindRef = "references"
)

// unsafeRunes matches filename characters outside [A-Za-z0-9_-].
var unsafeRunes = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// whitespaceRun matches consecutive whitespace.
var whitespaceRun = regexp.MustCompile(`\s+`)

// Storage writes artifacts under a corpus directory, one subdirectory
// per artifact kind. Writes go through a temp file and rename so a
// crashed write never leaves a partial artifact behind.
type Storage struct {
	root string
}

// NewStorage creates the corpus directory layout under root.
func NewStorage(root string) (*Storage, error) {
	for _, kind := range []string{KindTxt, KindPDF, KindRef} {
		if err := os.MkdirAll(filepath.Join(root, kind), 0o755); err != nil {
			return nil, fmt.Errorf("create corpus dir %s: %w", kind, err)
		}
	}
	return &Storage{root: root}, nil
}

// WriteTxt stores the flattened full text as txt/{filename}.txt.
func (s *Storage) WriteTxt(filename, text string) error {
	return s.writeAtomic(filepath.Join(s.root, KindTxt, filename+".txt"), []byte(text))
}

// WritePDF stores the PDF bytes as pdf/{filename}.pdf.
func (s *Storage) WritePDF(filename string, data []byte) error {
	return s.writeAtomic(filepath.Join(s.root, KindPDF, filename+".pdf"), data)
}

// WriteRefs stores the cited references, one citation per line, as
// references/{filename}_ref.txt.
func (s *Storage) WriteRefs(filename string, citations []string) error {
	content := strings.Join(citations, "\n") + "\n"
	return s.writeAtomic(filepath.Join(s.root, KindRef, filename+"_ref.txt"), []byte(content))
}

// ArtifactPath returns the path of a stored artifact, or an error if
// the kind is unknown or the artifact does not exist.
func (s *Storage) ArtifactPath(kind, filename string) (string, error) {
	var path string
	switch kind {
	case KindTxt:
		path = filepath.Join(s.root, KindTxt, filename+".txt")
	case KindPDF:
		path = filepath.Join(s.root, KindPDF, filename+".pdf")
	case KindRef:
		path = filepath.Join(s.root, KindRef, filename+"_ref.txt")
	default:
		return "", fmt.Errorf("unknown artifact kind %q", kind)
	}

	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

// RemoveArtifacts deletes all stored artifacts for the given base
// filename. Missing files are not an error, so deleting an entry whose
// downloads never completed still succeeds.
func (s *Storage) RemoveArtifacts(filename string) error {
	if filename == "" {
		return nil
	}
	paths := []string{
		filepath.Join(s.root, KindTxt, filename+".txt"),
		filepath.Join(s.root, KindPDF, filename+".pdf"),
		filepath.Join(s.root, KindRef, filename+"_ref.txt"),
	}
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove artifact %s: %w", path, err)
		}
	}
	return nil
}

// writeAtomic writes data to a temp file in the target directory and
// renames it into place.
func (s *Storage) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// BuildFilename derives the artifact base name for a resolved
// reference: {firstAuthorOrFallback}_{pmid}. When no author is known
// the first token of the original reference is used, then "unknown".
// Spaces become dashes and filesystem-unsafe runes are stripped.
func BuildFilename(firstAuthor, pmid, originalRef string) string {
	base := sanitizeToken(firstAuthor)
	if base == "" {
		fields := strings.Fields(originalRef)
		if len(fields) > 0 {
			base = sanitizeToken(fields[0])
		}
	}
	if base == "" {
		base = "unknown"
	}
	return base + "_" + pmid
}

// sanitizeToken converts whitespace to dashes and strips characters
// that are unsafe in filenames.
func sanitizeToken(s string) string {
	s = whitespaceRun.ReplaceAllString(strings.TrimSpace(s), "-")
	return unsafeRunes.ReplaceAllString(s, "")
}
