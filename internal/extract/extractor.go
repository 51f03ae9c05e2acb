// Package extract turns text-bearing document formats into plain UTF-8 text for chunking.
package extract

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/hyperjump/bunsho/internal/charset"
)

// textExtensions lists the formats treated as running text. Any other
// extension is handled as tabular data by the caller.
var textExtensions = map[string]struct{}{
	".txt":  {},
	".md":   {},
	".pdf":  {},
	".docx": {},
	".odt":  {},
	".rtf":  {},
}

// IsText reports whether files with extension ext (leading dot, any case) hold running text.
func IsText(ext string) bool {
	_, ok := textExtensions[strings.ToLower(ext)]
	return ok
}

// TextExtensions returns the supported text extensions, sorted.
func TextExtensions() []string {
	return slices.Sorted(maps.Keys(textExtensions))
}

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtractBytes extracts text from content based on the given extension
// (leading dot, e.g. ".pdf"). Plain text must be valid UTF-8; otherwise the
// error wraps models.ErrDecode.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch strings.ToLower(ext) {
	case ".txt", ".md":
		return charset.DecodeUTF8(content)
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".odt", ".rtf":
		return extractCatBytes(content, ext)
	default:
		return "", fmt.Errorf("unsupported text format %q", ext)
	}
}
