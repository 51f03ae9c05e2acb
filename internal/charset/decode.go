package charset

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/hyperjump/bunsho/internal/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DefaultFallbacks are tried after the detected encoding.
var DefaultFallbacks = []string{"UTF-8", "windows-1252"}

// Candidates returns detected followed by fallbacks, without duplicates or blanks.
// Labels are compared case-insensitively.
func Candidates(detected string, fallbacks []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, label := range append([]string{detected}, fallbacks...) {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		key := strings.ToLower(label)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, label)
	}
	return out
}

// Decode converts data to a UTF-8 string using the first candidate that decodes
// it cleanly and returns the label used. UTF-8 is accepted only when the data is
// valid; other encodings are rejected when they produce replacement characters.
// A leading UTF-8 byte order mark is stripped. When no candidate succeeds the
// error wraps models.ErrDecode.
func Decode(data []byte, candidates ...string) (string, string, error) {
	if len(candidates) == 0 {
		candidates = []string{Default}
	}
	var tried []string
	for _, label := range candidates {
		text, ok := decodeAs(data, label)
		if ok {
			return text, label, nil
		}
		tried = append(tried, label)
	}
	return "", "", fmt.Errorf("%w: no candidate encoding fits (tried %s)", models.ErrDecode, strings.Join(tried, ", "))
}

// DecodeUTF8 decodes data as strict UTF-8.
func DecodeUTF8(data []byte) (string, error) {
	text, _, err := Decode(data, Default)
	return text, err
}

func decodeAs(data []byte, label string) (string, bool) {
	if isUTF8Label(label) {
		data = bytes.TrimPrefix(data, utf8BOM)
		if !utf8.Valid(data) {
			return "", false
		}
		return string(data), true
	}
	enc, err := lookup(label)
	if err != nil {
		return "", false
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil || bytes.ContainsRune(out, utf8.RuneError) {
		return "", false
	}
	return string(bytes.TrimPrefix(out, utf8BOM)), true
}

func isUTF8Label(label string) bool {
	switch strings.ToLower(label) {
	case "utf-8", "utf8", "ascii", "us-ascii":
		return true
	}
	return false
}

// lookup resolves a label through the WHATWG index, retrying with hyphens removed
// so detector names like "GB-18030" resolve.
func lookup(label string) (encoding.Encoding, error) {
	if enc, err := htmlindex.Get(label); err == nil {
		return enc, nil
	}
	return htmlindex.Get(strings.ReplaceAll(label, "-", ""))
}
