package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
)

// Segmenter splits text into ordered sentences.
type Segmenter interface {
	Segment(text string) []string
}

// Segmenter names accepted by NewSegmenter.
const (
	SegmenterPunkt       = "punkt"
	SegmenterPunctuation = "punctuation"
)

// NewSegmenter returns the segmenter registered under name.
func NewSegmenter(name string) (Segmenter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", SegmenterPunkt:
		return NewPunktSegmenter()
	case SegmenterPunctuation:
		return NewPunctuationSegmenter(), nil
	default:
		return nil, fmt.Errorf("unknown segmenter %q", name)
	}
}

// PunktSegmenter uses the English Punkt model, which knows common abbreviations
// and initials.
type PunktSegmenter struct {
	tokenizer *sentences.DefaultSentenceTokenizer
}

// NewPunktSegmenter loads the bundled English training data.
func NewPunktSegmenter() (*PunktSegmenter, error) {
	tok, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load punkt model: %w", err)
	}
	return &PunktSegmenter{tokenizer: tok}, nil
}

// Segment implements Segmenter.
func (p *PunktSegmenter) Segment(text string) []string {
	var out []string
	for _, s := range p.tokenizer.Tokenize(text) {
		out = append(out, s.Text)
	}
	return out
}

// PunctuationSegmenter ends a sentence at every run of '.', '!' or '?'.
// Text after the last terminator forms a final sentence.
type PunctuationSegmenter struct {
	splitter *regexp.Regexp
}

// NewPunctuationSegmenter creates a punctuation segmenter.
func NewPunctuationSegmenter() *PunctuationSegmenter {
	return &PunctuationSegmenter{splitter: regexp.MustCompile(`[^.!?]*[.!?]+`)}
}

// Segment implements Segmenter.
func (p *PunctuationSegmenter) Segment(text string) []string {
	var out []string
	end := 0
	for _, loc := range p.splitter.FindAllStringIndex(text, -1) {
		out = append(out, text[loc[0]:loc[1]])
		end = loc[1]
	}
	if rest := text[end:]; strings.TrimSpace(rest) != "" {
		out = append(out, rest)
	}
	return out
}
