// Package chunker splits text into size-bounded chunks along sentence boundaries.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/models"
)

// Chunker accumulates whole sentences into chunks.
type Chunker struct {
	segmenter Segmenter
	logger    *zap.Logger
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) ChunkerOption {
	return func(c *Chunker) { c.logger = l }
}

// NewChunker creates a chunker over the given segmenter.
func NewChunker(segmenter Segmenter, opts ...ChunkerOption) *Chunker {
	c := &Chunker{segmenter: segmenter}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chunk splits text into chunks. Sentences are appended to an accumulator, each
// followed by one space; once the accumulator is longer than chunkSize characters
// it is emitted trimmed. A sentence is never split, so a chunk exceeds chunkSize
// by at most one sentence. Leftover text forms the final chunk.
func (c *Chunker) Chunk(text string, chunkSize int) ([]string, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", models.ErrInvalidInput, chunkSize)
	}
	if strings.TrimSpace(text) == "" {
		return []string{}, nil
	}

	chunks := make([]string, 0)
	var acc strings.Builder
	accLen := 0
	for _, sentence := range c.segmenter.Segment(text) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		acc.WriteString(sentence)
		acc.WriteByte(' ')
		accLen += utf8.RuneCountInString(sentence) + 1
		if accLen > chunkSize {
			chunks = append(chunks, strings.TrimSpace(acc.String()))
			acc.Reset()
			accLen = 0
		}
	}
	if rest := strings.TrimSpace(acc.String()); rest != "" {
		chunks = append(chunks, rest)
	}

	if c.logger != nil {
		c.logger.Debug("text chunked",
			zap.Int("chars", utf8.RuneCountInString(text)),
			zap.Int("chunk_size", chunkSize),
			zap.Int("chunks", len(chunks)))
	}
	return chunks, nil
}
