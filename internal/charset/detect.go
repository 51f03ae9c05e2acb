// Package charset guesses the text encoding of byte samples and decodes data
// against a ranked list of candidate encodings.
package charset

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"go.uber.org/zap"
)

// Default is the label reported when detection is inconclusive.
const Default = "UTF-8"

// DefaultSampleBytes is how much of a file DetectFile reads.
const DefaultSampleBytes = 50000

// Result is a detection outcome.
type Result struct {
	Label      string
	Confidence int // 0-100
}

// Detector guesses encodings with a statistical detector, short-circuiting
// samples that are already valid UTF-8.
type Detector struct {
	text          *chardet.Detector
	sampleBytes   int
	minConfidence int
	logger        *zap.Logger
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithSampleBytes sets how many leading bytes DetectFile inspects.
func WithSampleBytes(n int) DetectorOption {
	return func(d *Detector) {
		if n > 0 {
			d.sampleBytes = n
		}
	}
}

// WithMinConfidence sets the confidence below which Default is reported.
func WithMinConfidence(c int) DetectorOption {
	return func(d *Detector) {
		if c >= 0 {
			d.minConfidence = c
		}
	}
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) DetectorOption {
	return func(d *Detector) { d.logger = l }
}

// NewDetector creates a detector.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{
		text:          chardet.NewTextDetector(),
		sampleBytes:   DefaultSampleBytes,
		minConfidence: 10,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect returns the best-guess encoding of sample. It never fails: an empty,
// ambiguous, or undetectable sample yields Default.
func (d *Detector) Detect(sample []byte) Result {
	if isUTF8Prefix(sample) {
		return Result{Label: Default, Confidence: 100}
	}
	best, err := d.text.DetectBest(sample)
	if err != nil || best == nil || best.Charset == "" {
		d.debug("charset detection inconclusive", zap.Error(err))
		return Result{Label: Default}
	}
	if best.Confidence < d.minConfidence {
		d.debug("charset confidence below threshold",
			zap.String("charset", best.Charset), zap.Int("confidence", best.Confidence))
		return Result{Label: Default, Confidence: best.Confidence}
	}
	return Result{Label: best.Charset, Confidence: best.Confidence}
}

// DetectFile reads up to the configured sample size from path and detects its encoding.
func (d *Detector) DetectFile(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, d.sampleBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return Result{}, fmt.Errorf("read %s: %w", path, err)
	}
	res := d.Detect(buf[:n])
	d.debug("charset detected", zap.String("path", path),
		zap.String("charset", res.Label), zap.Int("confidence", res.Confidence))
	return res, nil
}

func (d *Detector) debug(msg string, fields ...zap.Field) {
	if d.logger != nil {
		d.logger.Debug(msg, fields...)
	}
}

// isUTF8Prefix reports whether b is valid UTF-8, allowing a multi-byte rune
// cut off at the end of the sample.
func isUTF8Prefix(b []byte) bool {
	if utf8.Valid(b) {
		return true
	}
	// Back off at most utf8.UTFMax-1 bytes to drop a truncated trailing rune.
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		if utf8.RuneStart(b[len(b)-i]) {
			tail := b[len(b)-i:]
			if utf8.FullRune(tail) {
				return false
			}
			return utf8.Valid(b[:len(b)-i])
		}
	}
	return false
}
