// Package tabular maps delimited text files and spreadsheets to header-keyed rows.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/charset"
	"github.com/hyperjump/bunsho/internal/models"
)

// DefaultDelimiter separates cells in delimited files.
const DefaultDelimiter = ';'

// Mapper turns each data row of a file into a models.Row keyed by the header row.
type Mapper struct {
	delimiter rune
	fallbacks []string
	logger    *zap.Logger
}

// MapperOption configures a Mapper.
type MapperOption func(*Mapper)

// WithDelimiter sets the cell delimiter for delimited files.
func WithDelimiter(r rune) MapperOption {
	return func(m *Mapper) {
		if r != 0 {
			m.delimiter = r
		}
	}
}

// WithFallbackEncodings sets the encodings tried after the requested one.
func WithFallbackEncodings(labels []string) MapperOption {
	return func(m *Mapper) { m.fallbacks = labels }
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) MapperOption {
	return func(m *Mapper) { m.logger = l }
}

// NewMapper creates a row mapper.
func NewMapper(opts ...MapperOption) *Mapper {
	m := &Mapper{
		delimiter: DefaultDelimiter,
		fallbacks: charset.DefaultFallbacks,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MapFile reads the file at path and calls fn for every data row in file order.
// Delimited files are decoded starting with encoding and then the configured
// fallbacks; .xlsx workbooks map their first sheet and ignore encoding.
// It returns the number of rows passed to fn. An error from fn stops mapping
// and is returned as is.
func (m *Mapper) MapFile(path, encoding string, fn func(models.Row) error) (int, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return m.mapWorkbook(path, fn)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	text, used, err := charset.Decode(data, charset.Candidates(encoding, m.fallbacks)...)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if m.logger != nil && !strings.EqualFold(used, encoding) {
		m.logger.Debug("decoded with fallback encoding",
			zap.String("path", path), zap.String("detected", encoding), zap.String("used", used))
	}
	return m.MapReader(strings.NewReader(text), fn)
}

// MapReader parses already-decoded delimited text from r.
func (m *Mapper) MapReader(r io.Reader, fn func(models.Row) error) (int, error) {
	reader := csv.NewReader(r)
	reader.Comma = m.delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read header: %v", models.ErrDecode, err)
	}
	header = normalizeHeader(header)

	count := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("%w: row %d: %v", models.ErrDecode, count+2, err)
		}
		if err := fn(buildRow(header, record)); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (m *Mapper) mapWorkbook(path string, fn func(models.Row) error) (int, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: open workbook: %v", models.ErrDecode, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return 0, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return 0, fmt.Errorf("%w: rows for sheet %q: %v", models.ErrDecode, sheets[0], err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	header := normalizeHeader(rows[0])
	count := 0
	for _, record := range rows[1:] {
		if isBlank(record) {
			continue
		}
		if err := fn(buildRow(header, record)); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// buildRow pairs header names with cells. Missing cells become ""; cells past
// the header are dropped.
func buildRow(header, record []string) models.Row {
	row := make(models.Row, len(header))
	for i, name := range header {
		if i < len(record) {
			row[name] = record[i]
		} else {
			row[name] = ""
		}
	}
	return row
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	}
	return out
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
