// Package ingest stages uploads and writes them to the record store as text
// chunks or tabular rows.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/charset"
	"github.com/hyperjump/bunsho/internal/chunker"
	"github.com/hyperjump/bunsho/internal/config"
	"github.com/hyperjump/bunsho/internal/extract"
	"github.com/hyperjump/bunsho/internal/fileid"
	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/store"
	"github.com/hyperjump/bunsho/internal/tabular"
)

// FileKind decides how an upload is split into records.
type FileKind int

const (
	// Text files are decoded, chunked along sentences, one record per chunk.
	Text FileKind = iota
	// Tabular files are parsed as delimited rows, one record per row.
	Tabular
)

func (k FileKind) String() string {
	if k == Text {
		return "text"
	}
	return "tabular"
}

// KindOf resolves the kind of a file from its name. Besides .txt, the
// document formats .md, .pdf, .docx, .odt and .rtf are extracted to text and
// chunked; every other extension, including none, is parsed as tabular.
func KindOf(fileName string) FileKind {
	if extract.IsText(filepath.Ext(fileName)) {
		return Text
	}
	return Tabular
}

// Request describes one upload.
type Request struct {
	FileName   string
	Content    []byte
	ChunkSize  int // 0 selects the configured default
	DocName    string
	DocType    string
	Collection string
}

// Result summarizes a completed ingestion.
type Result struct {
	Kind       FileKind `json:"-"`
	KindName   string   `json:"kind"`
	Units      int      `json:"units"`
	StagedPath string   `json:"staged_path"`
	UploadID   string   `json:"upload_id"`
	Superseded int64    `json:"superseded,omitempty"`
	Encoding   string   `json:"encoding,omitempty"`
	Message    string   `json:"message"`
}

// Coordinator runs ingestion requests against one record store.
type Coordinator struct {
	store      store.RecordStore
	chunker    *chunker.Chunker
	mapper     *tabular.Mapper
	detector   *charset.Detector
	extractor  *extract.Extractor
	schema     *config.Schema
	cfg        config.IngestConfig
	autoSchema bool
	logger     *zap.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// WithSchema sets the schema used when a missing collection is created.
func WithSchema(s *config.Schema) CoordinatorOption {
	return func(c *Coordinator) { c.schema = s }
}

// WithAutoCreateSchema controls whether missing collections are created on first write.
func WithAutoCreateSchema(on bool) CoordinatorOption {
	return func(c *Coordinator) { c.autoSchema = on }
}

// NewCoordinator creates a coordinator. cfg should have defaults applied.
func NewCoordinator(
	st store.RecordStore,
	ch *chunker.Chunker,
	mapper *tabular.Mapper,
	detector *charset.Detector,
	extractor *extract.Extractor,
	cfg config.IngestConfig,
	opts ...CoordinatorOption,
) *Coordinator {
	c := &Coordinator{
		store:      st,
		chunker:    ch,
		mapper:     mapper,
		detector:   detector,
		extractor:  extractor,
		cfg:        cfg,
		autoSchema: true,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ingest validates the request, stages the raw bytes, and writes one record per
// chunk or row. When superseding is enabled, records left by an earlier run of
// the same upload are deleted first.
func (c *Coordinator) Ingest(ctx context.Context, req Request) (*Result, error) {
	if err := c.validate(&req); err != nil {
		return nil, err
	}

	staged, err := c.stage(req.FileName, req.Content)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Kind:       KindOf(req.FileName),
		StagedPath: staged,
		UploadID:   fileid.UploadID(req.DocName, req.Content),
	}
	res.KindName = res.Kind.String()

	// Text must decode before anything touches the store.
	var text string
	if res.Kind == Text {
		text, err = c.extractor.ExtractBytes(req.Content, filepath.Ext(req.FileName))
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", req.FileName, err)
		}
	}

	if err := c.ensureCollection(ctx, req.Collection); err != nil {
		return nil, err
	}
	if c.cfg.SupersedePartialOrDefault() {
		n, err := c.store.DeleteWhere(ctx, req.Collection, []models.Filter{
			models.Eq(models.PropDocName, req.DocName),
			models.Eq(models.PropUploadID, res.UploadID),
		})
		if err != nil {
			return nil, fmt.Errorf("supersede earlier run of %s: %w", req.DocName, err)
		}
		res.Superseded = n
	}

	switch res.Kind {
	case Text:
		res.Units, err = c.ingestText(ctx, req, res.UploadID, text)
		if err == nil {
			res.Message = fmt.Sprintf("File '%s' vectorized successfully in %d chunks", req.DocName, res.Units)
		}
	default:
		res.Units, res.Encoding, err = c.ingestTabular(ctx, req, res.UploadID, staged)
		if err == nil {
			res.Message = fmt.Sprintf("Tabular file '%s' imported successfully with %d rows", req.DocName, res.Units)
		}
	}
	if err != nil {
		return nil, err
	}

	c.logger.Info("document ingested",
		zap.String("doc_name", req.DocName),
		zap.String("collection", req.Collection),
		zap.String("kind", res.KindName),
		zap.Int("records", res.Units),
		zap.Int64("superseded", res.Superseded))
	return res, nil
}

func (c *Coordinator) validate(req *Request) error {
	req.FileName = filepath.Base(strings.TrimSpace(req.FileName))
	req.DocName = strings.TrimSpace(req.DocName)
	req.DocType = strings.TrimSpace(req.DocType)
	req.Collection = strings.TrimSpace(req.Collection)
	if req.FileName == "" || req.FileName == "." || req.FileName == string(filepath.Separator) {
		return fmt.Errorf("%w: file name is required", models.ErrInvalidInput)
	}
	if req.DocName == "" {
		return fmt.Errorf("%w: doc_name is required", models.ErrInvalidInput)
	}
	if req.Collection == "" {
		req.Collection = models.DefaultCollection
	}
	if !models.ValidFieldName(req.Collection) {
		return fmt.Errorf("%w: invalid collection name %q", models.ErrInvalidInput, req.Collection)
	}
	if req.ChunkSize == 0 {
		req.ChunkSize = c.cfg.DefaultChunkSize
	}
	if req.ChunkSize < c.cfg.MinChunkSize || req.ChunkSize > c.cfg.MaxChunkSize {
		return fmt.Errorf("%w: chunk_size %d outside [%d, %d]",
			models.ErrInvalidInput, req.ChunkSize, c.cfg.MinChunkSize, c.cfg.MaxChunkSize)
	}
	return nil
}

// stage writes content to the staging directory under its base name, replacing
// any earlier file of the same name.
func (c *Coordinator) stage(fileName string, content []byte) (string, error) {
	if err := os.MkdirAll(c.cfg.StagingDir, 0755); err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	path := filepath.Join(c.cfg.StagingDir, fileName)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("stage %s: %w", fileName, err)
	}
	c.logger.Debug("upload staged", zap.String("path", path), zap.Int("bytes", len(content)))
	return path, nil
}

func (c *Coordinator) ensureCollection(ctx context.Context, collection string) error {
	exists, err := c.store.SchemaExists(ctx, collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if !c.autoSchema {
		return fmt.Errorf("%w: collection %s", models.ErrSchemaNotFound, collection)
	}
	if err := c.store.CreateSchema(ctx, c.schema.ForCollection(collection)); err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}
	c.logger.Info("collection created on first write", zap.String("collection", collection))
	return nil
}

func (c *Coordinator) ingestText(ctx context.Context, req Request, uploadID, text string) (int, error) {
	chunks, err := c.chunker.Chunk(text, req.ChunkSize)
	if err != nil {
		return 0, err
	}
	batch := c.store.NewBatch(req.Collection)
	for _, chunk := range chunks {
		if _, err := batch.Add(ctx, record(chunk, req, uploadID)); err != nil {
			return batch.Written(), fmt.Errorf("write chunk of %s: %w", req.DocName, err)
		}
	}
	if err := batch.Flush(ctx); err != nil {
		return batch.Written(), fmt.Errorf("write chunks of %s: %w", req.DocName, err)
	}
	return len(chunks), nil
}

func (c *Coordinator) ingestTabular(ctx context.Context, req Request, uploadID, staged string) (int, string, error) {
	detected, err := c.detector.DetectFile(staged)
	if err != nil {
		return 0, "", err
	}
	batch := c.store.NewBatch(req.Collection)
	n, err := c.mapper.MapFile(staged, detected.Label, func(row models.Row) error {
		_, err := batch.Add(ctx, record(row, req, uploadID))
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrDecode) {
			return 0, detected.Label, err
		}
		return batch.Written(), detected.Label, fmt.Errorf("write rows of %s: %w", req.DocName, err)
	}
	if err := batch.Flush(ctx); err != nil {
		return batch.Written(), detected.Label, fmt.Errorf("write rows of %s: %w", req.DocName, err)
	}
	return n, detected.Label, nil
}

func record(content interface{}, req Request, uploadID string) map[string]interface{} {
	return map[string]interface{}{
		models.PropContent:  content,
		models.PropDocName:  req.DocName,
		models.PropDocType:  req.DocType,
		models.PropUploadID: uploadID,
	}
}
