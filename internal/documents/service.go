// Package documents lists, reads, and deletes stored documents. A document is
// the set of records sharing one doc_name within a collection.
package documents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/config"
	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/store"
)

// Service answers document queries against one record store.
type Service struct {
	store  store.RecordStore
	schema *config.Schema
	logger *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithSchema sets the template used by CreateSchema.
func WithSchema(schema *config.Schema) ServiceOption {
	return func(s *Service) { s.schema = schema }
}

// NewService creates a document service.
func NewService(st store.RecordStore, opts ...ServiceOption) *Service {
	s := &Service{store: st, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats summarizes a collection.
type Stats struct {
	Collection string `json:"collection"`
	Exists     bool   `json:"exists"`
	Documents  int    `json:"documents"`
	Records    int    `json:"records"`
}

// ListDocuments returns every record of collection with its properties.
func (s *Service) ListDocuments(ctx context.Context, collection string) ([]*models.StoredObject, error) {
	if err := checkName("collection", collection); err != nil {
		return nil, err
	}
	objs, err := s.store.ListAll(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("list documents in %s: %w", collection, err)
	}
	return objs, nil
}

// Summaries returns one entry per distinct doc_name, sorted by name.
func (s *Service) Summaries(ctx context.Context, collection string) ([]models.DocumentSummary, error) {
	objs, err := s.ListDocuments(ctx, collection)
	if err != nil {
		return nil, err
	}
	return models.Summarize(objs), nil
}

// GetChunks returns the content of every record whose doc_name equals docName.
// Order is whatever the store returns. Tabular rows are rendered as JSON.
func (s *Service) GetChunks(ctx context.Context, collection, docName string) ([]string, error) {
	if err := checkName("collection", collection); err != nil {
		return nil, err
	}
	if err := checkName("doc_name", docName); err != nil {
		return nil, err
	}
	rows, err := s.store.Query(ctx, collection, []string{models.PropContent},
		[]models.Filter{models.Eq(models.PropDocName, docName)})
	if err != nil {
		return nil, fmt.Errorf("get chunks of %s: %w", docName, err)
	}
	chunks := make([]string, 0, len(rows))
	for _, r := range rows {
		chunks = append(chunks, models.ContentString(r[models.PropContent]))
	}
	s.logger.Debug("chunks fetched", zap.String("doc_name", docName), zap.Int("chunks", len(chunks)))
	return chunks, nil
}

// DeleteDocument removes every record whose doc_name equals docName and returns
// a confirmation message.
func (s *Service) DeleteDocument(ctx context.Context, collection, docName string) (string, error) {
	if err := checkName("collection", collection); err != nil {
		return "", err
	}
	if err := checkName("doc_name", docName); err != nil {
		return "", err
	}
	n, err := s.store.DeleteWhere(ctx, collection, []models.Filter{models.Eq(models.PropDocName, docName)})
	if err != nil {
		return "", fmt.Errorf("delete %s: %w", docName, err)
	}
	s.logger.Info("document deleted",
		zap.String("collection", collection), zap.String("doc_name", docName), zap.Int64("records", n))
	return fmt.Sprintf("Document '%s' removed successfully from collection '%s' (%d records)", docName, collection, n), nil
}

// SchemaExists reports whether collection exists. Only a definite absence is
// false; store failures are returned as errors.
func (s *Service) SchemaExists(ctx context.Context, collection string) (bool, error) {
	if err := checkName("collection", collection); err != nil {
		return false, err
	}
	return s.store.SchemaExists(ctx, collection)
}

// CreateSchema creates collection from the configured schema template.
func (s *Service) CreateSchema(ctx context.Context, collection string) error {
	if err := checkName("collection", collection); err != nil {
		return err
	}
	if err := s.store.CreateSchema(ctx, s.schema.ForCollection(collection)); err != nil {
		return fmt.Errorf("create schema %s: %w", collection, err)
	}
	return nil
}

// GetObject returns a single record by id.
func (s *Service) GetObject(ctx context.Context, collection, id string) (*models.StoredObject, error) {
	if err := checkName("collection", collection); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: id is required", models.ErrInvalidInput)
	}
	return s.store.GetByID(ctx, collection, id)
}

// Stats counts documents and records in collection. A missing collection
// reports Exists false and zero counts.
func (s *Service) Stats(ctx context.Context, collection string) (*Stats, error) {
	st := &Stats{Collection: collection}
	exists, err := s.SchemaExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return st, nil
	}
	st.Exists = true
	objs, err := s.ListDocuments(ctx, collection)
	if err != nil {
		return nil, err
	}
	st.Records = len(objs)
	st.Documents = len(models.Summarize(objs))
	return st, nil
}

func checkName(what, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s is required", models.ErrInvalidInput, what)
	}
	return nil
}
