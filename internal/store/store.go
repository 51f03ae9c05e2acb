// Package store defines the record store port and its SQLite and Weaviate adapters.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/config"
	"github.com/hyperjump/bunsho/internal/models"
)

// RecordStore persists records in named collections.
type RecordStore interface {
	// SchemaExists reports whether collection exists. A missing collection is
	// (false, nil); transport failures wrap models.ErrStoreQuery.
	SchemaExists(ctx context.Context, collection string) (bool, error)
	// CreateSchema creates a collection from a schema definition.
	CreateSchema(ctx context.Context, schema *config.Schema) error
	// NewBatch starts a write batch for collection. Callers must Flush it.
	NewBatch(collection string) Batch
	GetByID(ctx context.Context, collection, id string) (*models.StoredObject, error)
	ListAll(ctx context.Context, collection string) ([]*models.StoredObject, error)
	// Query returns the requested fields of every record matching all filters.
	Query(ctx context.Context, collection string, fields []string, filters []models.Filter) ([]map[string]interface{}, error)
	// DeleteWhere removes every record matching all filters and returns how many were removed.
	DeleteWhere(ctx context.Context, collection string, filters []models.Filter) (int64, error)
	Close() error
}

// Batch buffers record writes. Add flushes automatically once the batch is full.
type Batch interface {
	Add(ctx context.Context, props map[string]interface{}) (string, error)
	Flush(ctx context.Context) error
	// Written returns how many records have been flushed so far.
	Written() int
}

// DefaultBatchSize is used when a store is created without a batch size.
const DefaultBatchSize = 100

type pendingRecord struct {
	ID         string
	Properties map[string]interface{}
	CreatedAt  time.Time
}

type flushFunc func(ctx context.Context, collection string, records []pendingRecord) error

// bufferedBatch assigns ids and hands full buffers to the adapter's flush function.
type bufferedBatch struct {
	collection string
	size       int
	flush      flushFunc
	pending    []pendingRecord
	written    int
}

func newBufferedBatch(collection string, size int, flush flushFunc) *bufferedBatch {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &bufferedBatch{collection: collection, size: size, flush: flush}
}

func (b *bufferedBatch) Add(ctx context.Context, props map[string]interface{}) (string, error) {
	id := uuid.New().String()
	b.pending = append(b.pending, pendingRecord{ID: id, Properties: props, CreatedAt: time.Now().UTC()})
	if len(b.pending) >= b.size {
		if err := b.Flush(ctx); err != nil {
			return id, err
		}
	}
	return id, nil
}

func (b *bufferedBatch) Flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	records := b.pending
	b.pending = nil
	if err := b.flush(ctx, b.collection, records); err != nil {
		return err
	}
	b.written += len(records)
	return nil
}

func (b *bufferedBatch) Written() int {
	return b.written
}

// Open creates the store selected by cfg.Type.
func Open(ctx context.Context, cfg config.StoreConfig, secrets *config.Secrets, logger *zap.Logger) (RecordStore, error) {
	switch cfg.Type {
	case config.StoreSQLite:
		return NewSQLiteStore(cfg.DatabasePath, WithBatchSize(cfg.BatchSize), WithLogger(logger))
	case config.StoreWeaviate, "":
		if secrets == nil {
			return nil, fmt.Errorf("%w: weaviate store requires credentials", models.ErrConfig)
		}
		return NewWeaviateStore(ctx, WeaviateOptions{
			Host:         secrets.WeaviateHost,
			APIKey:       secrets.WeaviateAPIKey,
			OpenAIAPIKey: secrets.OpenAIAPIKey,
			QueryLimit:   cfg.QueryLimit,
		}, WithBatchSize(cfg.BatchSize), WithLogger(logger))
	default:
		return nil, fmt.Errorf("%w: unknown store type %q", models.ErrConfig, cfg.Type)
	}
}

// Option configures a store adapter.
type Option func(*options)

type options struct {
	batchSize int
	logger    *zap.Logger
}

// WithBatchSize sets how many records a batch buffers before flushing.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{batchSize: DefaultBatchSize, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

func validateCollection(collection string) error {
	if !models.ValidFieldName(collection) {
		return fmt.Errorf("%w: invalid collection name %q", models.ErrInvalidInput, collection)
	}
	return nil
}
