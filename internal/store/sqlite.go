package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/config"
	"github.com/hyperjump/bunsho/internal/models"
)

// SQLiteStore implements RecordStore on a local SQLite database. Record
// properties are kept as JSON and filtered with json_extract.
type SQLiteStore struct {
	db        *sql.DB
	batchSize int
	logger    *zap.Logger
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, batchSize: o.batchSize, logger: o.logger}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		definition TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		doc_name TEXT NOT NULL DEFAULT '',
		properties TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (collection) REFERENCES collections(name) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_records_collection_doc ON records(collection, doc_name);
	`
	_, err := db.Exec(schema)
	return err
}

// SchemaExists implements RecordStore.
func (s *SQLiteStore) SchemaExists(ctx context.Context, collection string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collections WHERE name = ?`, collection).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%w: check collection %s: %w", models.ErrStoreQuery, collection, err)
	}
	return n > 0, nil
}

// CreateSchema implements RecordStore. Creating an existing collection replaces its definition.
func (s *SQLiteStore) CreateSchema(ctx context.Context, schema *config.Schema) error {
	if schema == nil {
		return fmt.Errorf("%w: schema is required", models.ErrInvalidInput)
	}
	if err := validateCollection(schema.Class); err != nil {
		return err
	}
	def, err := json.Marshal(schema.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collections (name, definition) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET definition = excluded.definition`,
		schema.Class, string(def),
	)
	if err != nil {
		return fmt.Errorf("%w: create collection %s: %w", models.ErrStoreWrite, schema.Class, err)
	}
	s.logger.Debug("collection created", zap.String("collection", schema.Class))
	return nil
}

// NewBatch implements RecordStore.
func (s *SQLiteStore) NewBatch(collection string) Batch {
	return newBufferedBatch(collection, s.batchSize, s.insert)
}

// insert writes records in one transaction.
func (s *SQLiteStore) insert(ctx context.Context, collection string, records []pendingRecord) error {
	if err := s.requireCollection(ctx, collection); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrStoreWrite, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (id, collection, doc_name, properties, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrStoreWrite, err)
	}
	defer stmt.Close()

	for _, r := range records {
		props, err := json.Marshal(r.Properties)
		if err != nil {
			return fmt.Errorf("%w: marshal record: %w", models.ErrStoreWrite, err)
		}
		docName, _ := r.Properties[models.PropDocName].(string)
		if _, err := stmt.ExecContext(ctx, r.ID, collection, docName, string(props), r.CreatedAt); err != nil {
			return fmt.Errorf("%w: insert record: %w", models.ErrStoreWrite, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", models.ErrStoreWrite, err)
	}
	s.logger.Debug("batch flushed", zap.String("collection", collection), zap.Int("records", len(records)))
	return nil
}

// GetByID implements RecordStore.
func (s *SQLiteStore) GetByID(ctx context.Context, collection, id string) (*models.StoredObject, error) {
	if err := s.requireCollection(ctx, collection); err != nil {
		return nil, err
	}
	var props string
	obj := &models.StoredObject{Collection: collection}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, properties, created_at FROM records WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&obj.ID, &props, &obj.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: record %s in %s", models.ErrNotFound, id, collection)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get record %s: %w", models.ErrStoreQuery, id, err)
	}
	if err := json.Unmarshal([]byte(props), &obj.Properties); err != nil {
		return nil, fmt.Errorf("%w: decode record %s: %w", models.ErrStoreQuery, id, err)
	}
	return obj, nil
}

// ListAll implements RecordStore. Records are returned in insertion order.
func (s *SQLiteStore) ListAll(ctx context.Context, collection string) ([]*models.StoredObject, error) {
	if err := s.requireCollection(ctx, collection); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, properties, created_at FROM records WHERE collection = ? ORDER BY rowid`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", models.ErrStoreQuery, collection, err)
	}
	defer rows.Close()

	objects := make([]*models.StoredObject, 0)
	for rows.Next() {
		var props string
		var createdAt time.Time
		obj := &models.StoredObject{Collection: collection}
		if err := rows.Scan(&obj.ID, &props, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrStoreQuery, err)
		}
		obj.CreatedAt = createdAt
		if err := json.Unmarshal([]byte(props), &obj.Properties); err != nil {
			return nil, fmt.Errorf("%w: decode record %s: %w", models.ErrStoreQuery, obj.ID, err)
		}
		objects = append(objects, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStoreQuery, err)
	}
	return objects, nil
}

// Query implements RecordStore. Fields absent from a record are omitted from its result map.
func (s *SQLiteStore) Query(ctx context.Context, collection string, fields []string, filters []models.Filter) ([]map[string]interface{}, error) {
	for _, f := range fields {
		if !models.ValidFieldName(f) {
			return nil, fmt.Errorf("%w: invalid field %q", models.ErrInvalidInput, f)
		}
	}
	if err := s.requireCollection(ctx, collection); err != nil {
		return nil, err
	}
	where, args, err := whereClause(collection, filters)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT properties FROM records WHERE `+where+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %w", models.ErrStoreQuery, collection, err)
	}
	defer rows.Close()

	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrStoreQuery, err)
		}
		var props map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &props); err != nil {
			return nil, fmt.Errorf("%w: decode record: %w", models.ErrStoreQuery, err)
		}
		projected := make(map[string]interface{}, len(fields))
		for _, f := range fields {
			if v, ok := props[f]; ok {
				projected[f] = v
			}
		}
		results = append(results, projected)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStoreQuery, err)
	}
	return results, nil
}

// DeleteWhere implements RecordStore.
func (s *SQLiteStore) DeleteWhere(ctx context.Context, collection string, filters []models.Filter) (int64, error) {
	if err := s.requireCollection(ctx, collection); err != nil {
		return 0, err
	}
	where, args, err := whereClause(collection, filters)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: delete from %s: %w", models.ErrStoreDelete, collection, err)
	}
	n, _ := res.RowsAffected()
	s.logger.Debug("records deleted", zap.String("collection", collection), zap.Int64("records", n))
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) requireCollection(ctx context.Context, collection string) error {
	ok, err := s.SchemaExists(ctx, collection)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: collection %s", models.ErrSchemaNotFound, collection)
	}
	return nil
}

// whereClause builds the conjunction of filters. doc_name uses its indexed column.
func whereClause(collection string, filters []models.Filter) (string, []interface{}, error) {
	if err := models.ValidateFilters(filters); err != nil {
		return "", nil, err
	}
	clauses := []string{"collection = ?"}
	args := []interface{}{collection}
	for _, f := range filters {
		if f.Field == models.PropDocName {
			clauses = append(clauses, "doc_name = ?")
		} else {
			clauses = append(clauses, "json_extract(properties, '$."+f.Field+"') = ?")
		}
		args = append(args, f.Value)
	}
	return strings.Join(clauses, " AND "), args, nil
}
