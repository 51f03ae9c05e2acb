package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hyperjump/bunsho/internal/config"
	"github.com/hyperjump/bunsho/internal/models"
)

func newTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "records.db"), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createCollection(t *testing.T, s RecordStore, name string) {
	t.Helper()
	var schema *config.Schema
	if err := s.CreateSchema(context.Background(), schema.ForCollection(name)); err != nil {
		t.Fatal(err)
	}
}

func TestSQLiteStore_schemaExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.SchemaExists(ctx, "Docs")
	if err != nil || ok {
		t.Fatalf("before create: ok=%v err=%v", ok, err)
	}
	createCollection(t, s, "Docs")
	ok, err = s.SchemaExists(ctx, "Docs")
	if err != nil || !ok {
		t.Fatalf("after create: ok=%v err=%v", ok, err)
	}
	// Creating again replaces the definition.
	createCollection(t, s, "Docs")
}

func TestSQLiteStore_createSchemaInvalid(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSchema(context.Background(), nil); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("nil schema: got %v", err)
	}
	bad := &config.Schema{Class: "bad name", Definition: map[string]interface{}{}}
	if err := s.CreateSchema(context.Background(), bad); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("bad name: got %v", err)
	}
}

func TestSQLiteStore_batchWriteAndRead(t *testing.T) {
	s := newTestStore(t, WithBatchSize(2))
	ctx := context.Background()
	createCollection(t, s, "Docs")

	b := s.NewBatch("Docs")
	var ids []string
	for _, content := range []string{"one", "two", "three"} {
		id, err := b.Add(ctx, map[string]interface{}{
			models.PropContent: content,
			models.PropDocName: "report",
			models.PropDocType: "memo",
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	if b.Written() != 2 {
		t.Errorf("after three adds with batch size 2: written = %d, want 2", b.Written())
	}
	if err := b.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if b.Written() != 3 {
		t.Errorf("after flush: written = %d, want 3", b.Written())
	}

	all, err := s.ListAll(ctx, "Docs")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("ListAll = %d records, want 3", len(all))
	}
	for i, o := range all {
		if o.ID != ids[i] {
			t.Errorf("record %d id = %s, want %s", i, o.ID, ids[i])
		}
		if o.DocName() != "report" || o.DocType() != "memo" {
			t.Errorf("record %d props = %v", i, o.Properties)
		}
	}

	got, err := s.GetByID(ctx, "Docs", ids[1])
	if err != nil {
		t.Fatal(err)
	}
	if got.Properties[models.PropContent] != "two" {
		t.Errorf("GetByID content = %v", got.Properties[models.PropContent])
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	if _, err := s.GetByID(ctx, "Docs", "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("missing id: got %v", err)
	}
}

func TestSQLiteStore_flushToMissingCollection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := s.NewBatch("Nope")
	if _, err := b.Add(ctx, map[string]interface{}{models.PropContent: "x", models.PropDocName: "d"}); err != nil {
		t.Fatal(err)
	}
	if err := b.Flush(ctx); !errors.Is(err, models.ErrSchemaNotFound) {
		t.Fatalf("expected ErrSchemaNotFound, got %v", err)
	}
	if _, err := s.ListAll(ctx, "Nope"); !errors.Is(err, models.ErrSchemaNotFound) {
		t.Errorf("ListAll missing collection: got %v", err)
	}
}

func TestSQLiteStore_queryAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createCollection(t, s, "Docs")

	b := s.NewBatch("Docs")
	add := func(props map[string]interface{}) {
		t.Helper()
		if _, err := b.Add(ctx, props); err != nil {
			t.Fatal(err)
		}
	}
	add(map[string]interface{}{models.PropContent: "a1", models.PropDocName: "a", models.PropUploadID: "u1"})
	add(map[string]interface{}{models.PropContent: "a2", models.PropDocName: "a", models.PropUploadID: "u2"})
	add(map[string]interface{}{models.PropContent: map[string]interface{}{"k": "v"}, models.PropDocName: "b", models.PropUploadID: "u3"})
	if err := b.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	rows, err := s.Query(ctx, "Docs", []string{models.PropContent}, []models.Filter{models.Eq(models.PropDocName, "a")})
	if err != nil {
		t.Fatal(err)
	}
	want := []map[string]interface{}{{models.PropContent: "a1"}, {models.PropContent: "a2"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("Query = %v, want %v", rows, want)
	}

	rows, err = s.Query(ctx, "Docs", []string{models.PropContent, "missing_field"}, []models.Filter{
		models.Eq(models.PropDocName, "a"),
		models.Eq(models.PropUploadID, "u2"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0][models.PropContent] != "a2" {
		t.Errorf("conjunction query = %v", rows)
	}
	if _, ok := rows[0]["missing_field"]; ok {
		t.Error("absent fields should be omitted")
	}

	rows, err = s.Query(ctx, "Docs", []string{models.PropContent}, []models.Filter{models.Eq(models.PropDocName, "b")})
	if err != nil {
		t.Fatal(err)
	}
	if got := models.ContentString(rows[0][models.PropContent]); got != `{"k":"v"}` {
		t.Errorf("structured content = %s", got)
	}

	if _, err := s.Query(ctx, "Docs", []string{"content; DROP"}, []models.Filter{models.Eq(models.PropDocName, "a")}); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("invalid field: got %v", err)
	}
	if _, err := s.Query(ctx, "Docs", []string{models.PropContent}, nil); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("no filters: got %v", err)
	}

	n, err := s.DeleteWhere(ctx, "Docs", []models.Filter{models.Eq(models.PropDocName, "a")})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	rows, err = s.Query(ctx, "Docs", []string{models.PropContent}, []models.Filter{models.Eq(models.PropDocName, "a")})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("after delete: %v", rows)
	}
	all, _ := s.ListAll(ctx, "Docs")
	if len(all) != 1 || all[0].DocName() != "b" {
		t.Errorf("remaining records = %v", all)
	}
}

func TestSQLiteStore_collectionsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createCollection(t, s, "A")
	createCollection(t, s, "B")
	for _, c := range []string{"A", "B"} {
		b := s.NewBatch(c)
		if _, err := b.Add(ctx, map[string]interface{}{models.PropContent: c, models.PropDocName: "same"}); err != nil {
			t.Fatal(err)
		}
		if err := b.Flush(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.DeleteWhere(ctx, "A", []models.Filter{models.Eq(models.PropDocName, "same")}); err != nil {
		t.Fatal(err)
	}
	rows, err := s.Query(ctx, "B", []string{models.PropContent}, []models.Filter{models.Eq(models.PropDocName, "same")})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Errorf("collection B lost records: %v", rows)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.StoreConfig{Type: config.StoreSQLite, DatabasePath: filepath.Join(t.TempDir(), "r.db")}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	if _, err := Open(ctx, config.StoreConfig{Type: config.StoreWeaviate}, nil, nil); !errors.Is(err, models.ErrConfig) {
		t.Errorf("weaviate without secrets: got %v", err)
	}
	if _, err := Open(ctx, config.StoreConfig{Type: "mongo"}, nil, nil); !errors.Is(err, models.ErrConfig) {
		t.Errorf("unknown type: got %v", err)
	}
}
