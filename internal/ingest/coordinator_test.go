package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/bunsho/internal/charset"
	"github.com/hyperjump/bunsho/internal/chunker"
	"github.com/hyperjump/bunsho/internal/config"
	"github.com/hyperjump/bunsho/internal/extract"
	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/store"
	"github.com/hyperjump/bunsho/internal/tabular"
)

type fixture struct {
	coord   *Coordinator
	store   *store.SQLiteStore
	staging string
}

func newFixture(t *testing.T, opts ...CoordinatorOption) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewSQLiteStore(filepath.Join(dir, "records.db"), store.WithBatchSize(2))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Ingest.StagingDir = filepath.Join(dir, "upload")
	cfg.Ingest.MinChunkSize = 1

	coord := NewCoordinator(
		st,
		chunker.NewChunker(chunker.NewPunctuationSegmenter()),
		tabular.NewMapper(),
		charset.NewDetector(),
		extract.NewExtractor(),
		cfg.Ingest,
		opts...,
	)
	return &fixture{coord: coord, store: st, staging: cfg.Ingest.StagingDir}
}

func (f *fixture) contents(t *testing.T, collection, docName string) []interface{} {
	t.Helper()
	rows, err := f.store.Query(context.Background(), collection, []string{models.PropContent},
		[]models.Filter{models.Eq(models.PropDocName, docName)})
	if err != nil {
		t.Fatal(err)
	}
	out := make([]interface{}, 0, len(rows))
	for _, r := range rows {
		out = append(out, r[models.PropContent])
	}
	return out
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		want FileKind
	}{
		{"notes.txt", Text},
		{"NOTES.TXT", Text},
		{"readme.md", Text},
		{"paper.pdf", Text},
		{"letter.docx", Text},
		{"data.csv", Tabular},
		{"sheet.xlsx", Tabular},
		{"noext", Tabular},
	}
	for _, tt := range tests {
		if got := KindOf(tt.name); got != tt.want {
			t.Errorf("KindOf(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIngest_textRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.coord.Ingest(ctx, Request{
		FileName:   "abc.txt",
		Content:    []byte("A. B. C."),
		ChunkSize:  1,
		DocName:    "abc",
		DocType:    "note",
		Collection: "Docs",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != Text || res.Units != 3 {
		t.Errorf("result = %+v, want 3 text units", res)
	}
	if res.Message != "File 'abc' vectorized successfully in 3 chunks" {
		t.Errorf("message = %q", res.Message)
	}
	if res.StagedPath != filepath.Join(f.staging, "abc.txt") {
		t.Errorf("staged path = %q", res.StagedPath)
	}
	if data, err := os.ReadFile(res.StagedPath); err != nil || string(data) != "A. B. C." {
		t.Errorf("staged content = %q, err = %v", data, err)
	}

	got := f.contents(t, "Docs", "abc")
	var chunks []string
	for _, c := range got {
		chunks = append(chunks, c.(string))
	}
	sort.Strings(chunks)
	if want := []string{"A.", "B.", "C."}; !reflect.DeepEqual(chunks, want) {
		t.Errorf("stored chunks = %v, want %v", chunks, want)
	}

	all, err := f.store.ListAll(ctx, "Docs")
	if err != nil {
		t.Fatal(err)
	}
	for _, o := range all {
		if o.DocType() != "note" || o.Properties[models.PropUploadID] != res.UploadID {
			t.Errorf("record properties = %v", o.Properties)
		}
	}
}

func TestIngest_tabularRow(t *testing.T) {
	f := newFixture(t)
	res, err := f.coord.Ingest(context.Background(), Request{
		FileName:   "pairs.csv",
		Content:    []byte("a;b\n1;2\n"),
		DocName:    "pairs",
		DocType:    "table",
		Collection: "Docs",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != Tabular || res.Units != 1 || res.Encoding != "UTF-8" {
		t.Errorf("result = %+v", res)
	}
	got := f.contents(t, "Docs", "pairs")
	want := []interface{}{map[string]interface{}{"a": "1", "b": "2"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("stored = %v, want %v", got, want)
	}
}

func TestIngest_tabularLegacyEncoding(t *testing.T) {
	f := newFixture(t)
	res, err := f.coord.Ingest(context.Background(), Request{
		FileName:   "latin.csv",
		Content:    []byte("nome;bebida\nJos\xe9;caf\xe9\nAndr\xe9;ch\xe1 gelado\n"),
		DocName:    "latin",
		Collection: "Docs",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Encoding == "" {
		t.Error("detected encoding should be reported")
	}
	got := f.contents(t, "Docs", "latin")
	if len(got) != 2 {
		t.Fatalf("stored = %v", got)
	}
	for _, c := range got {
		row := c.(map[string]interface{})
		if _, ok := row["nome"]; !ok || len(row) != 2 {
			t.Errorf("row = %v", row)
		}
	}
}

func TestIngest_workbook(t *testing.T) {
	wb := excelize.NewFile()
	defer wb.Close()
	wb.SetCellValue("Sheet1", "A1", "sku")
	wb.SetCellValue("Sheet1", "A2", "X-1")
	wb.SetCellValue("Sheet1", "A3", "X-2")
	var buf bytes.Buffer
	if _, err := wb.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}

	f := newFixture(t)
	res, err := f.coord.Ingest(context.Background(), Request{
		FileName:   "stock.xlsx",
		Content:    buf.Bytes(),
		DocName:    "stock",
		Collection: "Docs",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Units != 2 {
		t.Errorf("units = %d, want 2", res.Units)
	}
}

func TestIngest_invalidUTF8TextWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.coord.Ingest(ctx, Request{
		FileName:   "bad.txt",
		Content:    []byte("caf\xe9. ok."),
		DocName:    "bad",
		Collection: "Docs",
	})
	if !errors.Is(err, models.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	ok, err := f.store.SchemaExists(ctx, "Docs")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		if got := f.contents(t, "Docs", "bad"); len(got) != 0 {
			t.Errorf("records written after decode failure: %v", got)
		}
	}
}

func TestIngest_validation(t *testing.T) {
	f := newFixture(t)
	base := Request{FileName: "a.txt", Content: []byte("A."), DocName: "a", Collection: "Docs", ChunkSize: 10}
	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"no file name", func(r *Request) { r.FileName = "" }},
		{"no doc name", func(r *Request) { r.DocName = "  " }},
		{"chunk size too large", func(r *Request) { r.ChunkSize = 50001 }},
		{"negative chunk size", func(r *Request) { r.ChunkSize = -5 }},
		{"bad collection", func(r *Request) { r.Collection = "has space" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			if _, err := f.coord.Ingest(context.Background(), req); !errors.Is(err, models.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestIngest_defaultsCollectionAndChunkSize(t *testing.T) {
	f := newFixture(t)
	res, err := f.coord.Ingest(context.Background(), Request{
		FileName: "short.txt",
		Content:  []byte("One. Two. Three."),
		DocName:  "short",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Units != 1 {
		t.Errorf("default chunk size should keep short text in one chunk, got %d", res.Units)
	}
	if got := f.contents(t, models.DefaultCollection, "short"); len(got) != 1 {
		t.Errorf("default collection records = %v", got)
	}
}

func TestIngest_stagesBaseNameOnly(t *testing.T) {
	f := newFixture(t)
	res, err := f.coord.Ingest(context.Background(), Request{
		FileName:   "../../escape.txt",
		Content:    []byte("Safe."),
		DocName:    "escape",
		Collection: "Docs",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.StagedPath != filepath.Join(f.staging, "escape.txt") {
		t.Errorf("staged path = %q", res.StagedPath)
	}
}

func TestIngest_rerunSupersedesSameUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := Request{FileName: "abc.txt", Content: []byte("A. B. C."), ChunkSize: 1, DocName: "abc", Collection: "Docs"}

	if _, err := f.coord.Ingest(ctx, req); err != nil {
		t.Fatal(err)
	}
	res, err := f.coord.Ingest(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Superseded != 3 {
		t.Errorf("superseded = %d, want 3", res.Superseded)
	}
	if got := f.contents(t, "Docs", "abc"); len(got) != 3 {
		t.Errorf("records after rerun = %d, want 3", len(got))
	}

	// A different upload under the same name is not superseded.
	req.Content = []byte("D. E.")
	if _, err := f.coord.Ingest(ctx, req); err != nil {
		t.Fatal(err)
	}
	if got := f.contents(t, "Docs", "abc"); len(got) != 5 {
		t.Errorf("records after second upload = %d, want 5", len(got))
	}
}

func TestIngest_rerunAppendsWhenSupersedeDisabled(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewSQLiteStore(filepath.Join(dir, "records.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	off := false
	cfg.Ingest.SupersedePartial = &off
	cfg.Ingest.StagingDir = filepath.Join(dir, "upload")
	coord := NewCoordinator(st, chunker.NewChunker(chunker.NewPunctuationSegmenter()),
		tabular.NewMapper(), charset.NewDetector(), extract.NewExtractor(), cfg.Ingest)

	req := Request{FileName: "t.csv", Content: []byte("k\nv\n"), DocName: "t", Collection: "Docs"}
	for i := 0; i < 2; i++ {
		if _, err := coord.Ingest(context.Background(), req); err != nil {
			t.Fatal(err)
		}
	}
	all, err := st.ListAll(context.Background(), "Docs")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("records = %d, want 2", len(all))
	}
}

func TestIngest_missingCollectionWithoutAutoCreate(t *testing.T) {
	f := newFixture(t, WithAutoCreateSchema(false))
	_, err := f.coord.Ingest(context.Background(), Request{
		FileName: "a.txt", Content: []byte("A."), DocName: "a", Collection: "Docs", ChunkSize: 10,
	})
	if !errors.Is(err, models.ErrSchemaNotFound) {
		t.Fatalf("expected ErrSchemaNotFound, got %v", err)
	}
}

func TestIngest_createsCollectionFromSchema(t *testing.T) {
	schema := &config.Schema{Class: "Template", Definition: map[string]interface{}{"class": "Template", "vectorizer": "none"}}
	f := newFixture(t, WithSchema(schema))
	ctx := context.Background()
	if _, err := f.coord.Ingest(ctx, Request{
		FileName: "a.txt", Content: []byte("A."), DocName: "a", Collection: "Letters", ChunkSize: 10,
	}); err != nil {
		t.Fatal(err)
	}
	ok, err := f.store.SchemaExists(ctx, "Letters")
	if err != nil || !ok {
		t.Errorf("collection Letters exists = %v, err = %v", ok, err)
	}
}
