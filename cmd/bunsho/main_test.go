package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/bunsho/internal/config"
	"github.com/hyperjump/bunsho/internal/models"
	"go.uber.org/zap"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after positional are moved first",
			args:     []string{"report.txt", "-chunk-size", "500"},
			expected: []string{"-chunk-size", "500", "report.txt"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-doc-type", "law", "report.txt"},
			expected: []string{"-doc-type", "law", "report.txt"},
		},
		{
			name:     "positional only returns unchanged",
			args:     []string{"report"},
			expected: []string{"report"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
store:
  type: sqlite
  database_path: "test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestInitializeComponents_weaviateRequiresEnv(t *testing.T) {
	t.Setenv(config.EnvWeaviateHost, "")
	t.Setenv(config.EnvWeaviateAPIKey, "")
	t.Setenv(config.EnvOpenAIAPIKey, "")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = initializeComponents(context.Background(), cfg, zap.NewNop(), false)
	if !errors.Is(err, models.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestInboxHandler_ingestsWithFileStem(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("store:\n  type: sqlite\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatal(err)
	}
	components, err := initializeComponents(context.Background(), cfg, zap.NewNop(), false)
	if err != nil {
		t.Fatal(err)
	}
	defer components.Close()
	if components.Collection != models.DefaultCollection {
		t.Errorf("collection = %q, want %q", components.Collection, models.DefaultCollection)
	}

	inboxFile := filepath.Join(dir, "report.txt")
	if err := os.WriteFile(inboxFile, []byte("Alpha one. Beta two."), 0644); err != nil {
		t.Fatal(err)
	}
	handler := inboxHandler(components.Coordinator, cfg.Watch, components.Collection, nil, zap.NewNop())
	ctx := context.Background()
	if err := handler(ctx, inboxFile); err != nil {
		t.Fatal(err)
	}

	chunks, err := components.Documents.GetChunks(ctx, components.Collection, "report")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0] != "Alpha one. Beta two." {
		t.Errorf("chunks = %q", chunks)
	}
	docs, err := components.Documents.Summaries(ctx, components.Collection)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Name != "report" || docs[0].Type != cfg.Watch.DocType {
		t.Errorf("summaries = %+v", docs)
	}
}

func TestInboxHandler_waitsForActionLock(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("store:\n  type: sqlite\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatal(err)
	}
	components, err := initializeComponents(context.Background(), cfg, zap.NewNop(), false)
	if err != nil {
		t.Fatal(err)
	}
	defer components.Close()

	inboxFile := filepath.Join(dir, "memo.txt")
	if err := os.WriteFile(inboxFile, []byte("Hold on."), 0644); err != nil {
		t.Fatal(err)
	}
	var actions sync.Mutex
	handler := inboxHandler(components.Coordinator, cfg.Watch, components.Collection, &actions, zap.NewNop())

	actions.Lock()
	done := make(chan error, 1)
	go func() { done <- handler(context.Background(), inboxFile) }()
	select {
	case <-done:
		t.Fatal("ingestion ran while the action lock was held")
	case <-time.After(100 * time.Millisecond):
	}
	actions.Unlock()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ingestion did not finish after the lock was released")
	}
}
