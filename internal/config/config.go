// Package config provides configuration loading and structs for the bunsho service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug  bool         `yaml:"debug"`
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Ingest IngestConfig `yaml:"ingest"`
	Watch  WatchConfig  `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Store backends.
const (
	StoreWeaviate = "weaviate"
	StoreSQLite   = "sqlite"
)

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	Type             string `yaml:"type"`
	DatabasePath     string `yaml:"database_path"`
	SchemaPath       string `yaml:"schema_path"`
	BatchSize        int    `yaml:"batch_size"`
	QueryLimit       int    `yaml:"query_limit"`
	AutoCreateSchema *bool  `yaml:"auto_create_schema"`
}

// AutoCreateSchemaOrDefault returns whether missing collections are created on ingest; defaults to true.
func (s *StoreConfig) AutoCreateSchemaOrDefault() bool {
	if s.AutoCreateSchema != nil {
		return *s.AutoCreateSchema
	}
	return true
}

// IngestConfig holds staging, chunking, and decoding settings.
type IngestConfig struct {
	StagingDir        string   `yaml:"staging_dir"`
	DefaultChunkSize  int      `yaml:"default_chunk_size"`
	MinChunkSize      int      `yaml:"min_chunk_size"`
	MaxChunkSize      int      `yaml:"max_chunk_size"`
	Segmenter         string   `yaml:"segmenter"`
	SampleBytes       int      `yaml:"sample_bytes"`
	MinConfidence     int      `yaml:"min_confidence"`
	FallbackEncodings []string `yaml:"fallback_encodings"`
	Delimiter         string   `yaml:"delimiter"`
	SupersedePartial  *bool    `yaml:"supersede_partial"`
}

// SupersedePartialOrDefault returns whether a re-run of the same upload replaces
// records left by an earlier run; defaults to true.
func (i *IngestConfig) SupersedePartialOrDefault() bool {
	if i.SupersedePartial != nil {
		return *i.SupersedePartial
	}
	return true
}

// DelimiterRune returns the first rune of Delimiter.
func (i *IngestConfig) DelimiterRune() rune {
	for _, r := range i.Delimiter {
		return r
	}
	return ';'
}

// WatchConfig holds inbox directory settings.
type WatchConfig struct {
	Directory  string   `yaml:"directory"`
	Extensions []string `yaml:"extensions"`
	DocType    string   `yaml:"doc_type"`
	ChunkSize  int      `yaml:"chunk_size"`
	Collection string   `yaml:"collection"`
}

// Load reads and parses the config file at path, applies defaults, and expands paths.
// A missing file is not an error: defaults are returned with paths relative to the
// file's directory.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Store.DatabasePath = expandPath(cfg.Store.DatabasePath, configDir)
	cfg.Store.SchemaPath = expandPath(cfg.Store.SchemaPath, configDir)
	cfg.Ingest.StagingDir = expandPath(cfg.Ingest.StagingDir, configDir)
	if cfg.Watch.Directory != "" {
		cfg.Watch.Directory = expandPath(cfg.Watch.Directory, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Relative paths are resolved against configDir;
// a leading "~/" refers to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
		return path
	}
	return filepath.Join(configDir, path)
}
