package config

import "github.com/hyperjump/bunsho/internal/extract"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = StoreWeaviate
	}
	if cfg.Store.DatabasePath == "" {
		cfg.Store.DatabasePath = "data/db/records.db"
	}
	if cfg.Store.SchemaPath == "" {
		cfg.Store.SchemaPath = "schemas/default.json"
	}
	if cfg.Store.BatchSize == 0 {
		cfg.Store.BatchSize = 100
	}
	if cfg.Store.QueryLimit == 0 {
		cfg.Store.QueryLimit = 10000
	}
	if cfg.Ingest.StagingDir == "" {
		cfg.Ingest.StagingDir = "data/upload"
	}
	if cfg.Ingest.DefaultChunkSize == 0 {
		cfg.Ingest.DefaultChunkSize = 1000
	}
	if cfg.Ingest.MinChunkSize == 0 {
		cfg.Ingest.MinChunkSize = 100
	}
	if cfg.Ingest.MaxChunkSize == 0 {
		cfg.Ingest.MaxChunkSize = 50000
	}
	if cfg.Ingest.Segmenter == "" {
		cfg.Ingest.Segmenter = "punkt"
	}
	if cfg.Ingest.SampleBytes == 0 {
		cfg.Ingest.SampleBytes = 50000
	}
	if cfg.Ingest.MinConfidence == 0 {
		cfg.Ingest.MinConfidence = 10
	}
	if cfg.Ingest.FallbackEncodings == nil {
		cfg.Ingest.FallbackEncodings = []string{"UTF-8", "windows-1252"}
	}
	if cfg.Ingest.Delimiter == "" {
		cfg.Ingest.Delimiter = ";"
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = append(extract.TextExtensions(), ".csv", ".xlsx")
	}
	if cfg.Watch.DocType == "" {
		cfg.Watch.DocType = "inbox"
	}
}
