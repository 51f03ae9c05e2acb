package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/hyperjump/bunsho/internal/models"
)

// Environment variables holding store credentials.
const (
	EnvWeaviateHost   = "WEAVIATE_HOST"
	EnvWeaviateAPIKey = "WEAVIATE_API_KEY"
	EnvOpenAIAPIKey   = "OPENAI_API_KEY"
)

// Secrets are the credentials needed to reach the record store.
type Secrets struct {
	WeaviateHost   string
	WeaviateAPIKey string
	OpenAIAPIKey   string
}

// LoadDotEnv loads variables from the given .env files (default ".env") without
// overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// LoadSecrets reads store credentials from the environment. For the Weaviate backend all
// three values are required and any missing one yields ErrConfig naming it.
func LoadSecrets(storeType string) (*Secrets, error) {
	s := &Secrets{
		WeaviateHost:   strings.TrimSpace(os.Getenv(EnvWeaviateHost)),
		WeaviateAPIKey: strings.TrimSpace(os.Getenv(EnvWeaviateAPIKey)),
		OpenAIAPIKey:   strings.TrimSpace(os.Getenv(EnvOpenAIAPIKey)),
	}
	if storeType != StoreWeaviate {
		return s, nil
	}
	var missing []string
	if s.WeaviateHost == "" {
		missing = append(missing, EnvWeaviateHost)
	}
	if s.WeaviateAPIKey == "" {
		missing = append(missing, EnvWeaviateAPIKey)
	}
	if s.OpenAIAPIKey == "" {
		missing = append(missing, EnvOpenAIAPIKey)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: environment variables %s must be set", models.ErrConfig, strings.Join(missing, ", "))
	}
	return s, nil
}
