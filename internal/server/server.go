// Package server provides the HTTP API for bunsho.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/config"
	"github.com/hyperjump/bunsho/internal/documents"
	"github.com/hyperjump/bunsho/internal/ingest"
	"github.com/hyperjump/bunsho/internal/models"
)

// maxUploadBytes bounds multipart uploads held in memory and on disk.
const maxUploadBytes = 256 << 20

// Server is the HTTP server for the bunsho API.
type Server struct {
	coordinator *ingest.Coordinator
	documents   *documents.Service
	config      *config.Config
	logger      *zap.Logger
	server      *http.Server

	// collection answers /status when no collection is given.
	collection string
	// actions serializes API actions so each completes before the next starts.
	// It may be shared with other producers such as the inbox watcher.
	actions sync.Locker
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithDefaultCollection sets the collection reported by /status without a collection parameter.
func WithDefaultCollection(name string) ServerOption {
	return func(s *Server) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithActionLock makes the server serialize API actions on l instead of a private mutex.
func WithActionLock(l sync.Locker) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.actions = l
		}
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(
	coordinator *ingest.Coordinator,
	docs *documents.Service,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...ServerOption,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		coordinator: coordinator,
		documents:   docs,
		config:      cfg,
		logger:      logger,
		collection:  models.DefaultCollection,
		actions:     &sync.Mutex{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	if s.config != nil && s.config.Debug {
		r.Use(middleware.Logger)
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.serialize)
		r.Get("/status", s.handleStatus)
		r.Route("/collections/{collection}", func(r chi.Router) {
			r.Get("/schema", s.handleSchemaExists)
			r.Post("/schema", s.handleCreateSchema)
			r.Post("/documents", s.handleIngest)
			r.Get("/documents", s.handleListDocuments)
			r.Get("/documents/{name}/chunks", s.handleGetChunks)
			r.Delete("/documents/{name}", s.handleDeleteDocument)
			r.Get("/objects/{id}", s.handleGetObject)
		})
	})
	return r
}

// serialize runs one API request at a time.
func (s *Server) serialize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.actions.Lock()
		defer s.actions.Unlock()
		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
