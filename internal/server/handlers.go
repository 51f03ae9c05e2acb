package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/config"
	"github.com/hyperjump/bunsho/internal/ingest"
	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")
	if collection == "" {
		collection = s.collection
	}
	stats, err := s.documents.Stats(r.Context(), collection)
	if err != nil {
		s.fail(w, "status", err)
		return
	}
	resp := map[string]interface{}{
		"collection": stats.Collection,
		"exists":     stats.Exists,
		"documents":  stats.Documents,
		"records":    stats.Records,
	}
	if s.config != nil {
		paths := []string{s.config.Ingest.StagingDir}
		if s.config.Store.Type == config.StoreSQLite {
			paths = append(paths, s.config.Store.DatabasePath)
		}
		if usage, err := store.DiskUsageOf(paths...); err == nil {
			resp["disk_usage_bytes"] = usage.Bytes
			resp["staged_files"] = usage.Files
		}
		resp["config"] = map[string]interface{}{
			"store":              s.config.Store.Type,
			"default_chunk_size": s.config.Ingest.DefaultChunkSize,
			"min_chunk_size":     s.config.Ingest.MinChunkSize,
			"max_chunk_size":     s.config.Ingest.MaxChunkSize,
			"segmenter":          s.config.Ingest.Segmenter,
			"staging_dir":        s.config.Ingest.StagingDir,
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSchemaExists(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	exists, err := s.documents.SchemaExists(r.Context(), collection)
	if err != nil {
		s.fail(w, "schema check", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"collection": collection, "exists": exists})
}

func (s *Server) handleCreateSchema(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	exists, err := s.documents.SchemaExists(r.Context(), collection)
	if err != nil {
		s.fail(w, "schema check", err)
		return
	}
	if exists {
		s.respondJSON(w, http.StatusOK, map[string]string{
			"collection": collection,
			"status":     "exists",
			"message":    "The schema for collection '" + collection + "' already exists",
		})
		return
	}
	if err := s.documents.CreateSchema(r.Context(), collection); err != nil {
		s.fail(w, "schema create", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{
		"collection": collection,
		"status":     "created",
		"message":    "Collection '" + collection + "' created successfully",
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	chunkSize := 0
	if v := strings.TrimSpace(r.FormValue("chunk_size")); v != "" {
		chunkSize, err = strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "chunk_size must be an integer")
			return
		}
	}
	req := ingest.Request{
		FileName:   header.Filename,
		Content:    content,
		ChunkSize:  chunkSize,
		DocName:    r.FormValue("doc_name"),
		DocType:    r.FormValue("doc_type"),
		Collection: chi.URLParam(r, "collection"),
	}
	s.logger.Debug("ingest request",
		zap.String("file", req.FileName), zap.String("doc_name", req.DocName), zap.Int("chunk_size", chunkSize))
	res, err := s.coordinator.Ingest(r.Context(), req)
	if err != nil {
		s.fail(w, "ingest", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if raw, _ := strconv.ParseBool(r.URL.Query().Get("raw")); raw {
		objs, err := s.documents.ListDocuments(r.Context(), collection)
		if err != nil {
			s.fail(w, "list documents", err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"objects": objs})
		return
	}
	sums, err := s.documents.Summaries(r.Context(), collection)
	if err != nil {
		s.fail(w, "list documents", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": sums})
}

func (s *Server) handleGetChunks(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	name, ok := s.docName(w, r)
	if !ok {
		return
	}
	chunks, err := s.documents.GetChunks(r.Context(), collection, name)
	if err != nil {
		s.fail(w, "get chunks", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"doc_name": name, "chunks": chunks})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	name, ok := s.docName(w, r)
	if !ok {
		return
	}
	s.logger.Debug("delete document request", zap.String("collection", collection), zap.String("doc_name", name))
	msg, err := s.documents.DeleteDocument(r.Context(), collection, name)
	if err != nil {
		s.fail(w, "delete document", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "message": msg})
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	obj, err := s.documents.GetObject(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "get object", err)
		return
	}
	s.respondJSON(w, http.StatusOK, obj)
}

// docName reads the {name} path parameter. chi routes on the raw path only when
// the request carries one (an escaped "/" for example); otherwise the parameter
// is already decoded and must not be unescaped again.
func (s *Server) docName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "name")
	if r.URL.RawPath == "" {
		return name, true
	}
	name, err := url.PathUnescape(name)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid document name")
		return "", false
	}
	return name, true
}

// fail maps err onto a status code and writes it.
func (s *Server) fail(w http.ResponseWriter, action string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(action+" failed", zap.Error(err))
	} else {
		s.logger.Debug(action+" rejected", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrSchemaNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrStoreWrite), errors.Is(err, models.ErrStoreQuery), errors.Is(err, models.ErrStoreDelete):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
