// Package api exposes the knowledge base over HTTP and MCP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/kbase/internal/engine"
	"github.com/kalambet/kbase/internal/ingest"
	"github.com/kalambet/kbase/internal/kb"
	"github.com/kalambet/kbase/internal/query"
	"github.com/kalambet/kbase/internal/storage"
	"github.com/kalambet/kbase/internal/vector"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxIngestBodySize = 15 << 20 // 15MB; base64 inflates file payloads by ~4/3

// Deps holds everything the HTTP layer needs.
type Deps struct {
	Manager  *kb.Manager
	Ingestor *ingest.Pipeline
	Query    *query.Engine
	Store    *storage.Store
	Vectors  vector.Store
	Engine   engine.Engine
	Token    string
}

// NewHandler returns the HTTP API. The health endpoint is public; everything
// else requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/collections", handleCreateCollection(deps))
		r.Get("/collections", handleListCollections(deps))
		r.Get("/collections/{name}", handleGetCollection(deps))
		r.Patch("/collections/{name}", handleUpdateCollection(deps))
		r.Delete("/collections/{name}", handleDeleteCollection(deps))
		r.Post("/collections/{name}/default", handleSetDefaultCollection(deps))

		r.Post("/ingest/text", handleIngestText(deps))
		r.Post("/ingest/file", handleIngestFile(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Put("/documents/{id}", handleReingestDocument(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))

		r.Post("/chat", handleChat(deps))
		r.Post("/search", handleSearch(deps))

		r.Get("/stats", handleStats(deps))
		r.Get("/config", handleListConfig(deps))
		r.Put("/config/{key}", handleSetConfig(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engineStatus := "unreachable"
		if deps.Engine != nil && deps.Engine.IsRunning(r.Context()) {
			engineStatus = "ok"
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"engine": engineStatus,
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// kbError maps domain sentinels onto HTTP statuses.
func kbError(w http.ResponseWriter, err error, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch {
	case errors.Is(err, kb.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%s: %v", msg, err)
	case errors.Is(err, kb.ErrDuplicateName), errors.Is(err, kb.ErrNotEmpty):
		httpError(w, http.StatusConflict, "conflict", "%s: %v", msg, err)
	case errors.Is(err, kb.ErrInvalidName), errors.Is(err, kb.ErrEmptyContent):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s: %v", msg, err)
	case errors.Is(err, kb.ErrTimeout):
		httpError(w, http.StatusGatewayTimeout, "timeout_error", "%s: %v", msg, err)
	case errors.Is(err, kb.ErrEmbedding), errors.Is(err, kb.ErrGeneration), errors.Is(err, kb.ErrVectorStore):
		httpError(w, http.StatusBadGateway, "upstream_error", "%s: %v", msg, err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%s: %v", msg, err)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
