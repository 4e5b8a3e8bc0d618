package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/kbase/internal/ingest"
	"github.com/kalambet/kbase/internal/storage"
)

type documentResponse struct {
	ID          string   `json:"id"`
	Filename    string   `json:"filename"`
	ContentType string   `json:"content_type"`
	SizeBytes   int64    `json:"size_bytes"`
	Collection  string   `json:"collection"`
	ChunkCount  int      `json:"chunk_count"`
	UploadedAt  string   `json:"uploaded_at"`
	Status      string   `json:"status"`
	Tags        []string `json:"tags"`
}

func toDocumentResponse(d storage.Document) documentResponse {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return documentResponse{
		ID:          d.ID,
		Filename:    d.Filename,
		ContentType: d.ContentType,
		SizeBytes:   d.SizeBytes,
		Collection:  d.Collection,
		ChunkCount:  d.ChunkCount,
		UploadedAt:  d.UploadedAt.Format(time.RFC3339),
		Status:      d.Status,
		Tags:        tags,
	}
}

type ingestResponse struct {
	DocumentID       string `json:"document_id"`
	Collection       string `json:"collection"`
	ChunkCount       int    `json:"chunk_count"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}

func toIngestResponse(res ingest.Result) ingestResponse {
	return ingestResponse{
		DocumentID:       res.DocumentID,
		Collection:       res.Collection,
		ChunkCount:       res.ChunkCount,
		ProcessingTimeMs: res.ProcessingTime.Milliseconds(),
	}
}

func handleIngestText(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req struct {
			Content    string   `json:"content"`
			Filename   string   `json:"filename"`
			Collection string   `json:"collection"`
			Tags       []string `json:"tags"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		if req.Filename == "" {
			req.Filename = "untitled.txt"
		}

		res, err := deps.Ingestor.IngestText(r.Context(), req.Collection, req.Content, req.Filename, req.Tags)
		if err != nil {
			kbError(w, err, "failed to ingest text")
			return
		}

		writeJSON(w, http.StatusCreated, toIngestResponse(res))
	}
}

func handleIngestFile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req struct {
			Content    string `json:"content"` // base64-encoded file bytes
			Filename   string `json:"filename"`
			Collection string `json:"collection"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Filename == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "filename is required")
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		data, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
			return
		}

		res, err := deps.Ingestor.IngestFile(r.Context(), req.Collection, data, req.Filename)
		if err != nil {
			kbError(w, err, "failed to ingest file %q", req.Filename)
			return
		}

		writeJSON(w, http.StatusCreated, toIngestResponse(res))
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		collection, err := deps.Manager.ResolveOrDefault(r.URL.Query().Get("collection"))
		if err != nil {
			kbError(w, err, "failed to resolve collection")
			return
		}

		docs, err := deps.Store.ListDocuments(collection)
		if err != nil {
			kbError(w, err, "failed to list documents")
			return
		}

		if limit := parseIntParam(r, "limit", 0, 1000); limit > 0 && len(docs) > limit {
			docs = docs[:limit]
		}

		out := make([]documentResponse, len(docs))
		for i, d := range docs {
			out[i] = toDocumentResponse(d)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleReingestDocument replaces a document's content in place, keeping its
// id. Collection and filename come from the stored document unless overridden.
func handleReingestDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req struct {
			Content  string   `json:"content"`
			Filename string   `json:"filename"`
			Tags     []string `json:"tags"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		doc, err := deps.Store.GetDocument(id)
		if err != nil {
			kbError(w, err, "failed to get document %q", id)
			return
		}
		if req.Filename == "" {
			req.Filename = doc.Filename
		}
		if req.Tags == nil {
			req.Tags = doc.Tags
		}

		res, err := deps.Ingestor.Reingest(r.Context(), doc.Collection, id, req.Content, req.Filename, req.Tags)
		if err != nil {
			kbError(w, err, "failed to re-ingest document %q", id)
			return
		}

		writeJSON(w, http.StatusOK, toIngestResponse(res))
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := deps.Ingestor.DeleteDocument(id); err != nil {
			kbError(w, err, "failed to delete document %q", id)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
