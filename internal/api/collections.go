package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/kbase/internal/storage"
)

type collectionRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	CreatedBy   string   `json:"created_by"`
}

type collectionResponse struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Tags           []string `json:"tags"`
	CreatedBy      string   `json:"created_by,omitempty"`
	CreatedAt      string   `json:"created_at"`
	DocumentCount  int      `json:"document_count"`
	TotalSizeBytes int64    `json:"total_size_bytes"`
	IsDefault      bool     `json:"is_default"`
}

func toCollectionResponse(c storage.Collection) collectionResponse {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	return collectionResponse{
		Name:           c.Name,
		Description:    c.Description,
		Tags:           tags,
		CreatedBy:      c.CreatedBy,
		CreatedAt:      c.CreatedAt.Format(time.RFC3339),
		DocumentCount:  c.DocumentCount,
		TotalSizeBytes: c.TotalSizeBytes,
		IsDefault:      c.IsDefault,
	}
}

func handleCreateCollection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req collectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}

		c, err := deps.Manager.Create(req.Name, req.Description, req.Tags, req.CreatedBy)
		if err != nil {
			kbError(w, err, "failed to create collection %q", req.Name)
			return
		}

		writeJSON(w, http.StatusCreated, toCollectionResponse(c))
	}
}

func handleListCollections(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		collections, err := deps.Manager.List()
		if err != nil {
			kbError(w, err, "failed to list collections")
			return
		}

		out := make([]collectionResponse, len(collections))
		for i, c := range collections {
			out[i] = toCollectionResponse(c)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetCollection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		c, docs, err := deps.Manager.Get(name)
		if err != nil {
			kbError(w, err, "failed to get collection %q", name)
			return
		}

		docList := make([]documentResponse, len(docs))
		for i, d := range docs {
			docList[i] = toDocumentResponse(d)
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"collection": toCollectionResponse(c),
			"documents":  docList,
		})
	}
}

func handleUpdateCollection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Description *string  `json:"description"`
			Tags        []string `json:"tags"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		c, err := deps.Manager.Update(name, req.Description, req.Tags)
		if err != nil {
			kbError(w, err, "failed to update collection %q", name)
			return
		}

		writeJSON(w, http.StatusOK, toCollectionResponse(c))
	}
}

func handleDeleteCollection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		force := r.URL.Query().Get("force") == "true"

		if err := deps.Manager.Delete(name, force); err != nil {
			kbError(w, err, "failed to delete collection %q", name)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleSetDefaultCollection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		if err := deps.Manager.SetDefault(name); err != nil {
			kbError(w, err, "failed to set default collection %q", name)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "default": name})
	}
}
