package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/kbase/internal/storage"
)

type statsResponse struct {
	DocumentsIndexed   int     `json:"documents_indexed"`
	TotalDocuments     int     `json:"total_documents"`
	Collections        int     `json:"collections"`
	ChatQueriesToday   int     `json:"chat_queries_today"`
	SearchQueriesToday int     `json:"search_queries_today"`
	IndexSizeMB        float64 `json:"index_size_mb"`
	LastUpdated        string  `json:"last_updated,omitempty"`
}

func collectStats(deps Deps) (statsResponse, error) {
	st, err := deps.Store.CollectStats()
	if err != nil {
		return statsResponse{}, fmt.Errorf("collecting document stats: %w", err)
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	chatToday, err := deps.Store.CountQueriesSince(storage.QueryKindChat, midnight)
	if err != nil {
		return statsResponse{}, fmt.Errorf("counting chat queries: %w", err)
	}
	searchToday, err := deps.Store.CountQueriesSince(storage.QueryKindSearch, midnight)
	if err != nil {
		return statsResponse{}, fmt.Errorf("counting search queries: %w", err)
	}

	collections, err := deps.Manager.List()
	if err != nil {
		return statsResponse{}, fmt.Errorf("listing collections: %w", err)
	}

	var indexBytes int64
	for _, c := range collections {
		size, err := deps.Vectors.SizeBytes(c.Name)
		if err != nil {
			continue
		}
		indexBytes += size
	}

	resp := statsResponse{
		DocumentsIndexed:   st.DocumentsIndexed,
		TotalDocuments:     st.TotalDocuments,
		Collections:        len(collections),
		ChatQueriesToday:   chatToday,
		SearchQueriesToday: searchToday,
		IndexSizeMB:        float64(indexBytes) / (1 << 20),
	}
	if !st.LastUpdated.IsZero() {
		resp.LastUpdated = st.LastUpdated.Format(time.RFC3339)
	}
	return resp, nil
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := collectStats(deps)
		if err != nil {
			kbError(w, err, "failed to collect stats")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

type configEntryResponse struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt string `json:"updated_at"`
}

func handleListConfig(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.Store.ListConfigEntries()
		if err != nil {
			kbError(w, err, "failed to list config entries")
			return
		}

		out := make([]configEntryResponse, len(entries))
		for i, e := range entries {
			out[i] = configEntryResponse{
				Key:       e.Key,
				Value:     e.Value,
				UpdatedAt: e.UpdatedAt.Format(time.RFC3339),
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleSetConfig(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if err := deps.Store.SetConfigEntry(key, req.Value); err != nil {
			kbError(w, err, "failed to set config entry %q", key)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "key": key})
	}
}
