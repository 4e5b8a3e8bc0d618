package api

import (
	"encoding/json"
	"net/http"
)

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Query      string `json:"query"`
			Collection string `json:"collection"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		answer, err := deps.Query.Ask(r.Context(), req.Collection, req.Query)
		if err != nil {
			kbError(w, err, "failed to answer query")
			return
		}

		writeJSON(w, http.StatusOK, answer)
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Query      string `json:"query"`
			Collection string `json:"collection"`
			Limit      int    `json:"limit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		sources, err := deps.Query.Search(r.Context(), req.Collection, req.Query, req.Limit)
		if err != nil {
			kbError(w, err, "search failed")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"results": sources,
			"count":   len(sources),
		})
	}
}
