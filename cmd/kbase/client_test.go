package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testClient(srv *httptest.Server) *apiClient {
	return &apiClient{
		baseURL:    srv.URL,
		token:      "cli-token",
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	c := testClient(srv)
	resp, err := c.get(context.Background(), "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer cli-token" {
		t.Errorf("Authorization = %q, want Bearer cli-token", gotAuth)
	}
}

func TestClientPostSetsContentType(t *testing.T) {
	var gotMethod, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := testClient(srv)
	resp, err := c.post(context.Background(), "/ingest/text", map[string]string{"content": "x"})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	if gotMethod != http.MethodPost {
		t.Errorf("method = %q", gotMethod)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
}

func TestDecodeJSONSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error":{"message":"already exists","type":"conflict"}}`)
	}))
	defer srv.Close()

	c := testClient(srv)
	resp, err := c.post(context.Background(), "/collections", map[string]string{"name": "dup"})
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	var out map[string]any
	err = decodeJSON(resp, &out)
	if err == nil {
		t.Fatal("expected error for 409 response")
	}
	if got := err.Error(); !strings.Contains(got, "409") || !strings.Contains(got, "already exists") {
		t.Errorf("error = %q", got)
	}
}

func TestDecodeJSONSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"document_id":"abc","chunk_count":2}`)
	}))
	defer srv.Close()

	c := testClient(srv)
	resp, err := c.get(context.Background(), "/x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	var out struct {
		DocumentID string `json:"document_id"`
		ChunkCount int    `json:"chunk_count"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		t.Fatalf("decodeJSON: %v", err)
	}
	if out.DocumentID != "abc" || out.ChunkCount != 2 {
		t.Errorf("out = %+v", out)
	}
}
