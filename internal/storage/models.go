package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
var ErrDuplicate = errors.New("already exists")

// Collection is a named, isolated corpus. The name doubles as the vector
// namespace identifier, so it is validated as a slug before it reaches
// this layer.
type Collection struct {
	Name           string
	Description    string
	Tags           []string
	CreatedBy      string
	CreatedAt      time.Time
	DocumentCount  int
	TotalSizeBytes int64
	IsDefault      bool
}

// Document holds per-document metadata. Content is never stored here; it
// lives only as chunk payloads in the vector store.
type Document struct {
	ID          string
	Filename    string
	ContentType string
	SizeBytes   int64
	Collection  string
	ChunkCount  int
	UploadedAt  time.Time
	Status      string // "indexed" or "failed"
	Tags        []string
}

// Document status values.
const (
	StatusIndexed = "indexed"
	StatusFailed  = "failed"
)

// QueryLog records one completed (or failed) query. Never mutated.
// A latency of -1 marks a query that failed before completion.
type QueryLog struct {
	ID         string
	Query      string
	Collection string
	Kind       string // "chat" or "search"
	LatencyMs  int64
	CreatedAt  time.Time
}

// Query log kinds.
const (
	QueryKindChat   = "chat"
	QueryKindSearch = "search"
)

// ConfigEntry is a process-wide key/value setting (e.g. the active
// embedding model), mutable only through an explicit admin operation.
type ConfigEntry struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
