// Package kb holds the knowledge-base core: the collection manager, the
// shared collection-resolution policy, and the error taxonomy every
// pipeline reports through.
package kb

import "errors"

// Exact-match failures surfaced to callers. The one place a missing
// collection is recovered instead of surfaced is Manager.ResolveOrDefault.
var (
	// ErrNotFound means a named collection or document was absent when an
	// exact match was required (e.g. set-default, explicit get).
	ErrNotFound = errors.New("not found")

	// ErrDuplicateName means a collection create collided with an existing name.
	ErrDuplicateName = errors.New("collection already exists")

	// ErrNotEmpty means a collection delete without force hit a non-empty
	// collection.
	ErrNotEmpty = errors.New("collection is not empty")

	// ErrEmptyContent means ingestion received text that produced zero chunks.
	ErrEmptyContent = errors.New("content is empty")

	// ErrInvalidName means a collection name is not a valid slug.
	ErrInvalidName = errors.New("invalid collection name")
)

// Failure categories for external dependencies. Pipelines wrap the
// underlying cause with one of these via fmt.Errorf("%w: ...: %w", ...) so
// callers can classify with errors.Is while keeping the full chain.
var (
	// ErrEmbedding covers embedding model/service failures.
	ErrEmbedding = errors.New("embedding service")

	// ErrGeneration covers language-model failures during answer generation.
	ErrGeneration = errors.New("generation service")

	// ErrVectorStore covers vector index failures.
	ErrVectorStore = errors.New("vector store")

	// ErrMetadataStore covers relational store failures.
	ErrMetadataStore = errors.New("metadata store")

	// ErrTimeout marks an external call that exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")
)
