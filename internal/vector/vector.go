package vector

import (
	"context"
	"time"
)

// Store is the interface for vector storage and similarity search backends.
// Each collection maps 1:1 to an isolated namespace; the current
// implementation backs every namespace with its own SQLite table and
// brute-force cosine similarity. ANN-capable backends can implement the
// same interface later.
type Store interface {
	// CreateCollection ensures the namespace for the collection exists. Idempotent.
	CreateCollection(collection string) error

	// DropCollection removes the namespace and every point in it.
	DropCollection(collection string) error

	// UpsertDocument replaces all points for the given document id with the
	// provided set, atomically from the caller's perspective: after it
	// returns the namespace holds either the old complete point set or the
	// new one, never a mix.
	UpsertDocument(collection, documentID string, points []Point) error

	// Search returns the points most similar to the query vector, ranked by
	// cosine similarity descending. Points scoring below threshold are
	// excluded even if fewer than limit qualify. Equal scores tie-break on
	// chunk index ascending.
	Search(ctx context.Context, collection string, query []float32, limit int, threshold float32) ([]ScoredPoint, error)

	// DeleteDocument removes all points whose payload references the
	// document id. Deleting a document with no points is a no-op.
	DeleteDocument(collection, documentID string) error

	// CountPoints returns the number of points referencing the document id,
	// or all points in the namespace when documentID is empty.
	CountPoints(collection, documentID string) (int, error)

	// SizeBytes returns the approximate storage footprint of the namespace.
	SizeBytes(collection string) (int64, error)
}

// Point is one stored chunk: its embedding plus a fixed payload schema so
// retrieval can return literal text without a second lookup.
type Point struct {
	ID         string
	DocumentID string
	Filename   string
	Collection string
	ChunkIndex int
	Text       string
	Embedding  []float32
	CreatedAt  time.Time
}

// ScoredPoint is a Point with a similarity score attached.
type ScoredPoint struct {
	Point
	Score float32
}
