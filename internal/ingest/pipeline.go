// Package ingest implements the document ingestion pipeline: resolve the
// target collection, chunk, embed, upsert vectors, and commit metadata as
// one logical unit per document.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/kbase/internal/chunker"
	"github.com/kalambet/kbase/internal/extract"
	"github.com/kalambet/kbase/internal/kb"
	"github.com/kalambet/kbase/internal/storage"
	"github.com/kalambet/kbase/internal/vector"
)

// Embedder generates embeddings for chunk batches.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Resolver maps requested collection names to actual ones and hands out
// collection read locks. Satisfied by *kb.Manager.
type Resolver interface {
	ResolveOrDefault(requested string) (string, error)
	AcquireRead(name string) func()
}

// MetadataWriter is the slice of the relational store the pipeline needs.
type MetadataWriter interface {
	SaveDocument(d storage.Document) error
	RemoveDocument(id string) (storage.Document, error)
}

// VectorWriter is the slice of the vector store the pipeline needs.
type VectorWriter interface {
	UpsertDocument(collection, documentID string, points []vector.Point) error
	DeleteDocument(collection, documentID string) error
}

// Result reports a completed ingestion.
type Result struct {
	DocumentID     string
	Collection     string
	ChunkCount     int
	ProcessingTime time.Duration
}

// Pipeline orchestrates chunk, embed, vector upsert, and metadata commit.
// It is the sole writer of document metadata rows and of vector points for
// those documents.
//
// Pipeline is safe for concurrent use; re-ingestions of the same
// (collection, document id) are serialized.
type Pipeline struct {
	resolver  Resolver
	embedder  Embedder
	vectors   VectorWriter
	meta      MetadataWriter
	chunkSize int
	docLocks  *DocLocks
	logger    *slog.Logger
}

// New creates a Pipeline. chunkSize <= 0 falls back to the chunker default.
func New(resolver Resolver, embedder Embedder, vectors VectorWriter, meta MetadataWriter, chunkSize int, logger *slog.Logger) *Pipeline {
	if chunkSize <= 0 {
		chunkSize = chunker.DefaultTargetSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		resolver:  resolver,
		embedder:  embedder,
		vectors:   vectors,
		meta:      meta,
		chunkSize: chunkSize,
		docLocks:  NewDocLocks(),
		logger:    logger,
	}
}

// IngestText ingests already-decoded text as a new document. Every call
// creates a new document id; replacing an existing document under the same
// id goes through Reingest.
func (p *Pipeline) IngestText(ctx context.Context, requestedCollection, text, filename string, tags []string) (Result, error) {
	return p.ingest(ctx, requestedCollection, uuid.New().String(), text, filename, "txt", tags)
}

// IngestFile extracts text from raw file bytes (PDF, DOCX, HTML, TXT, MD)
// and ingests it as a new document.
func (p *Pipeline) IngestFile(ctx context.Context, requestedCollection string, data []byte, filename string) (Result, error) {
	text, contentType, err := extract.FromBytes(data, filename)
	if err != nil {
		return Result{}, fmt.Errorf("extracting %s: %w", filename, err)
	}
	return p.ingest(ctx, requestedCollection, uuid.New().String(), text, filename, contentType, nil)
}

// Reingest replaces the content stored under an existing document id. The
// vector upsert and the metadata save each replace their previous state
// for the id, so a failure at any stage leaves the old document intact and
// the chunk count after a re-ingestion reflects only the newest content.
func (p *Pipeline) Reingest(ctx context.Context, requestedCollection, documentID, text, filename string, tags []string) (Result, error) {
	return p.ingest(ctx, requestedCollection, documentID, text, filename, "txt", tags)
}

// DeleteDocument removes a document's metadata row and all its vector
// points. Returns kb.ErrNotFound for an unknown id.
func (p *Pipeline) DeleteDocument(documentID string) error {
	doc, err := p.meta.RemoveDocument(documentID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: document %q", kb.ErrNotFound, documentID)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", kb.ErrMetadataStore, err)
	}
	if err := p.vectors.DeleteDocument(doc.Collection, documentID); err != nil {
		return fmt.Errorf("%w: %w", kb.ErrVectorStore, err)
	}
	p.logger.Info("document deleted", "document_id", documentID, "collection", doc.Collection)
	return nil
}

func (p *Pipeline) ingest(ctx context.Context, requestedCollection, documentID, text, filename, contentType string, tags []string) (Result, error) {
	start := time.Now()

	collection, err := p.resolver.ResolveOrDefault(requestedCollection)
	if err != nil {
		return Result{}, err
	}

	// Hold the collection read lock so a concurrent delete/reset cannot
	// drop the namespace mid-ingestion.
	release := p.resolver.AcquireRead(collection)
	defer release()

	chunks := chunker.Split(text, p.chunkSize)
	if len(chunks) == 0 {
		return Result{}, fmt.Errorf("%w: %q produced no chunks", kb.ErrEmptyContent, filename)
	}

	// Serialize re-ingestion races on the same (collection, document id).
	unlock := p.docLocks.Lock(collection + "/" + documentID)
	defer unlock()

	vectors, err := p.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: embedding chunks: %w", kb.ErrTimeout, err)
		}
		return Result{}, fmt.Errorf("%w: embedding chunks: %w", kb.ErrEmbedding, err)
	}

	now := time.Now().UTC()
	points := make([]vector.Point, len(chunks))
	for i, chunk := range chunks {
		points[i] = vector.Point{
			ID:         uuid.New().String(),
			DocumentID: documentID,
			Filename:   filename,
			Collection: collection,
			ChunkIndex: i,
			Text:       chunk,
			Embedding:  vectors[i],
			CreatedAt:  now,
		}
	}

	if err := p.vectors.UpsertDocument(collection, documentID, points); err != nil {
		return Result{}, fmt.Errorf("%w: upserting %d points: %w", kb.ErrVectorStore, len(points), err)
	}

	doc := storage.Document{
		ID:          documentID,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   int64(len(text)),
		Collection:  collection,
		ChunkCount:  len(chunks),
		UploadedAt:  now,
		Status:      storage.StatusIndexed,
		Tags:        tags,
	}
	if err := p.meta.SaveDocument(doc); err != nil {
		// Metadata did not commit; roll the vector points back so the
		// document is all-or-nothing from the caller's point of view.
		if delErr := p.vectors.DeleteDocument(collection, documentID); delErr != nil {
			p.logger.Error("rollback failed, orphaned points remain",
				"document_id", documentID, "collection", collection, "error", delErr)
		}
		return Result{}, fmt.Errorf("%w: committing metadata: %w", kb.ErrMetadataStore, err)
	}

	elapsed := time.Since(start)
	p.logger.Info("document ingested",
		"document_id", documentID,
		"collection", collection,
		"chunks", len(chunks),
		"bytes", doc.SizeBytes,
		"duration_ms", elapsed.Milliseconds(),
	)

	return Result{
		DocumentID:     documentID,
		Collection:     collection,
		ChunkCount:     len(chunks),
		ProcessingTime: elapsed,
	}, nil
}
