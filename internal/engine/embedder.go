package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Embedder wraps an Engine to generate text embeddings. The model name is
// resolved through a callback at the start of every call, so an admin
// switching the active embedding model takes effect without a restart.
type Embedder struct {
	engine Engine
	model  func() string
}

// NewEmbedder creates an Embedder using the given Engine and model source.
func NewEmbedder(e Engine, model func() string) *Embedder {
	return &Embedder{engine: e, model: model}
}

// Model returns the embedding model currently in effect.
func (e *Embedder) Model() string {
	return e.model()
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model(), text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input. All texts use the same model
// snapshot so the resulting vectors are mutually comparable.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model := e.model()

	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the engine.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.engine.Embed(gCtx, model, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
