// Package query implements the retrieval-augmented query engine: embed the
// query, search the collection's vector namespace, assemble context, and
// generate an answer with cited sources and per-stage timings.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kalambet/kbase/internal/engine"
	"github.com/kalambet/kbase/internal/kb"
	"github.com/kalambet/kbase/internal/storage"
	"github.com/kalambet/kbase/internal/vector"
)

const (
	// DefaultTopK is the retrieval depth when the caller configures none.
	DefaultTopK = 5

	// DefaultScoreThreshold excludes weak matches from retrieval results.
	DefaultScoreThreshold = 0.7

	// previewLength bounds the text preview attached to each cited source.
	previewLength = 200

	// failedQueryLatency is the sentinel recorded for queries that failed
	// before completing, so statistics reflect failure rate.
	failedQueryLatency = -1
)

// Embedder turns query text into a vector comparable with stored chunks.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Resolver maps requested collection names to actual ones and hands out
// collection read locks. Satisfied by *kb.Manager.
type Resolver interface {
	ResolveOrDefault(requested string) (string, error)
	AcquireRead(name string) func()
}

// Searcher is the slice of the vector store the engine needs.
type Searcher interface {
	Search(ctx context.Context, collection string, query []float32, limit int, threshold float32) ([]vector.ScoredPoint, error)
}

// Generator produces answers from a prompt. Satisfied by engine.Engine.
type Generator interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// QueryLogger records completed and failed queries.
type QueryLogger interface {
	SaveQueryLog(q storage.QueryLog) error
}

// Source cites one retrieved chunk in an answer.
type Source struct {
	Filename    string  `json:"filename"`
	Score       float32 `json:"score"`
	TextPreview string  `json:"text_preview"`
	ChunkIndex  int     `json:"chunk_index"`
	DocumentID  string  `json:"document_id"`
}

// Timings holds per-stage durations for one query.
type Timings struct {
	EmbedMs    int64 `json:"query_embedding_time_ms"`
	RetrieveMs int64 `json:"retrieval_time_ms"`
	GenerateMs int64 `json:"llm_response_time_ms"`
}

// Answer is the result of one Ask call. Grounded is false when no chunk
// passed the score threshold and the model answered without context.
type Answer struct {
	Response   string   `json:"response"`
	Collection string   `json:"collection"`
	Sources    []Source `json:"sources"`
	Grounded   bool     `json:"grounded"`
	Timings    Timings  `json:"timings"`
}

// Options configures the engine's retrieval and generation behavior.
type Options struct {
	TopK             int
	ScoreThreshold   float32
	MaxContextTokens int
	ChatModel        func() string
}

// Engine orchestrates the retrieval-augmented query flow.
//
// Engine is safe for concurrent use by multiple goroutines.
type Engine struct {
	resolver  Resolver
	embedder  Embedder
	searcher  Searcher
	generator Generator
	logs      QueryLogger
	opts      Options
	logger    *slog.Logger
}

// New creates a query Engine. Zero option fields fall back to defaults.
func New(resolver Resolver, embedder Embedder, searcher Searcher, generator Generator, logs QueryLogger, opts Options, logger *slog.Logger) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.ScoreThreshold <= 0 {
		opts.ScoreThreshold = DefaultScoreThreshold
	}
	if opts.ChatModel == nil {
		opts.ChatModel = func() string { return "" }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		resolver:  resolver,
		embedder:  embedder,
		searcher:  searcher,
		generator: generator,
		logs:      logs,
		opts:      opts,
		logger:    logger,
	}
}

// Ask answers a natural-language question against the resolved collection.
// Failed queries are still logged with a sentinel latency so statistics
// reflect failure rate.
func (e *Engine) Ask(ctx context.Context, requestedCollection, question string) (Answer, error) {
	start := time.Now()

	collection, err := e.resolver.ResolveOrDefault(requestedCollection)
	if err != nil {
		return Answer{}, err
	}

	release := e.resolver.AcquireRead(collection)
	defer release()

	answer, err := e.ask(ctx, collection, question)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		e.log(question, collection, storage.QueryKindChat, failedQueryLatency)
		return Answer{}, err
	}

	e.log(question, collection, storage.QueryKindChat, latency)
	return answer, nil
}

func (e *Engine) ask(ctx context.Context, collection, question string) (Answer, error) {
	// Stage 1: embed the query.
	embedStart := time.Now()
	queryVec, err := e.embedder.Embed(ctx, question)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Answer{}, fmt.Errorf("%w: embedding query: %w", kb.ErrTimeout, err)
		}
		return Answer{}, fmt.Errorf("%w: embedding query: %w", kb.ErrEmbedding, err)
	}
	embedMs := time.Since(embedStart).Milliseconds()

	// Stage 2: similarity search above the score threshold.
	retrieveStart := time.Now()
	hits, err := e.searcher.Search(ctx, collection, queryVec, e.opts.TopK, e.opts.ScoreThreshold)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: searching %s: %w", kb.ErrVectorStore, collection, err)
	}
	retrieveMs := time.Since(retrieveStart).Milliseconds()

	// Stage 3: generate. With zero hits the model still answers, flagged
	// as ungrounded; the caller decides how to surface that.
	generateStart := time.Now()
	prompt := BuildPrompt(question, hits, e.opts.MaxContextTokens)
	response, err := e.generator.Chat(ctx, e.opts.ChatModel(), prompt, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Answer{}, fmt.Errorf("%w: generating answer: %w", kb.ErrTimeout, err)
		}
		return Answer{}, fmt.Errorf("%w: generating answer: %w", kb.ErrGeneration, err)
	}
	generateMs := time.Since(generateStart).Milliseconds()

	e.logger.Debug("query answered",
		"collection", collection,
		"hits", len(hits),
		"embed_ms", embedMs,
		"retrieve_ms", retrieveMs,
		"generate_ms", generateMs,
	)

	return Answer{
		Response:   response,
		Collection: collection,
		Sources:    toSources(hits),
		Grounded:   len(hits) > 0,
		Timings: Timings{
			EmbedMs:    embedMs,
			RetrieveMs: retrieveMs,
			GenerateMs: generateMs,
		},
	}, nil
}

// Search performs plain semantic search without generation. It shares
// collection resolution, query embedding, and similarity search with Ask.
func (e *Engine) Search(ctx context.Context, requestedCollection, queryText string, limit int) ([]Source, error) {
	start := time.Now()
	if limit <= 0 {
		limit = e.opts.TopK
	}

	collection, err := e.resolver.ResolveOrDefault(requestedCollection)
	if err != nil {
		return nil, err
	}

	release := e.resolver.AcquireRead(collection)
	defer release()

	queryVec, err := e.embedder.Embed(ctx, queryText)
	if err != nil {
		e.log(queryText, collection, storage.QueryKindSearch, failedQueryLatency)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: embedding query: %w", kb.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: embedding query: %w", kb.ErrEmbedding, err)
	}

	hits, err := e.searcher.Search(ctx, collection, queryVec, limit, e.opts.ScoreThreshold)
	if err != nil {
		e.log(queryText, collection, storage.QueryKindSearch, failedQueryLatency)
		return nil, fmt.Errorf("%w: searching %s: %w", kb.ErrVectorStore, collection, err)
	}

	e.log(queryText, collection, storage.QueryKindSearch, time.Since(start).Milliseconds())
	return toSources(hits), nil
}

func (e *Engine) log(queryText, collection, kind string, latencyMs int64) {
	err := e.logs.SaveQueryLog(storage.QueryLog{
		ID:         uuid.New().String(),
		Query:      queryText,
		Collection: collection,
		Kind:       kind,
		LatencyMs:  latencyMs,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		e.logger.Warn("failed to record query log", "error", err)
	}
}

func toSources(hits []vector.ScoredPoint) []Source {
	sources := make([]Source, len(hits))
	for i, h := range hits {
		sources[i] = Source{
			Filename:    h.Filename,
			Score:       h.Score,
			TextPreview: preview(h.Text),
			ChunkIndex:  h.ChunkIndex,
			DocumentID:  h.DocumentID,
		}
	}
	return sources
}

func preview(text string) string {
	if len(text) <= previewLength {
		return text
	}
	// Back up to a rune boundary so the cut never splits a multi-byte rune.
	cut := previewLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
