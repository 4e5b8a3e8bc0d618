package query

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kalambet/kbase/internal/engine"
	"github.com/kalambet/kbase/internal/kb"
	"github.com/kalambet/kbase/internal/storage"
	"github.com/kalambet/kbase/internal/vector"
)

type fakeResolver struct {
	resolved string
	reads    int
}

func (f *fakeResolver) ResolveOrDefault(requested string) (string, error) {
	if f.resolved == "" {
		return "default", nil
	}
	return f.resolved, nil
}

func (f *fakeResolver) AcquireRead(name string) func() {
	f.reads++
	return func() {}
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

type fakeSearcher struct {
	hits []vector.ScoredPoint
	err  error
}

func (f *fakeSearcher) Search(ctx context.Context, collection string, query []float32, limit int, threshold float32) ([]vector.ScoredPoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.hits) {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

type fakeGenerator struct {
	response string
	err      error
	prompt   []engine.Message
	model    string
}

func (f *fakeGenerator) Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error) {
	f.model = model
	f.prompt = messages
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type recordingLogger struct {
	entries []storage.QueryLog
}

func (r *recordingLogger) SaveQueryLog(q storage.QueryLog) error {
	r.entries = append(r.entries, q)
	return nil
}

func scoredPoint(docID string, chunkIndex int, score float32, text string) vector.ScoredPoint {
	return vector.ScoredPoint{
		Point: vector.Point{
			ID:         docID + "-p",
			DocumentID: docID,
			Filename:   docID + ".txt",
			ChunkIndex: chunkIndex,
			Text:       text,
		},
		Score: score,
	}
}

func newTestEngine(emb *fakeEmbedder, srch *fakeSearcher, gen *fakeGenerator, logs *recordingLogger) *Engine {
	return New(&fakeResolver{}, emb, srch, gen, logs, Options{
		ChatModel: func() string { return "llama3.2" },
	}, nil)
}

func TestAskGrounded(t *testing.T) {
	hits := []vector.ScoredPoint{
		scoredPoint("doc-1", 0, 0.95, "relevant chunk about widgets"),
		scoredPoint("doc-2", 3, 0.81, "another relevant chunk"),
	}
	gen := &fakeGenerator{response: "widgets are great"}
	logs := &recordingLogger{}
	e := newTestEngine(&fakeEmbedder{vec: []float32{1, 0}}, &fakeSearcher{hits: hits}, gen, logs)

	ans, err := e.Ask(context.Background(), "", "what about widgets?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Response != "widgets are great" {
		t.Errorf("Response = %q", ans.Response)
	}
	if !ans.Grounded {
		t.Error("Grounded = false, want true")
	}
	if ans.Collection != "default" {
		t.Errorf("Collection = %q, want default", ans.Collection)
	}
	if len(ans.Sources) != 2 {
		t.Fatalf("got %d sources, want 2", len(ans.Sources))
	}
	if ans.Sources[0].Filename != "doc-1.txt" || ans.Sources[0].Score != 0.95 {
		t.Errorf("first source = %+v", ans.Sources[0])
	}
	if ans.Sources[1].ChunkIndex != 3 {
		t.Errorf("second source chunk = %d, want 3", ans.Sources[1].ChunkIndex)
	}
	if gen.model != "llama3.2" {
		t.Errorf("chat model = %q", gen.model)
	}
	if !strings.Contains(gen.prompt[0].Content, "relevant chunk about widgets") {
		t.Error("retrieved context missing from system prompt")
	}

	if len(logs.entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(logs.entries))
	}
	entry := logs.entries[0]
	if entry.Kind != storage.QueryKindChat {
		t.Errorf("Kind = %q, want chat", entry.Kind)
	}
	if entry.LatencyMs < 0 {
		t.Errorf("LatencyMs = %d, want >= 0", entry.LatencyMs)
	}
	if entry.Collection != "default" {
		t.Errorf("log Collection = %q", entry.Collection)
	}
}

// TestAskUngrounded verifies zero hits still produce an answer, flagged as
// not grounded, with the fallback system prompt.
func TestAskUngrounded(t *testing.T) {
	gen := &fakeGenerator{response: "from general knowledge"}
	logs := &recordingLogger{}
	e := newTestEngine(&fakeEmbedder{vec: []float32{1, 0}}, &fakeSearcher{}, gen, logs)

	ans, err := e.Ask(context.Background(), "", "unknown topic?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Grounded {
		t.Error("Grounded = true, want false")
	}
	if len(ans.Sources) != 0 {
		t.Errorf("Sources = %v, want empty", ans.Sources)
	}
	if !strings.Contains(gen.prompt[0].Content, "No relevant documents") {
		t.Errorf("system prompt = %q", gen.prompt[0].Content)
	}
}

func TestAskEmbeddingFailureLogged(t *testing.T) {
	logs := &recordingLogger{}
	e := newTestEngine(&fakeEmbedder{err: errors.New("model gone")}, &fakeSearcher{}, &fakeGenerator{}, logs)

	if _, err := e.Ask(context.Background(), "", "q"); !errors.Is(err, kb.ErrEmbedding) {
		t.Fatalf("Ask = %v, want ErrEmbedding", err)
	}
	if len(logs.entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(logs.entries))
	}
	if logs.entries[0].LatencyMs != -1 {
		t.Errorf("LatencyMs = %d, want -1 sentinel", logs.entries[0].LatencyMs)
	}
}

func TestAskTimeout(t *testing.T) {
	logs := &recordingLogger{}
	e := newTestEngine(&fakeEmbedder{err: context.DeadlineExceeded}, &fakeSearcher{}, &fakeGenerator{}, logs)

	if _, err := e.Ask(context.Background(), "", "q"); !errors.Is(err, kb.ErrTimeout) {
		t.Errorf("Ask = %v, want ErrTimeout", err)
	}
}

func TestAskGenerationFailure(t *testing.T) {
	logs := &recordingLogger{}
	gen := &fakeGenerator{err: errors.New("chat model crashed")}
	e := newTestEngine(&fakeEmbedder{vec: []float32{1}}, &fakeSearcher{}, gen, logs)

	if _, err := e.Ask(context.Background(), "", "q"); !errors.Is(err, kb.ErrGeneration) {
		t.Fatalf("Ask = %v, want ErrGeneration", err)
	}
	if logs.entries[0].LatencyMs != -1 {
		t.Errorf("LatencyMs = %d, want -1", logs.entries[0].LatencyMs)
	}
}

func TestAskVectorStoreFailure(t *testing.T) {
	logs := &recordingLogger{}
	e := newTestEngine(&fakeEmbedder{vec: []float32{1}}, &fakeSearcher{err: errors.New("table gone")}, &fakeGenerator{}, logs)

	if _, err := e.Ask(context.Background(), "", "q"); !errors.Is(err, kb.ErrVectorStore) {
		t.Errorf("Ask = %v, want ErrVectorStore", err)
	}
}

func TestSearchLogsKind(t *testing.T) {
	hits := []vector.ScoredPoint{scoredPoint("doc-1", 0, 0.9, "chunk")}
	logs := &recordingLogger{}
	e := newTestEngine(&fakeEmbedder{vec: []float32{1}}, &fakeSearcher{hits: hits}, &fakeGenerator{}, logs)

	sources, err := e.Search(context.Background(), "", "find chunks", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("got %d sources, want 1", len(sources))
	}
	if len(logs.entries) != 1 || logs.entries[0].Kind != storage.QueryKindSearch {
		t.Errorf("log entries = %+v", logs.entries)
	}
	if logs.entries[0].LatencyMs < 0 {
		t.Errorf("LatencyMs = %d, want >= 0", logs.entries[0].LatencyMs)
	}
}

func TestSearchFailureLogged(t *testing.T) {
	logs := &recordingLogger{}
	e := newTestEngine(&fakeEmbedder{err: errors.New("down")}, &fakeSearcher{}, &fakeGenerator{}, logs)

	if _, err := e.Search(context.Background(), "", "q", 5); !errors.Is(err, kb.ErrEmbedding) {
		t.Fatalf("Search = %v, want ErrEmbedding", err)
	}
	if len(logs.entries) != 1 || logs.entries[0].LatencyMs != -1 {
		t.Errorf("log entries = %+v, want one -1 entry", logs.entries)
	}
}

func TestSourcePreviewTruncated(t *testing.T) {
	long := strings.Repeat("x", 300)
	hits := []vector.ScoredPoint{scoredPoint("doc-1", 0, 0.9, long)}
	logs := &recordingLogger{}
	e := newTestEngine(&fakeEmbedder{vec: []float32{1}}, &fakeSearcher{hits: hits}, &fakeGenerator{response: "ok"}, logs)

	ans, err := e.Ask(context.Background(), "", "q")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	p := ans.Sources[0].TextPreview
	if len(p) != 203 || !strings.HasSuffix(p, "...") {
		t.Errorf("preview len = %d, suffix ok = %v", len(p), strings.HasSuffix(p, "..."))
	}
}

// TestSourcePreviewRuneBoundary verifies truncation never cuts through a
// multi-byte rune, so previews are always valid UTF-8.
func TestSourcePreviewRuneBoundary(t *testing.T) {
	// A three-byte rune straddles the 200-byte cut point.
	text := strings.Repeat("x", 199) + "€" + strings.Repeat("y", 50)
	hits := []vector.ScoredPoint{scoredPoint("doc-1", 0, 0.9, text)}
	logs := &recordingLogger{}
	e := newTestEngine(&fakeEmbedder{vec: []float32{1}}, &fakeSearcher{hits: hits}, &fakeGenerator{response: "ok"}, logs)

	ans, err := e.Ask(context.Background(), "", "q")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	p := ans.Sources[0].TextPreview
	if !utf8.ValidString(p) {
		t.Errorf("preview is not valid UTF-8: %q", p)
	}
	if !strings.HasSuffix(p, "x...") {
		t.Errorf("preview should back up to the rune boundary, got %q tail", p[len(p)-8:])
	}
}
