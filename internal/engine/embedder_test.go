package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// fakeEngine returns per-text vectors derived from the text length and
// records which model each call used.
type fakeEngine struct {
	mu     sync.Mutex
	models []string
	err    error
}

func (f *fakeEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	f.mu.Lock()
	f.models = append(f.models, model)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text))}, nil
}

func (f *fakeEngine) Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error) {
	return "", nil
}

func (f *fakeEngine) IsRunning(ctx context.Context) bool { return true }

func (f *fakeEngine) HasModel(ctx context.Context, name string) bool { return true }

func (f *fakeEngine) ListModels(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	return nil
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	e := NewEmbedder(&fakeEngine{}, func() string { return "test-model" })

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != 1 || v[0] != float32(len(texts[i])) {
			t.Errorf("vector %d = %v, want [%d]", i, v, len(texts[i]))
		}
	}
}

func TestEmbedBatchEmpty(t *testing.T) {
	e := NewEmbedder(&fakeEngine{}, func() string { return "m" })

	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", vecs, err)
	}
}

func TestEmbedBatchPropagatesError(t *testing.T) {
	fail := errors.New("engine down")
	e := NewEmbedder(&fakeEngine{err: fail}, func() string { return "m" })

	if _, err := e.EmbedBatch(context.Background(), []string{"a", "b"}); !errors.Is(err, fail) {
		t.Errorf("EmbedBatch = %v, want wrapped engine error", err)
	}
}

// TestEmbedBatchModelSnapshot verifies all texts in one batch use the same
// model even if the model source changes mid-batch.
func TestEmbedBatchModelSnapshot(t *testing.T) {
	fe := &fakeEngine{}
	current := "model-a"
	e := NewEmbedder(fe, func() string {
		m := current
		current = "model-b" // switched after the first read
		return m
	})

	if _, err := e.EmbedBatch(context.Background(), []string{"x", "y", "z"}); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i, m := range fe.models {
		if m != "model-a" {
			t.Errorf("call %d used model %q, want model-a", i, m)
		}
	}
}

func TestEmbedUsesCurrentModel(t *testing.T) {
	fe := &fakeEngine{}
	model := "first"
	e := NewEmbedder(fe, func() string { return model })

	if _, err := e.Embed(context.Background(), "text"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	model = "second"
	if _, err := e.Embed(context.Background(), "text"); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if len(fe.models) != 2 || fe.models[0] != "first" || fe.models[1] != "second" {
		t.Errorf("models = %v, want [first second]", fe.models)
	}
}
