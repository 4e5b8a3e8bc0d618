package vector

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openTestVectorStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStore(db)
}

func testPoint(docID string, chunkIndex int, embedding []float32) Point {
	return Point{
		ID:         fmt.Sprintf("%s-%d", docID, chunkIndex),
		DocumentID: docID,
		Filename:   docID + ".txt",
		ChunkIndex: chunkIndex,
		Text:       fmt.Sprintf("chunk %d of %s", chunkIndex, docID),
		Embedding:  embedding,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestCreateAndDropCollectionIdempotent(t *testing.T) {
	s := openTestVectorStore(t)

	if err := s.CreateCollection("notes"); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if err := s.CreateCollection("notes"); err != nil {
		t.Fatalf("second CreateCollection: %v", err)
	}
	if err := s.DropCollection("notes"); err != nil {
		t.Fatalf("DropCollection: %v", err)
	}
	if err := s.DropCollection("notes"); err != nil {
		t.Fatalf("DropCollection on missing namespace: %v", err)
	}
}

func TestUpsertDocumentReplacesPoints(t *testing.T) {
	s := openTestVectorStore(t)
	if err := s.CreateCollection("notes"); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	first := []Point{
		testPoint("doc-1", 0, []float32{1, 0, 0}),
		testPoint("doc-1", 1, []float32{0, 1, 0}),
		testPoint("doc-1", 2, []float32{0, 0, 1}),
	}
	if err := s.UpsertDocument("notes", "doc-1", first); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	n, err := s.CountPoints("notes", "doc-1")
	if err != nil {
		t.Fatalf("CountPoints: %v", err)
	}
	if n != 3 {
		t.Errorf("CountPoints = %d, want 3", n)
	}

	// Re-upserting with a smaller set must fully replace the old one.
	second := []Point{testPoint("doc-1", 0, []float32{1, 1, 0})}
	if err := s.UpsertDocument("notes", "doc-1", second); err != nil {
		t.Fatalf("second UpsertDocument: %v", err)
	}
	n, _ = s.CountPoints("notes", "doc-1")
	if n != 1 {
		t.Errorf("CountPoints after replace = %d, want 1", n)
	}
}

func TestSearchRankingAndThreshold(t *testing.T) {
	s := openTestVectorStore(t)
	if err := s.CreateCollection("notes"); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	// Query along the x axis. Scores: p0 = 1.0, p1 ~ 0.894, p2 = 0.0.
	points := []Point{
		testPoint("doc-1", 0, []float32{1, 0, 0}),
		testPoint("doc-1", 1, []float32{2, 1, 0}),
		testPoint("doc-1", 2, []float32{0, 1, 0}),
	}
	if err := s.UpsertDocument("notes", "doc-1", points); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	hits, err := s.Search(context.Background(), "notes", []float32{1, 0, 0}, 10, 0.5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2 (orthogonal point excluded by threshold)", len(hits))
	}
	if hits[0].ChunkIndex != 0 || hits[1].ChunkIndex != 1 {
		t.Errorf("hit order = [%d %d], want [0 1]", hits[0].ChunkIndex, hits[1].ChunkIndex)
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("scores not descending: %f < %f", hits[0].Score, hits[1].Score)
	}
	if hits[0].Text == "" || hits[0].Filename == "" {
		t.Errorf("payload not hydrated: %+v", hits[0].Point)
	}
	if hits[0].Collection != "notes" {
		t.Errorf("Collection = %q, want notes", hits[0].Collection)
	}
}

func TestSearchLimit(t *testing.T) {
	s := openTestVectorStore(t)
	if err := s.CreateCollection("notes"); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	var points []Point
	for i := 0; i < 10; i++ {
		// Increasing similarity to the x axis with chunk index.
		points = append(points, testPoint("doc-1", i, []float32{float32(i + 1), 1, 0}))
	}
	if err := s.UpsertDocument("notes", "doc-1", points); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	hits, err := s.Search(context.Background(), "notes", []float32{1, 0, 0}, 3, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	// The three most x-aligned vectors are the last three chunks.
	want := []int{9, 8, 7}
	for i, h := range hits {
		if h.ChunkIndex != want[i] {
			t.Errorf("hit %d chunk = %d, want %d", i, h.ChunkIndex, want[i])
		}
	}
}

// TestSearchTieBreak verifies that points with identical scores are returned
// in chunk index ascending order.
func TestSearchTieBreak(t *testing.T) {
	s := openTestVectorStore(t)
	if err := s.CreateCollection("notes"); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	// Identical embeddings score identically against any query.
	points := []Point{
		testPoint("doc-1", 2, []float32{1, 0}),
		testPoint("doc-1", 0, []float32{1, 0}),
		testPoint("doc-1", 1, []float32{1, 0}),
	}
	if err := s.UpsertDocument("notes", "doc-1", points); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	hits, err := s.Search(context.Background(), "notes", []float32{1, 0}, 2, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].ChunkIndex != 0 || hits[1].ChunkIndex != 1 {
		t.Errorf("tie-break order = [%d %d], want [0 1]", hits[0].ChunkIndex, hits[1].ChunkIndex)
	}
}

func TestSearchEmptyAndZeroCases(t *testing.T) {
	s := openTestVectorStore(t)
	if err := s.CreateCollection("empty"); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	hits, err := s.Search(context.Background(), "empty", []float32{1, 0}, 5, 0)
	if err != nil {
		t.Fatalf("Search on empty namespace: %v", err)
	}
	if hits != nil {
		t.Errorf("hits = %v, want nil", hits)
	}

	// Zero limit short-circuits.
	hits, err = s.Search(context.Background(), "empty", []float32{1, 0}, 0, 0)
	if err != nil || hits != nil {
		t.Errorf("Search(limit=0) = %v, %v; want nil, nil", hits, err)
	}

	// Zero query vector cannot be scored.
	hits, err = s.Search(context.Background(), "empty", []float32{0, 0}, 5, 0)
	if err != nil || hits != nil {
		t.Errorf("Search(zero vector) = %v, %v; want nil, nil", hits, err)
	}
}

func TestDeleteDocument(t *testing.T) {
	s := openTestVectorStore(t)
	if err := s.CreateCollection("notes"); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	if err := s.UpsertDocument("notes", "doc-1", []Point{testPoint("doc-1", 0, []float32{1, 0})}); err != nil {
		t.Fatalf("UpsertDocument doc-1: %v", err)
	}
	if err := s.UpsertDocument("notes", "doc-2", []Point{testPoint("doc-2", 0, []float32{0, 1})}); err != nil {
		t.Fatalf("UpsertDocument doc-2: %v", err)
	}

	if err := s.DeleteDocument("notes", "doc-1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	n, err := s.CountPoints("notes", "")
	if err != nil {
		t.Fatalf("CountPoints: %v", err)
	}
	if n != 1 {
		t.Errorf("points after delete = %d, want 1", n)
	}

	// Deleting a document with no points is a no-op.
	if err := s.DeleteDocument("notes", "doc-1"); err != nil {
		t.Errorf("second DeleteDocument: %v", err)
	}
}

func TestSizeBytes(t *testing.T) {
	s := openTestVectorStore(t)
	if err := s.CreateCollection("notes"); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	size, err := s.SizeBytes("notes")
	if err != nil {
		t.Fatalf("SizeBytes empty: %v", err)
	}
	if size != 0 {
		t.Errorf("empty SizeBytes = %d, want 0", size)
	}

	p := testPoint("doc-1", 0, []float32{1, 0, 0})
	if err := s.UpsertDocument("notes", "doc-1", []Point{p}); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	size, err = s.SizeBytes("notes")
	if err != nil {
		t.Fatalf("SizeBytes: %v", err)
	}
	want := int64(3*4 + len(p.Text))
	if size != want {
		t.Errorf("SizeBytes = %d, want %d", size, want)
	}
}

func TestFloat32Roundtrip(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, 3.14159, -2.71828}
	out, err := decodeFloat32s(encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("element %d: %f != %f", i, in[i], out[i])
		}
	}

	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("decoding misaligned bytes should fail")
	}
}
