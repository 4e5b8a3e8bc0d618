package vector

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore provides vector storage and brute-force cosine similarity
// search backed by SQLite, one table per collection namespace. Suitable up
// to roughly 100K vectors per collection; beyond that an ANN-backed Store
// implementation should take over.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations. Namespace
// tables are created on demand via CreateCollection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// tableFor maps a collection name to its namespace table. Collection names
// are slug-validated upstream, so quoting the identifier is enough to keep
// the generated SQL well-formed.
func tableFor(collection string) string {
	return fmt.Sprintf("%q", "vectors_"+collection)
}

// CreateCollection creates the namespace table if it does not exist.
func (s *SQLiteStore) CreateCollection(collection string) error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS ` + tableFor(collection) + ` (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		embedding BLOB NOT NULL,
		created_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating namespace for %s: %w", collection, err)
	}
	return nil
}

// DropCollection drops the namespace table. Dropping a namespace that was
// never created is a no-op.
func (s *SQLiteStore) DropCollection(collection string) error {
	if _, err := s.db.Exec(`DROP TABLE IF EXISTS ` + tableFor(collection)); err != nil {
		return fmt.Errorf("dropping namespace for %s: %w", collection, err)
	}
	return nil
}

// UpsertDocument deletes the document's existing points and inserts the new
// set inside one transaction, so re-ingesting a document id can never leave
// duplicate or orphaned chunks.
func (s *SQLiteStore) UpsertDocument(collection, documentID string, points []Point) error {
	table := tableFor(collection)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM `+table+` WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("clearing points for document %s: %w", documentID, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO ` + table + ` (id, document_id, filename, chunk_index, text, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		blob := encodeFloat32s(p.Embedding)
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.Exec(p.ID, p.DocumentID, p.Filename, p.ChunkIndex, p.Text, blob, createdAt.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("inserting point %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// idScore holds only the fields needed during the scan phase of Search.
// Full payloads are fetched only for top-K winners.
type idScore struct {
	ID         string
	ChunkIndex int
	Score      float32
}

// Search performs brute-force cosine similarity over the namespace,
// returning the top-K points at or above threshold, ranked descending.
func (s *SQLiteStore) Search(ctx context.Context, collection string, query []float32, limit int, threshold float32) ([]ScoredPoint, error) {
	if limit <= 0 {
		return nil, nil
	}
	table := tableFor(collection)

	// Phase 1: scan only id + chunk_index + embedding to find candidates.
	rows, err := s.db.QueryContext(ctx, `SELECT id, chunk_index, embedding FROM `+table)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	queryNorm := norm(query)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var chunkIndex int
		var blob []byte
		if err := rows.Scan(&id, &chunkIndex, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(query, buf, queryNorm)
		if score < threshold {
			continue
		}
		cand := idScore{ID: id, ChunkIndex: chunkIndex, Score: score}
		if h.Len() < limit {
			heap.Push(h, cand)
		} else if less((*h)[0], cand) {
			(*h)[0] = cand
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full payloads only for the winners.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	queryArgs := make([]any, len(topIDs))
	for i, id := range topIDs {
		queryArgs[i] = id
	}
	fullQuery := `SELECT id, document_id, filename, chunk_index, text, embedding, created_at
		FROM ` + table + ` WHERE id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.QueryContext(ctx, fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K points: %w", err)
	}
	defer fullRows.Close()

	var results []ScoredPoint
	for fullRows.Next() {
		p, err := scanPoint(fullRows, collection)
		if err != nil {
			return nil, err
		}
		results = append(results, ScoredPoint{Point: p, Score: scores[p.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full points: %w", err)
	}

	// The IN query does not preserve rank; restore score-descending order
	// with chunk_index ascending as the stable tie-break.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})

	return results, nil
}

// less orders scan candidates: a is worse than b when it scores lower, or
// scores equal but sits at a higher chunk index.
func less(a, b idScore) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ChunkIndex > b.ChunkIndex
}

func scanPoint(rows *sql.Rows, collection string) (Point, error) {
	var p Point
	var blob []byte
	var createdAt string
	if err := rows.Scan(&p.ID, &p.DocumentID, &p.Filename, &p.ChunkIndex, &p.Text, &blob, &createdAt); err != nil {
		return Point{}, fmt.Errorf("scanning point: %w", err)
	}
	embedding, err := decodeFloat32s(blob)
	if err != nil {
		return Point{}, fmt.Errorf("decoding embedding for %s: %w", p.ID, err)
	}
	p.Embedding = embedding
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Point{}, fmt.Errorf("parsing created_at: %w", err)
	}
	p.CreatedAt = t
	p.Collection = collection
	return p, nil
}

// DeleteDocument removes all points referencing the document id. Zero
// matching points is not an error.
func (s *SQLiteStore) DeleteDocument(collection, documentID string) error {
	if _, err := s.db.Exec(`DELETE FROM `+tableFor(collection)+` WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("deleting points for document %s: %w", documentID, err)
	}
	return nil
}

// CountPoints returns the point count for one document, or the whole
// namespace when documentID is empty.
func (s *SQLiteStore) CountPoints(collection, documentID string) (int, error) {
	var count int
	var err error
	if documentID == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM ` + tableFor(collection)).Scan(&count)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM `+tableFor(collection)+` WHERE document_id = ?`, documentID).Scan(&count)
	}
	return count, err
}

// SizeBytes approximates the namespace footprint as the sum of embedding
// and text payload sizes.
func (s *SQLiteStore) SizeBytes(collection string) (int64, error) {
	var size sql.NullInt64
	err := s.db.QueryRow(`SELECT SUM(LENGTH(embedding) + LENGTH(text)) FROM ` + tableFor(collection)).Scan(&size)
	if err != nil {
		return 0, err
	}
	return size.Int64, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4
// (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore: the worst candidate sits at the
// root so it can be evicted when a better one arrives.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return less(h[i], h[j]) }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
