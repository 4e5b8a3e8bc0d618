package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for collections, document
// metadata, query logs, and config entries.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used
// by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "kbase.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// DB exposes the underlying connection so the vector store can share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func marshalTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalTags(s string) []string {
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil
	}
	return tags
}

// --- Collections ---

const collectionColumns = "name, description, tags, created_by, created_at, document_count, total_size_bytes, is_default"

func scanCollection(row interface{ Scan(...any) error }) (Collection, error) {
	var c Collection
	var tags, createdAt string
	var isDefault int
	err := row.Scan(&c.Name, &c.Description, &tags, &c.CreatedBy, &createdAt,
		&c.DocumentCount, &c.TotalSizeBytes, &isDefault)
	if err == sql.ErrNoRows {
		return Collection{}, ErrNotFound
	}
	if err != nil {
		return Collection{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Collection{}, fmt.Errorf("parsing created_at: %w", err)
	}
	c.CreatedAt = t
	c.Tags = unmarshalTags(tags)
	c.IsDefault = isDefault != 0
	return c, nil
}

// CreateCollection inserts a collection row. Returns ErrDuplicate if the
// name is already taken.
func (s *Store) CreateCollection(c Collection) error {
	isDefault := 0
	if c.IsDefault {
		isDefault = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO collections (`+collectionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.Description, marshalTags(c.Tags), c.CreatedBy,
		c.CreatedAt.UTC().Format(time.RFC3339), c.DocumentCount, c.TotalSizeBytes, isDefault,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("collection %q: %w", c.Name, ErrDuplicate)
	}
	return err
}

// GetCollection returns the collection with the given name, or ErrNotFound.
func (s *Store) GetCollection(name string) (Collection, error) {
	row := s.db.QueryRow("SELECT "+collectionColumns+" FROM collections WHERE name = ?", name)
	return scanCollection(row)
}

// ListCollections returns all collections ordered by name.
func (s *Store) ListCollections() ([]Collection, error) {
	rows, err := s.db.Query("SELECT " + collectionColumns + " FROM collections ORDER BY name ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// UpdateCollection overwrites description and/or tags. Nil arguments leave
// the existing value in place.
func (s *Store) UpdateCollection(name string, description *string, tags []string) error {
	c, err := s.GetCollection(name)
	if err != nil {
		return err
	}
	if description != nil {
		c.Description = *description
	}
	if tags != nil {
		c.Tags = tags
	}
	res, err := s.db.Exec(`UPDATE collections SET description = ?, tags = ? WHERE name = ?`,
		c.Description, marshalTags(c.Tags), name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDefaultCollection atomically clears the previous default flag and sets
// it on name. Returns ErrNotFound if name does not exist.
func (s *Store) SetDefaultCollection(name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning set-default transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE collections SET is_default = 1 WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(`UPDATE collections SET is_default = 0 WHERE name != ?`, name); err != nil {
		return err
	}

	return tx.Commit()
}

// DefaultCollection returns the collection currently flagged as default,
// or ErrNotFound if none is.
func (s *Store) DefaultCollection() (Collection, error) {
	row := s.db.QueryRow("SELECT " + collectionColumns + " FROM collections WHERE is_default = 1 LIMIT 1")
	return scanCollection(row)
}

// DeleteCollection removes the collection row and all its document metadata
// rows in one transaction. Vector namespace cleanup is the caller's job.
func (s *Store) DeleteCollection(name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM collections WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(`DELETE FROM documents WHERE collection = ?`, name); err != nil {
		return err
	}

	return tx.Commit()
}

// --- Documents ---

const documentColumns = "id, filename, content_type, size_bytes, collection, chunk_count, uploaded_at, status, tags"

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var d Document
	var tags, uploadedAt string
	err := row.Scan(&d.ID, &d.Filename, &d.ContentType, &d.SizeBytes, &d.Collection,
		&d.ChunkCount, &uploadedAt, &d.Status, &tags)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	t, err := time.Parse(time.RFC3339, uploadedAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing uploaded_at: %w", err)
	}
	d.UploadedAt = t
	d.Tags = unmarshalTags(tags)
	return d, nil
}

// SaveDocument writes the document metadata row, replacing any previous row
// under the same id, and adjusts the owning collection's aggregates in the
// same transaction, so a document never commits without its collection
// counters moving with it.
func (s *Store) SaveDocument(d Document) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	// Replace by id: a re-ingested document keeps its id, so fold the
	// previous row out of the aggregates before inserting the new one.
	var prevSize int64
	var prevCollection string
	err = tx.QueryRow(`SELECT size_bytes, collection FROM documents WHERE id = ?`, d.ID).
		Scan(&prevSize, &prevCollection)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("checking existing document %s: %w", d.ID, err)
	default:
		if _, err := tx.Exec(`DELETE FROM documents WHERE id = ?`, d.ID); err != nil {
			return fmt.Errorf("replacing document %s: %w", d.ID, err)
		}
		if _, err := tx.Exec(`
			UPDATE collections
			SET document_count = MAX(document_count - 1, 0),
			    total_size_bytes = MAX(total_size_bytes - ?, 0)
			WHERE name = ?`, prevSize, prevCollection); err != nil {
			return fmt.Errorf("updating collection aggregates: %w", err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Filename, d.ContentType, d.SizeBytes, d.Collection,
		d.ChunkCount, d.UploadedAt.UTC().Format(time.RFC3339), d.Status, marshalTags(d.Tags),
	); err != nil {
		return fmt.Errorf("inserting document %s: %w", d.ID, err)
	}

	res, err := tx.Exec(`
		UPDATE collections
		SET document_count = document_count + 1, total_size_bytes = total_size_bytes + ?
		WHERE name = ?`, d.SizeBytes, d.Collection)
	if err != nil {
		return fmt.Errorf("updating collection aggregates: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("collection %q: %w", d.Collection, ErrNotFound)
	}

	return tx.Commit()
}

// GetDocument returns the document with the given id, or ErrNotFound.
func (s *Store) GetDocument(id string) (Document, error) {
	row := s.db.QueryRow("SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	return scanDocument(row)
}

// ListDocuments returns all documents in a collection, newest first.
func (s *Store) ListDocuments(collection string) ([]Document, error) {
	rows, err := s.db.Query("SELECT "+documentColumns+" FROM documents WHERE collection = ? ORDER BY uploaded_at DESC", collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// RemoveDocument deletes the metadata row and decrements the owning
// collection's aggregates in one transaction. Returns the removed document
// so the caller can clean up its vector points.
func (s *Store) RemoveDocument(id string) (Document, error) {
	d, err := s.GetDocument(id)
	if err != nil {
		return Document{}, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Document{}, fmt.Errorf("beginning remove transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM documents WHERE id = ?`, id); err != nil {
		return Document{}, fmt.Errorf("deleting document %s: %w", id, err)
	}

	if _, err := tx.Exec(`
		UPDATE collections
		SET document_count = MAX(document_count - 1, 0),
		    total_size_bytes = MAX(total_size_bytes - ?, 0)
		WHERE name = ?`, d.SizeBytes, d.Collection); err != nil {
		return Document{}, fmt.Errorf("updating collection aggregates: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Document{}, err
	}
	return d, nil
}

// --- Query logs ---

// SaveQueryLog appends a query log entry.
func (s *Store) SaveQueryLog(q QueryLog) error {
	_, err := s.db.Exec(`
		INSERT INTO query_logs (id, query, collection, kind, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		q.ID, q.Query, q.Collection, q.Kind, q.LatencyMs, q.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// CountQueriesSince returns the number of query log entries of the given
// kind created at or after since.
func (s *Store) CountQueriesSince(kind string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM query_logs WHERE kind = ? AND created_at >= ?`,
		kind, since.UTC().Format(time.RFC3339)).Scan(&count)
	return count, err
}

// RecentQueryLogs returns the most recent query log entries, newest first.
func (s *Store) RecentQueryLogs(limit int) ([]QueryLog, error) {
	rows, err := s.db.Query(`
		SELECT id, query, collection, kind, latency_ms, created_at
		FROM query_logs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []QueryLog
	for rows.Next() {
		var q QueryLog
		var createdAt string
		if err := rows.Scan(&q.ID, &q.Query, &q.Collection, &q.Kind, &q.LatencyMs, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		q.CreatedAt = t
		results = append(results, q)
	}
	return results, rows.Err()
}

// --- Config entries ---

// SetConfigEntry upserts a key/value pair with the current timestamp.
func (s *Store) SetConfigEntry(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO config_entries (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetConfigEntry returns the value for key, or ErrNotFound.
func (s *Store) GetConfigEntry(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM config_entries WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// ConfigValue returns the stored value for key, falling back to fallback
// when the key is absent or unreadable.
func (s *Store) ConfigValue(key, fallback string) string {
	v, err := s.GetConfigEntry(key)
	if err != nil || v == "" {
		return fallback
	}
	return v
}

// ListConfigEntries returns all config entries ordered by key.
func (s *Store) ListConfigEntries() ([]ConfigEntry, error) {
	rows, err := s.db.Query("SELECT key, value, updated_at FROM config_entries ORDER BY key ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ConfigEntry
	for rows.Next() {
		var e ConfigEntry
		var updatedAt string
		if err := rows.Scan(&e.Key, &e.Value, &updatedAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		e.UpdatedAt = t
		results = append(results, e)
	}
	return results, rows.Err()
}

// --- Stats ---

// Stats aggregates corpus-wide counters for the stats endpoint.
type Stats struct {
	DocumentsIndexed int
	TotalDocuments   int
	LastUpdated      time.Time
}

// CollectStats computes document counters and the most recent upload time.
func (s *Store) CollectStats() (Stats, error) {
	var st Stats
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM documents WHERE status = ?`, StatusIndexed).Scan(&st.DocumentsIndexed); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&st.TotalDocuments); err != nil {
		return Stats{}, err
	}

	var last sql.NullString
	if err := s.db.QueryRow(`SELECT MAX(uploaded_at) FROM documents`).Scan(&last); err != nil {
		return Stats{}, err
	}
	if last.Valid {
		t, err := time.Parse(time.RFC3339, last.String)
		if err != nil {
			return Stats{}, fmt.Errorf("parsing last uploaded_at: %w", err)
		}
		st.LastUpdated = t
	}
	return st, nil
}
