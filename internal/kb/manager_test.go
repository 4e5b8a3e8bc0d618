package kb

import (
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/kbase/internal/storage"
	"github.com/kalambet/kbase/internal/vector"
)

func newTestManager(t *testing.T) (*Manager, *storage.Store) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewManager(s, vector.NewSQLiteStore(s.DB()), "default", nil), s
}

func TestValidateName(t *testing.T) {
	valid := []string{"a", "notes", "my-notes", "my_notes", "a1", "0start"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "Notes", "has space", "-leading", "_leading", "dots.bad", "a/b",
		strings.Repeat("a", 65)}
	for _, name := range invalid {
		if err := ValidateName(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidateName(%q) = %v, want ErrInvalidName", name, err)
		}
	}
}

// TestCreateFirstCollectionIsDefault verifies the first collection in an
// empty system becomes the default automatically.
func TestCreateFirstCollectionIsDefault(t *testing.T) {
	m, _ := newTestManager(t)

	c, err := m.Create("first", "", nil, "test")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !c.IsDefault {
		t.Error("first collection should be default")
	}

	c2, err := m.Create("second", "", nil, "test")
	if err != nil {
		t.Fatalf("Create second: %v", err)
	}
	if c2.IsDefault {
		t.Error("second collection should not be default")
	}
}

func TestCreateDuplicate(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.Create("dup", "", nil, "test"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create("dup", "", nil, "test"); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("duplicate Create = %v, want ErrDuplicateName", err)
	}
}

func TestCreateInvalidName(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Create("Bad Name", "", nil, "test"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Create(invalid) = %v, want ErrInvalidName", err)
	}
}

func TestGetExactMatchOnly(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.Create("exists", "", nil, "test"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	c, docs, err := m.Get("exists")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Name != "exists" || len(docs) != 0 {
		t.Errorf("Get = %+v, %v", c, docs)
	}

	// Get never falls back to the default.
	if _, _, err := m.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestSetDefaultMovesFlag(t *testing.T) {
	m, s := newTestManager(t)

	if _, err := m.Create("alpha", "", nil, "test"); err != nil {
		t.Fatalf("Create alpha: %v", err)
	}
	if _, err := m.Create("beta", "", nil, "test"); err != nil {
		t.Fatalf("Create beta: %v", err)
	}

	if err := m.SetDefault("beta"); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}

	all, err := s.ListCollections()
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	defaults := 0
	for _, c := range all {
		if c.IsDefault {
			defaults++
			if c.Name != "beta" {
				t.Errorf("default = %q, want beta", c.Name)
			}
		}
	}
	if defaults != 1 {
		t.Errorf("default count = %d, want 1", defaults)
	}

	if err := m.SetDefault("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetDefault(missing) = %v, want ErrNotFound", err)
	}
}

func TestDeleteRefusesNonEmpty(t *testing.T) {
	m, s := newTestManager(t)

	if _, err := m.Create("full", "", nil, "test"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	doc := storage.Document{
		ID:         "doc-1",
		Filename:   "a.txt",
		Collection: "full",
		Status:     storage.StatusIndexed,
	}
	if err := s.SaveDocument(doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	if err := m.Delete("full", false); !errors.Is(err, ErrNotEmpty) {
		t.Errorf("Delete(non-empty) = %v, want ErrNotEmpty", err)
	}

	if err := m.Delete("full", true); err != nil {
		t.Fatalf("Delete(force): %v", err)
	}
	if _, _, err := m.Get("full"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}

	if err := m.Delete("full", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(missing) = %v, want ErrNotFound", err)
	}
}

// flakyVectors wraps a real vector store but fails DropCollection on demand.
type flakyVectors struct {
	*vector.SQLiteStore
	dropErr error
}

func (f *flakyVectors) DropCollection(collection string) error {
	if f.dropErr != nil {
		return f.dropErr
	}
	return f.SQLiteStore.DropCollection(collection)
}

// TestDeleteRetryableAfterDropFailure verifies a failed namespace drop
// leaves the metadata row in place, so the delete can be retried instead of
// stranding the points behind an ErrNotFound.
func TestDeleteRetryableAfterDropFailure(t *testing.T) {
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	vs := &flakyVectors{SQLiteStore: vector.NewSQLiteStore(s.DB())}
	m := NewManager(s, vs, "default", nil)

	if _, err := m.Create("doomed", "", nil, "test"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	vs.dropErr = errors.New("disk error")
	if err := m.Delete("doomed", false); !errors.Is(err, ErrVectorStore) {
		t.Fatalf("Delete = %v, want ErrVectorStore", err)
	}

	// The collection must still exist, not ErrNotFound.
	if _, _, err := m.Get("doomed"); err != nil {
		t.Fatalf("Get after failed delete: %v", err)
	}

	vs.dropErr = nil
	if err := m.Delete("doomed", false); err != nil {
		t.Fatalf("retried Delete: %v", err)
	}
	if _, _, err := m.Get("doomed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after retry = %v, want ErrNotFound", err)
	}
}

// TestResolveOrDefaultFallback verifies the resolution chain: exact match,
// then current default, then implicit creation of the configured default.
func TestResolveOrDefaultFallback(t *testing.T) {
	m, _ := newTestManager(t)

	// Empty system: resolving anything creates the configured default.
	name, err := m.ResolveOrDefault("nonexistent")
	if err != nil {
		t.Fatalf("ResolveOrDefault on empty system: %v", err)
	}
	if name != "default" {
		t.Errorf("resolved = %q, want default", name)
	}
	c, _, err := m.Get("default")
	if err != nil {
		t.Fatalf("Get(default): %v", err)
	}
	if !c.IsDefault {
		t.Error("implicitly created collection should be flagged default")
	}

	// Existing names resolve to themselves.
	if _, err := m.Create("specific", "", nil, "test"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	name, err = m.ResolveOrDefault("specific")
	if err != nil {
		t.Fatalf("ResolveOrDefault(specific): %v", err)
	}
	if name != "specific" {
		t.Errorf("resolved = %q, want specific", name)
	}

	// Empty request goes straight to the default.
	name, err = m.ResolveOrDefault("")
	if err != nil {
		t.Fatalf("ResolveOrDefault(empty): %v", err)
	}
	if name != "default" {
		t.Errorf("resolved = %q, want default", name)
	}
}

// TestResolveOrDefaultAfterDefaultDeleted verifies that deleting the default
// collection leaves the system resolvable: the next resolution promotes the
// configured default if it exists, or re-creates it.
func TestResolveOrDefaultAfterDefaultDeleted(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.Create("default", "", nil, "test"); err != nil {
		t.Fatalf("Create default: %v", err)
	}
	if _, err := m.Create("other", "", nil, "test"); err != nil {
		t.Fatalf("Create other: %v", err)
	}

	if err := m.Delete("default", false); err != nil {
		t.Fatalf("Delete default: %v", err)
	}

	// "other" exists but is not flagged default; "default" is gone. The
	// configured default gets re-created on demand.
	name, err := m.ResolveOrDefault("missing")
	if err != nil {
		t.Fatalf("ResolveOrDefault: %v", err)
	}
	if name != "default" {
		t.Errorf("resolved = %q, want default", name)
	}
	c, _, err := m.Get("default")
	if err != nil {
		t.Fatalf("Get(default): %v", err)
	}
	if !c.IsDefault {
		t.Error("re-created default collection should be flagged default")
	}
}

// TestResolveOrDefaultPromotesExisting verifies that an existing, unflagged
// collection matching the configured default name is promoted rather than
// duplicated.
func TestResolveOrDefaultPromotesExisting(t *testing.T) {
	m, s := newTestManager(t)

	// Two collections; the default flag sits on "primary".
	if _, err := m.Create("primary", "", nil, "test"); err != nil {
		t.Fatalf("Create primary: %v", err)
	}
	if _, err := m.Create("default", "", nil, "test"); err != nil {
		t.Fatalf("Create default: %v", err)
	}

	// Deleting the flagged default leaves "default" present but unflagged.
	if err := m.Delete("primary", false); err != nil {
		t.Fatalf("Delete primary: %v", err)
	}

	name, err := m.ResolveOrDefault("")
	if err != nil {
		t.Fatalf("ResolveOrDefault: %v", err)
	}
	if name != "default" {
		t.Errorf("resolved = %q, want default", name)
	}

	all, err := s.ListCollections()
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("collection count = %d, want 1 (promotion, not duplication)", len(all))
	}
	if !all[0].IsDefault {
		t.Error("promoted collection should be flagged default")
	}
}

func TestUpdateCollection(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.Create("notes", "old", nil, "test"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	desc := "new description"
	c, err := m.Update("notes", &desc, []string{"tag1"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if c.Description != "new description" {
		t.Errorf("Description = %q", c.Description)
	}
	if len(c.Tags) != 1 || c.Tags[0] != "tag1" {
		t.Errorf("Tags = %v", c.Tags)
	}

	if _, err := m.Update("missing", &desc, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) = %v, want ErrNotFound", err)
	}
}
