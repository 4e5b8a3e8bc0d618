package kb

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/kalambet/kbase/internal/storage"
)

// slugRe constrains collection names so they can serve as both relational
// keys and vector namespace identifiers.
var slugRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// MetadataStore is the slice of the relational store the manager needs.
type MetadataStore interface {
	CreateCollection(c storage.Collection) error
	GetCollection(name string) (storage.Collection, error)
	ListCollections() ([]storage.Collection, error)
	UpdateCollection(name string, description *string, tags []string) error
	SetDefaultCollection(name string) error
	DefaultCollection() (storage.Collection, error)
	DeleteCollection(name string) error
	ListDocuments(collection string) ([]storage.Document, error)
}

// VectorNamespaces is the slice of the vector store the manager needs to
// keep namespaces reconciled 1:1 with collection rows.
type VectorNamespaces interface {
	CreateCollection(collection string) error
	DropCollection(collection string) error
}

// Manager is the single source of truth for which collection a requested
// name actually resolves to. It owns the exactly-one-default invariant and
// the per-collection locks that serialize deletes against in-flight work.
//
// Manager is safe for concurrent use by multiple goroutines.
type Manager struct {
	meta        MetadataStore
	vectors     VectorNamespaces
	defaultName string
	logger      *slog.Logger

	// mu guards default-flag transitions and implicit default creation so
	// readers always observe exactly one default (or an empty system).
	mu    sync.Mutex
	locks *collectionLocks
}

// NewManager creates a Manager. defaultName is the collection created on
// demand when a caller references a name that does not exist and no default
// is reachable yet.
func NewManager(meta MetadataStore, vectors VectorNamespaces, defaultName string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		meta:        meta,
		vectors:     vectors,
		defaultName: defaultName,
		logger:      logger,
		locks:       newCollectionLocks(),
	}
}

// ValidateName reports whether name is an acceptable collection slug.
func ValidateName(name string) error {
	if !slugRe.MatchString(name) {
		return fmt.Errorf("%w: %q (want lowercase letters, digits, '_' or '-')", ErrInvalidName, name)
	}
	return nil
}

// AcquireRead takes the read lock for a collection on behalf of an
// ingestion or query; the returned func releases it.
func (m *Manager) AcquireRead(name string) func() {
	return m.locks.RLock(name)
}

// Create adds an empty collection and its vector namespace. The first
// collection in the system becomes the default automatically.
func (m *Manager) Create(name, description string, tags []string, createdBy string) (storage.Collection, error) {
	if err := ValidateName(name); err != nil {
		return storage.Collection{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := storage.Collection{
		Name:        name,
		Description: description,
		Tags:        tags,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now().UTC(),
	}

	// Keep the system resolvable: if no default exists yet, this one is it.
	if _, err := m.meta.DefaultCollection(); errors.Is(err, storage.ErrNotFound) {
		c.IsDefault = true
	} else if err != nil {
		return storage.Collection{}, fmt.Errorf("%w: checking default: %w", ErrMetadataStore, err)
	}

	if err := m.meta.CreateCollection(c); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return storage.Collection{}, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		return storage.Collection{}, fmt.Errorf("%w: creating collection: %w", ErrMetadataStore, err)
	}

	if err := m.vectors.CreateCollection(name); err != nil {
		// Roll the row back so metadata and namespaces stay 1:1.
		if delErr := m.meta.DeleteCollection(name); delErr != nil {
			m.logger.Error("orphaned collection row after namespace failure",
				"collection", name, "error", delErr)
		}
		return storage.Collection{}, fmt.Errorf("%w: creating namespace: %w", ErrVectorStore, err)
	}

	m.logger.Info("collection created", "collection", name, "default", c.IsDefault)
	return c, nil
}

// Get returns the collection and its document metadata. Exact match only:
// a missing name surfaces ErrNotFound, never the default.
func (m *Manager) Get(name string) (storage.Collection, []storage.Document, error) {
	c, err := m.meta.GetCollection(name)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Collection{}, nil, fmt.Errorf("%w: collection %q", ErrNotFound, name)
	}
	if err != nil {
		return storage.Collection{}, nil, fmt.Errorf("%w: %w", ErrMetadataStore, err)
	}
	docs, err := m.meta.ListDocuments(name)
	if err != nil {
		return storage.Collection{}, nil, fmt.Errorf("%w: listing documents: %w", ErrMetadataStore, err)
	}
	return c, docs, nil
}

// List returns all collections.
func (m *Manager) List() ([]storage.Collection, error) {
	cs, err := m.meta.ListCollections()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadataStore, err)
	}
	return cs, nil
}

// Update overwrites description and/or tags; nil leaves a field unchanged.
func (m *Manager) Update(name string, description *string, tags []string) (storage.Collection, error) {
	if err := m.meta.UpdateCollection(name, description, tags); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Collection{}, fmt.Errorf("%w: collection %q", ErrNotFound, name)
		}
		return storage.Collection{}, fmt.Errorf("%w: %w", ErrMetadataStore, err)
	}
	c, err := m.meta.GetCollection(name)
	if err != nil {
		return storage.Collection{}, fmt.Errorf("%w: %w", ErrMetadataStore, err)
	}
	return c, nil
}

// SetDefault atomically moves the default flag to name. Readers observe the
// old default or the new one, never zero or two.
func (m *Manager) SetDefault(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.meta.SetDefaultCollection(name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: collection %q", ErrNotFound, name)
		}
		return fmt.Errorf("%w: %w", ErrMetadataStore, err)
	}
	m.logger.Info("default collection changed", "collection", name)
	return nil
}

// Delete removes a collection, cascading its vector namespace and metadata
// rows. Without force it refuses non-empty collections. Deleting the
// current default is allowed; the next ResolveOrDefault re-creates one.
func (m *Manager) Delete(name string, force bool) error {
	unlock := m.locks.Lock(name)
	defer unlock()

	c, err := m.meta.GetCollection(name)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: collection %q", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMetadataStore, err)
	}

	if c.DocumentCount > 0 && !force {
		return fmt.Errorf("%w: %q holds %d documents", ErrNotEmpty, name, c.DocumentCount)
	}

	// Namespace first: if the drop fails the metadata row survives, so the
	// delete can be retried and a later Create cannot resurrect old points.
	if err := m.vectors.DropCollection(name); err != nil {
		return fmt.Errorf("%w: dropping namespace: %w", ErrVectorStore, err)
	}
	if err := m.meta.DeleteCollection(name); err != nil {
		return fmt.Errorf("%w: deleting collection: %w", ErrMetadataStore, err)
	}

	m.logger.Info("collection deleted", "collection", name, "forced", force, "was_default", c.IsDefault)
	return nil
}

// ResolveOrDefault maps a requested collection name to the one operations
// actually target. An existing name resolves to itself; anything else falls
// back to the current default, creating the configured default collection
// first if none exists. Ingestion and query share this helper so content
// can never land somewhere queries don't look.
func (m *Manager) ResolveOrDefault(requested string) (string, error) {
	if requested != "" {
		_, err := m.meta.GetCollection(requested)
		if err == nil {
			return requested, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%w: resolving %q: %w", ErrMetadataStore, requested, err)
		}
		m.logger.Warn("collection not found, falling back to default", "requested", requested)
	}

	return m.ensureDefault()
}

// ensureDefault returns the current default collection name, creating or
// re-flagging the configured default when the system has none.
func (m *Manager) ensureDefault() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.meta.DefaultCollection()
	if err == nil {
		return d.Name, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: reading default: %w", ErrMetadataStore, err)
	}

	// No default anywhere. If the configured default collection exists as a
	// plain collection, promote it; otherwise create it from scratch.
	if _, err := m.meta.GetCollection(m.defaultName); err == nil {
		if err := m.meta.SetDefaultCollection(m.defaultName); err != nil {
			return "", fmt.Errorf("%w: promoting default: %w", ErrMetadataStore, err)
		}
		m.logger.Info("promoted existing collection to default", "collection", m.defaultName)
		return m.defaultName, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: %w", ErrMetadataStore, err)
	}

	c := storage.Collection{
		Name:        m.defaultName,
		Description: "Default knowledge base collection",
		CreatedBy:   "system",
		CreatedAt:   time.Now().UTC(),
		IsDefault:   true,
	}
	if err := m.meta.CreateCollection(c); err != nil {
		return "", fmt.Errorf("%w: creating default collection: %w", ErrMetadataStore, err)
	}
	if err := m.vectors.CreateCollection(m.defaultName); err != nil {
		return "", fmt.Errorf("%w: creating default namespace: %w", ErrVectorStore, err)
	}

	m.logger.Info("default collection created on demand", "collection", m.defaultName)
	return m.defaultName, nil
}
