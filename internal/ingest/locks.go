package ingest

import "sync"

// DocLocks serializes operations on a composite key, used to prevent two
// concurrent re-ingestions of the same (collection, document id) from
// interleaving their delete-then-insert phases.
type DocLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewDocLocks returns an empty lock registry.
func NewDocLocks() *DocLocks {
	return &DocLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns the unlock func.
func (d *DocLocks) Lock(key string) func() {
	d.mu.Lock()
	l, ok := d.locks[key]
	if !ok {
		l = &sync.Mutex{}
		d.locks[key] = l
	}
	d.mu.Unlock()

	l.Lock()
	return l.Unlock
}
