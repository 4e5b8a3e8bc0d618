package kb

import "sync"

// collectionLocks hands out one RWMutex per collection name. Ingestions and
// queries hold the read side; delete and reset hold the write side, so a
// collection can never be dropped out from under an in-flight operation.
type collectionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func newCollectionLocks() *collectionLocks {
	return &collectionLocks{locks: make(map[string]*sync.RWMutex)}
}

func (c *collectionLocks) get(name string) *sync.RWMutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[name]
	if !ok {
		l = &sync.RWMutex{}
		c.locks[name] = l
	}
	return l
}

// RLock acquires the read side for name and returns the unlock func.
func (c *collectionLocks) RLock(name string) func() {
	l := c.get(name)
	l.RLock()
	return l.RUnlock
}

// Lock acquires the write side for name and returns the unlock func.
func (c *collectionLocks) Lock(name string) func() {
	l := c.get(name)
	l.Lock()
	return l.Unlock
}
