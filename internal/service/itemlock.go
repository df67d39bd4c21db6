package service

import "sync"

// itemLocks serializes the read-modify-write of one item's aggregate while
// letting distinct items proceed in parallel. Locks are reference-counted so
// the map does not grow with the item catalog.
type itemLocks struct {
	mu    sync.Mutex
	locks map[string]*itemLock
}

type itemLock struct {
	mu   sync.Mutex
	refs int
}

func newItemLocks() *itemLocks {
	return &itemLocks{locks: make(map[string]*itemLock)}
}

// lock acquires the mutex for one item id, creating it on first use.
func (l *itemLocks) lock(id string) {
	l.mu.Lock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &itemLock{}
		l.locks[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()
}

// unlock releases the item mutex and drops the map entry once unreferenced.
func (l *itemLocks) unlock(id string) {
	l.mu.Lock()
	lk := l.locks[id]
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, id)
	}
	l.mu.Unlock()

	lk.mu.Unlock()
}
