package knote

import (
	"sync"

	"github.com/kqio/kqueue/internal/errno"
)

// Store is the per-filter ident -> knote index (design §4.1). Its
// RWMutex is lock hierarchy level 2 ("filter lock"): callers must hold
// it before touching any knote reachable from this store, and it must
// be held for the duration of Range so teardown is safe against
// concurrent mutation.
type Store struct {
	mu     sync.RWMutex
	knotes map[uint64]*Knote
}

// NewStore creates an empty knote store for one filter.
func NewStore() *Store {
	return &Store{knotes: make(map[uint64]*Knote)}
}

// Lock acquires the filter lock for writing (insert/remove).
func (s *Store) Lock() { s.mu.Lock() }

// Unlock releases the filter lock.
func (s *Store) Unlock() { s.mu.Unlock() }

// RLock acquires the filter lock for reading (lookup only).
func (s *Store) RLock() { s.mu.RLock() }

// RUnlock releases the read lock.
func (s *Store) RUnlock() { s.mu.RUnlock() }

// Get looks up a knote by ident. Caller must hold at least RLock.
func (s *Store) Get(ident uint64) (*Knote, bool) {
	kn, ok := s.knotes[ident]
	return kn, ok
}

// Insert adds a new knote, failing with errno.ErrExists if ident is
// already registered. Caller must hold Lock.
func (s *Store) Insert(kn *Knote) error {
	if _, ok := s.knotes[kn.Ident]; ok {
		return errno.ErrExists
	}
	s.knotes[kn.Ident] = kn
	return nil
}

// Remove deletes ident from the index and tears down its OS resource
// (via Knote.Close), returning errno.ErrNotFound if it was never
// registered. Caller must hold Lock.
func (s *Store) Remove(ident uint64) error {
	kn, ok := s.knotes[ident]
	if !ok {
		return errno.ErrNotFound
	}
	delete(s.knotes, ident)
	return kn.Close()
}

// Range iterates every knote in the store. Caller must hold Lock (or
// RLock, if the callback does not mutate the map) for the duration —
// teardown loops call this while holding Lock so no insert/remove can
// interleave with the sweep.
func (s *Store) Range(fn func(ident uint64, kn *Knote) bool) {
	for ident, kn := range s.knotes {
		if !fn(ident, kn) {
			return
		}
	}
}

// Len reports the number of live knotes. Caller must hold RLock or Lock.
func (s *Store) Len() int { return len(s.knotes) }
