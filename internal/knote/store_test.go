package knote_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kqio/kqueue/internal/errno"
	"github.com/kqio/kqueue/internal/kevent"
	"github.com/kqio/kqueue/internal/knote"
)

func TestStoreInsertGetRemove(t *testing.T) {
	s := knote.NewStore()
	assert.Equal(t, 0, s.Len())

	kn := knote.New(kevent.EVFILT_TIMER, 1, 0, func() error { return nil })
	assert.NoError(t, s.Insert(kn))
	assert.Equal(t, 1, s.Len())

	got, ok := s.Get(1)
	assert.True(t, ok)
	assert.Same(t, kn, got)

	// Duplicate insert fails.
	dup := knote.New(kevent.EVFILT_TIMER, 1, 0, func() error { return nil })
	assert.ErrorIs(t, s.Insert(dup), errno.ErrExists)

	assert.NoError(t, s.Remove(1))
	assert.Equal(t, 0, s.Len())
	_, ok = s.Get(1)
	assert.False(t, ok)

	assert.ErrorIs(t, s.Remove(1), errno.ErrNotFound)
}

func TestStoreRange(t *testing.T) {
	s := knote.NewStore()
	for i := uint64(0); i < 3; i++ {
		assert.NoError(t, s.Insert(knote.New(kevent.EVFILT_USER, i, 0, func() error { return nil })))
	}

	seen := map[uint64]bool{}
	s.Range(func(ident uint64, kn *knote.Knote) bool {
		seen[ident] = true
		return true
	})
	assert.Len(t, seen, 3)

	// Early termination.
	count := 0
	s.Range(func(ident uint64, kn *knote.Knote) bool {
		count++
		return false
	})
	assert.Equal(t, 1, count)
}
