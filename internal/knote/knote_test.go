package knote_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kqio/kqueue/internal/kevent"
	"github.com/kqio/kqueue/internal/knote"
)

func TestKnoteLifecycle(t *testing.T) {
	released := 0
	kn := knote.New(kevent.EVFILT_USER, 42, 7, func() error {
		released++
		return nil
	})

	assert.Equal(t, uint64(42), kn.Ident)
	assert.Equal(t, int16(kevent.EVFILT_USER), kn.Filter)
	assert.Equal(t, uintptr(7), kn.Udata)
	assert.False(t, kn.Enabled())
	assert.False(t, kn.Armed())
	assert.False(t, kn.Deleted())

	kn.SetEnabled(true)
	kn.SetArmed(true)
	kn.SetOneshot(true)
	kn.SetDispatch(true)
	kn.SetClear(true)
	assert.True(t, kn.Enabled())
	assert.True(t, kn.Armed())
	assert.True(t, kn.Oneshot())
	assert.True(t, kn.Dispatch())
	assert.True(t, kn.Clear())

	assert.Equal(t, 0, released)
	assert.NoError(t, kn.Close())
	assert.Equal(t, 1, released)
	assert.True(t, kn.Deleted())

	// Close is idempotent: the release hook never fires twice.
	assert.NoError(t, kn.Close())
	assert.Equal(t, 1, released)
}

func TestKnoteAcquireReleaseOutlivesClose(t *testing.T) {
	released := 0
	kn := knote.New(kevent.EVFILT_READ, 1, 0, func() error {
		released++
		return nil
	})

	assert.True(t, kn.Acquire())
	assert.NoError(t, kn.Close())
	// teardown is deferred until the extra reference drops.
	assert.Equal(t, 0, released)
	kn.Release()
	assert.Equal(t, 1, released)
}

func TestKnoteAcquireAfterCloseFails(t *testing.T) {
	kn := knote.New(kevent.EVFILT_READ, 1, 0, func() error { return nil })
	assert.NoError(t, kn.Close())
	assert.False(t, kn.Acquire())
}
