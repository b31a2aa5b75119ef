//go:build linux
// +build linux

package filter_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kqio/kqueue/internal/aggregator"
	"github.com/kqio/kqueue/internal/filter"
	"github.com/kqio/kqueue/internal/kevent"
	"github.com/kqio/kqueue/internal/knote"
)

func TestVnodeFilterWriteNotification(t *testing.T) {
	agg, err := aggregator.New(0)
	require.NoError(t, err)
	defer agg.Close()

	f := &filter.VnodeFilter{}
	ctx := &filter.Context{Agg: agg, Store: knote.NewStore()}
	require.NoError(t, f.Init(ctx))
	defer f.Destroy(ctx)

	path := filepath.Join(t.TempDir(), "watched")
	fh, err := os.Create(path)
	require.NoError(t, err)
	defer fh.Close()

	add := &kevent.Event{
		Ident: uint64(fh.Fd()), Filter: kevent.EVFILT_VNODE, Flags: kevent.EV_ADD,
		Fflags: kevent.NOTE_WRITE,
	}
	_, err = f.ApplyChange(ctx, add)
	require.NoError(t, err)

	_, err = fh.WriteString("hello")
	require.NoError(t, err)
	require.NoError(t, fh.Sync())

	d := time.Second
	readiness, err := agg.Wait(&d)
	require.NoError(t, err)
	require.NotEmpty(t, readiness)

	ev, _, err := f.Copyout(ctx, readiness[0])
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, uint64(fh.Fd()), ev.Ident)
	assert.NotZero(t, ev.Fflags&kevent.NOTE_WRITE)
}

func TestVnodeFilterDeleteSelfAutoDisablesWithoutRemoval(t *testing.T) {
	agg, err := aggregator.New(0)
	require.NoError(t, err)
	defer agg.Close()

	f := &filter.VnodeFilter{}
	ctx := &filter.Context{Agg: agg, Store: knote.NewStore()}
	require.NoError(t, f.Init(ctx))
	defer f.Destroy(ctx)

	path := filepath.Join(t.TempDir(), "vanishing")
	fh, err := os.Create(path)
	require.NoError(t, err)
	defer fh.Close()
	ident := uint64(fh.Fd())

	add := &kevent.Event{
		Ident: ident, Filter: kevent.EVFILT_VNODE, Flags: kevent.EV_ADD,
		Fflags: kevent.NOTE_DELETE,
	}
	_, err = f.ApplyChange(ctx, add)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))

	d := time.Second
	readiness, err := agg.Wait(&d)
	require.NoError(t, err)
	require.NotEmpty(t, readiness)

	ev, _, err := f.Copyout(ctx, readiness[0])
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.NotZero(t, ev.Fflags&kevent.NOTE_DELETE)

	// The knote must still be resident, merely disabled, so an explicit
	// EV_DELETE (or a later EV_ENABLE) still finds it instead of getting
	// ErrNotFound the way a fully-removed knote would.
	ctx.Store.RLock()
	kn, ok := ctx.Store.Get(ident)
	ctx.Store.RUnlock()
	require.True(t, ok, "vnode knote must stay resident after its watch target vanishes")
	kn.Lock()
	enabled := kn.Enabled()
	kn.Unlock()
	assert.False(t, enabled, "vnode knote must be auto-disabled, not just left enabled")

	enable := &kevent.Event{
		Ident: ident, Filter: kevent.EVFILT_VNODE, Flags: kevent.EV_ENABLE,
	}
	_, err = f.ApplyChange(ctx, enable)
	require.NoError(t, err, "re-enabling a disabled-but-resident knote must succeed")
}
