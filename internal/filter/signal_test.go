//go:build !windows
// +build !windows

package filter_test

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kqio/kqueue/internal/filter"
	"github.com/kqio/kqueue/internal/kevent"
	"github.com/kqio/kqueue/internal/knote"
)

func TestSignalFilterDeliversCoalescedCount(t *testing.T) {
	f := &filter.SignalFilter{}
	ctx := &filter.Context{Agg: &fakeAggregator{}, Store: knote.NewStore()}
	require.NoError(t, f.Init(ctx))
	defer f.Destroy(ctx)

	add := &kevent.Event{
		Ident: uint64(syscall.SIGUSR1), Filter: kevent.EVFILT_SIGNAL, Flags: kevent.EV_ADD,
	}
	_, err := f.ApplyChange(ctx, add)
	require.NoError(t, err)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	var out []*kevent.Event
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		out = f.Pending(ctx)
		if len(out) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, out, 1)
	assert.Equal(t, uint64(syscall.SIGUSR1), out[0].Ident)
	assert.GreaterOrEqual(t, out[0].Data, int64(2))
}

func TestSignalFilterLevelModeAccumulatesAcrossWaits(t *testing.T) {
	f := &filter.SignalFilter{}
	ctx := &filter.Context{Agg: &fakeAggregator{}, Store: knote.NewStore()}
	require.NoError(t, f.Init(ctx))
	defer f.Destroy(ctx)

	// No EV_CLEAR: this is a level-mode registration, so a drained count
	// must keep standing until a later kill bumps it further, not reset
	// to zero the way an EV_CLEAR knote would.
	add := &kevent.Event{
		Ident: uint64(syscall.SIGUSR1), Filter: kevent.EVFILT_SIGNAL, Flags: kevent.EV_ADD,
	}
	_, err := f.ApplyChange(ctx, add)
	require.NoError(t, err)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	var first []*kevent.Event
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		first = f.Pending(ctx)
		if len(first) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, first, 1)
	assert.Equal(t, int64(1), first[0].Data)

	// A second drain with no further kill in between must still report
	// the same standing count instead of an empty result.
	second := f.Pending(ctx)
	require.Len(t, second, 1)
	assert.Equal(t, int64(1), second[0].Data)
}

func TestSignalFilterDeleteStopsDelivery(t *testing.T) {
	f := &filter.SignalFilter{}
	ctx := &filter.Context{Agg: &fakeAggregator{}, Store: knote.NewStore()}
	require.NoError(t, f.Init(ctx))
	defer f.Destroy(ctx)

	add := &kevent.Event{
		Ident: uint64(syscall.SIGUSR2), Filter: kevent.EVFILT_SIGNAL, Flags: kevent.EV_ADD,
	}
	_, err := f.ApplyChange(ctx, add)
	require.NoError(t, err)

	del := &kevent.Event{
		Ident: uint64(syscall.SIGUSR2), Filter: kevent.EVFILT_SIGNAL, Flags: kevent.EV_DELETE,
	}
	_, err = f.ApplyChange(ctx, del)
	require.NoError(t, err)

	ctx.Store.RLock()
	_, ok := ctx.Store.Get(uint64(syscall.SIGUSR2))
	ctx.Store.RUnlock()
	assert.False(t, ok)
}
