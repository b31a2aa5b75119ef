package filter_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kqio/kqueue/internal/aggregator"
	"github.com/kqio/kqueue/internal/filter"
	"github.com/kqio/kqueue/internal/kevent"
	"github.com/kqio/kqueue/internal/knote"
)

// fakeAggregator is a minimal in-memory Aggregator stub for filters
// (EVFILT_USER, EVFILT_SIGNAL, EVFILT_PROC) that never register a real
// fd and only need Interrupt() to be observable.
type fakeAggregator struct {
	mu          sync.Mutex
	interrupted int
}

func (f *fakeAggregator) Fd() int { return -1 }
func (f *fakeAggregator) Add(int, bool, bool, bool, *aggregator.Token) error    { return nil }
func (f *fakeAggregator) Modify(int, bool, bool, bool, *aggregator.Token) error { return nil }
func (f *fakeAggregator) Remove(int) error                                     { return nil }
func (f *fakeAggregator) Wait(*time.Duration) ([]aggregator.Readiness, error)  { return nil, nil }
func (f *fakeAggregator) Close() error                                         { return nil }
func (f *fakeAggregator) Interrupt() error {
	f.mu.Lock()
	f.interrupted++
	f.mu.Unlock()
	return nil
}

func (f *fakeAggregator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupted
}

func TestUserFilterTriggerAndClear(t *testing.T) {
	f := &filter.UserFilter{}
	ctx := &filter.Context{Agg: &fakeAggregator{}, Store: knote.NewStore()}
	require.NoError(t, f.Init(ctx))

	add := &kevent.Event{Ident: 42, Filter: kevent.EVFILT_USER, Flags: kevent.EV_ADD | kevent.EV_CLEAR}
	_, err := f.ApplyChange(ctx, add)
	require.NoError(t, err)

	trigger := &kevent.Event{Ident: 42, Filter: kevent.EVFILT_USER, Fflags: kevent.NOTE_TRIGGER}
	_, err = f.ApplyChange(ctx, trigger)
	require.NoError(t, err)

	out := f.Pending(ctx)
	require.Len(t, out, 1)
	assert.Equal(t, uint64(42), out[0].Ident)

	// EV_CLEAR means the trigger doesn't survive a second drain.
	out = f.Pending(ctx)
	assert.Empty(t, out)
}

func TestUserFilterOneshotRemovesKnote(t *testing.T) {
	f := &filter.UserFilter{}
	ctx := &filter.Context{Agg: &fakeAggregator{}, Store: knote.NewStore()}
	require.NoError(t, f.Init(ctx))

	add := &kevent.Event{Ident: 7, Filter: kevent.EVFILT_USER, Flags: kevent.EV_ADD | kevent.EV_ONESHOT}
	_, err := f.ApplyChange(ctx, add)
	require.NoError(t, err)

	trigger := &kevent.Event{Ident: 7, Filter: kevent.EVFILT_USER, Fflags: kevent.NOTE_TRIGGER}
	_, err = f.ApplyChange(ctx, trigger)
	require.NoError(t, err)

	out := f.Pending(ctx)
	require.Len(t, out, 1)

	ctx.Store.RLock()
	_, ok := ctx.Store.Get(7)
	ctx.Store.RUnlock()
	assert.False(t, ok, "oneshot user knote must be removed after firing")
}

func TestUserFilterFFlagsCombine(t *testing.T) {
	f := &filter.UserFilter{}
	ctx := &filter.Context{Agg: &fakeAggregator{}, Store: knote.NewStore()}
	require.NoError(t, f.Init(ctx))

	add := &kevent.Event{
		Ident: 1, Filter: kevent.EVFILT_USER, Flags: kevent.EV_ADD,
		Fflags: kevent.NOTE_FFCOPY | 0x0F,
	}
	_, err := f.ApplyChange(ctx, add)
	require.NoError(t, err)

	and := &kevent.Event{Ident: 1, Filter: kevent.EVFILT_USER, Fflags: kevent.NOTE_FFAND | 0x03}
	_, err = f.ApplyChange(ctx, and)
	require.NoError(t, err)

	ctx.Store.RLock()
	kn, ok := ctx.Store.Get(1)
	ctx.Store.RUnlock()
	require.True(t, ok)
	kn.Lock()
	assert.Equal(t, uint32(0x03), kn.Fflags)
	kn.Unlock()
}
