//go:build !windows
// +build !windows

package filter_test

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kqio/kqueue/internal/filter"
	"github.com/kqio/kqueue/internal/kevent"
	"github.com/kqio/kqueue/internal/knote"
)

func TestProcFilterNoteExit(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 3")
	require.NoError(t, cmd.Start())
	pid := uint64(cmd.Process.Pid)

	f := &filter.ProcFilter{}
	ctx := &filter.Context{Agg: &fakeAggregator{}, Store: knote.NewStore()}
	require.NoError(t, f.Init(ctx))
	defer f.Destroy(ctx)

	add := &kevent.Event{
		Ident: pid, Filter: kevent.EVFILT_PROC, Flags: kevent.EV_ADD,
		Fflags: kevent.NOTE_EXIT,
	}
	_, err := f.ApplyChange(ctx, add)
	require.NoError(t, err)

	var out []*kevent.Event
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		out = f.Pending(ctx)
		if len(out) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Len(t, out, 1)
	assert.Equal(t, pid, out[0].Ident)
	assert.Equal(t, kevent.NOTE_EXIT, out[0].Fflags)
	assert.Equal(t, int64(3), out[0].Data)

	ctx.Store.RLock()
	_, ok := ctx.Store.Get(pid)
	ctx.Store.RUnlock()
	assert.False(t, ok, "note_exit is a oneshot, the knote must be gone after firing")
}

func TestProcFilterRejectsUnsupportedFflags(t *testing.T) {
	f := &filter.ProcFilter{}
	ctx := &filter.Context{Agg: &fakeAggregator{}, Store: knote.NewStore()}
	require.NoError(t, f.Init(ctx))
	defer f.Destroy(ctx)

	add := &kevent.Event{
		Ident: 1, Filter: kevent.EVFILT_PROC, Flags: kevent.EV_ADD,
		Fflags: kevent.NOTE_FORK,
	}
	_, err := f.ApplyChange(ctx, add)
	assert.Error(t, err)
}
