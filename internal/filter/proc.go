//go:build !windows
// +build !windows

package filter

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kqio/kqueue/internal/aggregator"
	"github.com/kqio/kqueue/internal/errno"
	"github.com/kqio/kqueue/internal/kevent"
	"github.com/kqio/kqueue/internal/knote"
	"github.com/kqio/kqueue/internal/taskpool"
)

// ProcFilter implements the NOTE_EXIT case of EVFILT_PROC only: the
// other BSD sub-notes (NOTE_FORK, NOTE_EXEC, NOTE_TRACK) need kernel
// process-tracing hooks with no portable Linux equivalent reachable
// without CAP_SYS_PTRACE, and are rejected at ADD time (design §9).
// NOTE_EXIT itself rides on SIGCHLD through os/signal, for the same
// M:N-scheduler reason EVFILT_SIGNAL does not use signalfd directly,
// followed by a non-blocking wait4 reap per watched pid.
type ProcFilter struct {
	mu      sync.Mutex
	sigCh   chan os.Signal
	running bool
}

func (f *ProcFilter) Init(ctx *Context) error {
	f.sigCh = make(chan os.Signal, 16)
	return nil
}

func (f *ProcFilter) Destroy(ctx *Context) error {
	f.mu.Lock()
	if f.running {
		signal.Stop(f.sigCh)
		f.running = false
		close(f.sigCh)
	}
	f.mu.Unlock()

	var first error
	ctx.Store.Lock()
	ctx.Store.Range(func(ident uint64, kn *knote.Knote) bool {
		if err := ctx.Store.Remove(ident); err != nil && first == nil {
			first = err
		}
		return true
	})
	ctx.Store.Unlock()
	return first
}

func (f *ProcFilter) ApplyChange(ctx *Context, change *kevent.Event) (*kevent.Event, error) {
	switch {
	case change.Flags&kevent.EV_ADD != 0:
		return f.applyAdd(ctx, change)
	case change.Flags&kevent.EV_DELETE != 0:
		ctx.Store.Lock()
		err := ctx.Store.Remove(change.Ident)
		ctx.Store.Unlock()
		if err != nil {
			return errAck(change, err), err
		}
		if receipted(change) {
			return successAck(change), nil
		}
		return nil, nil
	case change.Flags&(kevent.EV_ENABLE|kevent.EV_DISABLE) != 0:
		ctx.Store.RLock()
		kn, ok := ctx.Store.Get(change.Ident)
		ctx.Store.RUnlock()
		if !ok {
			err := errno.ErrNotFound
			return errAck(change, err), err
		}
		kn.Lock()
		kn.SetEnabled(change.Flags&kevent.EV_ENABLE != 0)
		kn.Unlock()
		if receipted(change) {
			return successAck(change), nil
		}
		return nil, nil
	default:
		return errAck(change, errno.ErrInvalid), errno.ErrInvalid
	}
}

func (f *ProcFilter) applyAdd(ctx *Context, change *kevent.Event) (*kevent.Event, error) {
	if change.Fflags&kevent.NOTE_EXIT == 0 {
		err := errno.ErrNotSupported
		return errAck(change, err), err
	}
	if change.Fflags&^(kevent.NOTE_EXIT) != 0 {
		err := errno.ErrNotSupported
		return errAck(change, err), err
	}

	ctx.Store.Lock()
	if kn, ok := ctx.Store.Get(change.Ident); ok {
		kn.Lock()
		kn.Udata = change.Udata
		if change.Flags&kevent.EV_DISABLE == 0 {
			kn.SetEnabled(true)
		}
		kn.Unlock()
		ctx.Store.Unlock()
		if receipted(change) {
			return successAck(change), nil
		}
		return nil, nil
	}
	ctx.Store.Unlock()

	f.mu.Lock()
	if !f.running {
		f.running = true
		signal.Notify(f.sigCh, syscall.SIGCHLD)
		if err := taskpool.Submit(func() { f.loop(ctx) }); err != nil {
			go f.loop(ctx)
		}
	}
	f.mu.Unlock()

	kn := knote.New(kevent.EVFILT_PROC, change.Ident, change.Udata, func() error { return nil })
	kn.Fflags = kevent.NOTE_EXIT
	kn.SetOneshot(true) // a pid can only exit once
	kn.SetEnabled(change.Flags&kevent.EV_DISABLE == 0)
	kn.SetArmed(true)

	ctx.Store.Lock()
	if err := ctx.Store.Insert(kn); err != nil {
		ctx.Store.Unlock()
		_ = kn.Close()
		return errAck(change, err), err
	}
	ctx.Store.Unlock()

	// The child may have already exited between fork and ADD; check once
	// up front so a fast-exiting child is never missed.
	f.reap(ctx)

	if receipted(change) {
		return successAck(change), nil
	}
	return nil, nil
}

func (f *ProcFilter) loop(ctx *Context) {
	for range f.sigCh {
		f.reap(ctx)
	}
}

func (f *ProcFilter) reap(ctx *Context) {
	ctx.Store.RLock()
	pids := make([]uint64, 0)
	ctx.Store.Range(func(ident uint64, kn *knote.Knote) bool {
		pids = append(pids, ident)
		return true
	})
	ctx.Store.RUnlock()

	for _, pid := range pids {
		var ws syscall.WaitStatus
		got, err := syscall.Wait4(int(pid), &ws, syscall.WNOHANG, nil)
		if err != nil || got != int(pid) {
			continue
		}
		ctx.Store.RLock()
		kn, ok := ctx.Store.Get(pid)
		ctx.Store.RUnlock()
		if !ok || !kn.Acquire() {
			continue
		}
		status := int64(ws.ExitStatus())
		kn.Lock()
		kn.Data = status
		kn.Aux = &status // non-nil marks "reaped"; a status of 0 is a valid exit code
		kn.Unlock()
		kn.Release()
	}
}

// Copyout never fires: proc knotes are never the subject of a native
// aggregator.Readiness.
func (f *ProcFilter) Copyout(*Context, aggregator.Readiness) (*kevent.Event, bool, error) {
	return nil, true, nil
}

// Pending drains every reaped, enabled proc knote. A reaped pid is
// always removed: NOTE_EXIT fires at most once per process.
func (f *ProcFilter) Pending(ctx *Context) []*kevent.Event {
	var out []*kevent.Event
	ctx.Store.Lock()
	var reaped []uint64
	ctx.Store.Range(func(ident uint64, kn *knote.Knote) bool {
		kn.Lock()
		var done bool
		if kn.Enabled() && kn.Aux != nil {
			done = true
			out = append(out, &kevent.Event{
				Ident: kn.Ident, Filter: kevent.EVFILT_PROC,
				Udata: kn.Udata, Fflags: kevent.NOTE_EXIT, Data: kn.Data,
			})
		}
		kn.Unlock()
		if done {
			reaped = append(reaped, ident)
		}
		return true
	})
	for _, ident := range reaped {
		_ = ctx.Store.Remove(ident)
	}
	ctx.Store.Unlock()
	return out
}
