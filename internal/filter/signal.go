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

// SignalFilter implements EVFILT_SIGNAL on os/signal rather than a raw
// signalfd. signalfd's contract needs the watched signal blocked via
// sigprocmask on every OS thread that could run the waiting goroutine;
// the Go runtime's M:N scheduler moves goroutines between threads
// without that guarantee, which is exactly why the standard library
// itself funnels signal delivery through os/signal instead of letting
// packages touch sigprocmask directly. One goroutine drains the signal
// channel and deposits a coalesced count on the matching knote, then
// wakes the aggregator the same way EVFILT_USER's software trigger does
// (design §4.2, §9).
type SignalFilter struct {
	agg aggregator.Aggregator
	ctx *Context

	mu      sync.Mutex
	sigCh   chan os.Signal
	watched map[syscall.Signal]struct{}
	running bool
}

func (f *SignalFilter) Init(ctx *Context) error {
	f.agg = ctx.Agg
	f.ctx = ctx
	f.sigCh = make(chan os.Signal, 64)
	f.watched = make(map[syscall.Signal]struct{})
	return nil
}

func (f *SignalFilter) Destroy(ctx *Context) error {
	f.mu.Lock()
	signal.Stop(f.sigCh)
	running := f.running
	f.running = false
	f.mu.Unlock()
	if running {
		close(f.sigCh)
	}

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

func (f *SignalFilter) ApplyChange(ctx *Context, change *kevent.Event) (*kevent.Event, error) {
	switch {
	case change.Flags&kevent.EV_ADD != 0:
		return f.applyAdd(ctx, change)
	case change.Flags&kevent.EV_DELETE != 0:
		return f.applyDelete(ctx, change)
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

func (f *SignalFilter) applyAdd(ctx *Context, change *kevent.Event) (*kevent.Event, error) {
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

	sig := syscall.Signal(change.Ident)
	// kqueue requires the signal to not kill the process outright; the
	// portable equivalent of BSD's implicit SIG_IGN is ignoring it here
	// too, same as signal.Ignore would, except os/signal still relays
	// it to our channel once Notify is registered below.
	signal.Ignore(sig)

	f.mu.Lock()
	f.watched[sig] = struct{}{}
	f.resubscribeLocked()
	if !f.running {
		f.running = true
		if err := taskpool.Submit(f.loop); err != nil {
			go f.loop()
		}
	}
	f.mu.Unlock()

	kn := knote.New(kevent.EVFILT_SIGNAL, change.Ident, change.Udata, func() error {
		f.mu.Lock()
		delete(f.watched, sig)
		f.resubscribeLocked()
		f.mu.Unlock()
		return nil
	})
	kn.SetEnabled(change.Flags&kevent.EV_DISABLE == 0)
	kn.SetOneshot(change.Flags&kevent.EV_ONESHOT != 0)
	kn.SetClear(change.Flags&kevent.EV_CLEAR != 0)
	kn.SetArmed(true)

	ctx.Store.Lock()
	if err := ctx.Store.Insert(kn); err != nil {
		ctx.Store.Unlock()
		_ = kn.Close()
		return errAck(change, err), err
	}
	ctx.Store.Unlock()
	if receipted(change) {
		return successAck(change), nil
	}
	return nil, nil
}

func (f *SignalFilter) applyDelete(ctx *Context, change *kevent.Event) (*kevent.Event, error) {
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
}

// resubscribeLocked rebuilds the os/signal registration from scratch;
// signal.Stop only ever detaches a channel from every signal at once,
// so narrowing to one fewer signal means re-declaring the rest. Caller
// must hold f.mu.
func (f *SignalFilter) resubscribeLocked() {
	signal.Stop(f.sigCh)
	if len(f.watched) == 0 {
		return
	}
	sigs := make([]os.Signal, 0, len(f.watched))
	for s := range f.watched {
		sigs = append(sigs, s)
	}
	signal.Notify(f.sigCh, sigs...)
}

func (f *SignalFilter) loop() {
	for sig := range f.sigCh {
		s, ok := sig.(syscall.Signal)
		if !ok {
			continue
		}
		f.ctx.Store.RLock()
		kn, found := f.ctx.Store.Get(uint64(s))
		f.ctx.Store.RUnlock()
		if !found || !kn.Acquire() {
			continue
		}
		kn.Lock()
		kn.Data++
		armed := kn.Enabled()
		kn.Unlock()
		kn.Release()
		if armed {
			_ = f.agg.Interrupt()
		}
	}
}

// Copyout never fires: no knote here is ever the subject of an
// aggregator.Readiness, since nothing is registered with it.
func (f *SignalFilter) Copyout(*Context, aggregator.Readiness) (*kevent.Event, bool, error) {
	return nil, true, nil
}

// Pending drains every knote with a nonzero coalesced signal count.
// Level-mode (no EV_CLEAR) knotes keep their Data intact across the
// call, the same way user.go's Pending leaves a level knote's trigger
// standing; only EV_CLEAR or EV_ONESHOT knotes reset it here.
func (f *SignalFilter) Pending(ctx *Context) []*kevent.Event {
	var out []*kevent.Event
	ctx.Store.RLock()
	ctx.Store.Range(func(ident uint64, kn *knote.Knote) bool {
		kn.Lock()
		if kn.Enabled() && kn.Data > 0 {
			out = append(out, &kevent.Event{
				Ident: kn.Ident, Filter: kevent.EVFILT_SIGNAL,
				Udata: kn.Udata, Data: kn.Data,
			})
			if kn.Clear() || kn.Oneshot() {
				kn.Data = 0
			}
		}
		kn.Unlock()
		return true
	})
	ctx.Store.RUnlock()
	return out
}
