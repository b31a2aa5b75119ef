//go:build windows
// +build windows

package filter

import (
	"time"

	"github.com/kqio/kqueue/internal/aggregator"
	"github.com/kqio/kqueue/internal/errno"
	"github.com/kqio/kqueue/internal/kevent"
	"github.com/kqio/kqueue/internal/knote"
)

// timerWinAux is the per-knote state for the Windows timer filter: a
// standard library timer plus whether it reloads after firing.
type timerWinAux struct {
	timer    *time.Timer
	interval time.Duration
	periodic bool
}

// TimerFilter on Windows has no timerfd equivalent reachable without
// its own IOCP-integrated waitable-timer plumbing, so it is driven by
// time.AfterFunc instead and surfaced through the same software-pending
// path as EVFILT_USER and EVFILT_SIGNAL (design §9's acknowledgment
// that the Windows realization is independent and less complete).
type TimerFilter struct {
	agg aggregator.Aggregator
}

func (f *TimerFilter) Init(ctx *Context) error {
	f.agg = ctx.Agg
	return nil
}

func (f *TimerFilter) Destroy(ctx *Context) error {
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

func (f *TimerFilter) ApplyChange(ctx *Context, change *kevent.Event) (*kevent.Event, error) {
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

func (f *TimerFilter) applyAdd(ctx *Context, change *kevent.Event) (*kevent.Event, error) {
	ctx.Store.Lock()
	defer ctx.Store.Unlock()

	d := timerDuration(change.Fflags, change.Data)
	if d <= 0 {
		d = time.Nanosecond
	}
	periodic := change.Flags&kevent.EV_ONESHOT == 0

	if kn, ok := ctx.Store.Get(change.Ident); ok {
		kn.Lock()
		aux := kn.Aux.(*timerWinAux)
		aux.timer.Stop()
		aux.interval = d
		aux.periodic = periodic
		kn.Udata = change.Udata
		if change.Flags&kevent.EV_DISABLE == 0 {
			kn.SetEnabled(true)
		}
		kn.Unlock()
		f.schedule(kn, aux, d)
		if receipted(change) {
			return successAck(change), nil
		}
		return nil, nil
	}

	var kn *knote.Knote
	kn = knote.New(kevent.EVFILT_TIMER, change.Ident, change.Udata, func() error {
		if aux, ok := kn.Aux.(*timerWinAux); ok && aux.timer != nil {
			aux.timer.Stop()
		}
		return nil
	})
	kn.SetOneshot(!periodic)
	kn.SetDispatch(change.Flags&kevent.EV_DISPATCH != 0)
	kn.SetEnabled(change.Flags&kevent.EV_DISABLE == 0)
	kn.SetArmed(true)
	aux := &timerWinAux{interval: d, periodic: periodic}
	kn.Aux = aux
	f.schedule(kn, aux, d)

	if err := ctx.Store.Insert(kn); err != nil {
		aux.timer.Stop()
		return errAck(change, err), err
	}
	if receipted(change) {
		return successAck(change), nil
	}
	return nil, nil
}

func (f *TimerFilter) schedule(kn *knote.Knote, aux *timerWinAux, d time.Duration) {
	aux.timer = time.AfterFunc(d, func() { f.fire(kn) })
}

func (f *TimerFilter) fire(kn *knote.Knote) {
	if !kn.Acquire() {
		return
	}
	kn.Lock()
	kn.Data++
	armed := kn.Enabled()
	aux := kn.Aux.(*timerWinAux)
	if aux.periodic {
		aux.timer.Reset(aux.interval)
	}
	kn.Unlock()
	kn.Release()
	if armed {
		_ = f.agg.Interrupt()
	}
}

// Copyout never fires: Windows timer knotes carry no aggregator token.
func (f *TimerFilter) Copyout(*Context, aggregator.Readiness) (*kevent.Event, bool, error) {
	return nil, true, nil
}

// Pending drains every knote whose timer has fired since the last call.
func (f *TimerFilter) Pending(ctx *Context) []*kevent.Event {
	var out []*kevent.Event
	var oneshots []uint64
	ctx.Store.Lock()
	ctx.Store.Range(func(ident uint64, kn *knote.Knote) bool {
		kn.Lock()
		if kn.Enabled() && kn.Data > 0 {
			out = append(out, &kevent.Event{
				Ident: kn.Ident, Filter: kevent.EVFILT_TIMER,
				Udata: kn.Udata, Data: kn.Data,
			})
			kn.Data = 0
			if kn.Dispatch() {
				kn.SetEnabled(false)
			}
			if kn.Oneshot() {
				oneshots = append(oneshots, ident)
			}
		}
		kn.Unlock()
		return true
	})
	for _, ident := range oneshots {
		_ = ctx.Store.Remove(ident)
	}
	ctx.Store.Unlock()
	return out
}
