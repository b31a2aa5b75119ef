//go:build linux
// +build linux

package filter

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/kqio/kqueue/internal/aggregator"
	"github.com/kqio/kqueue/internal/errno"
	"github.com/kqio/kqueue/internal/kevent"
	"github.com/kqio/kqueue/internal/knote"
)

// timerAux is the per-knote state stashed in Knote.Aux for EVFILT_TIMER:
// the timerfd backing the knote, which is also the fd registered with
// the shared aggregator.
type timerAux struct {
	fd int
}

// TimerFilter implements EVFILT_TIMER with one timerfd per knote,
// following the one-primitive-per-knote layout design §4.2 prescribes
// for filters whose native primitive is itself an independently
// waitable fd (the same shape tnet gives its per-connection idle timer,
// just swapped from a software wheel to a kernel timerfd here since the
// readiness has to flow through the shared aggregator).
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

	if kn, ok := ctx.Store.Get(change.Ident); ok {
		// Re-ADD: BSD re-arms the existing timer with the new interval.
		kn.Lock()
		aux := kn.Aux.(*timerAux)
		kn.Unlock()
		if err := f.arm(aux.fd, change); err != nil {
			return errAck(change, err), err
		}
		kn.Lock()
		kn.Udata = change.Udata
		kn.Fflags = change.Fflags
		kn.SetOneshot(change.Flags&kevent.EV_ONESHOT != 0)
		if change.Flags&kevent.EV_DISABLE == 0 {
			kn.SetEnabled(true)
		}
		kn.Unlock()
		if receipted(change) {
			return successAck(change), nil
		}
		return nil, nil
	}

	tfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		wrapped := errno.FromSyscall(err, "timerfd_create")
		return errAck(change, wrapped), wrapped
	}
	if err := f.arm(tfd, change); err != nil {
		_ = unix.Close(tfd)
		return errAck(change, err), err
	}

	kn := knote.New(kevent.EVFILT_TIMER, change.Ident, change.Udata, func() error {
		_ = f.agg.Remove(tfd)
		return unix.Close(tfd)
	})
	kn.Aux = &timerAux{fd: tfd}
	kn.Fflags = change.Fflags
	kn.SetOneshot(change.Flags&kevent.EV_ONESHOT != 0)
	kn.SetDispatch(change.Flags&kevent.EV_DISPATCH != 0)
	kn.SetEnabled(change.Flags&kevent.EV_DISABLE == 0)

	tok := aggregator.NewToken(uint64(tfd), aggregator.Ref{FilterID: kevent.EVFILT_TIMER, Knote: kn})
	if err := f.agg.Add(tfd, true, false, false, tok); err != nil {
		aggregator.FreeToken(tok)
		_ = unix.Close(tfd)
		return errAck(change, err), err
	}
	kn.SetArmed(true)

	if err := ctx.Store.Insert(kn); err != nil {
		_ = kn.Close()
		return errAck(change, err), err
	}
	if receipted(change) {
		return successAck(change), nil
	}
	return nil, nil
}

// arm translates a change's fflags/data pair (unit + absolute/relative)
// into an itimerspec and sets tfd accordingly (design §4.2's timer
// unit-selection table: NOTE_SECONDS/USECONDS/NSECONDS default to
// milliseconds when none is given, matching BSD's historical default).
func (f *TimerFilter) arm(tfd int, change *kevent.Event) error {
	d := timerDuration(change.Fflags, change.Data)
	spec := unix.ItimerSpec{}
	flags := 0
	if change.Fflags&kevent.NOTE_ABSOLUTE != 0 {
		spec.Value = unix.NsecToTimespec(d.Nanoseconds())
		flags = unix.TFD_TIMER_ABSTIME
	} else {
		if d <= 0 {
			d = time.Nanosecond
		}
		spec.Value = unix.NsecToTimespec(d.Nanoseconds())
		if change.Flags&kevent.EV_ONESHOT == 0 {
			// BSD timer knotes without EV_ONESHOT reload and keep
			// firing every interval until disabled or deleted.
			spec.Interval = spec.Value
		}
	}
	if err := unix.TimerfdSettime(tfd, flags, &spec, nil); err != nil {
		return errno.FromSyscall(err, "timerfd_settime")
	}
	return nil
}

// Pending is always empty: every timer knote has its own timerfd
// registered directly with the aggregator.
func (f *TimerFilter) Pending(ctx *Context) []*kevent.Event { return nil }

func (f *TimerFilter) Copyout(ctx *Context, r aggregator.Readiness) (*kevent.Event, bool, error) {
	var kn *knote.Knote
	for _, ref := range r.Token.Snapshot() {
		if ref.FilterID == kevent.EVFILT_TIMER {
			kn = ref.Knote
			break
		}
	}
	if kn == nil || !kn.Acquire() {
		return nil, true, nil
	}
	defer kn.Release()

	kn.Lock()
	if !kn.Enabled() {
		kn.Unlock()
		return nil, true, nil
	}
	aux := kn.Aux.(*timerAux)
	var buf [8]byte
	n, err := unix.Read(aux.fd, buf[:])
	if err != nil || n != 8 {
		kn.Unlock()
		return nil, true, nil
	}
	expirations := int64(buf[0]) | int64(buf[1])<<8 | int64(buf[2])<<16 | int64(buf[3])<<24 |
		int64(buf[4])<<32 | int64(buf[5])<<40 | int64(buf[6])<<48 | int64(buf[7])<<56

	ev := &kevent.Event{Ident: kn.Ident, Filter: kevent.EVFILT_TIMER, Udata: kn.Udata, Data: expirations}
	if kn.Dispatch() {
		kn.SetEnabled(false)
	}
	oneshot := kn.Oneshot()
	kn.Unlock()

	if oneshot {
		ctx.Store.Lock()
		_ = ctx.Store.Remove(kn.Ident)
		ctx.Store.Unlock()
		ev.Flags |= kevent.EV_ONESHOT
	}
	return ev, false, nil
}
