package filter

import (
	"github.com/kqio/kqueue/internal/aggregator"
	"github.com/kqio/kqueue/internal/errno"
	"github.com/kqio/kqueue/internal/kevent"
	"github.com/kqio/kqueue/internal/knote"
)

// UserFilter implements EVFILT_USER: a purely software knote with no
// backing OS resource at all, woken by an explicit NOTE_TRIGGER change
// rather than any native readiness (design §4.2). Armed the same
// software-trigger way EVFILT_SIGNAL wakes the aggregator without ever
// registering anything with it.
type UserFilter struct {
	agg aggregator.Aggregator
}

func (f *UserFilter) Init(ctx *Context) error {
	f.agg = ctx.Agg
	return nil
}

func (f *UserFilter) Destroy(ctx *Context) error {
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

func (f *UserFilter) ApplyChange(ctx *Context, change *kevent.Event) (*kevent.Event, error) {
	switch {
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
	case change.Flags&kevent.EV_ADD != 0:
		return f.applyAdd(ctx, change)
	default:
		return f.applyModify(ctx, change)
	}
}

func (f *UserFilter) applyAdd(ctx *Context, change *kevent.Event) (*kevent.Event, error) {
	ctx.Store.Lock()
	defer ctx.Store.Unlock()

	if kn, ok := ctx.Store.Get(change.Ident); ok {
		kn.Lock()
		kn.Udata = change.Udata
		if change.Flags&kevent.EV_DISABLE == 0 {
			kn.SetEnabled(true)
		}
		kn.SetOneshot(change.Flags&kevent.EV_ONESHOT != 0)
		kn.SetDispatch(change.Flags&kevent.EV_DISPATCH != 0)
		kn.SetClear(change.Flags&kevent.EV_CLEAR != 0)
		f.applyFflagsLocked(kn, change.Fflags)
		kn.Unlock()
		if receipted(change) {
			return successAck(change), nil
		}
		return nil, nil
	}

	kn := knote.New(kevent.EVFILT_USER, change.Ident, change.Udata, func() error { return nil })
	kn.SetEnabled(change.Flags&kevent.EV_DISABLE == 0)
	kn.SetOneshot(change.Flags&kevent.EV_ONESHOT != 0)
	kn.SetDispatch(change.Flags&kevent.EV_DISPATCH != 0)
	kn.SetClear(change.Flags&kevent.EV_CLEAR != 0)
	kn.SetArmed(true)

	kn.Lock()
	f.applyFflagsLocked(kn, change.Fflags)
	kn.Unlock()

	if err := ctx.Store.Insert(kn); err != nil {
		return errAck(change, err), err
	}
	if receipted(change) {
		return successAck(change), nil
	}
	return nil, nil
}

func (f *UserFilter) applyModify(ctx *Context, change *kevent.Event) (*kevent.Event, error) {
	ctx.Store.RLock()
	kn, ok := ctx.Store.Get(change.Ident)
	ctx.Store.RUnlock()
	if !ok {
		err := errno.ErrNotFound
		return errAck(change, err), err
	}

	kn.Lock()
	if change.Flags&kevent.EV_ENABLE != 0 {
		kn.SetEnabled(true)
	}
	if change.Flags&kevent.EV_DISABLE != 0 {
		kn.SetEnabled(false)
	}
	f.applyFflagsLocked(kn, change.Fflags)
	pending := kn.Data != 0
	kn.Unlock()

	if pending {
		_ = f.agg.Interrupt()
	}
	if receipted(change) {
		return successAck(change), nil
	}
	return nil, nil
}

// applyFflagsLocked applies the NOTE_FF* combine protocol to kn.Fflags
// and, if NOTE_TRIGGER is set, marks the knote pending. Caller must
// hold kn's lock.
func (f *UserFilter) applyFflagsLocked(kn *knote.Knote, fflags uint32) {
	ctrl := fflags & kevent.NOTE_FFCTRLMASK
	val := fflags & kevent.NOTE_FFLAGSMASK
	switch ctrl {
	case kevent.NOTE_FFAND:
		kn.Fflags &= val
	case kevent.NOTE_FFOR:
		kn.Fflags |= val
	case kevent.NOTE_FFCOPY:
		kn.Fflags = val
	}
	if fflags&kevent.NOTE_TRIGGER != 0 {
		kn.Data = 1
	}
}

// Copyout never fires: a user knote is never the subject of a native
// aggregator.Readiness.
func (f *UserFilter) Copyout(*Context, aggregator.Readiness) (*kevent.Event, bool, error) {
	return nil, true, nil
}

// Pending drains every triggered, enabled user knote.
func (f *UserFilter) Pending(ctx *Context) []*kevent.Event {
	var out []*kevent.Event
	ctx.Store.Lock()
	ctx.Store.Range(func(ident uint64, kn *knote.Knote) bool {
		kn.Lock()
		var oneshot bool
		if kn.Enabled() && kn.Data != 0 {
			ev := &kevent.Event{
				Ident: kn.Ident, Filter: kevent.EVFILT_USER,
				Udata: kn.Udata, Fflags: kn.Fflags,
			}
			oneshot = kn.Oneshot()
			if kn.Clear() || oneshot {
				kn.Data = 0
			}
			if kn.Dispatch() {
				kn.SetEnabled(false)
			}
			out = append(out, ev)
		}
		kn.Unlock()
		if oneshot {
			_ = ctx.Store.Remove(ident)
		}
		return true
	})
	ctx.Store.Unlock()
	return out
}
