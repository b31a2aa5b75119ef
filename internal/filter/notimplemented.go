package filter

import (
	"github.com/kqio/kqueue/internal/aggregator"
	"github.com/kqio/kqueue/internal/errno"
	"github.com/kqio/kqueue/internal/kevent"
)

// NotImplemented is installed for a filter tag the current platform
// cannot express at all (e.g. EVFILT_VNODE on Windows). Every change
// against it fails with ErrInvalid, per design §4.2.
type NotImplemented struct{}

// Init is a no-op; there is no filter-wide resource to allocate.
func (NotImplemented) Init(*Context) error { return nil }

// Destroy is a no-op; nothing was ever armed.
func (NotImplemented) Destroy(*Context) error { return nil }

// ApplyChange always fails: this filter tag has no backing primitive
// on the current platform.
func (NotImplemented) ApplyChange(_ *Context, change *kevent.Event) (*kevent.Event, error) {
	err := errno.ErrInvalid
	ack := &kevent.Event{
		Ident: change.Ident, Filter: change.Filter, Flags: kevent.EV_ERROR,
		Data: int64(errno.ToErrno(err)), Udata: change.Udata,
	}
	return ack, err
}

// Copyout never runs: no knote can ever exist in this filter's store.
func (NotImplemented) Copyout(*Context, aggregator.Readiness) (*kevent.Event, bool, error) {
	return nil, true, nil
}

// Pending never runs for the same reason.
func (NotImplemented) Pending(*Context) []*kevent.Event { return nil }
