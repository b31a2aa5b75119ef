// Package filter implements the per-event-class filter modules of
// design §4.2: one for each of read, write, signal, timer, vnode, user
// and proc, plus a not-implemented fallback for filters unavailable on
// the current platform. Each owns its own OS-specific readiness
// primitive and translates it to/from the BSD event shape, the same
// division of labor tnet gives each filter-specific poller backend.
package filter

import (
	"github.com/kqio/kqueue/internal/aggregator"
	"github.com/kqio/kqueue/internal/errno"
	"github.com/kqio/kqueue/internal/kevent"
	"github.com/kqio/kqueue/internal/knote"
)

// Context is the per-kqueue state a filter needs: the aggregator to
// register native primitives with, and this filter's own knote store.
type Context struct {
	Agg   aggregator.Aggregator
	Store *knote.Store
}

// Filter is the contract every event class implements (design §4.2).
type Filter interface {
	// Init prepares any filter-wide resource (e.g. tnet's poller opens
	// one fd per loop; the vnode filter opens one inotify fd per kqueue).
	// Open calls Init once for every registered filter, right after
	// registration.
	Init(ctx *Context) error

	// Destroy tears down every knote still registered and releases the
	// filter-wide resource, in that order (design invariant 3).
	Destroy(ctx *Context) error

	// ApplyChange interprets change.Flags and mutates the knote store
	// accordingly (design §4.2): ADD/DELETE/ENABLE/DISABLE, and stores
	// ONESHOT/DISPATCH/CLEAR for Copyout to consult. If ack is non-nil
	// it is a pre-built EV_ERROR acknowledgement (used for RECEIPT on
	// success, or any failure); err is non-nil only for failures that
	// must also abort change-phase processing when the caller gave
	// neither EV_RECEIPT nor event-list room.
	ApplyChange(ctx *Context, change *kevent.Event) (ack *kevent.Event, err error)

	// Copyout translates one unit of native readiness into one BSD
	// event. suppress is true when the readiness is stale (e.g. a
	// oneshot knote already delivered, or the knote was disarmed
	// between wake and copyout) and must produce no event-list entry.
	Copyout(ctx *Context, r aggregator.Readiness) (ev *kevent.Event, suppress bool, err error)

	// Pending drains any readiness this filter tracks without a native
	// aggregator registration at all (EVFILT_SIGNAL's os/signal channel,
	// EVFILT_USER's software trigger) and is polled once per wait cycle
	// regardless of which token, if any, woke it. Filters backed purely
	// by aggregator readiness return nil.
	Pending(ctx *Context) []*kevent.Event
}

// Table is the per-kqueue registry of filter implementations, indexed
// by the BSD filter tag. A tag with no registered implementation (or
// one registered as NotImplemented) fails ApplyChange with ErrInvalid,
// per design §4.2's "a not-implemented filter fails changes with an
// explicit error."
type Table struct {
	filters map[int16]Filter
	ctx     map[int16]*Context
	agg     aggregator.Aggregator
}

// NewTable builds an empty table bound to agg, the kqueue's aggregator.
func NewTable(agg aggregator.Aggregator) *Table {
	return &Table{
		filters: make(map[int16]Filter),
		ctx:     make(map[int16]*Context),
		agg:     agg,
	}
}

// Register installs impl as the handler for tag and builds its own
// knote store. Neither Register nor Lookup calls Init; Open initializes
// every registered filter after registration.
func (t *Table) Register(tag int16, impl Filter) {
	t.filters[tag] = impl
	t.ctx[tag] = &Context{Agg: t.agg, Store: knote.NewStore()}
}

// Lookup returns the filter and its context for tag, or (nil, nil, false)
// if tag names no registered filter.
func (t *Table) Lookup(tag int16) (Filter, *Context, bool) {
	f, ok := t.filters[tag]
	if !ok {
		return nil, nil, false
	}
	return f, t.ctx[tag], true
}

// Range visits every registered (tag, filter, ctx) triple.
func (t *Table) Range(fn func(tag int16, f Filter, ctx *Context)) {
	for tag, f := range t.filters {
		fn(tag, f, t.ctx[tag])
	}
}

// errAck builds the EV_ERROR acknowledgement a failed ApplyChange
// returns alongside its error. The dispatcher decides, per design
// §4.4's change phase, whether this ack actually gets appended to the
// event-list (RECEIPT set, or list room available) or discarded in
// favor of aborting the whole call with err.
func errAck(change *kevent.Event, err error) *kevent.Event {
	return &kevent.Event{
		Ident: change.Ident, Filter: change.Filter, Flags: kevent.EV_ERROR,
		Data: int64(errno.ToErrno(err)), Udata: change.Udata,
	}
}

// successAck builds the EV_ERROR/data=0 acknowledgement ApplyChange
// returns for a successful change that carried EV_RECEIPT.
func successAck(change *kevent.Event) *kevent.Event {
	return &kevent.Event{
		Ident: change.Ident, Filter: change.Filter, Flags: kevent.EV_ERROR,
		Data: 0, Udata: change.Udata,
	}
}

// receipted reports whether change asked for an RECEIPT acknowledgement.
func receipted(change *kevent.Event) bool {
	return change.Flags&kevent.EV_RECEIPT != 0
}
