// Package knote implements the per-filter knote store described in
// design §4.1: a durable registration record per (filter, ident), with
// the reference counting and locking discipline that lets a copyout
// retain its subject across a brief window in which another thread
// deletes it.
//
// The locking hierarchy and refcount protocol mirror tnet's poller Desc
// (internal/poller/desc.go in tnet): one mutex guarding
// mutable knote state, one release hook invoked exactly once via an
// atomic compare-and-swap (the same idea as tnet's safejob.OnceJob).
package knote

import (
	"go.uber.org/atomic"

	"github.com/kqio/kqueue/internal/locker"
)

// Knote is the durable registration record for one (filter, ident) pair.
// Its backing OS resource (a timerfd, an os/signal subscription, an
// inotify watch, or nothing at all for EVFILT_USER) is opaque to the
// store and interpreted only by the owning filter.
type Knote struct {
	mu locker.Locker

	// Ident and Filter make up this knote's identity. Udata is the
	// caller's opaque value, echoed unchanged in every event the knote
	// produces.
	Ident  uint64
	Filter int16
	Udata  uintptr

	// Aux is filter-private mutable state: for EVFILT_TIMER its timer
	// state (the timerfd on Linux), for EVFILT_VNODE the watch descriptor
	// and watched path, for EVFILT_PROC the reaped exit status (nil until
	// reaped). EVFILT_READ/WRITE, EVFILT_SIGNAL and EVFILT_USER leave it
	// nil; EVFILT_USER keeps its accumulated fflags in Fflags. Access must
	// hold mu.
	Aux interface{}

	// Fflags and Data are the most recently observed filter-specific
	// payload, updated by the owning filter under mu and read back out
	// during Copyout.
	Fflags uint32
	Data   int64

	enabled  atomic.Bool
	armed    atomic.Bool
	oneshot  atomic.Bool
	dispatch atomic.Bool
	clear    atomic.Bool

	refcount atomic.Int32
	deleted  atomic.Bool

	// release tears down the backing OS resource. It runs at most once,
	// guarded by deleted, regardless of how many times Close is called
	// or how many outstanding Acquire()s exist when it first fires.
	release func() error
}

// New creates a knote for (filter, ident). release is invoked exactly
// once, the first time the knote is deleted, to free its OS resource;
// it must not block for longer than a bounded critical section.
func New(filter int16, ident uint64, udata uintptr, release func() error) *Knote {
	kn := &Knote{
		Filter: filter,
		Ident:  ident,
		Udata:  udata,
		release: release,
	}
	kn.refcount.Store(1) // the store's own strong reference
	return kn
}

// Lock acquires the knote's mutable-state lock (hierarchy level 3).
func (kn *Knote) Lock() { kn.mu.Lock() }

// Unlock releases the knote's mutable-state lock.
func (kn *Knote) Unlock() { kn.mu.Unlock() }

// SetEnabled flips the armed-for-delivery bit without touching the
// backing OS resource (EV_ENABLE/EV_DISABLE never reallocate).
func (kn *Knote) SetEnabled(v bool) { kn.enabled.Store(v) }

// Enabled reports whether the knote currently delivers events.
func (kn *Knote) Enabled() bool { return kn.enabled.Load() }

// SetArmed records whether the backing OS resource currently exists.
// Invariant 2 of the design ("a knote's backing OS resource exists iff
// the knote is armed") is maintained by the filter, not enforced here.
func (kn *Knote) SetArmed(v bool) { kn.armed.Store(v) }

// Armed reports whether the backing OS resource exists.
func (kn *Knote) Armed() bool { return kn.armed.Load() }

// SetOneshot marks the knote for EV_ONESHOT semantics.
func (kn *Knote) SetOneshot(v bool) { kn.oneshot.Store(v) }

// Oneshot reports whether the knote carries EV_ONESHOT.
func (kn *Knote) Oneshot() bool { return kn.oneshot.Load() }

// SetDispatch marks the knote for EV_DISPATCH semantics.
func (kn *Knote) SetDispatch(v bool) { kn.dispatch.Store(v) }

// Dispatch reports whether the knote carries EV_DISPATCH.
func (kn *Knote) Dispatch() bool { return kn.dispatch.Load() }

// SetClear marks the knote edge-triggered (EV_CLEAR).
func (kn *Knote) SetClear(v bool) { kn.clear.Store(v) }

// Clear reports whether the knote is edge-triggered.
func (kn *Knote) Clear() bool { return kn.clear.Load() }

// Acquire bumps the transient refcount so a copyout can keep using the
// knote even if another thread deletes it concurrently. Returns false
// if the knote has already been deleted (pending-delete): the caller
// must treat that as a suppressed, not erroneous, wake.
func (kn *Knote) Acquire() bool {
	if kn.deleted.Load() {
		return false
	}
	kn.refcount.Inc()
	if kn.deleted.Load() {
		// Deleted concurrently with the Inc above; undo and bail.
		kn.Release()
		return false
	}
	return true
}

// Release drops a transient reference. When the refcount reaches zero,
// which can only happen after Close has dropped the store's own
// reference, the knote's OS resource is released; release() fires at
// most once.
func (kn *Knote) Release() {
	if kn.refcount.Dec() == 0 {
		kn.teardown()
	}
}

// Close marks the knote pending-delete and drops the store's own
// strong reference. A oneshot knote is guaranteed to be deleted at
// most once: the second Close is a harmless no-op (invariant 6).
func (kn *Knote) Close() error {
	if !kn.deleted.CAS(false, true) {
		return nil
	}
	kn.SetArmed(false)
	if kn.refcount.Dec() == 0 {
		return kn.teardown()
	}
	return nil
}

// Deleted reports whether Close has already run.
func (kn *Knote) Deleted() bool { return kn.deleted.Load() }

func (kn *Knote) teardown() error {
	if kn.release == nil {
		return nil
	}
	release := kn.release
	kn.release = nil
	return release()
}
