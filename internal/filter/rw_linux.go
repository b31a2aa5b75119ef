//go:build linux
// +build linux

package filter

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kqio/kqueue/internal/aggregator"
	"github.com/kqio/kqueue/internal/errno"
	"github.com/kqio/kqueue/internal/kevent"
	"github.com/kqio/kqueue/internal/knote"
	"github.com/kqio/kqueue/internal/sysinit"
)

// rwShared is the per-fd coordination point EVFILT_READ and EVFILT_WRITE
// must go through: epoll allows exactly one registration per fd, so a fd
// watched for both directions shares one aggregator.Token carrying two
// aggregator.Ref entries (design §4.3's "Knote reachability from OS
// primitive" extended to the two-sided case the BSD model never has to
// confront, since kqueue lets every filter own its fd independently).
type rwShared struct {
	agg aggregator.Aggregator

	mu   sync.Mutex
	regs map[uint64]*fdReg
}

type fdReg struct {
	tok   *aggregator.Token
	read  *knote.Knote
	write *knote.Knote
}

func newRWShared(agg aggregator.Aggregator) *rwShared {
	return &rwShared{agg: agg, regs: make(map[uint64]*fdReg)}
}

// edgeTriggered reports whether either half of an fd's registration
// wants EV_CLEAR. Both halves are forced onto the same epoll trigger
// mode because EPOLLET is a property of the registration, not of a
// direction; a fd mixing a CLEAR read knote with a level write knote
// gets edge-triggered delivery on both, which only changes how often a
// still-ready write wakes (Copyout still gates on kn.Enabled/Data).
func (reg *fdReg) edgeTriggered() bool {
	if reg.read != nil && reg.read.Clear() {
		return true
	}
	if reg.write != nil && reg.write.Clear() {
		return true
	}
	return false
}

func (reg *fdReg) directions() (readable, writable bool) {
	return reg.read != nil, reg.write != nil
}

// join registers kn as the given direction's occupant of ident's shared
// fd registration, creating or growing the epoll registration as
// needed. It returns the Token now backing the registration.
func (s *rwShared) join(fd int, isRead bool, kn *knote.Knote) (*aggregator.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.regs[uint64(fd)]
	if !ok {
		ref := aggregator.Ref{FilterID: kn.Filter, Knote: kn}
		tok := aggregator.NewToken(uint64(fd), ref)
		reg = &fdReg{tok: tok}
		if isRead {
			reg.read = kn
		} else {
			reg.write = kn
		}
		s.regs[uint64(fd)] = reg
		r, w := reg.directions()
		if err := s.agg.Add(fd, r, w, reg.edgeTriggered(), tok); err != nil {
			delete(s.regs, uint64(fd))
			aggregator.FreeToken(tok)
			return nil, err
		}
		return tok, nil
	}

	if isRead {
		reg.read = kn
	} else {
		reg.write = kn
	}
	reg.tok.AddRef(aggregator.Ref{FilterID: kn.Filter, Knote: kn})
	r, w := reg.directions()
	if err := s.agg.Modify(fd, r, w, reg.edgeTriggered(), reg.tok); err != nil {
		return nil, err
	}
	return reg.tok, nil
}

// leave drops filterID's occupancy of ident's shared registration,
// narrowing the epoll registration to whatever direction remains, or
// removing it entirely once both directions are gone.
func (s *rwShared) leave(fd int, filterID int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.regs[uint64(fd)]
	if !ok {
		return nil
	}
	if filterID == kevent.EVFILT_READ {
		reg.read = nil
	} else {
		reg.write = nil
	}
	remaining := reg.tok.RemoveRef(filterID)
	if remaining == 0 {
		delete(s.regs, uint64(fd))
		aggregator.FreeToken(reg.tok)
		return s.agg.Remove(fd)
	}
	r, w := reg.directions()
	return s.agg.Modify(fd, r, w, reg.edgeTriggered(), reg.tok)
}

// rwFilter is one direction (read or write) of the shared-fd pair.
type rwFilter struct {
	tag    int16
	isRead bool
	shared *rwShared
}

// NewReadWrite builds the EVFILT_READ/EVFILT_WRITE filter pair, bound
// together through one rwShared so the two never fight over epoll's
// single registration per fd.
func NewReadWrite() (read Filter, write Filter) {
	shared := newRWShared(nil) // Agg is filled in on first Init via ctx.
	return &rwFilter{tag: kevent.EVFILT_READ, isRead: true, shared: shared},
		&rwFilter{tag: kevent.EVFILT_WRITE, isRead: false, shared: shared}
}

func (f *rwFilter) Init(ctx *Context) error {
	if f.shared.agg == nil {
		f.shared.agg = ctx.Agg
	}
	return nil
}

func (f *rwFilter) Destroy(ctx *Context) error {
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

func (f *rwFilter) ApplyChange(ctx *Context, change *kevent.Event) (*kevent.Event, error) {
	fd := int(change.Ident)

	switch {
	case change.Flags&kevent.EV_ADD != 0:
		return f.applyAdd(ctx, change, fd)
	case change.Flags&kevent.EV_DELETE != 0:
		return f.applyDelete(ctx, change)
	case change.Flags&(kevent.EV_ENABLE|kevent.EV_DISABLE) != 0:
		return f.applyEnableDisable(ctx, change)
	default:
		ack := errAck(change, errno.ErrInvalid)
		return ack, errno.ErrInvalid
	}
}

func (f *rwFilter) applyAdd(ctx *Context, change *kevent.Event, fd int) (*kevent.Event, error) {
	ctx.Store.Lock()
	defer ctx.Store.Unlock()

	if kn, ok := ctx.Store.Get(change.Ident); ok {
		kn.Lock()
		kn.Udata = change.Udata
		kn.SetOneshot(change.Flags&kevent.EV_ONESHOT != 0)
		kn.SetDispatch(change.Flags&kevent.EV_DISPATCH != 0)
		kn.SetClear(change.Flags&kevent.EV_CLEAR != 0)
		if change.Flags&kevent.EV_DISABLE == 0 {
			kn.SetEnabled(true)
		}
		kn.Unlock()
		if _, err := f.shared.join(fd, f.isRead, kn); err != nil {
			return errAck(change, err), err
		}
		if receipted(change) {
			return successAck(change), nil
		}
		return nil, nil
	}

	filterID := f.tag
	kn := knote.New(filterID, change.Ident, change.Udata, func() error {
		return f.shared.leave(fd, filterID)
	})
	kn.SetEnabled(change.Flags&kevent.EV_DISABLE == 0)
	kn.SetOneshot(change.Flags&kevent.EV_ONESHOT != 0)
	kn.SetDispatch(change.Flags&kevent.EV_DISPATCH != 0)
	kn.SetClear(change.Flags&kevent.EV_CLEAR != 0)

	if _, err := f.shared.join(fd, f.isRead, kn); err != nil {
		return errAck(change, err), err
	}
	kn.SetArmed(true)
	if err := ctx.Store.Insert(kn); err != nil {
		_ = f.shared.leave(fd, filterID)
		return errAck(change, err), err
	}
	if receipted(change) {
		return successAck(change), nil
	}
	return nil, nil
}

func (f *rwFilter) applyDelete(ctx *Context, change *kevent.Event) (*kevent.Event, error) {
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

func (f *rwFilter) applyEnableDisable(ctx *Context, change *kevent.Event) (*kevent.Event, error) {
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
}

// Copyout translates one native wake into a read or write event,
// reporting the pending byte count (EVFILT_READ, via FIONREAD) or a
// constant readiness indicator (EVFILT_WRITE, which BSD defines as the
// space available but which this runtime — like most epoll-backed
// emulations — reports only as "some room exists", per design §9's
// catalog of platform-limited behaviors).
func (f *rwFilter) Copyout(ctx *Context, r aggregator.Readiness) (*kevent.Event, bool, error) {
	var kn *knote.Knote
	for _, ref := range r.Token.Snapshot() {
		if ref.FilterID == f.tag {
			kn = ref.Knote
			break
		}
	}
	if kn == nil {
		return nil, true, nil
	}
	if !kn.Acquire() {
		return nil, true, nil
	}
	defer kn.Release()

	kn.Lock()
	if !kn.Enabled() {
		kn.Unlock()
		return nil, true, nil
	}

	ready := r.HangUp
	if f.isRead {
		ready = ready || r.Readable
	} else {
		ready = ready || r.Writable
	}
	if !ready {
		kn.Unlock()
		return nil, true, nil
	}

	ev := &kevent.Event{Ident: kn.Ident, Filter: f.tag, Udata: kn.Udata}
	if f.isRead {
		n, hup := bytesReadable(int(kn.Ident))
		ev.Data = n
		if hup || r.HangUp {
			ev.Flags |= kevent.EV_EOF
		}
	} else {
		ev.Data = writeSpaceHint(int(kn.Ident))
		if r.HangUp {
			ev.Flags |= kevent.EV_EOF
		}
	}

	if kn.Dispatch() {
		kn.SetEnabled(false)
		ev.Flags |= kevent.EV_DISPATCH
	}
	oneshot := kn.Oneshot()
	if kn.Clear() {
		ev.Flags |= kevent.EV_CLEAR
	}
	kn.Unlock()

	if oneshot {
		ctx.Store.Lock()
		_ = ctx.Store.Remove(kn.Ident)
		ctx.Store.Unlock()
		ev.Flags |= kevent.EV_ONESHOT
	}
	return ev, false, nil
}

// Pending is always empty: every rwFilter knote is driven entirely by
// its shared fd's aggregator registration.
func (f *rwFilter) Pending(ctx *Context) []*kevent.Event { return nil }

// bytesReadable returns the FIONREAD byte count for fd and whether the
// peer side looks closed. A zero count on a stream socket is ambiguous
// between "no data right now" and "peer closed"; a non-blocking
// MSG_PEEK resolves it the same way tnet's netfd read path treats a
// zero-length, no-error Read as a close.
func bytesReadable(fd int) (n int64, hangup bool) {
	avail, err := unix.IoctlGetInt(fd, unix.FIONREAD)
	if err != nil {
		return 0, false
	}
	if avail > 0 {
		return int64(avail), false
	}
	if !sysinit.PeerCloseDetectable() {
		return 0, false
	}
	buf := make([]byte, 1)
	got, _, err := unix.Recvfrom(fd, buf, unix.MSG_PEEK|unix.MSG_DONTWAIT)
	if err != nil {
		return 0, false
	}
	return 0, got == 0
}

// writeSpaceHint reports a conservative positive "some room available"
// figure; this runtime does not have access to the kernel's actual
// socket send-buffer accounting the way BSD's EVFILT_WRITE does.
func writeSpaceHint(fd int) int64 { return 1 }
