//go:build linux
// +build linux

package filter

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kqio/kqueue/internal/aggregator"
	"github.com/kqio/kqueue/internal/errno"
	"github.com/kqio/kqueue/internal/kevent"
	"github.com/kqio/kqueue/internal/knote"
)

const inotifyEventHeaderSize = 16 // wd(4) mask(4) cookie(4) len(4)

// vnodeAux is the per-knote inotify state: the path it resolved to (via
// /proc/self/fd, since BSD hands EVFILT_VNODE an open descriptor rather
// than a path the way inotify wants) and the watch descriptor it was
// given back.
type vnodeAux struct {
	wd   int32
	path string
}

// VnodeFilter implements EVFILT_VNODE on one shared inotify instance
// per kqueue (design §4.2): every watch is multiplexed onto the same
// fd, the same layout tnet gives its single epoll instance multiplexing
// every connection.
type VnodeFilter struct {
	agg aggregator.Aggregator

	mu       sync.Mutex
	inFD     int
	tok      *aggregator.Token
	byWD     map[int32]uint64 // inotify watch descriptor -> knote ident (fd)
}

func (f *VnodeFilter) Init(ctx *Context) error {
	f.agg = ctx.Agg
	f.byWD = make(map[int32]uint64)
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return errno.FromSyscall(err, "inotify_init1")
	}
	f.inFD = fd
	f.tok = aggregator.NewToken(uint64(fd), aggregator.Ref{FilterID: kevent.EVFILT_VNODE})
	if err := f.agg.Add(fd, true, false, false, f.tok); err != nil {
		_ = unix.Close(fd)
		return err
	}
	return nil
}

func (f *VnodeFilter) Destroy(ctx *Context) error {
	var first error
	ctx.Store.Lock()
	ctx.Store.Range(func(ident uint64, kn *knote.Knote) bool {
		if err := ctx.Store.Remove(ident); err != nil && first == nil {
			first = err
		}
		return true
	})
	ctx.Store.Unlock()

	_ = f.agg.Remove(f.inFD)
	aggregator.FreeToken(f.tok)
	if err := unix.Close(f.inFD); err != nil && first == nil {
		first = err
	}
	return first
}

func (f *VnodeFilter) ApplyChange(ctx *Context, change *kevent.Event) (*kevent.Event, error) {
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

func (f *VnodeFilter) applyAdd(ctx *Context, change *kevent.Event) (*kevent.Event, error) {
	path, err := os.Readlink(fmt.Sprintf("/proc/self/fd/%d", change.Ident))
	if err != nil {
		wrapped := errno.FromSyscall(err, "readlink /proc/self/fd")
		return errAck(change, wrapped), wrapped
	}

	mask := vnodeMask(change.Fflags)
	f.mu.Lock()
	wd, err := unix.InotifyAddWatch(f.inFD, path, mask)
	if err != nil {
		f.mu.Unlock()
		wrapped := errno.FromSyscall(err, "inotify_add_watch")
		return errAck(change, wrapped), wrapped
	}
	f.byWD[int32(wd)] = change.Ident
	f.mu.Unlock()

	kn := knote.New(kevent.EVFILT_VNODE, change.Ident, change.Udata, func() error {
		f.mu.Lock()
		delete(f.byWD, int32(wd))
		f.mu.Unlock()
		_, err := unix.InotifyRmWatch(f.inFD, uint32(wd))
		if err != nil && err != unix.EINVAL {
			return err
		}
		return nil
	})
	kn.Fflags = change.Fflags
	kn.Aux = &vnodeAux{wd: int32(wd), path: path}
	kn.SetOneshot(change.Flags&kevent.EV_ONESHOT != 0)
	kn.SetDispatch(change.Flags&kevent.EV_DISPATCH != 0)
	kn.SetClear(change.Flags&kevent.EV_CLEAR != 0)
	kn.SetEnabled(change.Flags&kevent.EV_DISABLE == 0)
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

// vnodeMask translates the watched NOTE_* bits into inotify's mask.
// NOTE_REVOKE has no inotify equivalent and is silently dropped; a
// filesystem unmount still surfaces as IN_UNMOUNT, folded into the same
// reported NOTE_REVOKE bit in copyout.
func vnodeMask(fflags uint32) uint32 {
	var mask uint32
	if fflags&kevent.NOTE_DELETE != 0 {
		mask |= unix.IN_DELETE_SELF
	}
	if fflags&kevent.NOTE_WRITE != 0 {
		mask |= unix.IN_MODIFY
	}
	if fflags&kevent.NOTE_EXTEND != 0 {
		mask |= unix.IN_MODIFY
	}
	if fflags&kevent.NOTE_ATTRIB != 0 {
		mask |= unix.IN_ATTRIB
	}
	if fflags&kevent.NOTE_LINK != 0 {
		mask |= unix.IN_ATTRIB
	}
	if fflags&kevent.NOTE_RENAME != 0 {
		mask |= unix.IN_MOVE_SELF
	}
	mask |= unix.IN_UNMOUNT
	return mask
}

func inotifyToNote(mask uint32) uint32 {
	var fflags uint32
	if mask&unix.IN_DELETE_SELF != 0 {
		fflags |= kevent.NOTE_DELETE
	}
	if mask&unix.IN_MODIFY != 0 {
		fflags |= kevent.NOTE_WRITE
	}
	if mask&unix.IN_ATTRIB != 0 {
		fflags |= kevent.NOTE_ATTRIB
	}
	if mask&unix.IN_MOVE_SELF != 0 {
		fflags |= kevent.NOTE_RENAME
	}
	if mask&unix.IN_UNMOUNT != 0 {
		fflags |= kevent.NOTE_REVOKE
	}
	return fflags
}

// Copyout drains exactly one inotify_event from the shared fd per call.
// Any events left queued when this returns stay queued in the kernel
// and keep the fd readable, so later Wait cycles pick them up without
// anything being dropped.
func (f *VnodeFilter) Copyout(ctx *Context, r aggregator.Readiness) (*kevent.Event, bool, error) {
	var hdr [inotifyEventHeaderSize]byte
	n, err := unix.Read(f.inFD, hdr[:])
	if err != nil || n < inotifyEventHeaderSize {
		return nil, true, nil
	}
	wd := int32(binary.LittleEndian.Uint32(hdr[0:4]))
	mask := binary.LittleEndian.Uint32(hdr[4:8])
	nameLen := binary.LittleEndian.Uint32(hdr[12:16])
	if nameLen > 0 {
		name := make([]byte, nameLen)
		_, _ = unix.Read(f.inFD, name)
	}

	f.mu.Lock()
	ident, ok := f.byWD[wd]
	f.mu.Unlock()
	if !ok {
		return nil, true, nil
	}

	ctx.Store.RLock()
	kn, ok := ctx.Store.Get(ident)
	ctx.Store.RUnlock()
	if !ok || !kn.Acquire() {
		return nil, true, nil
	}
	defer kn.Release()

	kn.Lock()
	if !kn.Enabled() {
		kn.Unlock()
		return nil, true, nil
	}
	ev := &kevent.Event{
		Ident: kn.Ident, Filter: kevent.EVFILT_VNODE, Udata: kn.Udata,
		Fflags: inotifyToNote(mask),
	}
	if kn.Dispatch() {
		kn.SetEnabled(false)
	}
	// A vanished watch target (the inode itself deleted, or the kernel
	// auto-dropping the watch out from under it) auto-disables the
	// knote rather than removing it: the knote stays resident so a
	// later EV_ENABLE or explicit EV_DELETE still applies to it, the
	// same "auto-disabled, not gone" contract EV_DISPATCH gives above.
	vanished := mask&(unix.IN_DELETE_SELF|unix.IN_IGNORED) != 0
	if vanished {
		kn.SetEnabled(false)
	}
	oneshot := kn.Oneshot()
	kn.Unlock()

	if oneshot {
		ctx.Store.Lock()
		_ = ctx.Store.Remove(ident)
		ctx.Store.Unlock()
	}
	return ev, false, nil
}

// Pending is always empty: every vnode wake flows through the shared
// inotify fd's aggregator registration.
func (f *VnodeFilter) Pending(ctx *Context) []*kevent.Event { return nil }
