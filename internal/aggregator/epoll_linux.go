//go:build linux
// +build linux

package aggregator

import (
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/kqio/kqueue/internal/aggregator/levent"
)

const defaultEventCount = 64

// rflags/wflags follow tnet's poller_epoll.go exactly: EPOLLHUP/EPOLLERR
// are requested with either direction, and EPOLLRDHUP (with EPOLLPRI)
// with the read direction, so a peer hang-up is visible regardless of
// which half the knote watches.
const (
	rflags = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR | unix.EPOLLPRI
	wflags = unix.EPOLLOUT | unix.EPOLLHUP | unix.EPOLLERR
)

type epollAggregator struct {
	fd         int
	wakeFD     int
	wakeBuf    [8]byte
	events     []levent.EpollEvent
	notified   int32
}

// New builds the platform aggregator: epoll on Linux. bufSize overrides
// the number of events fetched per epoll_pwait call; 0 selects
// defaultEventCount.
func New(bufSize int) (Aggregator, error) {
	if bufSize <= 0 {
		bufSize = defaultEventCount
	}
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	ep := &epollAggregator{
		fd:     fd,
		wakeFD: wakeFD,
		events: make([]levent.EpollEvent, bufSize),
	}
	evt := &levent.EpollEvent{Events: unix.EPOLLIN}
	if err := epollCtl(ep.fd, unix.EPOLL_CTL_ADD, ep.wakeFD, evt); err != nil {
		_ = unix.Close(fd)
		_ = unix.Close(wakeFD)
		return nil, os.NewSyscallError("epoll_ctl add wake", err)
	}
	return ep, nil
}

func (ep *epollAggregator) Fd() int { return ep.fd }

func (ep *epollAggregator) Add(fd int, readable, writable, edgeTriggered bool, tok *Token) error {
	evt := &levent.EpollEvent{Events: directionFlags(readable, writable, edgeTriggered)}
	*(**Token)(unsafe.Pointer(&evt.Data)) = tok
	if err := epollCtl(ep.fd, unix.EPOLL_CTL_ADD, fd, evt); err != nil {
		return errors.Wrap(os.NewSyscallError("epoll_ctl add", err), "aggregator: add")
	}
	return nil
}

func (ep *epollAggregator) Modify(fd int, readable, writable, edgeTriggered bool, tok *Token) error {
	evt := &levent.EpollEvent{Events: directionFlags(readable, writable, edgeTriggered)}
	*(**Token)(unsafe.Pointer(&evt.Data)) = tok
	if err := epollCtl(ep.fd, unix.EPOLL_CTL_MOD, fd, evt); err != nil {
		return errors.Wrap(os.NewSyscallError("epoll_ctl mod", err), "aggregator: modify")
	}
	return nil
}

func (ep *epollAggregator) Remove(fd int) error {
	if err := epollCtl(ep.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		if err == unix.EBADF || err == unix.ENOENT {
			return nil
		}
		return errors.Wrap(os.NewSyscallError("epoll_ctl del", err), "aggregator: remove")
	}
	return nil
}

func directionFlags(readable, writable, edgeTriggered bool) uint32 {
	var flags uint32
	if readable {
		flags |= rflags
	}
	if writable {
		flags |= wflags
	}
	if edgeTriggered {
		flags |= unix.EPOLLET
	}
	return flags
}

func (ep *epollAggregator) Wait(timeout *time.Duration) ([]Readiness, error) {
	msec := -1
	if timeout != nil {
		msec = int(timeout.Milliseconds())
		if msec < 0 {
			msec = 0
		}
	}
	n, err := epollWait(ep.fd, ep.events, msec)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, os.NewSyscallError("epoll_pwait", err)
	}
	// Return every Token freed since the last batch to the allocation
	// pool before handing this batch's readiness back, the same cadence
	// tnet's poller gives its own desc cache in detach().
	Reclaim()
	if n <= 0 {
		return nil, nil
	}
	ready := make([]Readiness, 0, n)
	for i := 0; i < n; i++ {
		ev := ep.events[i]
		tok := *(**Token)(unsafe.Pointer(&ev.Data))
		if tok == nil {
			// The wake fd's registration is the only one ever left
			// with a zero Data field (see New): a nil token always
			// means this is the cross-thread interrupt firing.
			_, _ = unix.Read(ep.wakeFD, ep.wakeBuf[:])
			atomic.StoreInt32(&ep.notified, 0)
			continue
		}
		ready = append(ready, Readiness{
			Token:    tok,
			Readable: ev.Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			HangUp:   ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLERR) != 0,
		})
	}
	return ready, nil
}

func (ep *epollAggregator) Interrupt() error {
	if atomic.CompareAndSwapInt32(&ep.notified, 0, 1) {
		for {
			_, err := unix.Write(ep.wakeFD, []byte{1, 0, 0, 0, 0, 0, 0, 0})
			if err != unix.EINTR && err != unix.EAGAIN {
				if err != nil {
					return os.NewSyscallError("write", err)
				}
				return nil
			}
		}
	}
	return nil
}

func (ep *epollAggregator) Close() error {
	err1 := unix.Close(ep.fd)
	err2 := unix.Close(ep.wakeFD)
	if err1 != nil {
		return os.NewSyscallError("close", err1)
	}
	if err2 != nil {
		return os.NewSyscallError("close", err2)
	}
	return nil
}

func epollCtl(epfd, op, fd int, event *levent.EpollEvent) error {
	_, _, errno := unix.RawSyscall6(
		unix.SYS_EPOLL_CTL,
		uintptr(epfd), uintptr(op), uintptr(fd),
		uintptr(unsafe.Pointer(event)), 0, 0)
	if errno == 0 {
		return nil
	}
	return errno
}

func epollWait(epfd int, events []levent.EpollEvent, msec int) (int, error) {
	var r0 uintptr
	var err error
	p0 := unsafe.Pointer(&events[0])
	if msec == 0 {
		r0, _, err = unix.RawSyscall6(unix.SYS_EPOLL_PWAIT,
			uintptr(epfd), uintptr(p0), uintptr(len(events)), 0, 0, 0)
	} else {
		r0, _, err = unix.Syscall6(unix.SYS_EPOLL_PWAIT,
			uintptr(epfd), uintptr(p0), uintptr(len(events)), uintptr(msec), 0, 0)
	}
	if err == unix.Errno(0) {
		err = nil
	}
	return int(r0), err
}
