//go:build windows
// +build windows

package aggregator

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// iocpAggregator is the Windows realization of Aggregator, built on an
// I/O completion port. Per design §9's Open Questions, the source's
// Windows path was already incomplete and several filters were marked
// not-implemented there; this keeps the same shape — a parallel,
// independent realization of the outer-primitive contract, authoritative
// for nothing beyond what it implements. On Windows only EVFILT_TIMER and
// EVFILT_USER have real filters; EVFILT_READ, EVFILT_WRITE,
// EVFILT_SIGNAL, EVFILT_VNODE and EVFILT_PROC are filter.NotImplemented
// and fail every change with ErrInvalid.
//
// Readiness here is one-shot per completion by construction: every
// completion posted to the port (whether a real overlapped I/O
// completion or a software Post from the user/timer filters) is
// delivered exactly once, by one Wait, since IOCP has no concept of
// re-arming a handle the way epoll does. Every delivered completion is
// reported as both readable and writable.
type iocpAggregator struct {
	port windows.Handle

	mu      sync.Mutex
	regs    map[windows.Handle]*Token
	wakeKey uintptr
}

// New builds the platform aggregator: an IOCP on Windows. bufSize is
// accepted for signature parity with the Linux build but unused: IOCP
// has no analogue of epoll's caller-sized event buffer, since
// GetQueuedCompletionStatus dequeues one completion per call.
func New(bufSize int) (Aggregator, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, errors.Wrap(err, "aggregator: CreateIoCompletionPort")
	}
	return &iocpAggregator{
		port: port,
		regs: make(map[windows.Handle]*Token),
	}, nil
}

func (a *iocpAggregator) Fd() int { return int(a.port) }

// edgeTriggered is accepted for interface symmetry and ignored: IOCP
// completions are inherently delivered exactly once, so there is no
// level/edge distinction to make here (see the type doc comment).
func (a *iocpAggregator) Add(fd int, readable, writable, edgeTriggered bool, tok *Token) error {
	h := windows.Handle(fd)
	if _, err := windows.CreateIoCompletionPort(h, a.port, uintptr(fd), 0); err != nil {
		return errors.Wrap(err, "aggregator: associate handle")
	}
	a.mu.Lock()
	a.regs[h] = tok
	a.mu.Unlock()
	return nil
}

func (a *iocpAggregator) Modify(fd int, readable, writable, edgeTriggered bool, tok *Token) error {
	a.mu.Lock()
	a.regs[windows.Handle(fd)] = tok
	a.mu.Unlock()
	return nil
}

func (a *iocpAggregator) Remove(fd int) error {
	a.mu.Lock()
	delete(a.regs, windows.Handle(fd))
	a.mu.Unlock()
	return nil
}

func (a *iocpAggregator) Wait(timeout *time.Duration) ([]Readiness, error) {
	msec := uint32(windows.INFINITE)
	if timeout != nil {
		msec = uint32(timeout.Milliseconds())
	}
	var bytes uint32
	var key uintptr
	var overlapped *windows.Overlapped
	err := windows.GetQueuedCompletionStatus(a.port, &bytes, &key, &overlapped, msec)
	if err != nil {
		if err == windows.WAIT_TIMEOUT {
			return nil, nil
		}
		return nil, errors.Wrap(err, "aggregator: GetQueuedCompletionStatus")
	}
	// Return every Token freed since the last completion to the
	// allocation pool, the same cadence the Linux build gives it.
	Reclaim()
	if key == a.wakeKey && overlapped == nil {
		return nil, nil
	}
	a.mu.Lock()
	tok := a.regs[windows.Handle(key)]
	a.mu.Unlock()
	if tok == nil {
		return nil, nil
	}
	return []Readiness{{Token: tok, Readable: true, Writable: true}}, nil
}

func (a *iocpAggregator) Interrupt() error {
	return windows.PostQueuedCompletionStatus(a.port, 0, a.wakeKey, nil)
}

func (a *iocpAggregator) Close() error {
	return windows.CloseHandle(a.port)
}
