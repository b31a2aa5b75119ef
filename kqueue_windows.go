//go:build windows
// +build windows

package kqueue

import (
	"github.com/kqio/kqueue/internal/filter"
	"github.com/kqio/kqueue/internal/kevent"
)

// registerFilters wires the reduced filter set this runtime supports on
// Windows (design §9's Open Questions): EVFILT_TIMER and EVFILT_USER
// are fully implemented on top of time.AfterFunc and an IOCP software
// trigger respectively, while the fd-oriented and OS-notification
// filters fail explicitly rather than silently doing nothing, since
// IOCP's overlapped-I/O model and this package's epoll-shaped
// EVFILT_READ/WRITE contract do not map onto each other without a
// second, independent implementation this package does not carry.
func registerFilters(t *filter.Table) {
	t.Register(kevent.EVFILT_READ, filter.NotImplemented{})
	t.Register(kevent.EVFILT_WRITE, filter.NotImplemented{})
	t.Register(kevent.EVFILT_TIMER, &filter.TimerFilter{})
	t.Register(kevent.EVFILT_SIGNAL, filter.NotImplemented{})
	t.Register(kevent.EVFILT_USER, &filter.UserFilter{})
	t.Register(kevent.EVFILT_VNODE, filter.NotImplemented{})
	t.Register(kevent.EVFILT_PROC, filter.NotImplemented{})
}
