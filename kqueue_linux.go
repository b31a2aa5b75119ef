//go:build linux
// +build linux

package kqueue

import (
	"github.com/kqio/kqueue/internal/filter"
	"github.com/kqio/kqueue/internal/kevent"
)

// registerFilters wires the full filter set this runtime supports on
// Linux: every EVFILT_* the spec names gets a real backing primitive
// here, none fall back to filter.NotImplemented (design §9).
func registerFilters(t *filter.Table) {
	read, write := filter.NewReadWrite()
	t.Register(kevent.EVFILT_READ, read)
	t.Register(kevent.EVFILT_WRITE, write)
	t.Register(kevent.EVFILT_TIMER, &filter.TimerFilter{})
	t.Register(kevent.EVFILT_SIGNAL, &filter.SignalFilter{})
	t.Register(kevent.EVFILT_USER, &filter.UserFilter{})
	t.Register(kevent.EVFILT_VNODE, &filter.VnodeFilter{})
	t.Register(kevent.EVFILT_PROC, &filter.ProcFilter{})
}
