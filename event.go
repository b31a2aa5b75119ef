//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

// Package kqueue provides a portable re-implementation of the BSD
// kqueue/kevent event-notification facility on platforms that lack it
// natively, built atop epoll plus timerfd/inotify/eventfd (and os/signal
// for EVFILT_SIGNAL) on Linux and I/O completion ports on Windows.
package kqueue

import "github.com/kqio/kqueue/internal/kevent"

// Event is the Go shape of struct kevent: (ident, filter, flags, fflags,
// data, udata). One Event describes either a change to apply (in a
// change-list) or a ready notification (in an event-list).
type Event = kevent.Event

// EVSet is the Go-idiomatic equivalent of the BSD EV_SET macro: it
// populates an Event in place from its six fields.
func EVSet(ev *Event, ident uint64, filter int16, flags uint16, fflags uint32, data int64, udata uintptr) {
	kevent.EVSet(ev, ident, filter, flags, fflags, data, udata)
}

// Flags bitmask, matching the BSD numeric values exactly (§6).
const (
	EV_ADD      = kevent.EV_ADD
	EV_DELETE   = kevent.EV_DELETE
	EV_ENABLE   = kevent.EV_ENABLE
	EV_DISABLE  = kevent.EV_DISABLE
	EV_ONESHOT  = kevent.EV_ONESHOT
	EV_CLEAR    = kevent.EV_CLEAR
	EV_RECEIPT  = kevent.EV_RECEIPT
	EV_DISPATCH = kevent.EV_DISPATCH
	EV_ERROR    = kevent.EV_ERROR
	EV_EOF      = kevent.EV_EOF
)

// Filter tags, matching the BSD numeric values exactly (§6).
const (
	EVFILT_READ   = kevent.EVFILT_READ
	EVFILT_WRITE  = kevent.EVFILT_WRITE
	EVFILT_VNODE  = kevent.EVFILT_VNODE
	EVFILT_PROC   = kevent.EVFILT_PROC
	EVFILT_SIGNAL = kevent.EVFILT_SIGNAL
	EVFILT_TIMER  = kevent.EVFILT_TIMER
	EVFILT_USER   = kevent.EVFILT_USER
)

// Vnode fflags (NOTE_*), the subset this runtime can translate from inotify.
const (
	NOTE_DELETE = kevent.NOTE_DELETE
	NOTE_WRITE  = kevent.NOTE_WRITE
	NOTE_EXTEND = kevent.NOTE_EXTEND
	NOTE_ATTRIB = kevent.NOTE_ATTRIB
	NOTE_LINK   = kevent.NOTE_LINK
	NOTE_RENAME = kevent.NOTE_RENAME
	NOTE_REVOKE = kevent.NOTE_REVOKE
)

// Timer fflags (NOTE_*): unit selection and absolute-vs-relative.
const (
	NOTE_SECONDS  = kevent.NOTE_SECONDS
	NOTE_USECONDS = kevent.NOTE_USECONDS
	NOTE_NSECONDS = kevent.NOTE_NSECONDS
	NOTE_ABSOLUTE = kevent.NOTE_ABSOLUTE
)

// User-filter fflags (NOTE_*): the value-combine protocol and trigger bit.
const (
	NOTE_FFNOP      = kevent.NOTE_FFNOP
	NOTE_FFAND      = kevent.NOTE_FFAND
	NOTE_FFOR       = kevent.NOTE_FFOR
	NOTE_FFCOPY     = kevent.NOTE_FFCOPY
	NOTE_FFCTRLMASK = kevent.NOTE_FFCTRLMASK
	NOTE_FFLAGSMASK = kevent.NOTE_FFLAGSMASK
	NOTE_TRIGGER    = kevent.NOTE_TRIGGER
)

// Proc fflags (NOTE_*): only NOTE_EXIT is implemented on Linux; an ADD
// carrying any of the others fails with ENOTSUP.
const (
	NOTE_EXIT     = kevent.NOTE_EXIT
	NOTE_FORK     = kevent.NOTE_FORK
	NOTE_EXEC     = kevent.NOTE_EXEC
	NOTE_TRACK    = kevent.NOTE_TRACK
	NOTE_TRACKERR = kevent.NOTE_TRACKERR
	NOTE_CHILD    = kevent.NOTE_CHILD
)
