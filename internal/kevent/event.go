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

// Package kevent holds the kevent wire shape and its BSD-numbered
// constants in a leaf package so both the public kqueue API and the
// internal filter table can depend on it without an import cycle.
package kevent

// Event is the Go shape of struct kevent: (ident, filter, flags, fflags,
// data, udata). One Event describes either a change to apply (in a
// change-list) or a ready notification (in an event-list).
type Event struct {
	// Ident identifies the source: an fd, a signal number, a timer id, a
	// process id, or a user-chosen token for EVFILT_USER.
	Ident uint64
	// Filter selects the event class (one of the EVFILT_* constants).
	Filter int16
	// Flags is the action+behavior bitmask (EV_* constants).
	Flags uint16
	// Fflags carries filter-specific flags (the NOTE_* constants).
	Fflags uint32
	// Data carries a filter-specific numeric payload: bytes available,
	// signal count, timer expirations, or an errno for EV_ERROR.
	Data int64
	// Udata is an opaque value echoed back unchanged.
	Udata uintptr
}

// EVSet is the Go-idiomatic equivalent of the BSD EV_SET macro: it
// populates an Event in place from its six fields.
func EVSet(ev *Event, ident uint64, filter int16, flags uint16, fflags uint32, data int64, udata uintptr) {
	ev.Ident = ident
	ev.Filter = filter
	ev.Flags = flags
	ev.Fflags = fflags
	ev.Data = data
	ev.Udata = udata
}

// Flags bitmask, matching the BSD numeric values exactly (§6).
const (
	EV_ADD      uint16 = 0x0001
	EV_DELETE   uint16 = 0x0002
	EV_ENABLE   uint16 = 0x0004
	EV_DISABLE  uint16 = 0x0008
	EV_ONESHOT  uint16 = 0x0010
	EV_CLEAR    uint16 = 0x0020
	EV_RECEIPT  uint16 = 0x0040
	EV_DISPATCH uint16 = 0x0080
	EV_ERROR    uint16 = 0x4000
	EV_EOF      uint16 = 0x8000
)

// Filter tags, matching the BSD numeric values exactly (§6).
const (
	EVFILT_READ   int16 = -1
	EVFILT_WRITE  int16 = -2
	EVFILT_VNODE  int16 = -4
	EVFILT_PROC   int16 = -5
	EVFILT_SIGNAL int16 = -6
	EVFILT_TIMER  int16 = -7
	EVFILT_USER   int16 = -10
)

// EVFILT_SYSCOUNT is the magnitude of the lowest filter tag defined
// here (EVFILT_USER = -10). It is not part of the BSD ABI, and the
// filter table, a map keyed by tag, does not use it.
const EVFILT_SYSCOUNT = 10

// Vnode fflags (NOTE_*), the subset this runtime can translate from
// inotify (§4.2).
const (
	NOTE_DELETE uint32 = 0x0001
	NOTE_WRITE  uint32 = 0x0002
	NOTE_EXTEND uint32 = 0x0004
	NOTE_ATTRIB uint32 = 0x0008
	NOTE_LINK   uint32 = 0x0010
	NOTE_RENAME uint32 = 0x0020
	NOTE_REVOKE uint32 = 0x0040
)

// Timer fflags (NOTE_*): unit selection and absolute-vs-relative.
const (
	NOTE_SECONDS uint32 = 0x00000001
	NOTE_USECONDS uint32 = 0x00000002
	NOTE_NSECONDS uint32 = 0x00000004
	NOTE_ABSOLUTE uint32 = 0x00000008
	NOTE_MSECONDS uint32 = 0x00000000 // default unit, kept for symmetry
)

// User-filter fflags (NOTE_*): the value-combine protocol and trigger bit.
const (
	NOTE_FFNOP      uint32 = 0x00000000
	NOTE_FFAND      uint32 = 0x40000000
	NOTE_FFOR       uint32 = 0x80000000
	NOTE_FFCOPY     uint32 = 0xc0000000
	NOTE_FFCTRLMASK uint32 = 0xc0000000
	NOTE_FFLAGSMASK uint32 = 0x00ffffff
	NOTE_TRIGGER    uint32 = 0x01000000
)

// Proc fflags (NOTE_*): only NOTE_EXIT is implemented on Linux; an ADD
// carrying any of the others fails with ENOTSUP.
const (
	NOTE_EXIT   uint32 = 0x80000000
	NOTE_FORK   uint32 = 0x40000000
	NOTE_EXEC   uint32 = 0x20000000
	NOTE_TRACK  uint32 = 0x00000001
	NOTE_TRACKERR uint32 = 0x00000002
	NOTE_CHILD  uint32 = 0x00000004
)
