// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux && !arm64 && !loong64 && !mips && !mipsle

// Package levent provides the raw epoll_event layout used by the
// aggregator's direct SYS_EPOLL_* syscalls, the same way tnet's
// internal/poller/event package backs poller_epoll.go.
package levent

// EpollEvent mirrors struct epoll_event as the kernel lays it out on
// amd64/386/arm/mips64/ppc64/s390x: a 4-byte events field immediately
// followed by the 8-byte epoll_data_t union, packed with no padding.
type EpollEvent struct {
	Events uint32
	_pad   uint32
	Data   [8]byte
}
