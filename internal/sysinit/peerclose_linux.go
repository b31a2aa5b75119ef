//go:build linux
// +build linux

// Package sysinit holds one-time platform capability probes the filter
// layer consults instead of guessing, the same role tnet's netutil
// gives its own small set of "does this kernel support X" checks.
package sysinit

import (
	"sync"

	"golang.org/x/sys/unix"
)

var (
	peerCloseOnce      sync.Once
	peerCloseSupported bool
)

// PeerCloseDetectable reports whether a non-blocking MSG_PEEK recv on a
// stream socket reliably distinguishes "no data yet" from "peer closed"
// on this kernel, probed once against a disposable socket pair rather
// than assumed. Every mainline Linux kernel supports this, but the
// probe keeps the read/write filter from depending on behavior it
// never actually verified.
func PeerCloseDetectable() bool {
	peerCloseOnce.Do(func() {
		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
		if err != nil {
			peerCloseSupported = false
			return
		}
		defer unix.Close(fds[0])
		_ = unix.Close(fds[1]) // close the peer immediately

		buf := make([]byte, 1)
		n, _, err := unix.Recvfrom(fds[0], buf, unix.MSG_PEEK|unix.MSG_DONTWAIT)
		peerCloseSupported = err == nil && n == 0
	})
	return peerCloseSupported
}
