//go:build linux
// +build linux

package sysinit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kqio/kqueue/internal/sysinit"
)

func TestPeerCloseDetectable(t *testing.T) {
	// Every mainline Linux kernel this runs the suite on supports the
	// MSG_PEEK probe; the call is exercised mainly for its memoization.
	assert.True(t, sysinit.PeerCloseDetectable())
	assert.True(t, sysinit.PeerCloseDetectable())
}
