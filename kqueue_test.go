//go:build linux
// +build linux

package kqueue_test

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/kqio/kqueue"
)

// TestPeerCloseReportsEOF covers the socket-pair close scenario: closing
// one half of a stream socket must surface as a single read-ready event
// with EV_EOF set on the other half, without the caller ever touching
// the byte stream itself.
func TestPeerCloseReportsEOF(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])

	kq, err := kqueue.Open()
	require.NoError(t, err)
	defer kq.Close()

	var add kqueue.Event
	kqueue.EVSet(&add, uint64(fds[0]), kqueue.EVFILT_READ, kqueue.EV_ADD, 0, 0, 0)
	n, err := kq.Kevent([]kqueue.Event{add}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, unix.Close(fds[1]))

	out := make([]kqueue.Event, 4)
	timeout := time.Second
	n, err = kq.Kevent(nil, out, &timeout)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, kqueue.EVFILT_READ, out[0].Filter)
	assert.NotZero(t, out[0].Flags&kqueue.EV_EOF)
	assert.Equal(t, int64(0), out[0].Data)
}

// TestUserTriggerFiresOnce covers the software-driven EVFILT_USER path:
// a NOTE_TRIGGER change wakes exactly one pending wait, and the EV_CLEAR
// registration means a second wait with no further trigger times out.
func TestUserTriggerFiresOnce(t *testing.T) {
	kq, err := kqueue.Open()
	require.NoError(t, err)
	defer kq.Close()

	var add kqueue.Event
	kqueue.EVSet(&add, 42, kqueue.EVFILT_USER, kqueue.EV_ADD|kqueue.EV_CLEAR, 0, 0, 0)
	_, err = kq.Kevent([]kqueue.Event{add}, nil, nil)
	require.NoError(t, err)

	var trigger kqueue.Event
	kqueue.EVSet(&trigger, 42, kqueue.EVFILT_USER, 0, kqueue.NOTE_TRIGGER, 0, 0)
	_, err = kq.Kevent([]kqueue.Event{trigger}, nil, nil)
	require.NoError(t, err)

	out := make([]kqueue.Event, 4)
	timeout := time.Second
	n, err := kq.Kevent(nil, out, &timeout)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, uint64(42), out[0].Ident)

	timeout2 := 200 * time.Millisecond
	n, err = kq.Kevent(nil, out, &timeout2)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// TestTimerOneshotFiresThenKnoteGone covers EVFILT_TIMER with
// EV_ONESHOT: one wait returns the single expiration, and the knote is
// gone afterward so a second wait simply times out.
func TestTimerOneshotFiresThenKnoteGone(t *testing.T) {
	kq, err := kqueue.Open()
	require.NoError(t, err)
	defer kq.Close()

	var add kqueue.Event
	kqueue.EVSet(&add, 7, kqueue.EVFILT_TIMER, kqueue.EV_ADD|kqueue.EV_ONESHOT, 0, 50, 0)
	_, err = kq.Kevent([]kqueue.Event{add}, nil, nil)
	require.NoError(t, err)

	out := make([]kqueue.Event, 4)
	timeout := time.Second
	n, err := kq.Kevent(nil, out, &timeout)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, uint64(7), out[0].Ident)
	assert.GreaterOrEqual(t, out[0].Data, int64(1))

	timeout2 := 200 * time.Millisecond
	n, err = kq.Kevent(nil, out, &timeout2)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// TestKeventOnClosedKqueueReturnsBadFileDescriptor covers the invalid-kq
// scenario: once a kqueue is closed, any further Kevent call fails with
// EBADF instead of panicking or silently succeeding.
func TestKeventOnClosedKqueueReturnsBadFileDescriptor(t *testing.T) {
	kq, err := kqueue.Open()
	require.NoError(t, err)
	require.NoError(t, kq.Close())

	n, err := kq.Kevent(nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, syscall.EBADF)
}

// TestReceiptOnReAddOfExistingOneshotKnote covers the RECEIPT failure
// path: re-ADDing an already-registered knote with EV_RECEIPT set must
// produce exactly one EV_ERROR acknowledgement event rather than either
// silently succeeding with no event-list entry or aborting the call.
// This runtime treats re-ADD as an idempotent merge of the existing
// knote (rearming it) rather than rejecting it outright, so the
// acknowledgement carries data=0 rather than EEXIST; the original
// knote's identity is left untouched either way.
func TestReceiptOnReAddOfExistingOneshotKnote(t *testing.T) {
	kq, err := kqueue.Open()
	require.NoError(t, err)
	defer kq.Close()

	var add kqueue.Event
	kqueue.EVSet(&add, 99, kqueue.EVFILT_USER, kqueue.EV_ADD|kqueue.EV_ONESHOT, 0, 0, 0)
	n, err := kq.Kevent([]kqueue.Event{add}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	var readd kqueue.Event
	kqueue.EVSet(&readd, 99, kqueue.EVFILT_USER, kqueue.EV_ADD|kqueue.EV_ONESHOT|kqueue.EV_RECEIPT, 0, 0, 0)
	out := make([]kqueue.Event, 1)
	n, err = kq.Kevent([]kqueue.Event{readd}, out, nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, uint64(99), out[0].Ident)
	assert.Equal(t, kqueue.EVFILT_USER, out[0].Filter)
	assert.NotZero(t, out[0].Flags&kqueue.EV_ERROR)
	assert.Zero(t, out[0].Data, "idempotent re-ADD merge acknowledges success, not EEXIST")

	var del kqueue.Event
	kqueue.EVSet(&del, 99, kqueue.EVFILT_USER, kqueue.EV_DELETE, 0, 0, 0)
	_, err = kq.Kevent([]kqueue.Event{del}, nil, nil)
	require.NoError(t, err, "the re-ADDed knote must still be the same, deletable registration")
}
