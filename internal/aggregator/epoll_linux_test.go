//go:build linux
// +build linux

package aggregator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/kqio/kqueue/internal/aggregator"
)

func TestEpollAggregatorAddAndWait(t *testing.T) {
	agg, err := aggregator.New(4)
	require.NoError(t, err)
	defer agg.Close()
	assert.GreaterOrEqual(t, agg.Fd(), 0)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	tok := aggregator.NewToken(uint64(fds[0]), aggregator.Ref{FilterID: 1})
	require.NoError(t, agg.Add(fds[0], true, false, false, tok))

	d := 200 * time.Millisecond
	readiness, err := agg.Wait(&d)
	require.NoError(t, err)
	assert.Empty(t, readiness, "no data written yet")

	_, err = unix.Write(fds[1], []byte("x"))
	require.NoError(t, err)

	d2 := time.Second
	readiness, err = agg.Wait(&d2)
	require.NoError(t, err)
	require.Len(t, readiness, 1)
	assert.True(t, readiness[0].Readable)
	assert.Same(t, tok, readiness[0].Token)

	require.NoError(t, agg.Remove(fds[0]))
	aggregator.FreeToken(tok)
}

func TestEpollAggregatorInterruptWakesWait(t *testing.T) {
	agg, err := aggregator.New(0)
	require.NoError(t, err)
	defer agg.Close()

	require.NoError(t, agg.Interrupt())

	start := time.Now()
	readiness, err := agg.Wait(nil)
	require.NoError(t, err)
	assert.Empty(t, readiness)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestEpollAggregatorRemoveUnknownFd(t *testing.T) {
	agg, err := aggregator.New(0)
	require.NoError(t, err)
	defer agg.Close()

	assert.NoError(t, agg.Remove(99999))
}
