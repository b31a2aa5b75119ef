package filter

import (
	"time"

	"github.com/kqio/kqueue/internal/kevent"
)

// timerDuration translates an EVFILT_TIMER change's fflags/data pair
// into a time.Duration, per the NOTE_SECONDS/USECONDS/NSECONDS unit
// selection table (design §4.2); BSD's historical default unit with
// none of the three given is milliseconds.
func timerDuration(fflags uint32, data int64) time.Duration {
	switch {
	case fflags&kevent.NOTE_SECONDS != 0:
		return time.Duration(data) * time.Second
	case fflags&kevent.NOTE_USECONDS != 0:
		return time.Duration(data) * time.Microsecond
	case fflags&kevent.NOTE_NSECONDS != 0:
		return time.Duration(data) * time.Nanosecond
	default:
		return time.Duration(data) * time.Millisecond
	}
}
