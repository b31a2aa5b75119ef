// Package aggregator implements the per-kqueue wait fabric (design
// §4.3): one "outer" readiness primitive registered with every filter's
// inner primitive, demultiplexing wake-ups into (filter, knote) tokens.
//
// On Linux the outer primitive is epoll, built the same way tnet's
// poller_epoll.go builds its event loop. On Windows it is an I/O
// completion port, a parallel, less complete realization of the same
// contract kept independent from the Linux path.
package aggregator

import "time"

// Readiness describes one native wake: which token fired and which
// direction(s) of readiness it reports.
type Readiness struct {
	Token    *Token
	Readable bool
	Writable bool
	HangUp   bool
}

// Aggregator is the outer readiness primitive shared by every filter
// bound to one kqueue.
type Aggregator interface {
	// Fd returns the OS descriptor backing the aggregator itself, so a
	// kqueue can in turn be registered in another event loop (§6).
	Fd() int

	// Add registers fd for the given readiness directions, associating
	// it with tok. Add is used for EV_ADD. edgeTriggered requests
	// edge-triggered delivery where the platform distinguishes the two
	// (Linux EPOLLET); platforms that cannot (Windows IOCP, which is
	// inherently a one-shot-per-completion model) ignore it.
	Add(fd int, readable, writable, edgeTriggered bool, tok *Token) error

	// Modify changes the registered readiness directions for fd.
	Modify(fd int, readable, writable, edgeTriggered bool, tok *Token) error

	// Remove unregisters fd. It is not an error to remove an fd that
	// was already implicitly dropped (e.g. because it was closed).
	Remove(fd int) error

	// Wait blocks until at least one registered fd is ready, the
	// timeout elapses, or Interrupt is called, returning the set of
	// ready tokens. A nil timeout blocks indefinitely; a zero timeout
	// polls without blocking. Spurious, empty wakes are reported as a
	// zero-length, nil-error result, never as an error.
	Wait(timeout *time.Duration) ([]Readiness, error)

	// Interrupt wakes a thread currently blocked in Wait without it
	// corresponding to any knote — the "dedicated inner primitive that
	// never maps to a knote" of design §4.3.
	Interrupt() error

	// Close releases the aggregator's own OS resources. Callers must
	// have already removed every registered fd.
	Close() error
}
