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

package kqueue

import (
	"time"

	"github.com/kqio/kqueue/internal/aggregator"
	"github.com/kqio/kqueue/internal/errno"
	"github.com/kqio/kqueue/internal/filter"
	"github.com/kqio/kqueue/internal/kevent"
	"github.com/kqio/kqueue/metrics"
)

// Kevent is the three-phase call the whole package exists to
// reimplement (design §4.4): it applies changes, then — if events has
// room and nothing from the change phase already filled it — waits for
// readiness and copies out up to len(events) ready notifications. A nil
// timeout blocks indefinitely; a zero timeout polls without blocking.
//
// Kevent holds kq.mu for the whole call, the wait phase's blocking call
// included, so Kevent calls on one Kqueue run one at a time. Close does
// not take kq.mu, so a Kevent blocked in the wait phase does not stall a
// concurrent Close.
func (kq *Kqueue) Kevent(changes, events []Event, timeout *time.Duration) (int, error) {
	metrics.Add(metrics.KeventCalls, 1)

	kq.mu.Lock()
	defer kq.mu.Unlock()

	if err := kq.checkOpen(); err != nil {
		return 0, err
	}

	n, err := kq.applyChanges(changes, events)
	if err != nil {
		return n, err
	}
	if n > 0 || len(events) == 0 {
		return n, nil
	}
	return kq.waitAndCopyout(events, n, timeout)
}

// applyChanges runs the change phase (design §4.4's first phase): every
// change is looked up by filter tag and applied in order. A failure
// with room left in events becomes an EV_ERROR entry and processing
// continues; a failure with EV_RECEIPT set but no room left is counted
// and dropped without an entry, and processing continues; a failure
// with neither aborts the whole call immediately, matching BSD's "first
// unreceipted error stops the changelist scan" behavior.
func (kq *Kqueue) applyChanges(changes, events []Event) (int, error) {
	n := 0
	for i := range changes {
		ch := &changes[i]

		f, ctx, ok := kq.table.Lookup(ch.Filter)
		if !ok {
			err := errno.ErrInvalid
			if ch.Flags&EV_RECEIPT != 0 || n < len(events) {
				if n < len(events) {
					events[n] = unknownFilterAck(ch, err)
					n++
				}
				metrics.Add(metrics.ChangesFailed, 1)
				continue
			}
			return n, err
		}

		ack, err := f.ApplyChange(ctx, ch)
		if err != nil {
			metrics.Add(metrics.ChangesFailed, 1)
			if ack != nil && (ch.Flags&EV_RECEIPT != 0 || n < len(events)) {
				if n < len(events) {
					events[n] = *ack
					n++
				}
				continue
			}
			return n, err
		}
		metrics.Add(metrics.ChangesApplied, 1)
		if ack != nil && n < len(events) {
			events[n] = *ack
			n++
		}
	}
	return n, nil
}

func unknownFilterAck(change *Event, err error) Event {
	return kevent.Event{
		Ident: change.Ident, Filter: change.Filter, Flags: EV_ERROR,
		Data: int64(errno.ToErrno(err)), Udata: change.Udata,
	}
}

// waitAndCopyout runs the wait and copyout phases (design §4.4's second
// and third phases). timeout, if non-nil, bounds the whole call, not
// any single aggregator Wait — a spurious wake with nothing to report
// re-enters Wait with whatever time remains rather than restarting the
// full duration.
func (kq *Kqueue) waitAndCopyout(events []Event, n int, timeout *time.Duration) (int, error) {
	var deadline *time.Time
	if timeout != nil {
		d := time.Now().Add(*timeout)
		deadline = &d
	}

	for {
		var waitFor *time.Duration
		if deadline != nil {
			remaining := time.Until(*deadline)
			if remaining < 0 {
				remaining = 0
			}
			waitFor = &remaining
		}
		if waitFor != nil && *waitFor == 0 {
			metrics.Add(metrics.AggregatorNoWait, 1)
		}

		readiness, err := kq.agg.Wait(waitFor)
		if err != nil {
			return n, errno.FromSyscall(err, "aggregator wait")
		}
		metrics.Add(metrics.AggregatorWait, 1)
		metrics.Add(metrics.AggregatorReadiness, uint64(len(readiness)))

		for _, r := range readiness {
			for _, tag := range distinctTags(r) {
				f, ctx, ok := kq.table.Lookup(tag)
				if !ok {
					continue
				}
				ev, suppress, err := f.Copyout(ctx, r)
				if err != nil || suppress {
					metrics.Add(metrics.EventsSuppressed, 1)
					continue
				}
				if n < len(events) {
					events[n] = *ev
					n++
					metrics.Add(metrics.EventsDelivered, 1)
				}
			}
		}

		kq.table.Range(func(tag int16, f filter.Filter, ctx *filter.Context) {
			if n >= len(events) {
				return
			}
			for _, ev := range f.Pending(ctx) {
				if n >= len(events) {
					return
				}
				events[n] = *ev
				n++
				metrics.Add(metrics.EventsDelivered, 1)
			}
		})

		if n > 0 {
			return n, nil
		}
		if deadline == nil {
			continue
		}
		if !time.Now().Before(*deadline) {
			return 0, nil
		}
	}
}

// distinctTags returns the set of filter tags present in r's token
// (one for most readiness, two for an fd shared between EVFILT_READ and
// EVFILT_WRITE), so each relevant filter's Copyout runs exactly once
// per wake (design §4.3's two-sided extension to the BSD model).
func distinctTags(r aggregator.Readiness) []int16 {
	if r.Token == nil {
		return nil
	}
	refs := r.Token.Snapshot()
	tags := make([]int16, 0, len(refs))
	for _, ref := range refs {
		dup := false
		for _, t := range tags {
			if t == ref.FilterID {
				dup = true
				break
			}
		}
		if !dup {
			tags = append(tags, ref.FilterID)
		}
	}
	return tags
}
