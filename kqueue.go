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
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/kqio/kqueue/internal/aggregator"
	"github.com/kqio/kqueue/internal/errno"
	"github.com/kqio/kqueue/internal/filter"
	"github.com/kqio/kqueue/log"
)

// Kqueue is a single portable kqueue instance: one aggregator (the
// outer readiness primitive, epoll or an IOCP) and one filter table
// (design §4). Its exported surface is deliberately small — Open,
// Kevent, Close, Fd — mirroring the four BSD syscalls this package
// reimplements.
type Kqueue struct {
	agg   aggregator.Aggregator
	table *filter.Table

	// mu serializes Kevent calls on this instance (lock hierarchy level
	// 1, design §5). The aggregator's own Wait buffer is not safe for
	// concurrent reuse, so unlike BSD — which lets multiple threads
	// kevent() the same kq concurrently — this runtime restricts one
	// kqueue to one in-flight Kevent call at a time.
	mu sync.Mutex

	closed atomic.Bool
}

// Open creates a new kqueue instance, allocating its aggregator and
// registering every filter this platform supports.
func Open(opts ...Option) (*Kqueue, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt.f(o)
	}
	if o.logger != nil {
		log.Default = o.logger
	}

	agg, err := aggregator.New(o.eventBufferSize)
	if err != nil {
		return nil, err
	}
	kq := &Kqueue{agg: agg, table: filter.NewTable(agg)}
	registerFilters(kq.table)

	var initErr error
	kq.table.Range(func(tag int16, f filter.Filter, ctx *filter.Context) {
		if initErr != nil {
			return
		}
		if err := f.Init(ctx); err != nil {
			initErr = err
		}
	})
	if initErr != nil {
		_ = kq.Close()
		return nil, initErr
	}
	log.Debugf("kqueue: opened (aggregator fd=%d)", agg.Fd())
	return kq, nil
}

// Fd returns the OS descriptor backing this kqueue's aggregator, so it
// can itself be registered in another event loop (§6), the same way a
// real kqueue fd is poll()-able.
func (kq *Kqueue) Fd() int { return kq.agg.Fd() }

// Close tears down every filter (which tears down every knote still
// registered) and then the aggregator itself. Close is idempotent;
// every call after the first is a no-op returning nil.
func (kq *Kqueue) Close() error {
	if !kq.closed.CAS(false, true) {
		return nil
	}
	var errs error
	kq.table.Range(func(tag int16, f filter.Filter, ctx *filter.Context) {
		if err := f.Destroy(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	})
	if err := kq.agg.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		log.Errorf("kqueue: close: %v", errs)
	}
	return errs
}

func (kq *Kqueue) checkOpen() error {
	if kq.closed.Load() {
		return errno.ErrBadFileDescriptor
	}
	return nil
}
