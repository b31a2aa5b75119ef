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

import "github.com/kqio/kqueue/log"

// Option configures a Kqueue at Open time, the same functional-option
// shape tnet gives its own service configuration (options.go).
type Option struct {
	f func(*options)
}

type options struct {
	eventBufferSize int
	logger          log.Logger
}

func defaultOptions() *options {
	return &options{
		eventBufferSize: 0, // 0 selects the aggregator's own default.
	}
}

// WithEventBufferSize sets how many native readiness entries the
// aggregator fetches per wait cycle (epoll_pwait's maxevents). Larger
// values amortize syscalls under heavy fan-out at the cost of a larger
// event buffer, allocated once when the kqueue is opened; it has no
// effect on the Windows IOCP backend,
// which always dequeues one completion per call.
func WithEventBufferSize(n int) Option {
	return Option{f: func(o *options) {
		o.eventBufferSize = n
	}}
}

// WithLogger replaces the package-wide log.Default, which Open uses for
// its debug line and Close for teardown failures.
func WithLogger(l log.Logger) Option {
	return Option{f: func(o *options) {
		o.logger = l
	}}
}
