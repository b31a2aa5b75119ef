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

// Package taskpool gives the software-driven filters (signal, proc) a
// bounded goroutine pool to run their background dispatch loops on,
// the same role tnet's root-level taskpool.go gives its
// tcpAsyncHandler/udpAsyncHandler dispatch.
package taskpool

import "github.com/panjf2000/ants/v2"

// pool is sized for the handful of long-lived per-filter loops this
// runtime ever starts (one for EVFILT_SIGNAL, one for EVFILT_PROC) plus
// headroom for short-lived submissions; 0 means unbounded, the same
// default tnet gives its own pools.
var pool, _ = ants.NewPool(0)

// Submit runs task on the shared pool. A long-running loop (e.g. a
// signal-channel drain) occupies one pool worker for as long as it
// runs, exactly as it would occupy one raw goroutine with a bare `go`.
func Submit(task func()) error {
	return pool.Submit(task)
}
