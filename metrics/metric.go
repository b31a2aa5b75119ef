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

// Package metrics provides kqueue runtime monitoring data: change/event
// throughput and aggregator wait efficiency, the same tuning surface
// tnet's own metrics package gives its epoll loop.
package metrics

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// All metrics definitions.
const (
	// Kevent call metrics
	KeventCalls = iota
	ChangesApplied
	ChangesFailed
	EventsDelivered
	EventsSuppressed

	// Aggregator metrics
	AggregatorWait
	AggregatorNoWait
	AggregatorReadiness
	AggregatorInterrupts

	// Knote lifecycle metrics
	KnotesArmed
	KnotesTornDown
	Max
)

var (
	metrics [Max]atomic.Uint64
)

// Add metrics counter.
func Add(name int, delta uint64) {
	if name >= Max {
		return
	}
	metrics[name].Add(delta)
}

// Get one metric counter.
func Get(name int) uint64 {
	if name >= Max {
		return 0
	}
	return metrics[name].Load()
}

// GetAll get all metrics.
func GetAll() [Max]uint64 {
	var m [Max]uint64
	for i := range metrics {
		m[i] = metrics[i].Load()
	}
	return m
}

// ShowMetricsOfPeriod shows metric info of duration d from now on.
// It will block d duration, and then prints metrics info.
func ShowMetricsOfPeriod(d time.Duration) {
	old := GetAll()
	<-time.After(d)
	new := GetAll()
	var m [Max]uint64
	for i := range metrics {
		m[i] = new[i] - old[i]
	}
	showAll(m)
}

// ShowMetrics shows metric info in console.
func ShowMetrics() {
	m := GetAll()
	showAll(m)
}

func showAll(m [Max]uint64) {
	fmt.Println("######### kqueue metrics (", time.Now().Format("2006-01-02 15:04:05"), ") ###########")
	showKeventMetrics(m)
	showAggregatorMetrics(m)
	fmt.Printf("%-59s: %d\n", "# knotes currently armed", m[KnotesArmed])
	fmt.Printf("%-59s: %d\n", "# knotes torn down", m[KnotesTornDown])
	fmt.Printf("\n")
}

func showKeventMetrics(m [Max]uint64) {
	fmt.Printf("%-59s: %d\n", "# number of Kevent calls", m[KeventCalls])
	fmt.Printf("%-59s: %d\n", "# number of changes applied", m[ChangesApplied])
	fmt.Printf("%-59s: %d\n", "# number of changes that failed", m[ChangesFailed])
	fmt.Printf("%-59s: %d\n", "# number of events delivered", m[EventsDelivered])
	fmt.Printf("%-59s: %d\n", "# number of events suppressed as stale", m[EventsSuppressed])
}

func showAggregatorMetrics(m [Max]uint64) {
	fmt.Printf("%-59s: %d\n", "# AGGREGATOR - number of Wait returns (tag:b)", m[AggregatorWait])
	fmt.Printf("%-59s: %d\n", "# AGGREGATOR - number of Wait called with a zero timeout (tag:a)", m[AggregatorNoWait])
	fmt.Printf("%-59s: %d\n", "# AGGREGATOR - number of readiness entries seen", m[AggregatorReadiness])
	fmt.Printf("%-59s: %d\n", "# AGGREGATOR - number of cross-thread interrupts", m[AggregatorInterrupts])
	if m[AggregatorWait] > 0 {
		fmt.Printf("%-59s: %.2f%%\n", "# AGGREGATOR - a/b * 100%",
			float32(m[AggregatorNoWait])*100/float32(m[AggregatorWait]))
		fmt.Printf("%-59s: %.2f\n", "# AGGREGATOR - average readiness entries per Wait",
			float32(m[AggregatorReadiness])/float32(m[AggregatorWait]))
	}
}
