// Copyright (c) Embnet Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package tcppool

import (
	"expvar"

	"embnet.dev/metrics"
)

type poolMetrics struct {
	allocs      expvar.Int
	allocFailed expvar.Int
	reclaims    expvar.Int
	accepts     expvar.Int
	acceptDrops expvar.Int
	connects    expvar.Int
	releases    metrics.LabelMap // by state at release time
}

// ExpVar returns a [metrics.Set] with counters about pool activity.
//
//   - counter_allocs: records handed out.
//   - counter_alloc_failures: allocations that found no record.
//   - counter_reclaims: half-closed connections sacrificed to
//     satisfy an allocation.
//   - counter_accepts: connections created for inbound SYNs.
//   - counter_accept_drops: inbound SYNs dropped on exhaustion.
//   - counter_connects: active opens started.
//   - counter_releases: records torn down, labeled by their state
//     at release time.
//   - gauge_free, gauge_active: current list lengths.
func (p *Pool) ExpVar() expvar.Var {
	m := new(metrics.Set)
	m.Set("counter_allocs", &p.metrics.allocs)
	m.Set("counter_alloc_failures", &p.metrics.allocFailed)
	m.Set("counter_reclaims", &p.metrics.reclaims)
	m.Set("counter_accepts", &p.metrics.accepts)
	m.Set("counter_accept_drops", &p.metrics.acceptDrops)
	m.Set("counter_connects", &p.metrics.connects)
	m.Set("counter_releases", &p.metrics.releases)
	m.Set("gauge_free", expvar.Func(func() any {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.free)
	}))
	m.Set("gauge_active", expvar.Func(func() any {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.active)
	}))
	return m
}
