// Copyright (c) Embnet Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package metrics contains expvar & Prometheus-style metrics.
//
// The conventions are the expvar ones: a metric name carries a
// "counter_" or "gauge_" prefix describing its kind, and a Set groups
// related metrics under one published name.
package metrics

import "expvar"

// Set is a string-to-Var map variable that satisfies expvar.Var.
//
// Semantically, this is mapped by expvar-to-Prometheus exporters as a
// collection of unlabeled metrics sharing a name prefix.
type Set struct {
	expvar.Map
}

// LabelMap is a string-to-Var map variable that satisfies expvar.Var.
//
// Semantically, this is mapped by expvar-to-Prometheus exporters as a
// collection of variants of one metric, distinguished by the value of
// the label named Label.
type LabelMap struct {
	Label string
	expvar.Map
}

// SetInt64 sets the *Int value stored under the given map key.
func (m *LabelMap) SetInt64(key string, v int64) {
	m.Get(key).Set(v)
}

// Add adds delta to the *Int value stored under the given map key.
func (m *LabelMap) Add(key string, delta int64) {
	m.Get(key).Add(delta)
}

// Get returns a direct pointer to the expvar.Int for key, creating it
// if necessary.
func (m *LabelMap) Get(key string) *expvar.Int {
	m.Map.Add(key, 0) // creates the Int if absent
	return m.Map.Get(key).(*expvar.Int)
}
