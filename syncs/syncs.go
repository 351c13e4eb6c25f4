// Copyright (c) Embnet Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package syncs contains additional sync types.
package syncs

import (
	"sync"
	"sync/atomic"
)

// Mutex is a mutual exclusion lock that can report whether it is held.
//
// It exists for code with two kinds of callers: ordinary goroutines,
// which Lock and Unlock it around short critical sections, and a
// single dispatch goroutine that acquires it once around a larger unit
// of work and then calls into functions that merely AssertHeld. The
// zero value is an unlocked Mutex.
type Mutex struct {
	mu   sync.Mutex
	held atomic.Bool
}

// Lock locks m, blocking until it is available.
func (m *Mutex) Lock() {
	m.mu.Lock()
	m.held.Store(true)
}

// TryLock tries to lock m and reports whether it succeeded.
func (m *Mutex) TryLock() bool {
	if !m.mu.TryLock() {
		return false
	}
	m.held.Store(true)
	return true
}

// Unlock unlocks m. It is a run-time error if m is not locked.
func (m *Mutex) Unlock() {
	m.held.Store(false)
	m.mu.Unlock()
}

// AssertHeld panics if m is not locked.
//
// It intentionally checks that somebody holds m, not that the calling
// goroutine does; Go mutexes have no owner. That is the right check
// for the single-dispatcher pattern this type serves, but it is not a
// substitute for a lock-ordering discipline between peer goroutines.
func (m *Mutex) AssertHeld() {
	if !m.held.Load() {
		panic("syncs: mutex is not held")
	}
}
