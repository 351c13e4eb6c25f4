// Copyright (c) Embnet Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package syncs

import "testing"

func TestMutex(t *testing.T) {
	var m Mutex

	if got := func() (panicked bool) {
		defer func() { panicked = recover() != nil }()
		m.AssertHeld()
		return
	}(); !got {
		t.Error("AssertHeld on unlocked mutex did not panic")
	}

	m.Lock()
	m.AssertHeld() // must not panic
	if m.TryLock() {
		t.Error("TryLock succeeded on locked mutex")
	}
	m.Unlock()

	if !m.TryLock() {
		t.Error("TryLock failed on unlocked mutex")
	}
	m.AssertHeld()
	m.Unlock()
}
