// Copyright (c) Embnet Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package metrics

import (
	"expvar"
	"testing"
)

func TestLabelMap(t *testing.T) {
	var m LabelMap
	m.Label = "label"
	m.Add("foo", 1)
	m.Add("foo", 2)
	m.Add("bar", 10)
	if g, w := m.Get("foo").Value(), int64(3); g != w {
		t.Errorf("foo = %v; want %v", g, w)
	}
	if g, w := m.Get("bar").Value(), int64(10); g != w {
		t.Errorf("bar = %v; want %v", g, w)
	}
	m.SetInt64("bar", 4)
	if g, w := m.Get("bar").Value(), int64(4); g != w {
		t.Errorf("bar = %v; want %v", g, w)
	}
}

func TestSet(t *testing.T) {
	s := new(Set)
	var c expvar.Int
	c.Add(7)
	s.Set("counter_things", &c)
	if got := s.Get("counter_things").(*expvar.Int).Value(); got != 7 {
		t.Errorf("got %v; want 7", got)
	}
}
