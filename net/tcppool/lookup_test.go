// Copyright (c) Embnet Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package tcppool

import (
	"net/netip"
	"testing"
)

func TestFindTuple(t *testing.T) {
	p := newTestPool(t, Config{Capacity: 4})

	seg := Segment{
		Src:     netip.MustParseAddrPort("203.0.113.9:49152"),
		DstPort: 80,
		Seq:     1000,
	}
	p.Lock()
	c := p.Accept(seg)
	p.Unlock()
	if c == nil {
		t.Fatal("Accept failed")
	}

	p.Lock()
	if got := p.FindTuple(seg.Src, 80); got != c {
		t.Errorf("FindTuple = %v; want the accepted record", got)
	}
	if got := p.FindTuple(seg.Src, 81); got != nil {
		t.Errorf("FindTuple with wrong local port = %v; want nil", got)
	}
	if got := p.FindTuple(netip.MustParseAddrPort("203.0.113.9:49153"), 80); got != nil {
		t.Errorf("FindTuple with wrong remote port = %v; want nil", got)
	}
	p.Unlock()

	p.Release(c)

	p.Lock()
	if got := p.FindTuple(seg.Src, 80); got != nil {
		t.Errorf("FindTuple after release = %v; want nil", got)
	}
	p.Unlock()
	checkConsistent(t, p)
}

func TestFindListenerScansWholeArena(t *testing.T) {
	p := newTestPool(t, Config{Capacity: 3})

	// A bound-but-unconnected record is on neither list but still
	// holds its port.
	bound := p.Alloc()
	if err := p.Bind(bound, 7000); err != nil {
		t.Fatal(err)
	}
	active := p.Alloc()
	if err := p.Bind(active, 7001); err != nil {
		t.Fatal(err)
	}
	if err := p.Connect(active, netip.MustParseAddrPort("198.51.100.2:443")); err != nil {
		t.Fatal(err)
	}

	p.Lock()
	defer p.Unlock()
	if got := p.FindListener(7000); got != bound {
		t.Errorf("FindListener(7000) = %v; want the bound record", got)
	}
	if got := p.FindListener(7001); got != active {
		t.Errorf("FindListener(7001) = %v; want the connected record", got)
	}
	if got := p.FindListener(7002); got != nil {
		t.Errorf("FindListener(7002) = %v; want nil", got)
	}
}

func TestNextTraversal(t *testing.T) {
	p := newTestPool(t, Config{Capacity: 4})

	var conns []*Conn
	for i := 0; i < 3; i++ {
		c := p.Alloc()
		activate(t, p, c, Established, 0)
		conns = append(conns, c)
	}

	p.Lock()
	var got []*Conn
	for c := p.Next(nil); c != nil; c = p.Next(c) {
		got = append(got, c)
	}
	p.Unlock()

	if len(got) != len(conns) {
		t.Fatalf("traversed %d records; want %d", len(got), len(conns))
	}
	for i := range conns {
		if got[i] != conns[i] {
			t.Errorf("traversal[%d] = %v; want insertion order preserved", i, got[i])
		}
	}

	// Traversal resumes correctly after a middle removal.
	p.Release(conns[1])
	p.Lock()
	got = got[:0]
	for c := p.Next(nil); c != nil; c = p.Next(c) {
		got = append(got, c)
	}
	p.Unlock()
	if len(got) != 2 || got[0] != conns[0] || got[1] != conns[2] {
		t.Errorf("traversal after removal = %v", got)
	}
	checkConsistent(t, p)
}

func TestNextEmptyPool(t *testing.T) {
	p := newTestPool(t, Config{Capacity: 2})
	p.Lock()
	defer p.Unlock()
	if got := p.Next(nil); got != nil {
		t.Errorf("Next(nil) on empty pool = %v; want nil", got)
	}
}
