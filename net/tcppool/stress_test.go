// Copyright (c) Embnet Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package tcppool

import (
	"fmt"
	"net/netip"
	"testing"

	"golang.org/x/sync/errgroup"
)

// TestConcurrentChurn hammers the pool from several task-context
// goroutines while a dispatcher goroutine processes simulated inbound
// SYNs under the pool lock, the way the packet path does. Run with
// -race; the structural invariants are checked at the end.
func TestConcurrentChurn(t *testing.T) {
	const (
		capacity = 16
		workers  = 8
		iters    = 500
	)
	p := newTestPool(t, Config{Capacity: capacity, Logf: t.Logf})

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			remote := netip.MustParseAddrPort("198.51.100.20:443")
			for i := 0; i < iters; i++ {
				c := p.Alloc()
				if c == nil {
					// Exhausted by a sibling; that's the
					// pool working as designed.
					continue
				}
				if err := p.Connect(c, remote); err != nil {
					return fmt.Errorf("Connect: %v", err)
				}
				p.Release(c)
			}
			return nil
		})
	}
	g.Go(func() error {
		for i := 0; i < iters; i++ {
			seg := Segment{
				Src:     netip.AddrPortFrom(netip.MustParseAddr("203.0.113.99"), uint16(40000+i%100)),
				DstPort: 80,
				Seq:     uint32(i),
			}
			p.Lock()
			if c := p.Accept(seg); c != nil {
				p.ReleaseLocked(c)
			}
			p.Unlock()
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	p.Lock()
	free := len(p.free)
	p.Unlock()
	if free != capacity {
		t.Errorf("free slots after churn = %d; want %d", free, capacity)
	}
	checkConsistent(t, p)
}
