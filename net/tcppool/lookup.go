// Copyright (c) Embnet Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package tcppool

import "net/netip"

// Lookups run in the packet dispatch context and assert the pool lock
// instead of taking it; a task-context caller brackets them with Lock
// and Unlock and must hold the lock across any traversal.
//
// All of them are linear scans. The pool is small and its size fixed
// at construction, so the scans are bounded and predictable; keep
// them that way rather than adding an index.

// FindTuple returns the active connection matching an inbound
// segment's (source address, source port, destination port) tuple, or
// nil. The local address does not participate: the stack has exactly
// one.
func (p *Pool) FindTuple(remote netip.AddrPort, localPort uint16) *Conn {
	p.mu.AssertHeld()
	for _, i := range p.active {
		c := &p.conns[i]
		if c.State != Closed && c.LocalPort == localPort && c.Remote == remote {
			return c
		}
	}
	return nil
}

// FindListener returns a non-Closed connection holding the given
// local port, or nil. It scans the whole arena rather than the active
// list: a record that is merely bound, or still Allocated, holds its
// port too. It serves both port-uniqueness checks and locating the
// listener for an inbound SYN.
func (p *Pool) FindListener(port uint16) *Conn {
	p.mu.AssertHeld()
	return p.findListenerLocked(port)
}

func (p *Pool) findListenerLocked(port uint16) *Conn {
	for i := range p.conns {
		c := &p.conns[i]
		if c.State != Closed && c.LocalPort == port {
			return c
		}
	}
	return nil
}

// Next returns the active connection after c, or the first active
// connection when c is nil, or nil at the end of the list. The
// traversal has no snapshot isolation: the caller must hold the pool
// lock for the whole walk.
func (p *Pool) Next(c *Conn) *Conn {
	p.mu.AssertHeld()
	if c == nil {
		if len(p.active) == 0 {
			return nil
		}
		return &p.conns[p.active[0]]
	}
	if c.activePos < 0 || c.activePos+1 >= len(p.active) {
		return nil
	}
	return &p.conns[p.active[c.activePos+1]]
}
