// Copyright (c) Embnet Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package tcppool

// selectPortLocked verifies or assigns a local port for c. A zero
// requested port means pick the next free ephemeral port; a non-zero
// port is granted only if no other non-Closed record holds it.
//
// There is no separate namespace for listeners: a bound, connecting
// or established record all block the same port number, so the in-use
// check covers the whole arena, not just the active list. c itself is
// exempt, so connecting a record to the port it is already bound to
// succeeds.
func (p *Pool) selectPortLocked(c *Conn, port uint16) (uint16, error) {
	p.mu.AssertHeld()
	if port == 0 {
		// Guess that the port after the last one assigned is
		// free. The loop terminates in practice because the
		// ephemeral range is far larger than the pool.
		for {
			p.lastPort++
			if p.lastPort < p.portLo || p.lastPort > p.portHi {
				p.lastPort = p.portLo
			}
			if !p.portInUseLocked(p.lastPort, c) {
				return p.lastPort, nil
			}
		}
	}
	if p.portInUseLocked(port, c) {
		return 0, ErrAddrInUse
	}
	return port, nil
}

// portInUseLocked reports whether any non-Closed record other than
// skip holds the given local port.
func (p *Pool) portInUseLocked(port uint16, skip *Conn) bool {
	for i := range p.conns {
		c := &p.conns[i]
		if c == skip {
			continue
		}
		if c.State != Closed && c.LocalPort == port {
			return true
		}
	}
	return false
}
