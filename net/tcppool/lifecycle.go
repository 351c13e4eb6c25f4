// Copyright (c) Embnet Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package tcppool

import "net/netip"

const (
	// DefaultRTO is the initial retransmission timeout, in poll
	// ticks.
	DefaultRTO = 3

	// DefaultMSS is the sender MSS used before any negotiation.
	DefaultMSS = 536

	// Initial RTT variance seeds. Passive and active opens start
	// from different estimates; preserve the asymmetry.
	rttVarSynRcvd = 4
	rttVarSynSent = 16
)

// Accept creates a connection for an inbound SYN that matched a
// listener, seeding it to answer with a SYN-ACK. It runs in the
// packet dispatch context, with the pool lock held.
//
// On exhaustion it returns nil and the SYN goes unanswered — no RST.
// The peer's own SYN retransmission is the recovery path, and by then
// a record may have freed up.
func (p *Pool) Accept(seg Segment) *Conn {
	p.mu.AssertHeld()
	c := p.allocLocked()
	if c == nil {
		p.metrics.acceptDrops.Add(1)
		return nil
	}

	c.RTO = DefaultRTO
	c.Timer = DefaultRTO
	c.SRTT = 0
	c.RTTVar = rttVarSynRcvd
	c.Retrans = 0
	c.LocalPort = seg.DstPort
	c.Remote = seg.Src
	c.MSS = DefaultMSS
	c.State = SynRcvd

	c.SndSeq = p.initSeq()
	c.Unacked = 1 // the SYN occupies one sequence number
	c.RcvSeq = seg.Seq

	// Start with empty buffer queues; the state machine attaches
	// buffers as data flows.
	c.ReadAhead, c.WriteQ, c.UnackedQ = nil, nil, nil

	p.insertActive(c)
	p.metrics.accepts.Add(1)
	return c
}

// Connect starts an active open of c to remote. c must be Allocated
// and not yet connected; a connection is connected at most once. The
// local port is whatever Bind assigned earlier, or a fresh ephemeral
// port if c was never bound.
//
// The record is left in SynSent with its timer at one tick, so the
// SYN goes out on the next periodic poll.
func (p *Pool) Connect(c *Conn, remote netip.AddrPort) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c == nil || c.State != Allocated {
		return ErrInvalidState
	}
	port, err := p.selectPortLocked(c, c.LocalPort)
	if err != nil {
		return err
	}

	c.State = SynSent
	c.SndSeq = p.initSeq()
	c.MSS = DefaultMSS
	c.Unacked = 1 // TCP length of the SYN is one
	c.Retrans = 0
	c.Timer = 1
	c.RTO = DefaultRTO
	c.SRTT = 0
	c.RTTVar = rttVarSynSent
	c.LocalPort = port
	c.Remote = remote
	c.ISN, c.Sent, c.Expired = 0, 0, false
	c.ReadAhead, c.WriteQ, c.UnackedQ = nil, nil, nil

	p.insertActive(c)
	p.metrics.connects.Add(1)
	return nil
}

// Bind assigns a local port to c: the requested port if it is free,
// or the next ephemeral port when port is zero. c must be Allocated.
// Binding alone does not activate the record — it stays off the
// active list until Connect — but the port is held from this moment:
// a bound-but-unconnected record blocks reuse of its port.
func (p *Pool) Bind(c *Conn, port uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c == nil || c.State != Allocated {
		return ErrInvalidState
	}
	got, err := p.selectPortLocked(c, port)
	if err != nil {
		return err
	}
	c.LocalPort = got
	return nil
}
