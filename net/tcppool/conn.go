// Copyright (c) Embnet Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package tcppool

import (
	"fmt"
	"net/netip"
)

// State is a TCP connection state as tracked by the pool.
//
// Only the states the pool itself cares about are distinguished;
// everything between SynSent and the close sequence is driven by the
// segment state machine.
type State uint8

const (
	Closed    State = iota // unused record, on the free list
	Allocated              // reserved by a caller, on neither list
	SynSent                // active open in progress
	SynRcvd                // passive open in progress
	Established
	FinWait1
	FinWait2
	Closing
	TimeWait
	LastAck
)

var stateNames = [...]string{
	Closed:      "Closed",
	Allocated:   "Allocated",
	SynSent:     "SynSent",
	SynRcvd:     "SynRcvd",
	Established: "Established",
	FinWait1:    "FinWait1",
	FinWait2:    "FinWait2",
	Closing:     "Closing",
	TimeWait:    "TimeWait",
	LastAck:     "LastAck",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// sacrificial reports whether the peer has already begun tearing the
// connection down, making it eligible for forced reclamation when the
// pool is exhausted.
func (s State) sacrificial() bool {
	switch s {
	case Closing, FinWait1, FinWait2, TimeWait, LastAck:
		return true
	}
	return false
}

// Buffer is an opaque buffer owned by the read-ahead or write-buffer
// subsystems. The pool never looks inside one; it only hands them
// back via Hooks when a connection is torn down.
type Buffer = any

// Conn is one TCP connection record, a slot in a Pool's arena.
//
// Everything from State down is owned by the segment state machine
// and the socket layer once the record is active; the pool writes
// those fields only while seeding a new connection and while tearing
// one down. All access, from either owner, happens under the pool
// lock.
type Conn struct {
	// State is the connection state. Only Alloc may set Allocated
	// and only release may set Closed; the state machine owns every
	// transition in between.
	State State

	LocalPort uint16         // local TCP port, host order
	Remote    netip.AddrPort // remote address and port

	SndSeq uint32 // next sequence number to send
	RcvSeq uint32 // sequence number expected next from the peer

	RTO     uint16 // current retransmission timeout, in poll ticks
	SRTT    uint16 // smoothed round-trip time estimate
	RTTVar  uint16 // round-trip time variance estimate
	Timer   uint16 // ticks since the last event of interest
	Retrans uint8  // retransmissions of the oldest unacked segment
	Unacked uint16 // outstanding unacknowledged bytes; SYN and FIN count as one
	MSS     uint16 // sender maximum segment size

	// Write-path bookkeeping, maintained by the write-buffer
	// subsystem.
	ISN     uint32 // initial sequence number of the write stream
	Sent    uint32 // bytes handed to the network so far
	Expired bool   // whether the oldest unacked segment has timed out

	// Refs counts external holders of this record, typically socket
	// descriptors. It is maintained entirely by those holders; the
	// pool only insists that it be zero at release time.
	Refs int32

	// Events is an opaque handle to the record's registered event
	// callbacks, torn down via Hooks.FreeEvents on release.
	Events any

	ReadAhead []Buffer // data queued ahead of application reads
	WriteQ    []Buffer // data not yet sent
	UnackedQ  []Buffer // data sent but not yet acknowledged

	// Backlog is the opaque pending-accept list when this record is
	// a listener; BacklogParent points back at the listener whose
	// backlog this record sits on.
	Backlog       any
	BacklogParent *Conn

	idx       int // slot index in the arena; fixed for the record's life
	activePos int // position in the active list, or -1
}

func (c *Conn) String() string {
	return fmt.Sprintf("tcp{%v :%d<->%v}", c.State, c.LocalPort, c.Remote)
}

// Segment carries the fields of an inbound SYN that Accept needs.
type Segment struct {
	Src     netip.AddrPort // sender of the SYN
	DstPort uint16         // local port the SYN arrived on
	Seq     uint32         // sequence number of the SYN
}

// Hooks binds a Pool to its collaborating subsystems. Any func may be
// nil, in which case that teardown step is skipped; this mirrors the
// subsystems being optional in the surrounding stack.
type Hooks struct {
	// InitSequence returns an unpredictable initial send sequence
	// number for a new connection.
	InitSequence func() uint32

	// FreeEvents releases all event callbacks registered on c.
	FreeEvents func(c *Conn)

	// FreeReadBuf and FreeWriteBuf return a single read-ahead or
	// write-path buffer to its owning subsystem.
	FreeReadBuf  func(b Buffer)
	FreeWriteBuf func(b Buffer)

	// BacklogDestroy destroys c's own pending-accept list;
	// BacklogDelete removes child from parent's pending-accept list.
	BacklogDestroy func(c *Conn)
	BacklogDelete  func(parent, child *Conn)
}
