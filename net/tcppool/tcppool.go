// Copyright (c) Embnet Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package tcppool manages a fixed table of TCP connection records:
// allocation and reclamation of records, local port assignment, and
// the lookups used to match inbound segments to connections.
//
// The pool is shared between two execution contexts. The packet
// dispatch context acquires the pool lock once, around processing of
// an inbound packet, and then calls the fast-path operations (Accept,
// FindTuple, FindListener, Next, AllocLocked, ReleaseLocked), which
// assert the lock rather than take it. Ordinary task-context callers
// use Alloc, Release, Bind and Connect, which take the lock
// themselves and hold it only for a bounded, I/O-free scan of the
// table. Nothing in this package blocks while holding the lock.
package tcppool

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"embnet.dev/syncs"
	"embnet.dev/types/logger"
)

// Ephemeral port range handed out for unbound local ports.
const (
	FirstEphemeral = 4096
	LastEphemeral  = 31999
)

var (
	// ErrAddrInUse is returned when a requested local port is
	// already held by a connection that is not Closed.
	ErrAddrInUse = errors.New("tcppool: local port already in use")

	// ErrAddrNotAvail is reserved for a future with more than one
	// local address; nothing returns it today.
	ErrAddrNotAvail = errors.New("tcppool: address not available")

	// ErrInvalidState is returned by lifecycle operations invoked on
	// a record that is not in the Allocated state.
	ErrInvalidState = errors.New("tcppool: connection not in Allocated state")
)

// Config configures a Pool. Capacity is required; the zero value of
// every other field selects a sensible default.
type Config struct {
	// Capacity is the number of connection records. The pool never
	// grows past it.
	Capacity int

	// Linger guarantees SO_LINGER-style close semantics: a closing
	// socket may be waiting for its unacked data to drain, so a full
	// pool fails allocation rather than forcibly reclaiming a
	// half-closed connection out from under such a waiter.
	Linger bool

	// FirstPort and LastPort bound the ephemeral port range,
	// inclusive. Zero values mean FirstEphemeral and LastEphemeral.
	FirstPort, LastPort uint16

	// Hooks bind the pool to the callback registry, buffer and
	// backlog subsystems.
	Hooks Hooks

	// Logf is the pool's logger. Nil means logger.Discard.
	Logf logger.Logf
}

// Pool is a fixed-capacity table of TCP connection records.
type Pool struct {
	logf   logger.Logf
	hooks  Hooks
	linger bool
	portLo uint16
	portHi uint16

	mu syncs.Mutex

	// Everything below is guarded by mu. conns is the arena; free
	// and active hold slot indexes. A record is on exactly one of
	// the two lists, except an Allocated record, which is on
	// neither.
	conns    []Conn
	free     []int
	active   []int
	lastPort uint16 // most recently assigned ephemeral port

	metrics poolMetrics
}

// New returns an initialized Pool with every record Closed and on the
// free list.
func New(cfg Config) (*Pool, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("tcppool: invalid capacity %d", cfg.Capacity)
	}
	if cfg.FirstPort == 0 {
		cfg.FirstPort = FirstEphemeral
	}
	if cfg.LastPort == 0 {
		cfg.LastPort = LastEphemeral
	}
	if cfg.FirstPort > cfg.LastPort {
		return nil, fmt.Errorf("tcppool: invalid ephemeral port range %d-%d", cfg.FirstPort, cfg.LastPort)
	}
	if cfg.Logf == nil {
		cfg.Logf = logger.Discard
	}
	p := &Pool{
		logf:   cfg.Logf,
		hooks:  cfg.Hooks,
		linger: cfg.Linger,
		portLo: cfg.FirstPort,
		portHi: cfg.LastPort,
		conns:  make([]Conn, cfg.Capacity),
		free:   make([]int, 0, cfg.Capacity),
		active: make([]int, 0, cfg.Capacity),
	}
	for i := range p.conns {
		p.conns[i].idx = i
		p.conns[i].activePos = -1
		p.free = append(p.free, i)
	}
	p.lastPort = p.portLo - 1 // first assignment is exactly portLo
	p.metrics.releases.Label = "state"
	return p, nil
}

// Capacity returns the fixed number of connection records.
func (p *Pool) Capacity() int { return len(p.conns) }

// Lock acquires the pool lock on behalf of the packet dispatch
// context, which holds it for the whole of inbound packet processing.
// Task-context operations take the lock themselves and must not be
// called with it held.
func (p *Pool) Lock() { p.mu.Lock() }

// Unlock releases the pool lock.
func (p *Pool) Unlock() { p.mu.Unlock() }

// Alloc reserves a free connection record and returns it in the
// Allocated state, or nil if the pool is exhausted.
//
// When the free list is empty and Linger is off, Alloc falls back to
// sacrificing an active connection whose peer has already begun
// teardown; such connections have no remaining user-visible guarantee
// beyond an eventual close, and reclaiming one lets a new handshake
// proceed. With Linger on the fallback is disabled and Alloc simply
// fails.
func (p *Pool) Alloc() *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocLocked()
}

// AllocLocked is Alloc for the packet dispatch context, which already
// holds the pool lock.
func (p *Pool) AllocLocked() *Conn {
	p.mu.AssertHeld()
	return p.allocLocked()
}

func (p *Pool) allocLocked() *Conn {
	c := p.popFree()
	if c == nil && !p.linger {
		// Look for a connection to sacrifice: the one in a
		// half-closed state that has been idle the longest.
		// Ties keep the earlier active-list entry.
		var victim *Conn
		for _, i := range p.active {
			t := &p.conns[i]
			if !t.State.sacrificial() {
				continue
			}
			if victim == nil || t.Timer > victim.Timer {
				victim = t
			}
		}
		if victim != nil {
			p.logf("tcppool: reclaiming %v (idle %d ticks)", victim, victim.Timer)
			p.metrics.reclaims.Add(1)
			p.releaseLocked(victim)
			c = p.popFree()
		}
	}
	if c == nil {
		p.metrics.allocFailed.Add(1)
		return nil
	}
	*c = Conn{idx: c.idx, activePos: -1, State: Allocated}
	p.metrics.allocs.Add(1)
	return c
}

func (p *Pool) popFree() *Conn {
	if len(p.free) == 0 {
		return nil
	}
	i := p.free[0]
	p.free = p.free[1:]
	return &p.conns[i]
}

// Release tears down c and returns it to the free list. Only the
// socket layer and the segment state machine call it, and only once
// c.Refs has reached zero; releasing a record that still has live
// references is a caller bug and panics.
func (p *Pool) Release(c *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked(c)
}

// ReleaseLocked is Release for the packet dispatch context, which
// already holds the pool lock.
func (p *Pool) ReleaseLocked(c *Conn) {
	p.mu.AssertHeld()
	p.releaseLocked(c)
}

func (p *Pool) releaseLocked(c *Conn) {
	if n := c.Refs; n != 0 {
		panic(fmt.Sprintf("tcppool: release of %v with %d live refs", c, n))
	}
	p.metrics.releases.Add(c.State.String(), 1)

	// Tear down the registered event callbacks; by this point there
	// should be at most the close callback left.
	if p.hooks.FreeEvents != nil {
		p.hooks.FreeEvents(c)
	}
	c.Events = nil

	// Allocated means the record never made it onto the active list.
	if c.State != Allocated {
		p.removeActive(c)
	}

	// Hand queued buffers back to their owning subsystems.
	for _, b := range c.ReadAhead {
		if p.hooks.FreeReadBuf != nil {
			p.hooks.FreeReadBuf(b)
		}
	}
	for _, b := range c.WriteQ {
		if p.hooks.FreeWriteBuf != nil {
			p.hooks.FreeWriteBuf(b)
		}
	}
	for _, b := range c.UnackedQ {
		if p.hooks.FreeWriteBuf != nil {
			p.hooks.FreeWriteBuf(b)
		}
	}
	c.ReadAhead, c.WriteQ, c.UnackedQ = nil, nil, nil

	if c.Backlog != nil && p.hooks.BacklogDestroy != nil {
		p.hooks.BacklogDestroy(c)
	}
	c.Backlog = nil
	if c.BacklogParent != nil && p.hooks.BacklogDelete != nil {
		p.hooks.BacklogDelete(c.BacklogParent, c)
	}
	c.BacklogParent = nil

	c.State = Closed
	p.free = append(p.free, c.idx)
}

func (p *Pool) insertActive(c *Conn) {
	c.activePos = len(p.active)
	p.active = append(p.active, c.idx)
}

func (p *Pool) removeActive(c *Conn) {
	pos := c.activePos
	if pos < 0 {
		panic(fmt.Sprintf("tcppool: %v not on active list", c))
	}
	p.active = append(p.active[:pos], p.active[pos+1:]...)
	for _, i := range p.active[pos:] {
		p.conns[i].activePos--
	}
	c.activePos = -1
}

func (p *Pool) initSeq() uint32 {
	if p.hooks.InitSequence != nil {
		return p.hooks.InitSequence()
	}
	return rand.Uint32()
}

// checkConsistency verifies the structural invariants of the pool:
// every record on exactly one list (or neither, iff Allocated),
// Closed iff free, and uniqueness of allocator-assigned local ports.
// Tests call it after every mutation they care about.
func (p *Pool) checkConsistency() error {
	onFree := make(map[int]bool)
	for _, i := range p.free {
		if onFree[i] {
			return fmt.Errorf("slot %d on free list twice", i)
		}
		onFree[i] = true
	}
	onActive := make(map[int]bool)
	for pos, i := range p.active {
		if onActive[i] {
			return fmt.Errorf("slot %d on active list twice", i)
		}
		onActive[i] = true
		if got := p.conns[i].activePos; got != pos {
			return fmt.Errorf("slot %d has activePos %d, want %d", i, got, pos)
		}
	}
	ports := make(map[uint16]int)
	for i := range p.conns {
		c := &p.conns[i]
		switch {
		case onFree[i] && onActive[i]:
			return fmt.Errorf("slot %d on both lists", i)
		case c.State == Closed && !onFree[i]:
			return fmt.Errorf("slot %d Closed but not free", i)
		case c.State != Closed && onFree[i]:
			return fmt.Errorf("slot %d %v but on free list", i, c.State)
		case c.State == Allocated && onActive[i]:
			return fmt.Errorf("slot %d Allocated but on active list", i)
		}
		if !onActive[i] && c.activePos != -1 {
			return fmt.Errorf("slot %d has stale activePos %d", i, c.activePos)
		}
		// Port uniqueness applies to allocator-assigned ports.
		// Accepted children share their listener's local port, so
		// only records still on the caller's side of a handshake
		// are checked strictly.
		if (c.State == Allocated || c.State == SynSent) && c.LocalPort != 0 {
			if prev, ok := ports[c.LocalPort]; ok {
				return fmt.Errorf("slots %d and %d share port %d", prev, i, c.LocalPort)
			}
			ports[c.LocalPort] = i
		}
	}
	return nil
}
