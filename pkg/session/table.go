// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"net"
	"time"

	"sync"

	"github.com/google/uuid"
)

var (
	// ErrSlotsExhausted is returned when no free slot exists. Admission
	// is strict: the connection is rejected immediately, never queued.
	ErrSlotsExhausted = errors.New("session slots exhausted")

	// ErrNotOpen is returned when a frame write is dropped because the
	// session is not in the Open state.
	ErrNotOpen = errors.New("session not open")
)

// Table is the fixed-capacity slot pool. A slot holds at most one
// session at a time; admission assigns the lowest free index and
// eviction releases it for reuse. All slot bookkeeping happens under one
// mutex so admission and eviction are atomic with respect to each other.
type Table struct {
	mu    sync.Mutex
	slots []*Session
	count int
}

// NewTable creates a table with the given slot capacity.
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = 8
	}
	return &Table{
		slots: make([]*Session, capacity),
	}
}

// Admit reserves the lowest free slot for conn and returns the new
// session in the AwaitingRequest state. When the pool is full it returns
// ErrSlotsExhausted without touching conn; closing the transport is the
// caller's responsibility.
func (t *Table) Admit(conn net.Conn) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, occupant := range t.slots {
		if occupant != nil {
			continue
		}
		s := &Session{
			Slot:         i,
			ID:           uuid.New().String(),
			RemoteAddr:   conn.RemoteAddr().String(),
			conn:         conn,
			state:        AwaitingRequest,
			lastActivity: time.Now(),
		}
		t.slots[i] = s
		t.count++
		return s, nil
	}

	return nil, ErrSlotsExhausted
}

// Evict releases the session's slot and closes its transport. It is
// idempotent: only the first call for a given session finds it in the
// table and reports true. Slot reuse is safe afterwards because the
// departing session is Closed before the slot is freed.
func (t *Table) Evict(s *Session) bool {
	if s == nil {
		return false
	}

	t.mu.Lock()
	occupied := t.slots[s.Slot] == s
	if occupied {
		t.slots[s.Slot] = nil
		t.count--
	}
	t.mu.Unlock()

	if occupied {
		s.Close()
	}
	return occupied
}

// Get returns the session occupying the slot, or nil.
func (t *Table) Get(slot int) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot < 0 || slot >= len(t.slots) {
		return nil
	}
	return t.slots[slot]
}

// Len returns the number of occupied slots.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Capacity returns the fixed pool size.
func (t *Table) Capacity() int {
	return len(t.slots)
}

// Snapshot returns the sessions currently occupying slots. The slice is
// a copy; the sessions themselves are shared and state-checked on use.
func (t *Table) Snapshot() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Session, 0, t.count)
	for _, s := range t.slots {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Expired returns sessions whose last activity is older than the idle
// limit, plus sessions stuck in the handshake beyond the handshake
// window. The caller performs the actual eviction so that link release
// and event reporting stay in one place.
func (t *Table) Expired(idle, handshake time.Duration) []*Session {
	now := time.Now()
	var out []*Session

	for _, s := range t.Snapshot() {
		age := now.Sub(s.LastActivity())
		switch s.State() {
		case Open:
			if idle > 0 && age > idle {
				out = append(out, s)
			}
		case AwaitingRequest, Accepted:
			if handshake > 0 && age > handshake {
				out = append(out, s)
			}
		}
	}
	return out
}
