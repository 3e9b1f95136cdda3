// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"net"
	"sync"
	"time"

	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/ws"
)

// State tracks where a session is in its lifecycle.
type State int

const (
	// AwaitingRequest: admitted, upgrade request not yet complete.
	AwaitingRequest State = iota

	// Accepted: 101 response written, relay loop not yet entered.
	Accepted

	// Open: upgrade complete, frames are relayed.
	Open

	// Closing: close frame seen or sent, teardown in progress.
	Closing

	// Closed: transport closed, slot released.
	Closed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case AwaitingRequest:
		return "awaiting_request"
	case Accepted:
		return "accepted"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one downstream connection occupying a slot. The slot index
// is assigned at admission and stable for the session's lifetime; the
// session owns its transport exclusively while active.
type Session struct {
	// Slot is the session's index in the fixed pool (0..N-1).
	Slot int

	// ID is a unique identifier for logging and correlation.
	ID string

	// RemoteAddr is the peer's network address.
	RemoteAddr string

	conn net.Conn

	mu           sync.Mutex
	state        State
	lastActivity time.Time

	// wmu serializes frame writes; fan-out and the session's own
	// goroutine may write concurrently.
	wmu sync.Mutex
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the session. Closed is terminal: once reached,
// no further transition is applied.
func (s *Session) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return
	}
	s.state = st
}

// UpdateActivity stamps the session with the current time.
func (s *Session) UpdateActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the last activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Conn exposes the transport for the session's reading goroutine.
func (s *Session) Conn() net.Conn {
	return s.conn
}

// WriteRaw writes handshake bytes before the session is Open.
func (s *Session) WriteRaw(p []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.conn.Write(p)
	return err
}

// WriteFrame encodes and writes one frame to the session. If the
// session is not Open the frame is silently dropped and ErrNotOpen is
// returned; payloads are never buffered for a session that cannot take
// them.
func (s *Session) WriteFrame(f ws.Frame) error {
	if s.State() != Open {
		return ErrNotOpen
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.conn.Write(ws.Encode(f))
	return err
}

// Close closes the transport. Safe to call more than once.
func (s *Session) Close() error {
	s.SetState(Closed)
	return s.conn.Close()
}
