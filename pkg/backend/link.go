// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/ws"
)

// closeWriteTimeout bounds the best-effort close-frame write during
// teardown. A peer that stopped reading must not block Close.
const closeWriteTimeout = time.Second

// ErrNotOpen is returned when a payload is dropped because the link is
// not Open. Payloads are never buffered for a link that cannot take
// them.
var ErrNotOpen = errors.New("backend link not open")

// LinkState tracks the upstream connection lifecycle.
type LinkState int

const (
	Disconnected LinkState = iota
	Connecting
	HandshakePending
	Open
	BackingOff
)

// String returns the state name for logging and status reporting.
func (s LinkState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case HandshakePending:
		return "handshake_pending"
	case Open:
		return "open"
	case BackingOff:
		return "backing_off"
	default:
		return "unknown"
	}
}

// Target is the configured backend endpoint.
type Target struct {
	Host string
	Port int
	Path string
}

// Addr returns the host:port dial address.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// String returns the target in ws URL form for logging.
func (t Target) String() string {
	path := t.Path
	if path == "" {
		path = "/"
	}
	return "ws://" + t.Addr() + path
}

// Link is one established upstream connection. Links are produced by
// Manager.Connect already Open; a link that leaves Open never comes
// back. Reconnection always produces a new link.
type Link struct {
	// Target is the endpoint this link was dialed to.
	Target Target

	conn   net.Conn
	reader *ws.Reader

	mu    sync.Mutex
	state LinkState

	wmu sync.Mutex
}

// State returns the current link state.
func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) setState(s LinkState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Next returns the next frame from the backend, blocking until one
// arrives or the link fails.
func (l *Link) Next() (ws.Frame, error) {
	return l.reader.Next()
}

// WritePayload sends one client-role frame carrying payload. Each frame
// is masked with a fresh random key. If the link is not Open the payload
// is dropped and ErrNotOpen returned.
func (l *Link) WritePayload(op ws.Opcode, payload []byte) error {
	if l.State() != Open {
		return ErrNotOpen
	}
	f := ws.Frame{
		Fin:     true,
		Opcode:  op,
		Masked:  true,
		MaskKey: ws.NewMaskKey(),
		Payload: payload,
	}
	l.wmu.Lock()
	defer l.wmu.Unlock()
	_, err := l.conn.Write(ws.Encode(f))
	return err
}

// Close sends a best-effort close frame and shuts the transport down.
// Safe to call more than once.
func (l *Link) Close() error {
	l.mu.Lock()
	wasOpen := l.state == Open
	l.state = Disconnected
	l.mu.Unlock()

	if wasOpen {
		f := ws.Frame{Fin: true, Opcode: ws.OpClose, Masked: true, MaskKey: ws.NewMaskKey()}
		l.wmu.Lock()
		l.conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
		l.conn.Write(ws.Encode(f))
		l.wmu.Unlock()
	}
	return l.conn.Close()
}
