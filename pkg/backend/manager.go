// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/ws"
)

// ErrBackingOff is returned by Connect while the reconnect gate is
// closed. The gate opens again once the deadline passes.
var ErrBackingOff = errors.New("backend backing off")

// DialFunc opens the transport to the backend. Injectable so tests can
// substitute pipes and count attempts.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// Config holds the backend manager configuration.
type Config struct {
	// Dial opens transport connections. Defaults to a TCP dialer.
	Dial DialFunc

	// ReconnectInterval is the minimum wait between connect attempts
	// after a failure. Attempts are rate-limited to one per interval
	// no matter how many sessions request forwarding meanwhile.
	ReconnectInterval time.Duration

	// BackoffFactor grows the interval after consecutive failures.
	// 1.0 keeps the interval fixed.
	BackoffFactor float64

	// BackoffMax caps the grown interval.
	BackoffMax time.Duration

	// HandshakeTimeout bounds the dial-plus-upgrade exchange.
	HandshakeTimeout time.Duration

	// MaxPayload bounds frames read from the backend.
	MaxPayload int

	// Logger for connection events.
	Logger *slog.Logger
}

// Manager produces backend links, gating attempts through a single
// reconnect deadline. A failed attempt arms the gate; while armed,
// Connect returns ErrBackingOff without dialing.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	deadline time.Time
	interval time.Duration
}

// New creates a backend manager.
func New(cfg Config) *Manager {
	if cfg.Dial == nil {
		d := &net.Dialer{}
		cfg.Dial = func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = 4 * time.Second
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 60 * time.Second
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.MaxPayload == 0 {
		cfg.MaxPayload = 65535
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		cfg:      cfg,
		interval: cfg.ReconnectInterval,
	}
}

// Connect dials the target and performs the client-role upgrade
// handshake, returning an Open link. While the reconnect gate is armed
// it returns ErrBackingOff without an attempt. Any failure (dial error,
// non-101 response, accept-token mismatch, timeout) arms the gate.
func (m *Manager) Connect(ctx context.Context, target Target) (*Link, error) {
	m.mu.Lock()
	if now := time.Now(); now.Before(m.deadline) {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w until %s", ErrBackingOff, m.deadline.Format(time.RFC3339))
	}
	m.mu.Unlock()

	link := &Link{Target: target, state: Connecting}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := m.cfg.Dial(dialCtx, target.Addr())
	if err != nil {
		m.fail()
		return nil, fmt.Errorf("dial %s: %w", target.Addr(), err)
	}
	link.conn = conn
	link.setState(HandshakePending)

	if err := m.upgrade(link, target); err != nil {
		conn.Close()
		link.setState(BackingOff)
		m.fail()
		m.cfg.Logger.Warn("backend handshake failed",
			slog.String("target", target.String()),
			slog.String("error", err.Error()))
		return nil, err
	}

	m.succeed()
	link.setState(Open)
	m.cfg.Logger.Info("backend link established", slog.String("target", target.String()))
	return link, nil
}

// upgrade runs the client-role handshake on the fresh transport. Bytes
// read past the response header already belong to the frame stream and
// are preloaded into the link's reader.
func (m *Manager) upgrade(link *Link, target Target) error {
	conn := link.conn
	deadline := time.Now().Add(m.cfg.HandshakeTimeout)
	conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	req, key := ws.ClientRequest(target.Addr(), target.Path)
	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("write upgrade request: %w", err)
	}

	var buf []byte
	chunk := make([]byte, 1024)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			consumed, err := ws.CheckServerResponse(buf, key)
			if err == nil {
				link.reader = ws.NewReader(conn, m.cfg.MaxPayload)
				link.reader.Preload(buf[consumed:])
				return nil
			}
			if err != ws.ErrIncomplete {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("read upgrade response: %w", err)
		}
	}
}

// GatedUntil reports the reconnect deadline while the gate is armed.
func (m *Manager) GatedUntil() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Now().Before(m.deadline) {
		return m.deadline, true
	}
	return time.Time{}, false
}

// Reset clears the reconnect gate and restores the base interval. Used
// when the configuration changes so the new target is tried at once.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.deadline = time.Time{}
	m.interval = m.cfg.ReconnectInterval
	m.mu.Unlock()
}

func (m *Manager) fail() {
	m.mu.Lock()
	m.deadline = time.Now().Add(m.interval)
	if m.cfg.BackoffFactor > 1 {
		grown := time.Duration(float64(m.interval) * m.cfg.BackoffFactor)
		if grown > m.cfg.BackoffMax {
			grown = m.cfg.BackoffMax
		}
		m.interval = grown
	}
	m.mu.Unlock()
}

func (m *Manager) succeed() {
	m.mu.Lock()
	m.deadline = time.Time{}
	m.interval = m.cfg.ReconnectInterval
	m.mu.Unlock()
}
