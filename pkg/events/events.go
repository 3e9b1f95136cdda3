// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

// Package events defines the status-event boundary between the relay
// core and its collaborators (display, configuration UI). The core
// reports lifecycle transitions through the Listener interface; it never
// renders anything itself. Listener methods are called from the
// gateway's goroutines and must not block.
package events

import (
	"log/slog"

	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/backend"
)

// Listener receives status events from the relay core.
type Listener interface {
	// SessionOpened is called when a session completes its upgrade.
	SessionOpened(slot int, id, remote string)

	// SessionEvicted is called after a session's slot is reclaimed,
	// whatever the reason (disconnect, protocol error, handshake
	// failure, idle timeout, capacity policy).
	SessionEvicted(slot int, id, reason string)

	// BackendStateChanged is called when the backend link state moves.
	BackendStateChanged(state backend.LinkState, target string)
}

// Noop is a Listener that ignores all events.
type Noop struct{}

var _ Listener = (*Noop)(nil)

func (Noop) SessionOpened(int, string, string)             {}
func (Noop) SessionEvicted(int, string, string)            {}
func (Noop) BackendStateChanged(backend.LinkState, string) {}

// Logger is a Listener that writes every event to a structured log.
type Logger struct {
	logger *slog.Logger
}

var _ Listener = (*Logger)(nil)

// NewLogger creates a logging listener.
func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger}
}

func (l *Logger) SessionOpened(slot int, id, remote string) {
	l.logger.Info("session opened",
		slog.Int("slot", slot),
		slog.String("session", id),
		slog.String("remote", remote))
}

func (l *Logger) SessionEvicted(slot int, id, reason string) {
	l.logger.Info("session evicted",
		slog.Int("slot", slot),
		slog.String("session", id),
		slog.String("reason", reason))
}

func (l *Logger) BackendStateChanged(state backend.LinkState, target string) {
	l.logger.Info("backend state changed",
		slog.String("state", state.String()),
		slog.String("target", target))
}
