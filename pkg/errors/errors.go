// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for the gateway.
package errors

import (
	"errors"
	"fmt"
)

// ErrHandshakeTimeout indicates the upgrade did not complete within the
// configured window.
var ErrHandshakeTimeout = errors.New("handshake timeout")

// GatewayError wraps an error with session context.
type GatewayError struct {
	Op         string // Operation that failed
	SessionID  string // Session identifier, if any
	RemoteAddr string // Peer address
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s [%s] %s: %v", e.Op, e.SessionID, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// New creates a new GatewayError.
func New(op, sessionID, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &GatewayError{
		Op:         op,
		SessionID:  sessionID,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}
