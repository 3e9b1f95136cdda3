// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"testing"
)

func TestGatewayError_Format(t *testing.T) {
	err := New("upgrade", "sess-1", "10.0.0.5:40212", ErrHandshakeTimeout)
	want := "upgrade [sess-1] 10.0.0.5:40212: handshake timeout"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	err = New("accept", "", "10.0.0.5:40212", errors.New("no free slot"))
	want = "accept 10.0.0.5:40212: no free slot"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestGatewayError_Unwrap(t *testing.T) {
	err := New("upgrade", "sess-1", "10.0.0.5:40212", ErrHandshakeTimeout)
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Error("errors.Is should see through GatewayError")
	}

	if New("op", "", "", nil) != nil {
		t.Error("wrapping nil should stay nil")
	}
}
