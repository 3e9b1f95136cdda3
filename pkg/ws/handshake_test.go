// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// Sample key and accept value from RFC 6455 Section 1.3.
const (
	sampleKey    = "dGhlIHNhbXBsZSBub25jZQ=="
	sampleAccept = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
)

func TestAcceptToken_RFCSample(t *testing.T) {
	if got := AcceptToken(sampleKey); got != sampleAccept {
		t.Errorf("expected %q, got %q", sampleAccept, got)
	}
}

func TestAcceptToken_VariesWithKey(t *testing.T) {
	if AcceptToken(sampleKey) == AcceptToken("AQIDBAUGBwgJCgsMDQ4PEA==") {
		t.Error("different keys must produce different tokens")
	}
}

func upgradeRequest(key string) []byte {
	return []byte("GET /ws HTTP/1.1\r\n" +
		"Host: controller.local\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n")
}

func TestServerUpgrade_Accepts(t *testing.T) {
	req := upgradeRequest(sampleKey)

	resp, n, err := ServerUpgrade(req)
	if err != nil {
		t.Fatalf("ServerUpgrade failed: %v", err)
	}
	if n != len(req) {
		t.Errorf("expected %d bytes consumed, got %d", len(req), n)
	}
	if !bytes.HasPrefix(resp, []byte("HTTP/1.1 101 Switching Protocols\r\n")) {
		t.Errorf("expected 101 response, got %q", resp)
	}
	if !bytes.Contains(resp, []byte("Sec-WebSocket-Accept: "+sampleAccept+"\r\n")) {
		t.Errorf("response missing computed accept token: %q", resp)
	}
}

func TestServerUpgrade_Incremental(t *testing.T) {
	req := upgradeRequest(sampleKey)

	// Every prefix short of the blank line yields ErrIncomplete.
	for i := 0; i < len(req); i++ {
		_, _, err := ServerUpgrade(req[:i])
		if err != ErrIncomplete {
			t.Fatalf("prefix of %d bytes: expected ErrIncomplete, got %v", i, err)
		}
	}

	if _, _, err := ServerUpgrade(req); err != nil {
		t.Fatalf("full request rejected: %v", err)
	}
}

func TestServerUpgrade_TrailingBytesNotConsumed(t *testing.T) {
	req := upgradeRequest(sampleKey)
	frame := Encode(Frame{Fin: true, Opcode: OpText, Masked: true, MaskKey: NewMaskKey(), Payload: []byte("early")})
	buf := append(append([]byte{}, req...), frame...)

	_, n, err := ServerUpgrade(buf)
	if err != nil {
		t.Fatalf("ServerUpgrade failed: %v", err)
	}
	if n != len(req) {
		t.Errorf("handshake consumed frame bytes: consumed %d, request is %d", n, len(req))
	}
}

func TestServerUpgrade_Rejects(t *testing.T) {
	tests := []struct {
		name string
		req  string
	}{
		{"missing key", "GET /ws HTTP/1.1\r\nHost: h\r\nUpgrade: websocket\r\n\r\n"},
		{"malformed key", "GET /ws HTTP/1.1\r\nHost: h\r\nUpgrade: websocket\r\nSec-WebSocket-Key: not-base64!\r\n\r\n"},
		{"short key", "GET /ws HTTP/1.1\r\nHost: h\r\nUpgrade: websocket\r\nSec-WebSocket-Key: YWJj\r\n\r\n"},
		{"not a GET", "POST /ws HTTP/1.1\r\nUpgrade: websocket\r\nSec-WebSocket-Key: " + sampleKey + "\r\n\r\n"},
		{"no upgrade header", "GET /ws HTTP/1.1\r\nHost: h\r\nSec-WebSocket-Key: " + sampleKey + "\r\n\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _, err := ServerUpgrade([]byte(tt.req))
			if !errors.Is(err, ErrBadHandshake) {
				t.Fatalf("expected ErrBadHandshake, got %v", err)
			}
			if !bytes.HasPrefix(resp, []byte("HTTP/1.1 400 Bad Request\r\n")) {
				t.Errorf("expected 400 response, got %q", resp)
			}
		})
	}
}

func TestServerUpgrade_OversizedHeaderBlock(t *testing.T) {
	// No terminator and past the buffer bound: malformed, not incomplete.
	junk := []byte("GET /ws HTTP/1.1\r\nX-Pad: " + strings.Repeat("a", MaxHandshakeBytes) + "\r\n")

	_, _, err := ServerUpgrade(junk)
	if !errors.Is(err, ErrBadHandshake) {
		t.Errorf("expected ErrBadHandshake, got %v", err)
	}
}

func TestClientRequest_RoundTrip(t *testing.T) {
	req, key := ClientRequest("backend:9000", "/ocpp")

	if !bytes.HasPrefix(req, []byte("GET /ocpp HTTP/1.1\r\n")) {
		t.Errorf("unexpected request line: %q", req)
	}
	if !bytes.Contains(req, []byte("Sec-WebSocket-Key: "+key+"\r\n")) {
		t.Error("request missing the generated key")
	}

	// Serve the request with our own server role, then verify the
	// response with the client role.
	resp, _, err := ServerUpgrade(req)
	if err != nil {
		t.Fatalf("own request rejected by own server role: %v", err)
	}
	n, err := CheckServerResponse(resp, key)
	if err != nil {
		t.Fatalf("own response rejected by own client role: %v", err)
	}
	if n != len(resp) {
		t.Errorf("expected %d bytes consumed, got %d", len(resp), n)
	}
}

func TestClientRequest_FreshKeys(t *testing.T) {
	_, a := ClientRequest("h", "/")
	_, b := ClientRequest("h", "/")
	if a == b {
		t.Error("consecutive handshakes must use fresh keys")
	}
}

func TestCheckServerResponse_Rejects(t *testing.T) {
	_, key := ClientRequest("h", "/")

	tests := []struct {
		name string
		resp string
	}{
		{"non-101 status", "HTTP/1.1 200 OK\r\n\r\n"},
		{"wrong token", "HTTP/1.1 101 Switching Protocols\r\nSec-WebSocket-Accept: " + sampleAccept + "\r\n\r\n"},
		{"missing token", "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\n\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := CheckServerResponse([]byte(tt.resp), key); !errors.Is(err, ErrBadHandshake) {
				t.Errorf("expected ErrBadHandshake, got %v", err)
			}
		})
	}
}

func TestCheckServerResponse_Incomplete(t *testing.T) {
	resp := []byte("HTTP/1.1 101 Switching Protocols\r\nSec-WebSocket-Accept: x\r\n")
	if _, err := CheckServerResponse(resp, "key"); err != ErrIncomplete {
		t.Errorf("expected ErrIncomplete without terminator, got %v", err)
	}
}
