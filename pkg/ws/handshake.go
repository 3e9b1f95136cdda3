// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// websocketGUID is the fixed GUID from RFC 6455 Section 1.3 used to
// derive the accept token from the client key.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// MaxHandshakeBytes bounds the accumulated handshake buffer. A request
// or response that exceeds it without reaching the blank-line terminator
// is treated as malformed.
const MaxHandshakeBytes = 4096

// ErrBadHandshake is returned when an upgrade request or response is
// malformed, carries a missing or invalid key, or fails verification.
var ErrBadHandshake = errors.New("bad handshake")

var crlfcrlf = []byte("\r\n\r\n")

// AcceptToken computes the Sec-WebSocket-Accept value for a client key:
// base64(SHA-1(key + GUID)). The token is always derived from the real
// algorithm so that it generalizes to arbitrary keys.
func AcceptToken(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ServerUpgrade scans buf for a complete HTTP upgrade request
// (terminated by a blank line) and produces the response to write.
//
// It returns the response bytes, the number of request bytes consumed,
// and an error. ErrIncomplete means the terminator has not arrived yet
// and the caller should retry with more bytes. ErrBadHandshake means the
// request was rejected; the returned response is a 400 that should be
// written before closing. A nil error means the upgrade was accepted and
// the response is the 101 carrying the computed accept token.
func ServerUpgrade(buf []byte) ([]byte, int, error) {
	end := bytes.Index(buf, crlfcrlf)
	if end < 0 {
		if len(buf) > MaxHandshakeBytes {
			return badRequest(), 0, fmt.Errorf("%w: header block exceeds %d bytes", ErrBadHandshake, MaxHandshakeBytes)
		}
		return nil, 0, ErrIncomplete
	}
	consumed := end + len(crlfcrlf)

	lines := strings.Split(string(buf[:end]), "\r\n")
	if !strings.HasPrefix(lines[0], "GET ") || !strings.HasSuffix(lines[0], " HTTP/1.1") {
		return badRequest(), consumed, fmt.Errorf("%w: request line %q", ErrBadHandshake, lines[0])
	}

	headers := parseHeaders(lines[1:])
	if !strings.EqualFold(headers["upgrade"], "websocket") {
		return badRequest(), consumed, fmt.Errorf("%w: missing websocket upgrade header", ErrBadHandshake)
	}

	key := headers["sec-websocket-key"]
	if raw, err := base64.StdEncoding.DecodeString(key); err != nil || len(raw) != 16 {
		return badRequest(), consumed, fmt.Errorf("%w: missing or malformed Sec-WebSocket-Key", ErrBadHandshake)
	}

	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptToken(key) + "\r\n\r\n"
	return []byte(resp), consumed, nil
}

// ClientRequest builds the upgrade request for a backend link and
// returns it together with the freshly generated key, which the caller
// must keep to verify the response.
func ClientRequest(host, path string) ([]byte, string) {
	nonce := make([]byte, 16)
	rand.Read(nonce)
	key := base64.StdEncoding.EncodeToString(nonce)

	if path == "" {
		path = "/"
	}
	req := "GET " + path + " HTTP/1.1\r\n" +
		"Host: " + host + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	return []byte(req), key
}

// CheckServerResponse scans buf for a complete upgrade response and
// verifies it against the key sent in the request: the status must be
// 101 and Sec-WebSocket-Accept must equal AcceptToken(key). It returns
// the number of bytes consumed; any trailing bytes already belong to the
// frame stream. ErrIncomplete means the response is not complete yet.
func CheckServerResponse(buf []byte, key string) (int, error) {
	end := bytes.Index(buf, crlfcrlf)
	if end < 0 {
		if len(buf) > MaxHandshakeBytes {
			return 0, fmt.Errorf("%w: header block exceeds %d bytes", ErrBadHandshake, MaxHandshakeBytes)
		}
		return 0, ErrIncomplete
	}
	consumed := end + len(crlfcrlf)

	lines := strings.Split(string(buf[:end]), "\r\n")
	if !strings.HasPrefix(lines[0], "HTTP/1.1 101") {
		return consumed, fmt.Errorf("%w: status %q", ErrBadHandshake, lines[0])
	}

	headers := parseHeaders(lines[1:])
	if headers["sec-websocket-accept"] != AcceptToken(key) {
		return consumed, fmt.Errorf("%w: accept token mismatch", ErrBadHandshake)
	}

	return consumed, nil
}

// parseHeaders folds header names to lower case. Values keep their case;
// comparisons that must be case-insensitive use EqualFold.
func parseHeaders(lines []string) map[string]string {
	h := make(map[string]string, len(lines))
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		h[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
	return h
}

func badRequest() []byte {
	return []byte("HTTP/1.1 400 Bad Request\r\nConnection: close\r\n\r\n")
}
