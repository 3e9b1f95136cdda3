// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

// Package ws implements the RFC 6455 subset the gateway speaks on the
// wire: the HTTP upgrade handshake (both roles) and frame-level
// encoding/decoding.
//
// # Scope
//
// Only what the relay needs is implemented:
//
//   - Single-frame text and binary messages (FIN=1). Fragmentation is a
//     protocol violation, as are 64-bit extended payload lengths.
//   - Control frames: close, ping, pong.
//   - Client-to-server masking, including fresh random keys for
//     client-role frames toward the backend.
//   - Server-side and client-side upgrade handshakes with the real
//     accept-token computation (base64 of SHA-1 over key + GUID).
//
// No extension or subprotocol negotiation is advertised or accepted.
//
// # Incremental decoding
//
// Decode, ServerUpgrade and CheckServerResponse all operate on an
// accumulated buffer and return ErrIncomplete until the complete unit
// has arrived. They are side-effect free on ErrIncomplete, so callers
// can feed bytes in arbitrarily small slices without losing data. Reader
// packages this loop for a blocking connection.
package ws
