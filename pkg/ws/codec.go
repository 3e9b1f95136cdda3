// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrIncomplete is returned when the buffer does not yet hold a
	// complete frame or handshake message. It is not a failure: the
	// caller keeps the buffer and retries once more bytes arrive.
	ErrIncomplete = errors.New("incomplete")

	// ErrProtocolViolation is returned for malformed or unsupported
	// wire data. The affected connection must be torn down.
	ErrProtocolViolation = errors.New("protocol violation")
)

// Decode parses one frame from the start of buf and returns it together
// with the number of bytes consumed. It is side-effect free: on
// ErrIncomplete nothing is consumed and the caller simply waits for more
// bytes, so feeding a stream one byte at a time is safe.
//
// maxPayload bounds the declared payload length; larger frames are a
// protocol violation, not a truncation. 64-bit extended lengths (the 127
// length marker) are rejected outright since the gateway never relays
// messages that large. Fragmented messages are likewise rejected: a
// continuation opcode or a cleared FIN bit on a data frame is a protocol
// violation.
func Decode(buf []byte, maxPayload int) (Frame, int, error) {
	var f Frame

	if len(buf) < 2 {
		return f, 0, ErrIncomplete
	}

	b0, b1 := buf[0], buf[1]

	if b0&0x70 != 0 {
		return f, 0, fmt.Errorf("%w: nonzero reserved bits", ErrProtocolViolation)
	}

	f.Fin = b0&0x80 != 0
	f.Opcode = Opcode(b0 & 0x0F)
	f.Masked = b1&0x80 != 0

	if !validOpcode(f.Opcode) {
		return f, 0, fmt.Errorf("%w: reserved opcode 0x%X", ErrProtocolViolation, byte(f.Opcode))
	}
	if f.Opcode == OpContinuation {
		return f, 0, fmt.Errorf("%w: continuation frame without a preceding fragment", ErrProtocolViolation)
	}
	if !f.Fin {
		return f, 0, fmt.Errorf("%w: fragmented %s frame not supported", ErrProtocolViolation, f.Opcode)
	}

	length := int(b1 & 0x7F)
	off := 2

	switch length {
	case 127:
		return f, 0, fmt.Errorf("%w: 64-bit payload length not supported", ErrProtocolViolation)
	case 126:
		if len(buf) < off+2 {
			return f, 0, ErrIncomplete
		}
		length = int(binary.BigEndian.Uint16(buf[off:]))
		off += 2
	}

	if f.Opcode.IsControl() && length > 125 {
		return f, 0, fmt.Errorf("%w: %s frame payload exceeds 125 bytes", ErrProtocolViolation, f.Opcode)
	}
	if length > maxPayload {
		return f, 0, fmt.Errorf("%w: payload length %d exceeds limit %d", ErrProtocolViolation, length, maxPayload)
	}

	if f.Masked {
		if len(buf) < off+4 {
			return f, 0, ErrIncomplete
		}
		copy(f.MaskKey[:], buf[off:off+4])
		off += 4
	}

	if len(buf) < off+length {
		return f, 0, ErrIncomplete
	}

	f.Payload = make([]byte, length)
	copy(f.Payload, buf[off:off+length])
	if f.Masked {
		applyMask(f.Payload, f.MaskKey)
	}

	return f, off + length, nil
}

// Encode serializes f with the minimal header for its payload size.
// When f.Masked is set the payload is masked on the wire with f.MaskKey;
// f.Payload itself is left untouched.
//
// Payloads requiring a 64-bit length field are larger than any frame
// the gateway relays and must be rejected by the caller before encoding;
// Encode does not enforce maxPayload.
func Encode(f Frame) []byte {
	var b0 byte
	if f.Fin {
		b0 = 0x80
	}
	b0 |= byte(f.Opcode) & 0x0F

	n := len(f.Payload)

	var hdr []byte
	switch {
	case n <= 125:
		hdr = []byte{b0, byte(n)}
	default:
		hdr = []byte{b0, 126, byte(n >> 8), byte(n)}
	}
	if f.Masked {
		hdr[1] |= 0x80
	}

	out := make([]byte, 0, len(hdr)+4+n)
	out = append(out, hdr...)

	if f.Masked {
		out = append(out, f.MaskKey[:]...)
		start := len(out)
		out = append(out, f.Payload...)
		applyMask(out[start:], f.MaskKey)
		return out
	}

	return append(out, f.Payload...)
}

// NewMaskKey returns a fresh random masking key for a client-role frame.
func NewMaskKey() [4]byte {
	var key [4]byte
	// rand.Read on the crypto source never fails on supported platforms.
	rand.Read(key[:])
	return key
}
