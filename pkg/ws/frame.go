// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

package ws

// Opcode identifies the frame type (RFC 6455 Section 5.2).
type Opcode byte

const (
	// OpContinuation marks a fragment of a fragmented message.
	// The gateway does not relay fragmented messages; see Decode.
	OpContinuation Opcode = 0x0

	// OpText marks a UTF-8 text data frame.
	OpText Opcode = 0x1

	// OpBinary marks a binary data frame.
	OpBinary Opcode = 0x2

	// OpClose initiates the closing handshake.
	OpClose Opcode = 0x8

	// OpPing is a keepalive probe; it must be answered with a pong
	// carrying the identical payload.
	OpPing Opcode = 0x9

	// OpPong answers a ping.
	OpPong Opcode = 0xA
)

// String returns the opcode name for logging.
func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return "reserved"
	}
}

// IsControl reports whether the opcode is a control frame (0x8-0xF).
// Control frames must not be fragmented and carry at most 125 payload bytes.
func (o Opcode) IsControl() bool {
	return o&0x08 != 0
}

// IsData reports whether the opcode is a data frame.
func (o Opcode) IsData() bool {
	return o == OpText || o == OpBinary
}

func validOpcode(o Opcode) bool {
	switch o {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	default:
		return false
	}
}

// Frame is one WebSocket frame, the unit exchanged after the upgrade
// handshake. Payload is held unmasked regardless of the Masked flag;
// masking is applied on the wire by Encode and removed by Decode.
type Frame struct {
	// Fin marks the last fragment of a message. The gateway only
	// relays single-frame messages, so Fin is always true on frames
	// it accepts or produces.
	Fin bool

	// Opcode is the frame type.
	Opcode Opcode

	// Masked indicates the payload was (or will be) XOR-masked on the
	// wire. Client-role frames must be masked, server-role frames must
	// not be (RFC 6455 Section 5.3).
	Masked bool

	// MaskKey is the 4-byte masking key. Only meaningful when Masked.
	MaskKey [4]byte

	// Payload is the unmasked application data.
	Payload []byte
}

// applyMask XORs p in place with the repeating 4-byte key. Masking is
// its own inverse, so the same call masks and unmasks.
func applyMask(p []byte, key [4]byte) {
	for i := range p {
		p[i] ^= key[i%4]
	}
}
