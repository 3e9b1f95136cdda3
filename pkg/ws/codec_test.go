// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

const testMaxPayload = 65535

func TestDecode_TextUnmasked(t *testing.T) {
	data := []byte{
		0x81, // FIN=1, opcode=text
		0x05, // MASK=0, length=5
		'H', 'e', 'l', 'l', 'o',
	}

	f, n, err := Decode(data, testMaxPayload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if n != len(data) {
		t.Errorf("expected %d bytes consumed, got %d", len(data), n)
	}
	if !f.Fin {
		t.Error("expected FIN=1")
	}
	if f.Opcode != OpText {
		t.Errorf("expected text opcode, got %v", f.Opcode)
	}
	if f.Masked {
		t.Error("expected unmasked frame")
	}
	if string(f.Payload) != "Hello" {
		t.Errorf("expected payload 'Hello', got %q", f.Payload)
	}
}

func TestDecode_MaskedPayload(t *testing.T) {
	// Known vector: key 12 34 56 78 over payload 00 01 02 03
	// unmasks to 12 35 54 7B.
	data := []byte{
		0x82,                   // FIN=1, opcode=binary
		0x84,                   // MASK=1, length=4
		0x12, 0x34, 0x56, 0x78, // mask key
		0x00, 0x01, 0x02, 0x03, // masked payload
	}

	f, _, err := Decode(data, testMaxPayload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !f.Masked {
		t.Error("expected masked frame")
	}
	if f.MaskKey != [4]byte{0x12, 0x34, 0x56, 0x78} {
		t.Errorf("unexpected mask key %v", f.MaskKey)
	}
	want := []byte{0x12, 0x35, 0x54, 0x7B}
	if !bytes.Equal(f.Payload, want) {
		t.Errorf("expected payload %x, got %x", want, f.Payload)
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	payload := func(n int) []byte {
		p := make([]byte, n)
		for i := range p {
			p[i] = byte(i)
		}
		return p
	}

	tests := []struct {
		name   string
		frame  Frame
		header int // expected header length excluding mask key
	}{
		{"empty unmasked", Frame{Fin: true, Opcode: OpText}, 2},
		{"short unmasked", Frame{Fin: true, Opcode: OpText, Payload: payload(5)}, 2},
		{"boundary 125", Frame{Fin: true, Opcode: OpBinary, Payload: payload(125)}, 2},
		{"boundary 126", Frame{Fin: true, Opcode: OpBinary, Payload: payload(126)}, 4},
		{"medium", Frame{Fin: true, Opcode: OpBinary, Payload: payload(4096)}, 4},
		{"boundary 65535", Frame{Fin: true, Opcode: OpBinary, Payload: payload(65535)}, 4},
		{"short masked", Frame{Fin: true, Opcode: OpText, Masked: true, MaskKey: NewMaskKey(), Payload: payload(5)}, 2},
		{"medium masked", Frame{Fin: true, Opcode: OpBinary, Masked: true, MaskKey: NewMaskKey(), Payload: payload(300)}, 4},
		{"ping", Frame{Fin: true, Opcode: OpPing, Payload: []byte("hb")}, 2},
		{"pong masked", Frame{Fin: true, Opcode: OpPong, Masked: true, MaskKey: NewMaskKey(), Payload: []byte("hb")}, 2},
		{"close", Frame{Fin: true, Opcode: OpClose}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := Encode(tt.frame)

			wantLen := tt.header + len(tt.frame.Payload)
			if tt.frame.Masked {
				wantLen += 4
			}
			if len(wire) != wantLen {
				t.Errorf("expected %d wire bytes (minimal header), got %d", wantLen, len(wire))
			}

			got, n, err := Decode(wire, testMaxPayload)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if n != len(wire) {
				t.Errorf("expected %d bytes consumed, got %d", len(wire), n)
			}
			if got.Fin != tt.frame.Fin || got.Opcode != tt.frame.Opcode || got.Masked != tt.frame.Masked {
				t.Errorf("frame fields mismatch: got %+v", got)
			}
			if !bytes.Equal(got.Payload, tt.frame.Payload) {
				t.Errorf("payload mismatch after round trip")
			}
		})
	}
}

func TestEncode_MaskedWireDiffersFromPayload(t *testing.T) {
	f := Frame{
		Fin:     true,
		Opcode:  OpText,
		Masked:  true,
		MaskKey: [4]byte{0x12, 0x34, 0x56, 0x78},
		Payload: []byte("Hello"),
	}

	wire := Encode(f)
	if bytes.Contains(wire, f.Payload) {
		t.Error("masked frame carries payload in the clear")
	}
	if !bytes.Equal(f.Payload, []byte("Hello")) {
		t.Error("Encode mutated the frame payload")
	}
}

func TestDecode_ByteAtATime(t *testing.T) {
	f := Frame{
		Fin:     true,
		Opcode:  OpBinary,
		Masked:  true,
		MaskKey: NewMaskKey(),
		Payload: bytes.Repeat([]byte{0xAB}, 300),
	}
	wire := Encode(f)

	// Every prefix short of the full frame must yield ErrIncomplete,
	// never a protocol error and never a spurious frame.
	for i := 0; i < len(wire); i++ {
		_, n, err := Decode(wire[:i], testMaxPayload)
		if err != ErrIncomplete {
			t.Fatalf("prefix of %d bytes: expected ErrIncomplete, got %v", i, err)
		}
		if n != 0 {
			t.Fatalf("prefix of %d bytes: consumed %d bytes", i, n)
		}
	}

	got, _, err := Decode(wire, testMaxPayload)
	if err != nil {
		t.Fatalf("full frame failed to decode: %v", err)
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Error("payload mismatch")
	}
}

func TestDecode_ProtocolViolations(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"64-bit length", []byte{0x81, 0x7F, 0, 0, 0, 0, 0, 0, 0, 5}},
		{"continuation frame", []byte{0x80, 0x01, 'x'}},
		{"fragmented text", []byte{0x01, 0x01, 'x'}},
		{"reserved opcode", []byte{0x83, 0x00}},
		{"reserved bits set", []byte{0xC1, 0x00}},
		{"oversized control frame", []byte{0x89, 0x7E, 0x00, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.data, testMaxPayload)
			if !errors.Is(err, ErrProtocolViolation) {
				t.Errorf("expected ErrProtocolViolation, got %v", err)
			}
		})
	}
}

func TestDecode_PayloadLimit(t *testing.T) {
	f := Frame{Fin: true, Opcode: OpBinary, Payload: make([]byte, 2048)}
	wire := Encode(f)

	if _, _, err := Decode(wire, 2048); err != nil {
		t.Fatalf("frame at the limit should decode: %v", err)
	}
	if _, _, err := Decode(wire, 2047); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("expected ErrProtocolViolation above the limit, got %v", err)
	}
}

func TestDecode_TrailingBytesLeftAlone(t *testing.T) {
	first := Encode(Frame{Fin: true, Opcode: OpText, Payload: []byte("one")})
	second := Encode(Frame{Fin: true, Opcode: OpText, Payload: []byte("two")})
	buf := append(append([]byte{}, first...), second...)

	f, n, err := Decode(buf, testMaxPayload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if string(f.Payload) != "one" {
		t.Errorf("expected first frame, got %q", f.Payload)
	}
	if n != len(first) {
		t.Errorf("expected %d bytes consumed, got %d", len(first), n)
	}
}

func TestNewMaskKey_Varies(t *testing.T) {
	a, b := NewMaskKey(), NewMaskKey()
	if a == b {
		t.Error("consecutive mask keys should differ")
	}
}

func TestReader_OneFramePerCall(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(Encode(Frame{Fin: true, Opcode: OpText, Payload: []byte("first")}))
	stream.Write(Encode(Frame{Fin: true, Opcode: OpText, Payload: []byte("second")}))

	r := NewReader(&stream, testMaxPayload)

	for _, want := range []string{"first", "second"} {
		f, err := r.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if string(f.Payload) != want {
			t.Errorf("expected %q, got %q", want, f.Payload)
		}
	}

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF after the stream drains, got %v", err)
	}
}

func TestReader_Preload(t *testing.T) {
	wire := Encode(Frame{Fin: true, Opcode: OpBinary, Payload: []byte{1, 2, 3}})

	// Split the frame between the preload and the stream, as happens
	// when frame bytes arrive together with the handshake tail.
	r := NewReader(bytes.NewReader(wire[2:]), testMaxPayload)
	r.Preload(wire[:2])

	f, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if !bytes.Equal(f.Payload, []byte{1, 2, 3}) {
		t.Errorf("payload mismatch: %v", f.Payload)
	}
}
