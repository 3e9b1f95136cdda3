// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

package ws

import "io"

const readChunk = 4096

// Reader incrementally decodes frames from a byte stream. It owns the
// receive buffer for one connection: bytes are accumulated across reads
// and a frame is surfaced only once it is complete, so short reads never
// lose data. One Next call returns at most one frame; buffered surplus
// stays queued for the following call, which keeps a noisy peer from
// being drained in a single pass.
//
// Reader is not safe for concurrent use; each connection has exactly one
// reading goroutine.
type Reader struct {
	r   io.Reader
	buf []byte
	max int
}

// NewReader wraps r with a frame reader enforcing maxPayload.
func NewReader(r io.Reader, maxPayload int) *Reader {
	return &Reader{r: r, max: maxPayload}
}

// Preload seeds the buffer with bytes that arrived ahead of the frame
// stream, typically surplus read together with the handshake.
func (fr *Reader) Preload(p []byte) {
	fr.buf = append(fr.buf, p...)
}

// Next returns the next complete frame, blocking on the underlying
// reader as needed. Decode errors (protocol violations) and transport
// errors are returned as-is; after either the connection is unusable.
func (fr *Reader) Next() (Frame, error) {
	for {
		if len(fr.buf) > 0 {
			f, n, err := Decode(fr.buf, fr.max)
			if err == nil {
				fr.buf = fr.buf[:copy(fr.buf, fr.buf[n:])]
				return f, nil
			}
			if err != ErrIncomplete {
				return Frame{}, err
			}
		}

		chunk := make([]byte, readChunk)
		n, err := fr.r.Read(chunk)
		if n > 0 {
			fr.buf = append(fr.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return Frame{}, err
		}
	}
}
