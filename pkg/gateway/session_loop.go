// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/backend"
	gwerr "github.com/munichseb/TinyML-ocpp-local-controller/pkg/errors"
	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/session"
	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/ws"
)

// serveSession drives one downstream connection from upgrade to
// teardown. It owns all reads on the connection; writes go through the
// session's serialized writer.
func (g *Gateway) serveSession(ctx context.Context, s *session.Session) {
	reason := "disconnect"
	defer func() {
		s.Close()
		g.evict(s, reason)
	}()

	surplus, err := g.upgradeSession(s)
	if err != nil {
		switch {
		case errors.Is(err, ws.ErrBadHandshake):
			reason = "handshake_failure"
		case errors.Is(err, gwerr.ErrHandshakeTimeout):
			reason = "handshake_timeout"
		}
		g.metrics.HandshakeFailures.WithLabelValues("server").Inc()
		g.logger.Debug("downstream handshake failed",
			slog.String("error", gwerr.New("upgrade", s.ID, s.RemoteAddr, err).Error()))
		return
	}

	var link *backend.Link
	if g.Policy() == Paired {
		link, err = g.attachPairedLink(ctx, s)
		if err != nil {
			reason = "backend_unavailable"
			g.logger.Debug("paired link unavailable",
				slog.String("session", s.ID),
				slog.String("error", err.Error()))
			return
		}
	}

	s.SetState(session.Open)
	s.UpdateActivity()
	g.events.SessionOpened(s.Slot, s.ID, s.RemoteAddr)
	g.logger.Debug("session open",
		slog.Int("slot", s.Slot),
		slog.String("session", s.ID),
		slog.String("remote", s.RemoteAddr))

	// The pump starts only once the session is Open so an eager backend
	// greeting is delivered rather than dropped.
	if link != nil {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.pumpPaired(s, link)
		}()
	}

	fr := ws.NewReader(s.Conn(), g.config.MaxPayload)
	fr.Preload(surplus)
	s.Conn().SetReadDeadline(time.Time{})

	for {
		f, err := fr.Next()
		if err != nil {
			if errors.Is(err, ws.ErrProtocolViolation) {
				reason = "protocol_error"
				s.WriteFrame(ws.Frame{Fin: true, Opcode: ws.OpClose})
			}
			return
		}
		s.UpdateActivity()
		g.metrics.FramesTotal.WithLabelValues("downstream", f.Opcode.String()).Inc()

		// Client-to-server frames must be masked.
		if !f.Masked {
			reason = "protocol_error"
			s.WriteFrame(ws.Frame{Fin: true, Opcode: ws.OpClose})
			return
		}

		switch f.Opcode {
		case ws.OpPing:
			s.WriteFrame(ws.Frame{Fin: true, Opcode: ws.OpPong, Payload: f.Payload})
		case ws.OpPong:
			// Nothing to do.
		case ws.OpClose:
			s.WriteFrame(ws.Frame{Fin: true, Opcode: ws.OpClose, Payload: f.Payload})
			s.SetState(session.Closing)
			reason = "peer_close"
			return
		default:
			g.forward(s, f)
		}
	}
}

// upgradeSession runs the server side of the opening handshake under
// the handshake deadline. It returns any frame bytes that arrived
// behind the request.
func (g *Gateway) upgradeSession(s *session.Session) ([]byte, error) {
	conn := s.Conn()
	conn.SetReadDeadline(time.Now().Add(g.config.HandshakeTimeout))

	buf := make([]byte, 0, 512)
	chunk := make([]byte, 512)
	for {
		resp, n, err := ws.ServerUpgrade(buf)
		switch {
		case err == nil:
			if werr := s.WriteRaw(resp); werr != nil {
				return nil, werr
			}
			s.SetState(session.Accepted)
			surplus := make([]byte, len(buf)-n)
			copy(surplus, buf[n:])
			return surplus, nil
		case errors.Is(err, ws.ErrIncomplete):
			// Keep reading.
		default:
			// Refusal response, then fail.
			if resp != nil {
				s.WriteRaw(resp)
			}
			return nil, err
		}

		r, err := conn.Read(chunk)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, gwerr.ErrHandshakeTimeout
			}
			return nil, err
		}
		buf = append(buf, chunk[:r]...)
	}
}

// forward routes one data frame toward the backend per the active
// policy. Frames with no open link are dropped, never queued.
func (g *Gateway) forward(s *session.Session, f ws.Frame) {
	g.mu.Lock()
	var link *backend.Link
	if g.policy == Paired {
		link = g.paired[s.Slot]
	} else {
		link = g.shared
	}
	g.mu.Unlock()

	if link == nil {
		g.metrics.FramesDropped.WithLabelValues("upstream").Inc()
		return
	}
	if err := link.WritePayload(f.Opcode, f.Payload); err != nil {
		g.metrics.FramesDropped.WithLabelValues("upstream").Inc()
		return
	}
	g.metrics.FramesTotal.WithLabelValues("upstream", f.Opcode.String()).Inc()
	g.metrics.PayloadBytes.WithLabelValues("upstream").Add(float64(len(f.Payload)))
}

// attachPairedLink connects a dedicated backend link for the session
// and binds it to the session's slot.
func (g *Gateway) attachPairedLink(ctx context.Context, s *session.Session) (*backend.Link, error) {
	target := g.Target()
	link, err := g.backends.Connect(ctx, target)
	if err != nil {
		g.metrics.BackendConnects.WithLabelValues("failure").Inc()
		return nil, gwerr.New("connect", s.ID, s.RemoteAddr, err)
	}
	g.metrics.BackendConnects.WithLabelValues("success").Inc()
	g.events.BackendStateChanged(backend.Open, target.String())

	g.mu.Lock()
	g.paired[s.Slot] = link
	g.mu.Unlock()
	return link, nil
}

// pumpPaired moves backend frames to the owning session. The link and
// the session share a lifetime: when the link goes, the session goes.
func (g *Gateway) pumpPaired(s *session.Session, link *backend.Link) {
	defer func() {
		link.Close()
		s.Close()
		g.evict(s, "backend_lost")
	}()

	for {
		f, err := link.Next()
		if err != nil {
			return
		}
		g.metrics.FramesTotal.WithLabelValues("backend", f.Opcode.String()).Inc()

		switch f.Opcode {
		case ws.OpPing:
			link.WritePayload(ws.OpPong, f.Payload)
		case ws.OpPong:
			// Nothing to do.
		case ws.OpClose:
			return
		default:
			if err := s.WriteFrame(ws.Frame{Fin: true, Opcode: f.Opcode, Payload: f.Payload}); err != nil {
				g.metrics.FramesDropped.WithLabelValues("downstream").Inc()
				// Not-open means drop the frame, not the link; only a
				// transport write failure ends the pairing.
				if errors.Is(err, session.ErrNotOpen) {
					continue
				}
				return
			}
			g.metrics.PayloadBytes.WithLabelValues("downstream").Add(float64(len(f.Payload)))
		}
	}
}
