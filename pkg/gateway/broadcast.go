// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/backend"
	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/session"
	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/ws"
)

// maintainBroadcast keeps the shared backend link alive while the
// broadcast policy is active. Connect attempts go through the manager's
// backoff gate, so a dead backend costs one dial per interval. Link
// loss pauses forwarding; sessions are never touched from here.
func (g *Gateway) maintainBroadcast(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if g.Policy() != Broadcast {
			g.pause(ctx, 250*time.Millisecond)
			continue
		}

		target := g.Target()
		link, err := g.backends.Connect(ctx, target)
		if err != nil {
			if !errors.Is(err, backend.ErrBackingOff) {
				g.metrics.BackendConnects.WithLabelValues("failure").Inc()
				g.metrics.BackendConnectErrors.Inc()
				g.events.BackendStateChanged(backend.BackingOff, target.String())
				g.logger.Debug("backend connect failed",
					slog.String("target", target.String()),
					slog.String("error", err.Error()))
			}
			g.pauseUntilRetry(ctx)
			continue
		}

		g.mu.Lock()
		g.shared = link
		g.mu.Unlock()
		g.metrics.BackendConnects.WithLabelValues("success").Inc()
		g.metrics.BackendState.WithLabelValues(target.String()).Set(float64(backend.Open))
		g.events.BackendStateChanged(backend.Open, target.String())
		g.logger.Info("backend link established", slog.String("target", target.String()))

		g.pumpShared(link)

		g.mu.Lock()
		if g.shared == link {
			g.shared = nil
		}
		g.mu.Unlock()
		link.Close()
		g.metrics.BackendState.WithLabelValues(target.String()).Set(float64(backend.Disconnected))
		g.events.BackendStateChanged(backend.Disconnected, target.String())
		g.logger.Info("backend link lost", slog.String("target", target.String()))
	}
}

// pumpShared fans backend frames out to every open session until the
// link fails. A session that is mid-teardown simply drops the frame.
func (g *Gateway) pumpShared(link *backend.Link) {
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
			for _, s := range g.sessions.Snapshot() {
				if s.State() != session.Open {
					continue
				}
				if err := s.WriteFrame(ws.Frame{Fin: true, Opcode: f.Opcode, Payload: f.Payload}); err != nil {
					g.metrics.FramesDropped.WithLabelValues("downstream").Inc()
					continue
				}
				g.metrics.PayloadBytes.WithLabelValues("downstream").Add(float64(len(f.Payload)))
			}
		}
	}
}

// pause sleeps for d, returning early on cancellation or reconfigure.
func (g *Gateway) pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-g.kick:
	case <-t.C:
	}
}

// pauseUntilRetry waits out the backoff gate, or a short beat when the
// gate is not armed.
func (g *Gateway) pauseUntilRetry(ctx context.Context) {
	d := 100 * time.Millisecond
	if until, gated := g.backends.GatedUntil(); gated {
		if w := time.Until(until); w > d {
			d = w
		}
	}
	g.pause(ctx, d)
}
