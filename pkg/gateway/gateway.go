// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/backend"
	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/events"
	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/metrics"
	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/ratelimit"
	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/session"
	"github.com/munichseb/TinyML-ocpp-local-controller/pkg/ws"
)

var (
	// ErrShutdownTimeout is returned when graceful shutdown exceeds the
	// configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// Policy selects how session traffic is routed to the backend.
type Policy int

const (
	// Broadcast: all sessions share one backend link. Frames from any
	// session go to the shared link; backend frames fan out to every
	// open session. Link loss pauses forwarding but closes nothing.
	Broadcast Policy = iota

	// Paired: each session owns a private backend link with a 1:1
	// lifetime coupling. Link loss evicts the owning session.
	Paired
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case Broadcast:
		return "broadcast"
	case Paired:
		return "paired"
	default:
		return "unknown"
	}
}

// ParsePolicy maps a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "broadcast":
		return Broadcast, nil
	case "paired":
		return Paired, nil
	default:
		return Broadcast, fmt.Errorf("unknown routing policy %q", s)
	}
}

// Config holds the gateway configuration.
type Config struct {
	// Address is the downstream listen address (host:port).
	Address string

	// Target is the backend endpoint.
	Target backend.Target

	// Policy selects the routing topology.
	Policy Policy

	// SlotCapacity is the fixed session pool size.
	SlotCapacity int

	// MaxPayload bounds frame payloads in both directions.
	MaxPayload int

	// HandshakeTimeout bounds the downstream upgrade exchange.
	HandshakeTimeout time.Duration

	// IdleTimeout evicts sessions with no traffic for this long.
	// Zero disables idle eviction.
	IdleTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for session
	// goroutines to finish during graceful shutdown.
	ShutdownTimeout time.Duration

	// AcceptRate and AcceptBurst configure the admission token bucket.
	// AcceptRate 0 disables rate limiting.
	AcceptRate  int64
	AcceptBurst int64

	// Logger for gateway events.
	Logger *slog.Logger

	// Metrics sink. A private registry is used when nil.
	Metrics *metrics.Metrics

	// Events receives status events. Defaults to a no-op listener.
	Events events.Listener

	// Backends produces upstream links. Built with defaults when nil;
	// tests inject one with a fake dialer.
	Backends *backend.Manager
}

// Status is the collaborator-facing view of the relay core.
type Status struct {
	ActiveSessions int
	BackendState   backend.LinkState
	Target         string
}

// Gateway is the relay core: it admits downstream sessions into the
// slot pool, drives their handshakes, and moves payloads between
// sessions and backend links per the routing policy.
//
// The slot table, the link bindings, and the active target/policy form
// one synchronization domain: all mutation goes through gateway methods
// under the table and gateway mutexes, never directly from connection
// goroutines.
type Gateway struct {
	config   Config
	sessions *session.Table
	backends *backend.Manager
	limiter  *ratelimit.TokenBucket
	events   events.Listener
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu     sync.Mutex
	target backend.Target
	policy Policy
	shared *backend.Link
	paired map[int]*backend.Link

	// kick wakes the broadcast maintainer after a reconfiguration.
	kick chan struct{}

	lnMu sync.Mutex
	ln   net.Listener

	wg sync.WaitGroup
}

// New creates a gateway from the given configuration.
func New(cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SlotCapacity <= 0 {
		cfg.SlotCapacity = 8
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = 16384
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New("wsgate", prometheus.NewRegistry())
	}
	if cfg.Events == nil {
		cfg.Events = events.Noop{}
	}
	if cfg.Backends == nil {
		cfg.Backends = backend.New(backend.Config{
			HandshakeTimeout: cfg.HandshakeTimeout,
			MaxPayload:       cfg.MaxPayload,
			Logger:           cfg.Logger,
		})
	}

	g := &Gateway{
		config:   cfg,
		sessions: session.NewTable(cfg.SlotCapacity),
		backends: cfg.Backends,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		target:   cfg.Target,
		policy:   cfg.Policy,
		paired:   make(map[int]*backend.Link),
		kick:     make(chan struct{}, 1),
	}
	if cfg.AcceptRate > 0 {
		burst := cfg.AcceptBurst
		if burst <= 0 {
			burst = cfg.AcceptRate
		}
		g.limiter = ratelimit.NewTokenBucket(burst, cfg.AcceptRate)
	}
	return g
}

// Addr returns the bound listen address once Listen has started.
func (g *Gateway) Addr() string {
	g.lnMu.Lock()
	defer g.lnMu.Unlock()
	if g.ln == nil {
		return ""
	}
	return g.ln.Addr().String()
}

// Listen starts the downstream listener and blocks until the context is
// cancelled, then closes every session with a best-effort close frame
// and drains the connection goroutines.
func (g *Gateway) Listen(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.config.Address, err)
	}
	g.lnMu.Lock()
	g.ln = ln
	g.lnMu.Unlock()

	g.logger.Info("gateway started",
		slog.String("address", ln.Addr().String()),
		slog.String("policy", g.Policy().String()),
		slog.String("target", g.Target().String()))

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		g.maintainBroadcast(ctx)
	}()
	go func() {
		defer loops.Done()
		g.sweepExpired(ctx)
	}()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					g.logger.Error("failed to accept connection", slog.String("error", err.Error()))
					continue
				}
			}
			g.admit(ctx, conn)
		}
	}()

	<-ctx.Done()
	g.logger.Info("shutdown signal received, closing listener")

	if err := ln.Close(); err != nil {
		g.logger.Error("error closing listener", slog.String("error", err.Error()))
	}
	<-acceptDone

	// Close every session politely, then force the goroutines out. The
	// close-frame writes are deadline-bounded so a peer that stopped
	// reading cannot stall the drain.
	for _, s := range g.sessions.Snapshot() {
		s.Conn().SetWriteDeadline(time.Now().Add(time.Second))
		s.WriteFrame(ws.Frame{Fin: true, Opcode: ws.OpClose})
		g.evict(s, "shutdown")
	}
	g.closeSharedLink()
	loops.Wait()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.logger.Info("all sessions closed")
		return nil
	case <-time.After(g.config.ShutdownTimeout):
		g.logger.Warn("shutdown timeout exceeded")
		return ErrShutdownTimeout
	}
}

// admit applies admission control to one accepted transport. Rejection
// closes the transport immediately; no handshake is attempted.
func (g *Gateway) admit(ctx context.Context, conn net.Conn) {
	if g.limiter != nil && !g.limiter.Allow() {
		g.metrics.SessionsRejected.WithLabelValues("rate_limited").Inc()
		g.logger.Debug("connection rejected by rate limiter",
			slog.String("remote", conn.RemoteAddr().String()))
		conn.Close()
		return
	}

	s, err := g.sessions.Admit(conn)
	if err != nil {
		g.metrics.SessionsRejected.WithLabelValues("capacity").Inc()
		g.logger.Debug("connection rejected, no free slot",
			slog.String("remote", conn.RemoteAddr().String()))
		conn.Close()
		return
	}

	g.metrics.SessionsTotal.WithLabelValues(g.Policy().String()).Inc()
	g.metrics.SessionsActive.Set(float64(g.sessions.Len()))

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.serveSession(ctx, s)
	}()
}

// evict reclaims the session's slot and releases an exclusively bound
// backend link. Idempotent: only the first call reports the eviction.
func (g *Gateway) evict(s *session.Session, reason string) {
	if !g.sessions.Evict(s) {
		return
	}

	g.mu.Lock()
	link := g.paired[s.Slot]
	delete(g.paired, s.Slot)
	g.mu.Unlock()
	if link != nil {
		link.Close()
	}

	g.metrics.SessionsEvicted.WithLabelValues(reason).Inc()
	g.metrics.SessionsActive.Set(float64(g.sessions.Len()))
	g.events.SessionEvicted(s.Slot, s.ID, reason)
	g.logger.Debug("session evicted",
		slog.Int("slot", s.Slot),
		slog.String("session", s.ID),
		slog.String("reason", reason))
}

// sweepExpired periodically evicts idle sessions and stalled handshakes.
func (g *Gateway) sweepExpired(ctx context.Context) {
	every := g.config.IdleTimeout / 4
	if every <= 0 || every > 5*time.Second {
		every = 5 * time.Second
	}
	if every < 50*time.Millisecond {
		every = 50 * time.Millisecond
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range g.sessions.Expired(g.config.IdleTimeout, g.config.HandshakeTimeout) {
				reason := "idle_timeout"
				if st := s.State(); st == session.AwaitingRequest || st == session.Accepted {
					reason = "handshake_timeout"
				}
				g.evict(s, reason)
			}
		}
	}
}

// Target returns the active backend target.
func (g *Gateway) Target() backend.Target {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.target
}

// Policy returns the active routing policy.
func (g *Gateway) Policy() Policy {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.policy
}

// Status answers the configuration collaborator's status query.
func (g *Gateway) Status() Status {
	g.mu.Lock()
	target := g.target
	state := backend.Disconnected
	if g.shared != nil {
		state = g.shared.State()
	} else {
		for _, link := range g.paired {
			if link.State() == backend.Open {
				state = backend.Open
				break
			}
		}
	}
	g.mu.Unlock()

	if state != backend.Open {
		if _, gated := g.backends.GatedUntil(); gated {
			state = backend.BackingOff
		}
	}

	return Status{
		ActiveSessions: g.sessions.Len(),
		BackendState:   state,
		Target:         target.String(),
	}
}

// Reconfigure applies a new backend target and routing policy: all
// backend links are torn down and re-established against the new
// target. Under the paired policy, and whenever the policy itself
// changes, sessions are evicted too since their topology is invalid;
// under an unchanged broadcast policy sessions survive and forwarding
// resumes once the new shared link is up.
func (g *Gateway) Reconfigure(target backend.Target, policy Policy) {
	g.mu.Lock()
	policyChanged := g.policy != policy
	g.target = target
	g.policy = policy
	shared := g.shared
	g.shared = nil
	pairedLinks := make([]*backend.Link, 0, len(g.paired))
	for _, link := range g.paired {
		pairedLinks = append(pairedLinks, link)
	}
	g.mu.Unlock()

	g.backends.Reset()

	if shared != nil {
		shared.Close()
	}
	// Closing a paired link makes its pump evict the owning session.
	for _, link := range pairedLinks {
		link.Close()
	}
	if policyChanged {
		for _, s := range g.sessions.Snapshot() {
			g.evict(s, "reconfigured")
		}
	}

	select {
	case g.kick <- struct{}{}:
	default:
	}

	g.logger.Info("gateway reconfigured",
		slog.String("target", target.String()),
		slog.String("policy", policy.String()))
}

func (g *Gateway) closeSharedLink() {
	g.mu.Lock()
	shared := g.shared
	g.shared = nil
	g.mu.Unlock()
	if shared != nil {
		shared.Close()
	}
}
