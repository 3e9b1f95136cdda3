// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// Session metrics
	SessionsActive   prometheus.Gauge
	SessionsTotal    *prometheus.CounterVec
	SessionsEvicted  *prometheus.CounterVec
	SessionsRejected *prometheus.CounterVec

	// Frame metrics
	FramesTotal   *prometheus.CounterVec
	FramesDropped *prometheus.CounterVec
	PayloadBytes  *prometheus.CounterVec

	// Backend metrics
	BackendState         *prometheus.GaugeVec
	BackendConnects      *prometheus.CounterVec
	BackendConnectErrors prometheus.Counter

	// Handshake metrics
	HandshakeFailures *prometheus.CounterVec
}

// New creates a Metrics instance registered on reg. Tests pass a fresh
// registry; the main binary passes prometheus.DefaultRegisterer so the
// promhttp handler picks everything up.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "wsgate"
	}
	factory := promauto.With(reg)

	return &Metrics{
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of currently occupied session slots",
			},
		),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of admitted sessions",
			},
			[]string{"policy"},
		),
		SessionsEvicted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_evicted_total",
				Help:      "Total number of evicted sessions",
			},
			[]string{"reason"},
		),
		SessionsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_rejected_total",
				Help:      "Total number of connections rejected at admission",
			},
			[]string{"reason"},
		),
		FramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_total",
				Help:      "Total number of relayed WebSocket frames",
			},
			[]string{"direction", "opcode"},
		),
		FramesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_dropped_total",
				Help:      "Total number of frames dropped because the destination was not open",
			},
			[]string{"direction"},
		),
		PayloadBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payload_bytes_total",
				Help:      "Total relayed payload bytes",
			},
			[]string{"direction"},
		),
		BackendState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backend_state",
				Help:      "Backend link state (0=disconnected, 1=connecting, 2=handshake_pending, 3=open, 4=backing_off)",
			},
			[]string{"target"},
		),
		BackendConnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_connects_total",
				Help:      "Total number of backend connect attempts",
			},
			[]string{"status"},
		),
		BackendConnectErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_connect_errors_total",
				Help:      "Total number of failed backend connect attempts",
			},
		),
		HandshakeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handshake_failures_total",
				Help:      "Total number of failed upgrade handshakes",
			},
			[]string{"role"},
		),
	}
}
