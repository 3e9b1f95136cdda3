// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

// Package config loads the gateway configuration. Values come from
// environment variables (with a WSGATE_ prefix) and optionally from an
// INI file in the style of the device's persisted configuration; the
// environment always wins so deployments can override the stored file.
//
// The relay core consumes the result read-only. Changing the backend
// target or routing policy at runtime goes through the gateway's
// Reconfigure signal, not through mutation of a shared Config.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/ini.v1"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "WSGATE_"

// Config is the full gateway configuration.
type Config struct {
	// Downstream listener
	ListenAddress string `env:"LISTEN_ADDRESS" envDefault:":7455"`
	SlotCapacity  int    `env:"SLOT_CAPACITY" envDefault:"8"`
	MaxPayload    int    `env:"MAX_PAYLOAD" envDefault:"16384"`

	// Backend target
	BackendHost   string `env:"BACKEND_HOST" envDefault:"127.0.0.1"`
	BackendPort   int    `env:"BACKEND_PORT" envDefault:"8180"`
	BackendPath   string `env:"BACKEND_PATH" envDefault:"/"`
	RoutingPolicy string `env:"ROUTING_POLICY" envDefault:"broadcast"`

	// Timeouts and backoff
	HandshakeTimeout  time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"10s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"5m"`
	ReconnectInterval time.Duration `env:"RECONNECT_INTERVAL" envDefault:"4s"`
	BackoffFactor     float64       `env:"BACKOFF_FACTOR" envDefault:"1.0"`
	BackoffMax        time.Duration `env:"BACKOFF_MAX" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Admission rate limiting; AcceptRate 0 disables the limiter.
	AcceptRate  int64 `env:"ACCEPT_RATE" envDefault:"0"`
	AcceptBurst int64 `env:"ACCEPT_BURST" envDefault:"10"`

	// Observability
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9090"`
	HealthPort  int    `env:"HEALTH_PORT" envDefault:"8081"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
}

// Snapshot is the read-only view the relay core reacts to on a
// reconfiguration signal.
type Snapshot struct {
	RoutingPolicy string
	SlotCapacity  int
	BackendHost   string
	BackendPort   int
	BackendPath   string
}

// Snapshot returns the core-facing view of the configuration.
func (c *Config) Snapshot() Snapshot {
	return Snapshot{
		RoutingPolicy: c.RoutingPolicy,
		SlotCapacity:  c.SlotCapacity,
		BackendHost:   c.BackendHost,
		BackendPort:   c.BackendPort,
		BackendPath:   c.BackendPath,
	}
}

// Load builds the configuration from the environment and, when iniPath
// names an existing file, from its [gateway] and [backend] sections.
func Load(iniPath string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if iniPath != "" {
		if _, err := os.Stat(iniPath); err == nil {
			if err := applyINI(cfg, iniPath); err != nil {
				return nil, fmt.Errorf("load %s: %w", iniPath, err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the relay core depends on.
func (c *Config) Validate() error {
	switch c.RoutingPolicy {
	case "broadcast", "paired":
	default:
		return fmt.Errorf("routing policy must be broadcast or paired, got %q", c.RoutingPolicy)
	}
	if c.SlotCapacity < 1 {
		return fmt.Errorf("slot capacity must be at least 1, got %d", c.SlotCapacity)
	}
	// A 16-bit extended length field must always suffice on the wire.
	if c.MaxPayload < 1 || c.MaxPayload > 65535 {
		return fmt.Errorf("max payload must be within 1..65535, got %d", c.MaxPayload)
	}
	if c.BackendPort < 1 || c.BackendPort > 65535 {
		return fmt.Errorf("backend port must be within 1..65535, got %d", c.BackendPort)
	}
	if c.BackoffFactor < 1 {
		return fmt.Errorf("backoff factor must be at least 1.0, got %g", c.BackoffFactor)
	}
	return nil
}

// applyINI overlays file values onto cfg. A key only applies when it is
// present in the file and its environment variable is unset, preserving
// env > file > default precedence.
func applyINI(cfg *Config, path string) error {
	file, err := ini.Load(path)
	if err != nil {
		return err
	}

	gw := file.Section("gateway")
	applyString(gw, "listen_address", "LISTEN_ADDRESS", &cfg.ListenAddress)
	applyInt(gw, "slot_capacity", "SLOT_CAPACITY", &cfg.SlotCapacity)
	applyInt(gw, "max_payload", "MAX_PAYLOAD", &cfg.MaxPayload)
	applyString(gw, "routing_policy", "ROUTING_POLICY", &cfg.RoutingPolicy)
	applyDuration(gw, "idle_timeout", "IDLE_TIMEOUT", &cfg.IdleTimeout)

	be := file.Section("backend")
	applyString(be, "host", "BACKEND_HOST", &cfg.BackendHost)
	applyInt(be, "port", "BACKEND_PORT", &cfg.BackendPort)
	applyString(be, "path", "BACKEND_PATH", &cfg.BackendPath)
	applyDuration(be, "reconnect_interval", "RECONNECT_INTERVAL", &cfg.ReconnectInterval)

	return nil
}

func envSet(name string) bool {
	_, ok := os.LookupEnv(EnvPrefix + name)
	return ok
}

func applyString(sec *ini.Section, key, envName string, target *string) {
	if !sec.HasKey(key) || envSet(envName) {
		return
	}
	*target = sec.Key(key).String()
}

func applyInt(sec *ini.Section, key, envName string, target *int) {
	if !sec.HasKey(key) || envSet(envName) {
		return
	}
	if v, err := sec.Key(key).Int(); err == nil {
		*target = v
	}
}

func applyDuration(sec *ini.Section, key, envName string, target *time.Duration) {
	if !sec.HasKey(key) || envSet(envName) {
		return
	}
	if v, err := sec.Key(key).Duration(); err == nil {
		*target = v
	}
}
