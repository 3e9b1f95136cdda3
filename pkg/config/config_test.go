// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddress != ":7455" {
		t.Errorf("unexpected listen address %q", cfg.ListenAddress)
	}
	if cfg.SlotCapacity != 8 {
		t.Errorf("unexpected slot capacity %d", cfg.SlotCapacity)
	}
	if cfg.RoutingPolicy != "broadcast" {
		t.Errorf("unexpected routing policy %q", cfg.RoutingPolicy)
	}
	if cfg.ReconnectInterval != 4*time.Second {
		t.Errorf("unexpected reconnect interval %v", cfg.ReconnectInterval)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WSGATE_ROUTING_POLICY", "paired")
	t.Setenv("WSGATE_SLOT_CAPACITY", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RoutingPolicy != "paired" {
		t.Errorf("expected paired, got %q", cfg.RoutingPolicy)
	}
	if cfg.SlotCapacity != 5 {
		t.Errorf("expected 5 slots, got %d", cfg.SlotCapacity)
	}
}

func writeINI(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.ini")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_INIFile(t *testing.T) {
	path := writeINI(t, `
[gateway]
listen_address = :9100
slot_capacity  = 6
routing_policy = paired

[backend]
host = csms.internal
port = 9901
path = /ocpp/LC001
reconnect_interval = 7s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddress != ":9100" {
		t.Errorf("unexpected listen address %q", cfg.ListenAddress)
	}
	if cfg.SlotCapacity != 6 {
		t.Errorf("unexpected slot capacity %d", cfg.SlotCapacity)
	}
	if cfg.BackendHost != "csms.internal" || cfg.BackendPort != 9901 {
		t.Errorf("unexpected backend %s:%d", cfg.BackendHost, cfg.BackendPort)
	}
	if cfg.BackendPath != "/ocpp/LC001" {
		t.Errorf("unexpected backend path %q", cfg.BackendPath)
	}
	if cfg.ReconnectInterval != 7*time.Second {
		t.Errorf("unexpected reconnect interval %v", cfg.ReconnectInterval)
	}
	// Keys absent from the file keep their defaults.
	if cfg.MaxPayload != 16384 {
		t.Errorf("unexpected max payload %d", cfg.MaxPayload)
	}
}

func TestLoad_EnvBeatsINI(t *testing.T) {
	t.Setenv("WSGATE_BACKEND_HOST", "env.internal")

	path := writeINI(t, "[backend]\nhost = file.internal\nport = 9901\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BackendHost != "env.internal" {
		t.Errorf("environment should beat the file, got %q", cfg.BackendHost)
	}
	if cfg.BackendPort != 9901 {
		t.Errorf("file value without an env override should apply, got %d", cfg.BackendPort)
	}
}

func TestLoad_MissingINIIsIgnored(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.ini")); err != nil {
		t.Errorf("missing file should not fail: %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad policy", func(c *Config) { c.RoutingPolicy = "anycast" }},
		{"zero capacity", func(c *Config) { c.SlotCapacity = 0 }},
		{"oversized payload limit", func(c *Config) { c.MaxPayload = 70000 }},
		{"bad port", func(c *Config) { c.BackendPort = 0 }},
		{"shrinking backoff", func(c *Config) { c.BackoffFactor = 0.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
