// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

// Package gateway provides the relay core: a downstream WebSocket
// listener with a fixed-capacity session pool, a managed backend side,
// and a router moving data frames between the two.
//
// Two routing policies exist. Under broadcast, every session shares a
// single backend link and backend frames fan out to all open sessions.
// Under paired, each session owns a dedicated link whose lifetime is
// coupled to the session's.
//
// Admission is strict: when all slots are taken, new transports are
// closed before any handshake. Frames with no open link to carry them
// are dropped, never queued.
package gateway
