// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

// Package backend maintains the gateway's upstream connections.
//
// A Link is one established connection to the configured backend,
// produced already upgraded by Manager.Connect. Under the broadcast
// routing policy exactly one shared link exists regardless of session
// count; under per-session pairing each session owns a private link with
// a 1:1 lifetime coupling.
//
// Failed attempts arm a single reconnect gate: further attempts return
// ErrBackingOff until the deadline passes, so at most one real connect
// happens per interval no matter how many sessions are asking. The
// interval is fixed by default and may grow geometrically up to a cap
// when BackoffFactor is configured above 1.
package backend
