// Copyright (c) munichseb
// SPDX-License-Identifier: Apache-2.0

// Package session implements the fixed-capacity slot pool for
// downstream connections.
//
// The pool is an arena of N slots with explicit occupied/free
// bookkeeping: admission always takes the lowest free index in O(N) over
// a small constant N, and eviction releases the slot for immediate
// reuse. There is no queue: when every slot is taken a new connection
// is rejected at the transport layer, keeping memory and CPU bounded on
// constrained hosts.
//
// Eviction is idempotent and total: the transport is closed, the state
// becomes Closed, and the slot frees atomically with respect to
// concurrent admissions. Whatever triggered the eviction (transport
// loss, protocol error, handshake failure, idle timeout, capacity
// policy) goes through the same path.
package session
