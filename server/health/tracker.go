// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"sync"
	"sync/atomic"

	"github.com/absmach/mqttgate/gate"
)

// Tracker is a gate observer that implements Status.
type Tracker struct {
	gate.NopObserver

	mu        sync.RWMutex
	ready     bool
	endpoints []gate.Endpoint
	sessions  atomic.Int64
}

var (
	_ Status        = (*Tracker)(nil)
	_ gate.Observer = (*Tracker)(nil)
)

// NewTracker returns a tracker that is not ready.
func NewTracker() *Tracker {
	return &Tracker{}
}

// IsReady reports whether the broker has started.
func (t *Tracker) IsReady() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// Endpoints returns the listeners reported at startup.
func (t *Tracker) Endpoints() []gate.Endpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]gate.Endpoint(nil), t.endpoints...)
}

// Sessions returns the number of authenticated sessions.
func (t *Tracker) Sessions() int {
	return int(t.sessions.Load())
}

// Ready marks the gate ready and records its endpoints.
func (t *Tracker) Ready(endpoints []gate.Endpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ready = true
	t.endpoints = append([]gate.Endpoint(nil), endpoints...)
}

func (t *Tracker) ClientConnected(gate.Session) {
	t.sessions.Add(1)
}

func (t *Tracker) ClientDisconnected(gate.Session) {
	t.sessions.Add(-1)
}
