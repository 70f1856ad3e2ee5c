// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gate

import "sync/atomic"

// State is the authorization state of a session.
type State uint32

// Session states.
const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one live client connection, owned by the broker.
// The gate only attaches and reads the Identity and may force it closed.
type Session interface {
	// ID returns the MQTT client identifier.
	ID() string

	// RemoteAddr returns the client's network address, if known.
	RemoteAddr() string

	// Identity returns the attached identity, or nil before authentication.
	Identity() *Identity

	// SetIdentity attaches the identity produced by a successful authentication.
	SetIdentity(identity *Identity)

	// Close terminates the connection immediately.
	Close() error
}

// Attachment holds the per-session state written by the gate.
// Broker adapters embed it in their Session implementations.
type Attachment struct {
	identity atomic.Pointer[Identity]
	state    atomic.Uint32
}

// Identity returns the attached identity.
func (a *Attachment) Identity() *Identity {
	return a.identity.Load()
}

// SetIdentity attaches the identity once. Later calls and calls on a closed
// session are ignored, so the permitted topic set never changes mid-session.
func (a *Attachment) SetIdentity(identity *Identity) {
	if identity == nil || a.State() == StateClosed {
		return
	}
	if a.identity.CompareAndSwap(nil, identity) {
		a.state.CompareAndSwap(uint32(StateUnauthenticated), uint32(StateAuthenticated))
	}
}

// State returns the current session state.
func (a *Attachment) State() State {
	return State(a.state.Load())
}

// MarkClosed moves the session to the closed state.
// It returns true only for the first call.
func (a *Attachment) MarkClosed() bool {
	return State(a.state.Swap(uint32(StateClosed))) != StateClosed
}
