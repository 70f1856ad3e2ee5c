// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/absmach/mqttgate/gate"
	mqtt "github.com/mochi-mqtt/server/v2"
)

// ErrSessionClosed is the stop cause of sessions closed by the gate.
var ErrSessionClosed = errors.New("session closed by authorization gate")

var _ gate.Session = (*session)(nil)

// session adapts a mochi client to gate.Session.
type session struct {
	gate.Attachment
	client      *mqtt.Client
	established atomic.Bool

	// subscribing holds the decisions for the SUBSCRIBE packet in flight.
	mu          sync.Mutex
	subscribing map[string]bool
}

func newSession(cl *mqtt.Client) *session {
	return &session{client: cl}
}

func (s *session) ID() string {
	return s.client.ID
}

func (s *session) RemoteAddr() string {
	return s.client.Net.Remote
}

// Close stops the underlying client. Only the first call has an effect.
func (s *session) Close() error {
	if s.MarkClosed() {
		s.client.Stop(ErrSessionClosed)
	}
	return nil
}

func (s *session) beginSubscribe(decisions map[string]bool) {
	s.mu.Lock()
	s.subscribing = decisions
	s.mu.Unlock()
}

// subscribeDecision returns the decision taken for filter by the SUBSCRIBE
// in flight. ok is false when filter is not part of it.
func (s *session) subscribeDecision(filter string) (allowed, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	allowed, ok = s.subscribing[filter]
	return allowed, ok
}

func (s *session) endSubscribe() {
	s.mu.Lock()
	s.subscribing = nil
	s.mu.Unlock()
}

// registry tracks the sessions of connected clients. Clients are keyed by
// pointer since a client ID may be taken over by a new connection.
type registry struct {
	sessions sync.Map
	count    atomic.Int64
}

func (r *registry) attach(cl *mqtt.Client) *session {
	s, loaded := r.sessions.LoadOrStore(cl, newSession(cl))
	if !loaded {
		r.count.Add(1)
	}
	return s.(*session)
}

func (r *registry) get(cl *mqtt.Client) (*session, bool) {
	s, ok := r.sessions.Load(cl)
	if !ok {
		return nil, false
	}
	return s.(*session), true
}

func (r *registry) remove(cl *mqtt.Client) (*session, bool) {
	s, ok := r.sessions.LoadAndDelete(cl)
	if !ok {
		return nil, false
	}
	r.count.Add(-1)
	return s.(*session), true
}

func (r *registry) len() int {
	return int(r.count.Load())
}
