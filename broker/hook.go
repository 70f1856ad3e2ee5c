// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/absmach/mqttgate/gate"
	"github.com/absmach/mqttgate/ratelimit"
	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
)

// HookID identifies the gate hook to mochi.
const HookID = "mqttgate"

const authenticateTimeout = 10 * time.Second

// Rate limit kinds reported to a RateLimitRecorder.
const (
	LimitConnection = "connection"
	LimitPublish    = "publish"
	LimitSubscribe  = "subscribe"
)

// RateLimitRecorder is notified when a rate limiter rejects an operation.
type RateLimitRecorder interface {
	RecordRateLimited(kind string)
}

// Hook drives gate hooks from mochi broker events.
type Hook struct {
	mqtt.HookBase

	ctx       context.Context
	hooks     gate.Hooks
	limiter   *ratelimit.Manager
	recorder  RateLimitRecorder
	sessions  *registry
	endpoints func() []gate.Endpoint
	logger    *slog.Logger
}

// Option configures a Hook.
type Option func(*Hook)

// WithRateLimiter applies connection, publish and subscribe rate limits.
func WithRateLimiter(m *ratelimit.Manager) Option {
	return func(h *Hook) {
		h.limiter = m
	}
}

// WithRateLimitRecorder reports rate limit rejections to r.
func WithRateLimitRecorder(r RateLimitRecorder) Option {
	return func(h *Hook) {
		h.recorder = r
	}
}

// WithLogger sets the hook logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hook) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHook returns a hook that forwards broker events to hooks.
// endpoints is evaluated when the broker has started.
func NewHook(ctx context.Context, hooks gate.Hooks, endpoints func() []gate.Endpoint, opts ...Option) *Hook {
	if endpoints == nil {
		endpoints = func() []gate.Endpoint { return nil }
	}
	h := &Hook{
		ctx:       ctx,
		hooks:     hooks,
		sessions:  &registry{},
		endpoints: endpoints,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ID returns the ID of the hook.
func (h *Hook) ID() string {
	return HookID
}

// Provides indicates which hook methods this hook provides.
func (h *Hook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnStarted,
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
		mqtt.OnSubscribe,
		mqtt.OnSessionEstablished,
		mqtt.OnDisconnect,
		mqtt.OnPublished,
		mqtt.OnSubscribed,
		mqtt.OnUnsubscribed,
	}, []byte{b})
}

// Sessions returns the number of tracked sessions.
func (h *Hook) Sessions() int {
	return h.sessions.len()
}

// OnStarted reports the broker endpoints once listeners are serving.
func (h *Hook) OnStarted() {
	h.hooks.Ready(h.endpoints())
}

// OnConnectAuthenticate authenticates the token in the CONNECT password.
func (h *Hook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	if !h.limiter.AllowConnection(cl.Net.Remote) {
		h.rateLimited(LimitConnection, cl)
		return false
	}

	s := h.sessions.attach(cl)

	ctx, cancel := context.WithTimeout(h.ctx, authenticateTimeout)
	defer cancel()

	if err := h.hooks.Authenticate(ctx, s, string(pk.Connect.Username), pk.Connect.Password); err != nil {
		h.sessions.remove(cl)
		return false
	}
	return true
}

// OnSessionEstablished announces an authenticated client.
func (h *Hook) OnSessionEstablished(cl *mqtt.Client, _ packets.Packet) {
	s, ok := h.sessions.get(cl)
	if !ok {
		return
	}
	s.established.Store(true)
	h.hooks.ClientConnected(s)
}

// OnACLCheck authorizes a publish (write) or read access to topic. Reads
// carry either a filter of the SUBSCRIBE in flight, decided by OnSubscribe,
// or the topic of a message being delivered to the client. Deliveries are
// always allowed: the filter they match was authorized when subscribed.
func (h *Hook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	s, ok := h.sessions.get(cl)
	if !ok {
		return false
	}

	if write {
		if !h.limiter.AllowPublish(cl.ID) {
			h.rateLimited(LimitPublish, cl)
			return false
		}
		return h.hooks.AuthorizePublish(h.ctx, s, topic)
	}

	if allowed, ok := s.subscribeDecision(topic); ok {
		return allowed
	}
	return true
}

// OnSubscribe authorizes every filter of a SUBSCRIBE before the broker
// checks them one by one.
func (h *Hook) OnSubscribe(cl *mqtt.Client, pk packets.Packet) packets.Packet {
	s, ok := h.sessions.get(cl)
	if !ok {
		return pk
	}

	decisions := make(map[string]bool, len(pk.Filters))
	for _, sub := range pk.Filters {
		if _, seen := decisions[sub.Filter]; seen {
			continue
		}
		if !h.limiter.AllowSubscribe(cl.ID) {
			h.rateLimited(LimitSubscribe, cl)
			decisions[sub.Filter] = false
			continue
		}
		decisions[sub.Filter] = h.hooks.AuthorizeSubscribe(h.ctx, s, sub.Filter)
	}
	s.beginSubscribe(decisions)

	return pk
}

// OnPublished reports a message accepted from a client.
func (h *Hook) OnPublished(cl *mqtt.Client, pk packets.Packet) {
	s, ok := h.sessions.get(cl)
	if !ok {
		return
	}
	h.hooks.Published(s, gate.Message{
		Topic:   pk.TopicName,
		Payload: pk.Payload,
		QoS:     pk.FixedHeader.Qos,
		Retain:  pk.FixedHeader.Retain,
	})
}

// OnSubscribed reports the filters the broker granted.
func (h *Hook) OnSubscribed(cl *mqtt.Client, pk packets.Packet, reasonCodes []byte) {
	s, ok := h.sessions.get(cl)
	if !ok {
		return
	}
	s.endSubscribe()
	for i, sub := range pk.Filters {
		if i < len(reasonCodes) && reasonCodes[i] >= packets.ErrUnspecifiedError.Code {
			continue
		}
		h.hooks.Subscribed(s, sub.Filter)
	}
}

// OnUnsubscribed reports removed filters.
func (h *Hook) OnUnsubscribed(cl *mqtt.Client, pk packets.Packet) {
	s, ok := h.sessions.get(cl)
	if !ok {
		return
	}
	for _, sub := range pk.Filters {
		h.hooks.Unsubscribed(s, sub.Filter)
	}
}

// OnDisconnect reports the end of an established session.
func (h *Hook) OnDisconnect(cl *mqtt.Client, err error, _ bool) {
	h.limiter.OnClientDisconnect(cl.ID)

	s, ok := h.sessions.remove(cl)
	if !ok || !s.established.Load() {
		return
	}

	if err != nil {
		h.logger.Debug("client connection ended",
			slog.String("client_id", cl.ID),
			slog.String("cause", err.Error()))
	}

	h.hooks.ClientDisconnecting(s)
	s.MarkClosed()
	h.hooks.ClientDisconnected(s)
}

func (h *Hook) rateLimited(kind string, cl *mqtt.Client) {
	h.logger.Warn("rate limit exceeded",
		slog.String("kind", kind),
		slog.String("client_id", cl.ID),
		slog.String("remote_addr", cl.Net.Remote))
	if h.recorder != nil {
		h.recorder.RecordRateLimited(kind)
	}
}
