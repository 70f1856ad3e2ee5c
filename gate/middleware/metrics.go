// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"time"

	"github.com/absmach/mqttgate/gate"
	"github.com/absmach/mqttgate/server/otel"
)

var _ gate.Hooks = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	gate.Hooks
	metrics *otel.Metrics
}

// NewMetrics creates metrics middleware that wraps gate hooks.
func NewMetrics(hooks gate.Hooks, metrics *otel.Metrics) gate.Hooks {
	return &metricsMiddleware{hooks, metrics}
}

// Authenticate wraps the call with authentication metrics.
func (mm *metricsMiddleware) Authenticate(ctx context.Context, s gate.Session, username string, password []byte) error {
	begin := time.Now()
	err := mm.Hooks.Authenticate(ctx, s, username, password)
	mm.metrics.RecordAuthentication(err == nil, time.Since(begin))
	return err
}

// AuthorizePublish wraps the call with decision metrics.
func (mm *metricsMiddleware) AuthorizePublish(ctx context.Context, s gate.Session, topic string) bool {
	allowed := mm.Hooks.AuthorizePublish(ctx, s, topic)
	mm.metrics.RecordDecision(string(gate.ActionPublish), allowed)
	return allowed
}

// AuthorizeSubscribe wraps the call with decision metrics.
func (mm *metricsMiddleware) AuthorizeSubscribe(ctx context.Context, s gate.Session, filter string) bool {
	allowed := mm.Hooks.AuthorizeSubscribe(ctx, s, filter)
	mm.metrics.RecordDecision(string(gate.ActionSubscribe), allowed)
	return allowed
}

// ClientConnected wraps the call with connection metrics.
func (mm *metricsMiddleware) ClientConnected(s gate.Session) {
	mm.metrics.RecordConnection()
	mm.Hooks.ClientConnected(s)
}

// ClientDisconnected wraps the call with connection metrics.
func (mm *metricsMiddleware) ClientDisconnected(s gate.Session) {
	mm.metrics.RecordDisconnection()
	mm.Hooks.ClientDisconnected(s)
}

// Published wraps the call with message metrics.
func (mm *metricsMiddleware) Published(s gate.Session, msg gate.Message) {
	mm.metrics.RecordMessage(msg.QoS, int64(len(msg.Payload)))
	mm.Hooks.Published(s, msg)
}

// Subscribed wraps the call with subscription metrics.
func (mm *metricsMiddleware) Subscribed(s gate.Session, filter string) {
	mm.metrics.RecordSubscriptionAdded()
	mm.Hooks.Subscribed(s, filter)
}

// Unsubscribed wraps the call with subscription metrics.
func (mm *metricsMiddleware) Unsubscribed(s gate.Session, filter string) {
	mm.metrics.RecordSubscriptionRemoved()
	mm.Hooks.Unsubscribed(s, filter)
}
