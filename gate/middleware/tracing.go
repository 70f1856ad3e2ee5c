// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"

	"github.com/absmach/mqttgate/gate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ gate.Hooks = (*tracingMiddleware)(nil)

type tracingMiddleware struct {
	gate.Hooks
	tracer trace.Tracer
}

// NewTracing creates tracing middleware that wraps gate hooks.
// A nil tracer uses the global tracer provider.
func NewTracing(hooks gate.Hooks, tracer trace.Tracer) gate.Hooks {
	if tracer == nil {
		tracer = otel.Tracer("mqttgate")
	}
	return &tracingMiddleware{hooks, tracer}
}

// Authenticate traces token validation and enrichment.
func (tm *tracingMiddleware) Authenticate(ctx context.Context, s gate.Session, username string, password []byte) error {
	ctx, span := tm.tracer.Start(ctx, "gate.authenticate", trace.WithAttributes(
		attribute.String("mqtt.client_id", s.ID()),
		attribute.String("net.peer", s.RemoteAddr()),
	))
	defer span.End()

	err := tm.Hooks.Authenticate(ctx, s, username, password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.String("enduser.id", s.Identity().Subject()))
	return nil
}

// AuthorizePublish traces the publish decision.
func (tm *tracingMiddleware) AuthorizePublish(ctx context.Context, s gate.Session, topic string) bool {
	ctx, span := tm.startDecision(ctx, "gate.authorize_publish", s, topic)
	defer span.End()

	allowed := tm.Hooks.AuthorizePublish(ctx, s, topic)
	endDecision(span, allowed)
	return allowed
}

// AuthorizeSubscribe traces the subscribe decision.
func (tm *tracingMiddleware) AuthorizeSubscribe(ctx context.Context, s gate.Session, filter string) bool {
	ctx, span := tm.startDecision(ctx, "gate.authorize_subscribe", s, filter)
	defer span.End()

	allowed := tm.Hooks.AuthorizeSubscribe(ctx, s, filter)
	endDecision(span, allowed)
	return allowed
}

func (tm *tracingMiddleware) startDecision(ctx context.Context, name string, s gate.Session, topic string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("mqtt.client_id", s.ID()),
		attribute.String("mqtt.topic", topic),
	))
}

func endDecision(span trace.Span, allowed bool) {
	span.SetAttributes(attribute.Bool("gate.allowed", allowed))
	if !allowed {
		span.SetStatus(codes.Error, "denied")
	}
}
