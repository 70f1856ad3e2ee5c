// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/absmach/mqttgate/gate"
	"github.com/absmach/mqttgate/gate/middleware"
	"github.com/absmach/mqttgate/server/otel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var errBadToken = errors.New("bad token")

type session struct {
	gate.Attachment
}

func (*session) ID() string         { return "client-1" }
func (*session) RemoteAddr() string { return "10.0.0.1:4000" }
func (*session) Close() error       { return nil }

// stubHooks allows publishing to "/ok" only and accepts the "good" token.
type stubHooks struct {
	gate.NopObserver
	connected int
	published int
}

func (h *stubHooks) Authenticate(_ context.Context, s gate.Session, _ string, password []byte) error {
	if string(password) != "good" {
		return errBadToken
	}
	s.SetIdentity(gate.NewIdentity(gate.Claims{"sub": "user-1"}))
	return nil
}

func (h *stubHooks) AuthorizePublish(_ context.Context, _ gate.Session, topic string) bool {
	return topic == "/ok"
}

func (h *stubHooks) AuthorizeSubscribe(_ context.Context, _ gate.Session, filter string) bool {
	return filter == "/ok"
}

func (h *stubHooks) ClientConnected(gate.Session)         { h.connected++ }
func (h *stubHooks) Published(gate.Session, gate.Message) { h.published++ }

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	next := &stubHooks{}
	hooks := middleware.NewLogging(next, logger)
	s := &session{}
	ctx := context.Background()

	assert.ErrorIs(t, hooks.Authenticate(ctx, s, "u", []byte("bad")), errBadToken)
	assert.NoError(t, hooks.Authenticate(ctx, s, "u", []byte("good")))
	assert.True(t, hooks.AuthorizePublish(ctx, s, "/ok"))
	assert.False(t, hooks.AuthorizeSubscribe(ctx, s, "/no"))

	hooks.ClientConnected(s)
	assert.Equal(t, 1, next.connected)

	out := buf.String()
	assert.Contains(t, out, `"msg":"Authenticate"`)
	assert.Contains(t, out, `"error":"bad token"`)
	assert.Contains(t, out, `"msg":"AuthorizePublish"`)
	assert.Contains(t, out, `"allowed":false`)
}

func TestMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	metrics, err := otel.NewMetrics(mp)
	require.NoError(t, err)

	next := &stubHooks{}
	hooks := middleware.NewMetrics(next, metrics)
	s := &session{}
	ctx := context.Background()

	require.NoError(t, hooks.Authenticate(ctx, s, "u", []byte("good")))
	hooks.AuthorizePublish(ctx, s, "/ok")
	hooks.AuthorizePublish(ctx, s, "/no")
	hooks.ClientConnected(s)
	hooks.Published(s, gate.Message{Topic: "/ok", Payload: []byte("abc")})

	assert.Equal(t, 1, next.connected)
	assert.Equal(t, 1, next.published)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
			if m.Name == "mqttgate.authorizations.total" {
				data := m.Data.(metricdata.Sum[int64])
				assert.Len(t, data.DataPoints, 2, "allowed and denied are separate series")
			}
		}
	}
	for _, name := range []string{
		"mqttgate.authentications.total",
		"mqttgate.authorizations.total",
		"mqttgate.connections.current",
		"mqttgate.messages.published.total",
	} {
		assert.True(t, names[name], "missing metric %s", name)
	}
}

func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	hooks := middleware.NewTracing(&stubHooks{}, tp.Tracer("test"))
	s := &session{}
	ctx := context.Background()

	assert.Error(t, hooks.Authenticate(ctx, s, "u", []byte("bad")))
	assert.False(t, hooks.AuthorizeSubscribe(ctx, s, "/no"))
	assert.True(t, hooks.AuthorizePublish(ctx, s, "/ok"))

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "gate.authenticate", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "gate.authorize_subscribe", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "gate.authorize_publish", spans[2].Name())
	assert.Equal(t, codes.Unset, spans[2].Status().Code)
}
