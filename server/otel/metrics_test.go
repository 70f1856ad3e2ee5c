// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/mqttgate/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sum(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", data)
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := NewMetrics(mp)
	require.NoError(t, err)

	m.RecordAuthentication(true, 5*time.Millisecond)
	m.RecordAuthentication(false, time.Millisecond)
	m.RecordDecision("publish", true)
	m.RecordDecision("subscribe", false)
	m.RecordConnection()
	m.RecordConnection()
	m.RecordDisconnection()
	m.RecordMessage(1, 42)
	m.RecordSubscriptionAdded()
	m.RecordSubscriptionAdded()
	m.RecordSubscriptionRemoved()
	m.RecordRateLimited("publish")

	data := collect(t, reader)
	assert.Equal(t, int64(2), sum(t, data["mqttgate.authentications.total"]))
	assert.Equal(t, int64(2), sum(t, data["mqttgate.authorizations.total"]))
	assert.Equal(t, int64(2), sum(t, data["mqttgate.connections.total"]))
	assert.Equal(t, int64(1), sum(t, data["mqttgate.connections.current"]))
	assert.Equal(t, int64(1), sum(t, data["mqttgate.disconnections.total"]))
	assert.Equal(t, int64(1), sum(t, data["mqttgate.messages.published.total"]))
	assert.Equal(t, int64(1), sum(t, data["mqttgate.subscriptions.active"]))
	assert.Equal(t, int64(1), sum(t, data["mqttgate.rate_limited.total"]))

	sizes, ok := data["mqttgate.message.size.bytes"].(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, sizes.DataPoints, 1)
	assert.Equal(t, int64(42), sizes.DataPoints[0].Sum)
}

func TestNewProviderDisabled(t *testing.T) {
	cases := []struct {
		desc string
		cfg  config.OtelConfig
	}{
		{desc: "disabled", cfg: config.OtelConfig{Enabled: false, TracesEnabled: true, MetricsEnabled: true}},
		{desc: "no signals", cfg: config.OtelConfig{Enabled: true}},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			p, err := NewProvider(context.Background(), tc.cfg, "test")
			require.NoError(t, err)

			_, span := p.Tracer().Start(context.Background(), "noop")
			assert.False(t, span.SpanContext().IsValid())
			span.End()

			m, err := NewMetrics(p.MeterProvider())
			require.NoError(t, err)
			m.RecordConnection()

			assert.NoError(t, p.Shutdown(context.Background()))
		})
	}
}
