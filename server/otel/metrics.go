// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the gate metrics.
const MeterName = "mqttgate"

// Metrics holds OpenTelemetry metric instruments for the authorization gate.
type Metrics struct {
	meter metric.Meter

	// Counters
	authTotal        metric.Int64Counter
	decisionsTotal   metric.Int64Counter
	connectionsTotal metric.Int64Counter
	disconnections   metric.Int64Counter
	messagesTotal    metric.Int64Counter
	rateLimitedTotal metric.Int64Counter

	// UpDownCounters (Gauges)
	connectionsCurrent  metric.Int64UpDownCounter
	subscriptionsActive metric.Int64UpDownCounter

	// Histograms
	authDuration metric.Float64Histogram
	messageSize  metric.Int64Histogram
}

// NewMetrics creates the gate instruments on the given provider, or on the
// global provider when mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := &Metrics{
		meter: mp.Meter(MeterName),
	}

	var err error

	m.authTotal, err = m.meter.Int64Counter(
		"mqttgate.authentications.total",
		metric.WithDescription("Connection authentications by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authTotal counter: %w", err)
	}

	m.decisionsTotal, err = m.meter.Int64Counter(
		"mqttgate.authorizations.total",
		metric.WithDescription("Publish and subscribe authorization decisions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decisionsTotal counter: %w", err)
	}

	m.connectionsTotal, err = m.meter.Int64Counter(
		"mqttgate.connections.total",
		metric.WithDescription("Total number of authenticated connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectionsTotal counter: %w", err)
	}

	m.disconnections, err = m.meter.Int64Counter(
		"mqttgate.disconnections.total",
		metric.WithDescription("Total number of disconnections"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create disconnections counter: %w", err)
	}

	m.messagesTotal, err = m.meter.Int64Counter(
		"mqttgate.messages.published.total",
		metric.WithDescription("Messages accepted by the broker"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesTotal counter: %w", err)
	}

	m.rateLimitedTotal, err = m.meter.Int64Counter(
		"mqttgate.rate_limited.total",
		metric.WithDescription("Operations rejected by rate limiting"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rateLimitedTotal counter: %w", err)
	}

	m.connectionsCurrent, err = m.meter.Int64UpDownCounter(
		"mqttgate.connections.current",
		metric.WithDescription("Current number of authenticated connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectionsCurrent gauge: %w", err)
	}

	m.subscriptionsActive, err = m.meter.Int64UpDownCounter(
		"mqttgate.subscriptions.active",
		metric.WithDescription("Number of active subscriptions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriptionsActive gauge: %w", err)
	}

	m.authDuration, err = m.meter.Float64Histogram(
		"mqttgate.authentication.duration.ms",
		metric.WithDescription("Authentication duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authDuration histogram: %w", err)
	}

	m.messageSize, err = m.meter.Int64Histogram(
		"mqttgate.message.size.bytes",
		metric.WithDescription("Published payload size distribution"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messageSize histogram: %w", err)
	}

	return m, nil
}

// RecordAuthentication records an authentication attempt and its duration.
func (m *Metrics) RecordAuthentication(success bool, d time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.authTotal.Add(ctx, 1, attrs)
	m.authDuration.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
}

// RecordDecision records a publish or subscribe authorization decision.
func (m *Metrics) RecordDecision(action string, allowed bool) {
	m.decisionsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.Bool("allowed", allowed),
	))
}

// RecordConnection records a new authenticated connection.
func (m *Metrics) RecordConnection() {
	ctx := context.Background()
	m.connectionsTotal.Add(ctx, 1)
	m.connectionsCurrent.Add(ctx, 1)
}

// RecordDisconnection records a disconnection of an authenticated client.
func (m *Metrics) RecordDisconnection() {
	ctx := context.Background()
	m.disconnections.Add(ctx, 1)
	m.connectionsCurrent.Add(ctx, -1)
}

// RecordMessage records a message accepted by the broker.
func (m *Metrics) RecordMessage(qos byte, sizeBytes int64) {
	ctx := context.Background()
	m.messagesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("qos", int(qos)),
	))
	m.messageSize.Record(ctx, sizeBytes)
}

// RecordSubscriptionAdded records a new subscription.
func (m *Metrics) RecordSubscriptionAdded() {
	m.subscriptionsActive.Add(context.Background(), 1)
}

// RecordSubscriptionRemoved records a subscription removal.
func (m *Metrics) RecordSubscriptionRemoved() {
	m.subscriptionsActive.Add(context.Background(), -1)
}

// RecordRateLimited records an operation rejected by a rate limiter.
func (m *Metrics) RecordRateLimited(kind string) {
	m.rateLimitedTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}
