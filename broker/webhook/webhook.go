// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package webhook delivers gate events to HTTP endpoints.
package webhook

import (
	"context"
	"time"

	"github.com/absmach/mqttgate/broker/events"
)

// Notifier sends webhook notifications asynchronously.
type Notifier interface {
	// Notify queues an event for delivery without blocking.
	Notify(ctx context.Context, event events.Event) error

	// Close gracefully shuts down, flushing pending events
	Close() error
}

// Sender delivers a single webhook payload.
type Sender interface {
	// Send sends a webhook payload to the specified URL.
	// Returns error if the send fails.
	Send(ctx context.Context, url string, headers map[string]string, payload []byte, timeout time.Duration) error
}
