// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"

	"github.com/absmach/mqttgate/credentials"
)

// MessageHandler receives inbound application messages.
type MessageHandler func(topic string, payload []byte)

// Transport is an established session with the broker.
type Transport interface {
	// Publish sends a message and returns the broker's return codes, if any.
	Publish(ctx context.Context, topic string, payload []byte, opts PublishOptions) ([]byte, error)

	// Subscribe subscribes to filters and returns one return code per filter.
	Subscribe(ctx context.Context, filters []string, opts SubscribeOptions) ([]byte, error)

	// Unsubscribe removes subscriptions and returns the broker's return codes, if any.
	Unsubscribe(ctx context.Context, filters []string) ([]byte, error)

	// OnMessage registers the inbound message handler.
	OnMessage(h MessageHandler)

	// Close ends the session. A forced close skips draining in-flight messages.
	Close(force bool) error
}

// Dialer opens transport sessions.
type Dialer interface {
	Dial(ctx context.Context, cred credentials.Credential, opts Options) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, cred credentials.Credential, opts Options) (Transport, error)

// Dial calls f(ctx, cred, opts).
func (f DialerFunc) Dial(ctx context.Context, cred credentials.Credential, opts Options) (Transport, error) {
	return f(ctx, cred, opts)
}

// Resolver resolves the credential presented on every connect.
type Resolver interface {
	Resolve(ctx context.Context) (credentials.Credential, error)
}
