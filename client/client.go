// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package client connects to the broker with freshly resolved credentials
// and tears the whole session down when the broker refuses a request.
package client

import (
	"context"
	"log/slog"
	"sync"

	"github.com/absmach/mqttgate/credentials"
)

// Client is the session lifecycle controller. It holds at most one active
// transport session at a time.
type Client struct {
	opts      Options
	resolver  Resolver
	dialer    Dialer
	onMessage MessageHandler
	logger    *slog.Logger

	mu        sync.Mutex
	transport Transport
}

// Option configures a Client.
type Option func(*Client)

// WithMessageHandler sets the handler wired to every new transport session.
func WithMessageHandler(h MessageHandler) Option {
	return func(c *Client) {
		c.onMessage = h
	}
}

// WithDialer replaces the default paho dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client. Nothing is dialed until Connect.
func New(opts *Options, resolver Resolver, options ...Option) (*Client, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil {
		return nil, ErrNoResolver
	}

	c := &Client{
		opts:     *opts,
		resolver: resolver,
		dialer:   PahoDialer{},
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}

	return c, nil
}

// Connect drops any existing session, resolves credentials and dials a new
// session. If resolution fails nothing is dialed.
func (c *Client) Connect(ctx context.Context) error {
	c.Disconnect(true, nil)

	cred, err := c.resolver.Resolve(ctx)
	if err != nil {
		c.logger.Error("failed to resolve credentials",
			slog.String("server", c.opts.Server),
			slog.String("error", err.Error()))
		return &ConnectionError{Stage: StageResolve, Err: err}
	}

	t, err := c.dialer.Dial(ctx, cred, c.opts)
	if err != nil {
		c.logger.Error("failed to connect",
			slog.String("server", c.opts.Server),
			slog.String("username", cred.Username),
			slog.String("error", err.Error()))
		return &ConnectionError{Stage: StageDial, Err: err}
	}

	if c.onMessage != nil {
		t.OnMessage(c.onMessage)
	}

	c.mu.Lock()
	prev := c.transport
	c.transport = t
	c.mu.Unlock()

	// A concurrent Connect may have won the race; keep only the newest session.
	if prev != nil {
		c.closeTransport(prev, true)
	}

	c.logger.Info("connected", slog.String("server", c.opts.Server), slog.String("username", cred.Username))
	return nil
}

// Connected reports whether a transport session is active.
func (c *Client) Connected() bool {
	return c.current() != nil
}

// Disconnect closes the active session, if any, and then calls done.
// Close errors are logged, never returned.
func (c *Client) Disconnect(force bool, done func()) {
	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.mu.Unlock()

	if t == nil {
		return
	}

	c.closeTransport(t, force)
	if done != nil {
		done()
	}
}

// Publish publishes payload to topic with the configured publish options.
// It is a no-op when disconnected.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) {
	t := c.current()
	if t == nil {
		return
	}

	codes, err := t.Publish(ctx, topic, payload, c.opts.Publish)
	c.handleResponse(t, "publish", []string{topic}, codes, err)
}

// Subscribe subscribes to filters with the configured subscribe options.
// It is a no-op when disconnected.
func (c *Client) Subscribe(ctx context.Context, filters ...string) {
	t := c.current()
	if t == nil {
		return
	}

	codes, err := t.Subscribe(ctx, filters, c.opts.Subscribe)
	c.handleResponse(t, "subscribe", filters, codes, err)
}

// Unsubscribe removes subscriptions. It is a no-op when disconnected.
func (c *Client) Unsubscribe(ctx context.Context, filters ...string) {
	t := c.current()
	if t == nil {
		return
	}

	codes, err := t.Unsubscribe(ctx, filters)
	c.handleResponse(t, "unsubscribe", filters, codes, err)
}

func (c *Client) current() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// handleResponse logs operation errors. A refusal from the broker tears the
// session down.
func (c *Client) handleResponse(t Transport, op string, topics []string, codes []byte, err error) {
	if err != nil {
		c.logger.Error(op+" failed",
			slog.Any("topics", topics),
			slog.String("error", err.Error()))
		return
	}
	if !refused(codes) {
		return
	}

	c.logger.Error("broker refused client request, disconnecting",
		slog.String("op", op),
		slog.Any("topics", topics),
		slog.String("error", ErrRefused.Error()))

	// Only tear down the session that was refused.
	c.mu.Lock()
	if c.transport != t {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.Disconnect(true, nil)
}

func (c *Client) closeTransport(t Transport, force bool) {
	if err := t.Close(force); err != nil {
		c.logger.Warn("failed to close transport",
			slog.String("server", c.opts.Server),
			slog.String("error", err.Error()))
	}
}

var _ Resolver = (*credentials.Resolver)(nil)
