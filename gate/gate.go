// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package gate decides which topics an authenticated MQTT client may publish
// to or subscribe from.
//
// A broker adapter calls Authenticate when a client connects, then
// AuthorizePublish and AuthorizeSubscribe for every publish and subscribe
// attempt. A denied attempt returns false and also force-closes the session.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/absmach/mqttgate/topics"
)

// Authenticator authenticates a connecting client.
type Authenticator interface {
	Authenticate(ctx context.Context, s Session, username string, password []byte) error
}

// PublishAuthorizer checks whether a session may publish to a topic.
type PublishAuthorizer interface {
	AuthorizePublish(ctx context.Context, s Session, topic string) bool
}

// SubscribeAuthorizer checks whether a session may subscribe to a topic filter.
type SubscribeAuthorizer interface {
	AuthorizeSubscribe(ctx context.Context, s Session, filter string) bool
}

// Hooks is the full capability set a broker adapter drives.
type Hooks interface {
	Authenticator
	PublishAuthorizer
	SubscribeAuthorizer
	Observer
}

var _ Hooks = (*Gate)(nil)

// Gate is the authorization gate. It holds no per-session state: identities
// live on the sessions themselves.
type Gate struct {
	validator  TokenValidator
	userInfo   UserInfoFunc
	userTopics TopicsFunc
	observers  []Observer
	logger     *slog.Logger
	readyOnce  sync.Once
}

// Option configures a Gate.
type Option func(*Gate)

// WithUserInfo overrides the identity enrichment step.
func WithUserInfo(fn UserInfoFunc) Option {
	return func(g *Gate) {
		if fn != nil {
			g.userInfo = fn
		}
	}
}

// WithUserTopics overrides how permitted topics are derived from an identity.
func WithUserTopics(fn TopicsFunc) Option {
	return func(g *Gate) {
		if fn != nil {
			g.userTopics = fn
		}
	}
}

// WithObserver adds an observer notified after the gate logs each event.
func WithObserver(o Observer) Option {
	return func(g *Gate) {
		if o != nil {
			g.observers = append(g.observers, o)
		}
	}
}

// WithLogger sets the gate logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a gate that validates tokens with validator.
func New(validator TokenValidator, opts ...Option) (*Gate, error) {
	if validator == nil {
		return nil, ErrNilValidator
	}

	g := &Gate{
		validator:  validator,
		userInfo:   DefaultUserInfo,
		userTopics: DefaultUserTopics,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// Authenticate validates the token carried in the password field. On success
// the resulting identity is attached to the session. A missing password is an
// empty token and fails validation like any other bad token.
func (g *Gate) Authenticate(ctx context.Context, s Session, username string, password []byte) error {
	token := string(password)

	claims, err := g.validator.Validate(ctx, token)
	if err != nil {
		g.logger.Error("token validation failed",
			slog.String("client_id", s.ID()),
			slog.String("username", username),
			slog.String("error", err.Error()))
		err = fmt.Errorf("%w: %w", ErrAuthentication, err)
		g.authenticationFailed(s, err)
		return err
	}

	identity, err := g.userInfo(ctx, token, claims)
	if err != nil {
		g.logger.Error("user info lookup failed",
			slog.String("client_id", s.ID()),
			slog.String("username", username),
			slog.String("error", err.Error()))
		err = fmt.Errorf("%w: %w", ErrAuthentication, err)
		g.authenticationFailed(s, err)
		return err
	}
	if identity == nil {
		identity = NewIdentity(claims)
	}

	s.SetIdentity(identity)
	g.permitted(s.Identity())

	g.logger.Debug("client authenticated",
		slog.String("client_id", s.ID()),
		slog.String("username", username),
		slog.String("subject", identity.Subject()))

	return nil
}

// AuthorizePublish reports whether the session may publish to topic.
// A denial force-closes the session.
func (g *Gate) AuthorizePublish(_ context.Context, s Session, topic string) bool {
	return g.authorize(s, ActionPublish, topic)
}

// AuthorizeSubscribe reports whether the session may subscribe to filter.
// A denial force-closes the session.
func (g *Gate) AuthorizeSubscribe(_ context.Context, s Session, filter string) bool {
	return g.authorize(s, ActionSubscribe, filter)
}

// PermittedTopics returns the topic filters the session may use.
func (g *Gate) PermittedTopics(s Session) []string {
	return g.topicsOf(s.Identity())
}

func (g *Gate) topicsOf(identity *Identity) []string {
	if identity == nil {
		return []string{}
	}
	allowed := g.userTopics(identity)
	if allowed == nil {
		return []string{}
	}
	return allowed
}

// permitted returns the identity's filters compiled once. The set never
// changes for the lifetime of the identity.
func (g *Gate) permitted(identity *Identity) *topics.Set {
	if identity == nil {
		return nil
	}
	identity.permittedOnce.Do(func() {
		identity.permitted = topics.NewSet(g.topicsOf(identity)...)
	})
	return identity.permitted
}

func (g *Gate) authorize(s Session, action Action, topic string) bool {
	if g.permitted(s.Identity()).Matches(topic) {
		return true
	}

	g.logger.Warn("authorization denied, closing session",
		slog.String("client_id", s.ID()),
		slog.String("action", string(action)),
		slog.String("topic", topic))

	for _, o := range g.observers {
		if d, ok := o.(DecisionObserver); ok {
			d.AuthorizationDenied(s, action, topic)
		}
	}

	if err := s.Close(); err != nil {
		g.logger.Warn("failed to close denied session",
			slog.String("client_id", s.ID()),
			slog.String("error", err.Error()))
	}

	return false
}

func (g *Gate) authenticationFailed(s Session, err error) {
	for _, o := range g.observers {
		if d, ok := o.(DecisionObserver); ok {
			d.AuthenticationFailed(s, err)
		}
	}
}

// Ready reports the active endpoints once the broker accepts connections.
// Only the first call has any effect.
func (g *Gate) Ready(endpoints []Endpoint) {
	g.readyOnce.Do(func() {
		g.logger.Info("authorization gate is up and running", slog.Int("endpoints", len(endpoints)))
		for _, e := range endpoints {
			g.logger.Info(e.String(), slog.String("kind", string(e.Kind)), slog.String("address", e.Address))
		}
		for _, o := range g.observers {
			o.Ready(endpoints)
		}
	})
}

// ClientConnected logs a new authenticated connection.
func (g *Gate) ClientConnected(s Session) {
	g.logger.Debug("new connection", sessionAttrs(s)...)
	for _, o := range g.observers {
		o.ClientConnected(s)
	}
}

// ClientDisconnecting logs a connection that is being torn down.
func (g *Gate) ClientDisconnecting(s Session) {
	g.logger.Debug("disconnecting", sessionAttrs(s)...)
	for _, o := range g.observers {
		o.ClientDisconnecting(s)
	}
}

// ClientDisconnected logs a closed connection.
func (g *Gate) ClientDisconnected(s Session) {
	g.logger.Debug("disconnected", sessionAttrs(s)...)
	for _, o := range g.observers {
		o.ClientDisconnected(s)
	}
}

// Published logs a message accepted by the broker.
func (g *Gate) Published(s Session, msg Message) {
	g.logger.Debug("published",
		slog.String("client_id", s.ID()),
		slog.String("topic", msg.Topic),
		slog.String("payload", string(msg.Payload)),
		slog.Int("qos", int(msg.QoS)),
		slog.Bool("retain", msg.Retain))
	for _, o := range g.observers {
		o.Published(s, msg)
	}
}

// Subscribed logs an accepted subscription.
func (g *Gate) Subscribed(s Session, filter string) {
	g.logger.Debug("subscribed", slog.String("client_id", s.ID()), slog.String("topic", filter))
	for _, o := range g.observers {
		o.Subscribed(s, filter)
	}
}

// Unsubscribed logs a removed subscription.
func (g *Gate) Unsubscribed(s Session, filter string) {
	g.logger.Debug("unsubscribed", slog.String("client_id", s.ID()), slog.String("topic", filter))
	for _, o := range g.observers {
		o.Unsubscribed(s, filter)
	}
}

func sessionAttrs(s Session) []any {
	attrs := []any{
		slog.String("client_id", s.ID()),
		slog.String("remote_addr", s.RemoteAddr()),
	}
	if identity := s.Identity(); identity != nil {
		attrs = append(attrs, slog.Any("profile", identity.Claims), slog.Any("topics", identity.Topics))
	}
	return attrs
}
