// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gate

import (
	"context"
	"strings"
	"sync"

	"github.com/absmach/mqttgate/topics"
)

// TopicsClaim is the claim holding the topic filters an identity may use.
const TopicsClaim = "topics"

// Claims is a decoded claim set returned by a TokenValidator.
type Claims map[string]any

// Identity is the trusted profile of an authenticated client.
type Identity struct {
	// Claims holds the decoded (and possibly enriched) token claims.
	Claims Claims

	// Topics are the topic filters the identity is permitted to use.
	Topics []string

	permittedOnce sync.Once
	permitted     *topics.Set
}

// Subject returns the "sub" claim, or an empty string.
func (id *Identity) Subject() string {
	if id == nil {
		return ""
	}
	sub, _ := id.Claims["sub"].(string)
	return sub
}

// NewIdentity builds an Identity from decoded claims verbatim.
// The topics claim may be a list of strings or a comma separated string.
func NewIdentity(claims Claims) *Identity {
	if claims == nil {
		claims = Claims{}
	}
	return &Identity{
		Claims: claims,
		Topics: topicsFromClaim(claims[TopicsClaim]),
	}
}

func topicsFromClaim(v any) []string {
	switch t := v.(type) {
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, s := range strings.Split(t, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// TokenValidator validates a bearer token and returns its decoded claims.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (Claims, error)
}

// TokenValidatorFunc adapts a function to the TokenValidator interface.
type TokenValidatorFunc func(ctx context.Context, token string) (Claims, error)

// Validate calls f(ctx, token).
func (f TokenValidatorFunc) Validate(ctx context.Context, token string) (Claims, error) {
	return f(ctx, token)
}

// UserInfoFunc turns validated claims into an Identity.
// It is the enrichment point for deployments that fetch richer profile data.
type UserInfoFunc func(ctx context.Context, token string, claims Claims) (*Identity, error)

// TopicsFunc returns the topic filters an identity is permitted to use.
type TopicsFunc func(identity *Identity) []string

// DefaultUserInfo uses the decoded claims as the identity.
func DefaultUserInfo(_ context.Context, _ string, claims Claims) (*Identity, error) {
	return NewIdentity(claims), nil
}

// DefaultUserTopics returns the identity's own topics, or an empty slice.
func DefaultUserTopics(identity *Identity) []string {
	if identity == nil || identity.Topics == nil {
		return []string{}
	}
	return identity.Topics
}

// FixedTopics returns a TopicsFunc granting the same allowlist to every identity.
func FixedTopics(filters ...string) TopicsFunc {
	allowed := make([]string, len(filters))
	copy(allowed, filters)
	return func(*Identity) []string {
		return allowed
	}
}
