// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package userinfo enriches validated claims with the profile served by the
// identity provider's userInfo endpoint.
package userinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/absmach/mqttgate/gate"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sony/gobreaker"
)

// Path is appended to the domain to form the userInfo endpoint.
const Path = "/oauth2/userInfo"

// Defaults.
const (
	DefaultTimeout          = 5 * time.Second
	DefaultCacheSize        = 1024
	DefaultCacheTTL         = 5 * time.Minute
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 30 * time.Second
)

const maxResponseSize = 1 << 20

var (
	ErrNoDomain    = errors.New("userinfo domain is required")
	ErrUnexpected  = errors.New("unexpected userinfo response status")
	ErrSubMismatch = errors.New("userinfo subject does not match token subject")
	ErrBreakerOpen = errors.New("userinfo endpoint unavailable")
)

// Config configures a Client.
type Config struct {
	Domain           string
	Timeout          time.Duration
	CacheSize        int
	CacheTTL         time.Duration
	FailureThreshold uint32
	ResetTimeout     time.Duration
	HTTPClient       *http.Client
}

// Client fetches and caches userInfo profiles keyed by access token.
type Client struct {
	url        string
	httpClient *http.Client
	cache      *expirable.LRU[string, gate.Claims]
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// New creates a Client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Domain == "" {
		return nil, ErrNoDomain
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		url:        strings.TrimRight(cfg.Domain, "/") + Path,
		httpClient: httpClient,
		cache:      expirable.NewLRU[string, gate.Claims](cfg.CacheSize, nil, cfg.CacheTTL),
		logger:     logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "userinfo",
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("userinfo circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return c, nil
}

// Lookup implements gate.UserInfoFunc. Token claims win over profile
// attributes with the same name.
func (c *Client) Lookup(ctx context.Context, token string, claims gate.Claims) (*gate.Identity, error) {
	profile, ok := c.cache.Get(token)
	if !ok {
		res, err := c.breaker.Execute(func() (interface{}, error) {
			return c.fetch(ctx, token)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, fmt.Errorf("%w: %w", ErrBreakerOpen, err)
			}
			return nil, err
		}
		profile = res.(gate.Claims)
		c.cache.Add(token, profile)
	}

	if sub, ok := claims["sub"].(string); ok && sub != "" {
		if psub, ok := profile["sub"].(string); ok && psub != sub {
			return nil, ErrSubMismatch
		}
	}

	merged := make(gate.Claims, len(profile)+len(claims))
	for k, v := range profile {
		merged[k] = v
	}
	for k, v := range claims {
		merged[k] = v
	}

	return gate.NewIdentity(merged), nil
}

func (c *Client) fetch(ctx context.Context, token string) (gate.Claims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, fmt.Errorf("%w: %d", ErrUnexpected, resp.StatusCode)
	}

	var profile gate.Claims
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo response: %w", err)
	}
	if profile == nil {
		profile = gate.Claims{}
	}

	c.logger.Debug("fetched userinfo profile", slog.Int("attributes", len(profile)))
	return profile, nil
}
