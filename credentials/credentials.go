// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package credentials resolves the username and password a client presents
// when it connects to the broker.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Mode selects how credentials are resolved.
type Mode string

// Resolution modes.
const (
	// ModeStatic passes the configured identity and secret through unchanged.
	ModeStatic Mode = "static"

	// ModeClientCredentials exchanges the identity and secret for a bearer
	// token at the OAuth2 token endpoint.
	ModeClientCredentials Mode = "client_credentials"
)

// TokenPath is appended to the resource URL to form the token endpoint.
const TokenPath = "/oauth2/token"

var (
	ErrUnknownMode    = errors.New("unknown credential mode")
	ErrNoResourceURL  = errors.New("resource URL is required for client_credentials mode")
	ErrEmptyIdentity  = errors.New("identity cannot be empty for client_credentials mode")
	ErrEmptyAuthToken = errors.New("token endpoint returned an empty access token")
)

// Credential is the username and password presented on CONNECT.
type Credential struct {
	Username string
	Password string
}

// FetchError reports a failed token exchange.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch token from %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Config configures a Resolver.
type Config struct {
	Mode        Mode
	ResourceURL string
	Identity    string
	Secret      string
	Scope       string

	// HTTPClient is used for the token exchange. Timeouts are configured here.
	HTTPClient *http.Client
}

// Resolver resolves credentials afresh on every call. Tokens are never cached.
type Resolver struct {
	mode       Mode
	identity   string
	secret     string
	token      *clientcredentials.Config
	httpClient *http.Client
}

// NewResolver validates cfg and returns a Resolver. An empty mode is static.
func NewResolver(cfg Config) (*Resolver, error) {
	r := &Resolver{
		mode:       cfg.Mode,
		identity:   cfg.Identity,
		secret:     cfg.Secret,
		httpClient: cfg.HTTPClient,
	}

	switch cfg.Mode {
	case "", ModeStatic:
		r.mode = ModeStatic
	case ModeClientCredentials:
		if cfg.ResourceURL == "" {
			return nil, ErrNoResourceURL
		}
		if cfg.Identity == "" {
			return nil, ErrEmptyIdentity
		}
		// scope is sent even when empty.
		r.token = &clientcredentials.Config{
			ClientID:       cfg.Identity,
			ClientSecret:   cfg.Secret,
			TokenURL:       strings.TrimRight(cfg.ResourceURL, "/") + TokenPath,
			AuthStyle:      oauth2.AuthStyleInHeader,
			EndpointParams: url.Values{"scope": {cfg.Scope}},
		}
		r.httpClient = withBasicAuth(cfg.HTTPClient, cfg.Identity, cfg.Secret)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}

	return r, nil
}

// Mode returns the resolution mode.
func (r *Resolver) Mode() Mode {
	return r.mode
}

// Resolve returns the credential to connect with. In client_credentials mode
// it performs exactly one token request and fails with a *FetchError.
func (r *Resolver) Resolve(ctx context.Context) (Credential, error) {
	if r.mode == ModeStatic {
		return Credential{Username: r.identity, Password: r.secret}, nil
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)

	tok, err := r.token.Token(ctx)
	if err != nil {
		return Credential{}, &FetchError{URL: r.token.TokenURL, Err: err}
	}
	if tok.AccessToken == "" {
		return Credential{}, &FetchError{URL: r.token.TokenURL, Err: ErrEmptyAuthToken}
	}

	return Credential{Username: r.identity, Password: tok.AccessToken}, nil
}

// basicAuth sets the unescaped client identity and secret as Basic
// credentials. oauth2 form-escapes both before encoding them.
type basicAuth struct {
	next     http.RoundTripper
	identity string
	secret   string
}

func (b *basicAuth) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(b.identity, b.secret)
	return b.next.RoundTrip(req)
}

func withBasicAuth(client *http.Client, identity, secret string) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}
	next := client.Transport
	if next == nil {
		next = http.DefaultTransport
	}

	c := *client
	c.Transport = &basicAuth{next: next, identity: identity, secret: secret}
	return &c
}
