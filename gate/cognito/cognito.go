// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package cognito validates AWS Cognito user pool JWTs.
package cognito

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/absmach/mqttgate/gate"
	"github.com/xenitab/go-oidc-middleware/oidctoken"
	"github.com/xenitab/go-oidc-middleware/options"
)

// TokenUse is the expected value of the token_use claim.
type TokenUse string

// Token uses issued by Cognito.
const (
	TokenUseAccess TokenUse = "access"
	TokenUseID     TokenUse = "id"
)

// Defaults.
const (
	DefaultRegion     = "us-east-1"
	DefaultTokenUse   = TokenUseAccess
	DefaultExpiration = time.Hour
)

var (
	ErrNoUserPool      = errors.New("cognito user pool ID is required")
	ErrInvalidTokenUse = errors.New("token use must be \"access\" or \"id\"")
	ErrEmptyToken      = errors.New("token is empty")
	ErrTokenUse        = errors.New("token_use claim does not match")
	ErrClient          = errors.New("token was not issued for this client")
	ErrMissingIssuedAt = errors.New("token has no iat claim")
	ErrTokenExpired    = errors.New("token is outside the expiration window")
)

// Config configures a Validator.
type Config struct {
	Region     string
	UserPoolID string
	TokenUse   TokenUse

	// Expiration bounds how long after iat a token is accepted.
	Expiration time.Duration

	// Issuer overrides the issuer derived from Region and UserPoolID.
	Issuer string

	// ClientID, when set, must match client_id (access) or aud (id).
	ClientID string
}

// IssuerURL returns the issuer of tokens minted by a user pool.
func IssuerURL(region, userPoolID string) string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, userPoolID)
}

// Validator verifies signatures against the pool's JWKS and checks the
// Cognito specific claims.
type Validator struct {
	handler    *oidctoken.TokenHandler[map[string]any]
	tokenUse   TokenUse
	expiration time.Duration
	clientID   string
	now        func() time.Time
}

var _ gate.TokenValidator = (*Validator)(nil)

// New creates a Validator. Keys are fetched lazily on the first token.
func New(cfg Config) (*Validator, error) {
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.TokenUse == "" {
		cfg.TokenUse = DefaultTokenUse
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = DefaultExpiration
	}
	if cfg.TokenUse != TokenUseAccess && cfg.TokenUse != TokenUseID {
		return nil, ErrInvalidTokenUse
	}

	issuer := cfg.Issuer
	if issuer == "" {
		if cfg.UserPoolID == "" {
			return nil, ErrNoUserPool
		}
		issuer = IssuerURL(cfg.Region, cfg.UserPoolID)
	}

	handler, err := oidctoken.New[map[string]any](nil,
		options.WithIssuer(issuer),
		options.WithLazyLoadJwks(true),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise oidc token handler: %w", err)
	}

	return &Validator{
		handler:    handler,
		tokenUse:   cfg.TokenUse,
		expiration: cfg.Expiration,
		clientID:   cfg.ClientID,
		now:        time.Now,
	}, nil
}

// Validate verifies token and returns its claims.
func (v *Validator) Validate(ctx context.Context, token string) (gate.Claims, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	claims, err := v.handler.ParseToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	if use, _ := claims["token_use"].(string); TokenUse(use) != v.tokenUse {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrTokenUse, use, v.tokenUse)
	}
	if v.clientID != "" && !v.issuedFor(claims) {
		return nil, ErrClient
	}

	iat, ok := issuedAt(claims["iat"])
	if !ok {
		return nil, ErrMissingIssuedAt
	}
	if v.now().After(iat.Add(v.expiration)) {
		return nil, ErrTokenExpired
	}

	return gate.Claims(claims), nil
}

func (v *Validator) issuedFor(claims map[string]any) bool {
	if v.tokenUse == TokenUseAccess {
		id, _ := claims["client_id"].(string)
		return id == v.clientID
	}
	switch aud := claims["aud"].(type) {
	case string:
		return aud == v.clientID
	case []any:
		for _, a := range aud {
			if s, ok := a.(string); ok && s == v.clientID {
				return true
			}
		}
	case []string:
		for _, s := range aud {
			if s == v.clientID {
				return true
			}
		}
	}
	return false
}

func issuedAt(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case float64:
		return time.Unix(int64(t), 0), true
	case int64:
		return time.Unix(t, 0), true
	case int:
		return time.Unix(int64(t), 0), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(n, 0), true
	case string:
		// Claim maps built from parsed tokens may carry iat as RFC 3339.
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts, true
		}
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(n, 0), true
	default:
		return time.Time{}, false
	}
}
