// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package userinfo

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/mqttgate/gate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLookup(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, Path, r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"sub":"user-1","email":"user@example.com","topics":"profile/#","scope":"ignored"}`)
	}))
	defer srv.Close()

	c, err := New(Config{Domain: srv.URL + "/"}, discardLogger())
	require.NoError(t, err)

	claims := gate.Claims{"sub": "user-1", "scope": "mqtt/connect"}
	identity, err := c.Lookup(context.Background(), "tok-1", claims)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", identity.Claims["email"])
	assert.Equal(t, "mqtt/connect", identity.Claims["scope"])
	assert.Equal(t, []string{"profile/#"}, identity.Topics)

	_, err = c.Lookup(context.Background(), "tok-1", claims)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "cached profile should be reused")
}

func TestLookupErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"invalid_token"}`, ErrUnexpected},
		{"subject mismatch", http.StatusOK, `{"sub":"someone-else"}`, ErrSubMismatch},
		{"malformed body", http.StatusOK, `{"sub":`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c, err := New(Config{Domain: srv.URL}, discardLogger())
			require.NoError(t, err)

			identity, err := c.Lookup(context.Background(), "tok", gate.Claims{"sub": "user-1"})
			assert.Nil(t, identity)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestLookupBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(Config{Domain: srv.URL, FailureThreshold: 2, ResetTimeout: time.Hour}, discardLogger())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := c.Lookup(context.Background(), "tok", gate.Claims{})
		assert.ErrorIs(t, err, ErrUnexpected)
	}

	_, err = c.Lookup(context.Background(), "tok", gate.Claims{})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestNewRequiresDomain(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.ErrorIs(t, err, ErrNoDomain)
}

func TestLookupAsUserInfoFunc(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"topics":["a/b"]}`)
	}))
	defer srv.Close()

	c, err := New(Config{Domain: srv.URL}, discardLogger())
	require.NoError(t, err)

	var fn gate.UserInfoFunc = c.Lookup
	identity, err := fn(context.Background(), "tok", gate.Claims{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b"}, identity.Topics)
}
