// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package middleware decorates gate hooks with logging, metrics and tracing.
package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/mqttgate/gate"
)

var _ gate.Hooks = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	gate.Hooks
	logger *slog.Logger
}

// NewLogging creates logging middleware that wraps gate hooks.
func NewLogging(hooks gate.Hooks, logger *slog.Logger) gate.Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingMiddleware{hooks, logger}
}

// Authenticate logs the authentication outcome.
func (lm *loggingMiddleware) Authenticate(ctx context.Context, s gate.Session, username string, password []byte) (err error) {
	defer func(begin time.Time) {
		lm.logger.Info("Authenticate",
			slog.String("client_id", s.ID()),
			slog.String("remote_addr", s.RemoteAddr()),
			slog.String("duration", time.Since(begin).String()),
			slog.Any("error", err),
		)
	}(time.Now())

	return lm.Hooks.Authenticate(ctx, s, username, password)
}

// AuthorizePublish logs the publish decision.
func (lm *loggingMiddleware) AuthorizePublish(ctx context.Context, s gate.Session, topic string) (allowed bool) {
	defer func(begin time.Time) {
		lm.logger.Info("AuthorizePublish",
			slog.String("client_id", s.ID()),
			slog.String("topic", topic),
			slog.Bool("allowed", allowed),
			slog.String("duration", time.Since(begin).String()),
		)
	}(time.Now())

	return lm.Hooks.AuthorizePublish(ctx, s, topic)
}

// AuthorizeSubscribe logs the subscribe decision.
func (lm *loggingMiddleware) AuthorizeSubscribe(ctx context.Context, s gate.Session, filter string) (allowed bool) {
	defer func(begin time.Time) {
		lm.logger.Info("AuthorizeSubscribe",
			slog.String("client_id", s.ID()),
			slog.String("topic", filter),
			slog.Bool("allowed", allowed),
			slog.String("duration", time.Since(begin).String()),
		)
	}(time.Now())

	return lm.Hooks.AuthorizeSubscribe(ctx, s, filter)
}
