// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/absmach/mqttgate/broker"
	"github.com/absmach/mqttgate/broker/webhook"
	"github.com/absmach/mqttgate/config"
	"github.com/absmach/mqttgate/gate"
	"github.com/absmach/mqttgate/gate/cognito"
	"github.com/absmach/mqttgate/gate/middleware"
	"github.com/absmach/mqttgate/gate/userinfo"
	"github.com/absmach/mqttgate/ratelimit"
	"github.com/absmach/mqttgate/server/health"
	"github.com/absmach/mqttgate/server/otel"
	"github.com/absmach/mqttgate/topics"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var fixedTopics []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gated MQTT broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(os.Stdout)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("topics") {
			cfg.Auth.Topics = fixedTopics
		}
		if err := topics.ValidateFilters(cfg.Auth.Topics); err != nil {
			return fmt.Errorf("invalid --topics: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, logger)
	},
}

func init() {
	serveCmd.Flags().StringSliceVar(&fixedTopics, "topics", nil, "Fixed topic allowlist that replaces the topics claim")
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	instanceID := uuid.NewString()
	logger.Info("Starting mqttgate", "instance_id", instanceID)

	telemetry, err := otel.NewProvider(ctx, cfg.Otel, instanceID)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		if err := telemetry.Shutdown(context.Background()); err != nil {
			logger.Error("OpenTelemetry shutdown error", "error", err)
		}
	}()
	if cfg.Otel.Enabled {
		logger.Info("OpenTelemetry initialized",
			slog.String("endpoint", cfg.Otel.Endpoint),
			slog.Bool("traces", cfg.Otel.TracesEnabled),
			slog.Bool("metrics", cfg.Otel.MetricsEnabled))
	}

	validator, err := cognito.New(cognito.Config{
		Region:     cfg.Auth.Region,
		UserPoolID: cfg.Auth.UserPoolID,
		TokenUse:   cognito.TokenUse(cfg.Auth.TokenUse),
		Expiration: cfg.Auth.TokenExpiration,
		Issuer:     cfg.Auth.Issuer,
		ClientID:   cfg.Auth.ClientID,
	})
	if err != nil {
		return fmt.Errorf("failed to create token validator: %w", err)
	}

	tracker := health.NewTracker()
	gateOpts := []gate.Option{
		gate.WithLogger(logger),
		gate.WithObserver(tracker),
	}

	permitted := gate.DefaultUserTopics
	if len(cfg.Auth.Topics) > 0 {
		permitted = gate.FixedTopics(cfg.Auth.Topics...)
		gateOpts = append(gateOpts, gate.WithUserTopics(permitted))
		logger.Info("Using fixed topic allowlist", "topics", cfg.Auth.Topics)
	}

	if cfg.UserInfo.Enabled {
		info, err := userinfo.New(userinfo.Config{
			Domain:           cfg.UserInfo.Domain,
			Timeout:          cfg.UserInfo.Timeout,
			CacheSize:        cfg.UserInfo.CacheSize,
			CacheTTL:         cfg.UserInfo.CacheTTL,
			FailureThreshold: uint32(cfg.UserInfo.CircuitBreaker.FailureThreshold),
			ResetTimeout:     cfg.UserInfo.CircuitBreaker.ResetTimeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create userinfo client: %w", err)
		}
		gateOpts = append(gateOpts, gate.WithUserInfo(info.Lookup))
		logger.Info("Identity enrichment enabled", "domain", cfg.UserInfo.Domain)
	}

	if cfg.Webhook.Enabled {
		notifier, err := webhook.NewNotifier(cfg.Webhook, instanceID, webhook.NewHTTPSender(), logger,
			webhook.WithPermittedTopics(permitted))
		if err != nil {
			return fmt.Errorf("failed to initialize webhooks: %w", err)
		}
		defer func() {
			if err := notifier.Close(); err != nil {
				logger.Error("Webhook shutdown error", "error", err)
			}
		}()
		gateOpts = append(gateOpts, gate.WithObserver(notifier))
		logger.Info("Webhooks enabled",
			slog.Int("endpoints", len(cfg.Webhook.Endpoints)),
			slog.Int("workers", cfg.Webhook.Workers))
	}

	g, err := gate.New(validator, gateOpts...)
	if err != nil {
		return err
	}

	metrics, err := otel.NewMetrics(telemetry.MeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	var hooks gate.Hooks = g
	hooks = middleware.NewLogging(hooks, logger)
	hooks = middleware.NewMetrics(hooks, metrics)
	hooks = middleware.NewTracing(hooks, telemetry.Tracer())

	brokerOpts := []broker.Option{broker.WithRateLimitRecorder(metrics)}
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewManager(cfg.RateLimit)
		defer limiter.Stop()
		brokerOpts = append(brokerOpts, broker.WithRateLimiter(limiter))
		logger.Info("Rate limiting enabled",
			slog.Bool("connection", cfg.RateLimit.Connection.Enabled),
			slog.Bool("message", cfg.RateLimit.Message.Enabled),
			slog.Bool("subscribe", cfg.RateLimit.Subscribe.Enabled))
	}

	srv, err := broker.New(cfg.Server, hooks, logger, brokerOpts...)
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return srv.Serve(ctx)
	})

	if cfg.Health.Enabled {
		hs := health.New(health.Config{
			Address:         cfg.Health.Addr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, tracker, logger)
		eg.Go(func() error {
			return hs.Listen(ctx)
		})
	}

	if err := eg.Wait(); err != nil {
		logger.Error("mqttgate terminated with error", "error", err)
		return err
	}

	logger.Info("mqttgate stopped")
	return nil
}
