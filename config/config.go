// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the gateway.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	UserInfo  UserInfoConfig  `yaml:"userinfo"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Health    HealthConfig    `yaml:"health"`
	Otel      OtelConfig      `yaml:"otel"`
	Client    ClientConfig    `yaml:"client"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds broker listener configuration. An empty address
// disables the listener.
type ServerConfig struct {
	TCPAddr         string        `yaml:"tcp_addr"`
	TLSAddr         string        `yaml:"tls_addr"`
	WSAddr          string        `yaml:"ws_addr"`
	WSSAddr         string        `yaml:"wss_addr"`
	TLSCertFile     string        `yaml:"tls_cert_file"`
	TLSKeyFile      string        `yaml:"tls_key_file"`
	TLSCAFile       string        `yaml:"tls_ca_file"`     // CA certificate for client verification
	TLSClientAuth   string        `yaml:"tls_client_auth"` // "none", "request", or "require"
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSEnabled reports whether any TLS listener is configured.
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSAddr != "" || s.WSSAddr != ""
}

// AuthConfig holds bearer token validation settings.
type AuthConfig struct {
	Region          string        `yaml:"region"`
	UserPoolID      string        `yaml:"user_pool_id"`
	TokenUse        string        `yaml:"token_use"`        // "access" or "id"
	TokenExpiration time.Duration `yaml:"token_expiration"` // accepted age of a token since iat
	Issuer          string        `yaml:"issuer"`           // overrides the pool issuer
	ClientID        string        `yaml:"client_id"`        // optional client restriction

	// Topics, when set, replaces the topics claim with a fixed allowlist.
	Topics []string `yaml:"topics"`
}

// UserInfoConfig holds identity enrichment settings.
type UserInfoConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	Domain         string               `yaml:"domain"`
	Timeout        time.Duration        `yaml:"timeout"`
	CacheSize      int                  `yaml:"cache_size"`
	CacheTTL       time.Duration        `yaml:"cache_ttl"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	Connection ConnectionRateConfig `yaml:"connection"`
	Message    ClientRateConfig     `yaml:"message"`
	Subscribe  ClientRateConfig     `yaml:"subscribe"`
}

// ConnectionRateConfig holds per-IP connection rate limiting settings.
type ConnectionRateConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Rate            float64       `yaml:"rate"`             // connections per second per IP
	Burst           int           `yaml:"burst"`            // burst allowance
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // cleanup interval for stale entries
}

// ClientRateConfig holds per-client rate limiting settings.
type ClientRateConfig struct {
	Enabled bool    `yaml:"enabled"`
	Rate    float64 `yaml:"rate"`  // operations per second per client
	Burst   int     `yaml:"burst"` // burst allowance
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled         bool              `yaml:"enabled"`
	QueueSize       int               `yaml:"queue_size"`
	DropPolicy      string            `yaml:"drop_policy"`      // "oldest" or "newest"
	Workers         int               `yaml:"workers"`          // Number of worker goroutines
	IncludePayload  bool              `yaml:"include_payload"`  // Include message payload in events
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"` // Graceful shutdown timeout
	Defaults        WebhookDefaults   `yaml:"defaults"`
	Endpoints       []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookDefaults holds default settings for webhook endpoints.
type WebhookDefaults struct {
	Timeout        time.Duration        `yaml:"timeout"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig holds retry configuration for webhook delivery.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// WebhookEndpoint defines a single webhook endpoint configuration.
type WebhookEndpoint struct {
	Name         string            `yaml:"name"`
	URL          string            `yaml:"url"`
	Events       []string          `yaml:"events"`        // Event type filter (empty = all)
	TopicFilters []string          `yaml:"topic_filters"` // Topic pattern filter (empty = all)
	Headers      map[string]string `yaml:"headers"`
	Timeout      time.Duration     `yaml:"timeout,omitempty"` // Override default
	Retry        *RetryConfig      `yaml:"retry,omitempty"`   // Override default
}

// HealthConfig holds the health check server settings.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// OtelConfig holds OpenTelemetry settings.
type OtelConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Endpoint        string  `yaml:"endpoint"` // OTLP gRPC endpoint
	Insecure        bool    `yaml:"insecure"`
	ServiceName     string  `yaml:"service_name"`
	ServiceVersion  string  `yaml:"service_version"`
	MetricsEnabled  bool    `yaml:"metrics_enabled"`
	TracesEnabled   bool    `yaml:"traces_enabled"`
	TraceSampleRate float64 `yaml:"trace_sample_rate"` // 0.0 to 1.0
}

// ClientConfig holds settings for the publish and subscribe commands.
type ClientConfig struct {
	URL            string        `yaml:"url"`
	ClientID       string        `yaml:"client_id"`
	AccessType     string        `yaml:"access_type"` // "static" or "client_credentials"
	AuthDomain     string        `yaml:"auth_domain"` // token endpoint base URL
	Scope          string        `yaml:"scope"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	CleanSession   bool          `yaml:"clean_session"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishQoS     byte          `yaml:"publish_qos"`
	PublishRetain  bool          `yaml:"publish_retain"`
	SubscribeQoS   byte          `yaml:"subscribe_qos"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			TCPAddr:         ":1883",
			TLSAddr:         "",
			WSAddr:          "",
			WSSAddr:         "",
			TLSClientAuth:   "none",
			ShutdownTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			Region:          "us-east-1",
			TokenUse:        "access",
			TokenExpiration: time.Hour,
		},
		UserInfo: UserInfoConfig{
			Enabled:   false,
			Timeout:   5 * time.Second,
			CacheSize: 1024,
			CacheTTL:  5 * time.Minute,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			Connection: ConnectionRateConfig{
				Enabled:         true,
				Rate:            100.0 / 60.0, // 100 connections per minute per IP
				Burst:           20,
				CleanupInterval: 5 * time.Minute,
			},
			Message: ClientRateConfig{
				Enabled: true,
				Rate:    1000,
				Burst:   100,
			},
			Subscribe: ClientRateConfig{
				Enabled: true,
				Rate:    100,
				Burst:   10,
			},
		},
		Webhook: WebhookConfig{
			Enabled:         false,
			QueueSize:       10000,
			DropPolicy:      "oldest",
			Workers:         5,
			IncludePayload:  false,
			ShutdownTimeout: 30 * time.Second,
			Defaults: WebhookDefaults{
				Timeout: 5 * time.Second,
				Retry: RetryConfig{
					MaxAttempts:     3,
					InitialInterval: 1 * time.Second,
					MaxInterval:     30 * time.Second,
					Multiplier:      2.0,
				},
				CircuitBreaker: CircuitBreakerConfig{
					FailureThreshold: 5,
					ResetTimeout:     60 * time.Second,
				},
			},
			Endpoints: []WebhookEndpoint{},
		},
		Health: HealthConfig{
			Enabled: true,
			Addr:    ":8081",
		},
		Otel: OtelConfig{
			Enabled:         false,
			Endpoint:        "localhost:4317",
			Insecure:        true,
			ServiceName:     "mqttgate",
			ServiceVersion:  "1.0.0",
			MetricsEnabled:  true,
			TracesEnabled:   false,
			TraceSampleRate: 0.1,
		},
		Client: ClientConfig{
			URL:            "tcp://localhost:1883",
			AccessType:     "static",
			CleanSession:   true,
			KeepAlive:      60 * time.Second,
			ConnectTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	s := c.Server
	if s.TCPAddr == "" && s.TLSAddr == "" && s.WSAddr == "" && s.WSSAddr == "" {
		return fmt.Errorf("server: at least one listener address is required")
	}
	if s.TLSEnabled() {
		if s.TLSCertFile == "" {
			return fmt.Errorf("server.tls_cert_file required when a TLS listener is configured")
		}
		if s.TLSKeyFile == "" {
			return fmt.Errorf("server.tls_key_file required when a TLS listener is configured")
		}

		validClientAuth := map[string]bool{"none": true, "request": true, "require": true}
		if !validClientAuth[s.TLSClientAuth] {
			return fmt.Errorf("server.tls_client_auth must be one of: none, request, require")
		}
		if (s.TLSClientAuth == "request" || s.TLSClientAuth == "require") && s.TLSCAFile == "" {
			return fmt.Errorf("server.tls_ca_file required when tls_client_auth is '%s'", s.TLSClientAuth)
		}
	}

	if c.Auth.TokenUse != "access" && c.Auth.TokenUse != "id" {
		return fmt.Errorf("auth.token_use must be 'access' or 'id'")
	}
	if c.Auth.TokenExpiration <= 0 {
		return fmt.Errorf("auth.token_expiration must be positive")
	}

	if c.UserInfo.Enabled {
		if c.UserInfo.Domain == "" {
			return fmt.Errorf("userinfo.domain required when userinfo is enabled")
		}
		if c.UserInfo.CircuitBreaker.FailureThreshold < 1 {
			return fmt.Errorf("userinfo.circuit_breaker.failure_threshold must be at least 1")
		}
	}

	if c.RateLimit.Enabled && c.RateLimit.Connection.Enabled {
		if c.RateLimit.Connection.Rate <= 0 || c.RateLimit.Connection.Burst < 1 {
			return fmt.Errorf("ratelimit.connection rate and burst must be positive")
		}
		if c.RateLimit.Connection.CleanupInterval <= 0 {
			return fmt.Errorf("ratelimit.connection.cleanup_interval must be positive")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if c.Health.Enabled && c.Health.Addr == "" {
		return fmt.Errorf("health.addr required when health is enabled")
	}

	if c.Otel.Enabled {
		if c.Otel.ServiceName == "" {
			return fmt.Errorf("otel.service_name cannot be empty when otel is enabled")
		}
		if c.Otel.TraceSampleRate < 0.0 || c.Otel.TraceSampleRate > 1.0 {
			return fmt.Errorf("otel.trace_sample_rate must be between 0.0 and 1.0")
		}
	}

	if c.Webhook.Enabled {
		if c.Webhook.QueueSize < 100 {
			return fmt.Errorf("webhook.queue_size must be at least 100")
		}
		if c.Webhook.DropPolicy != "oldest" && c.Webhook.DropPolicy != "newest" {
			return fmt.Errorf("webhook.drop_policy must be 'oldest' or 'newest'")
		}
		if c.Webhook.Workers < 1 {
			return fmt.Errorf("webhook.workers must be at least 1")
		}
		if c.Webhook.Defaults.Timeout < time.Second {
			return fmt.Errorf("webhook.defaults.timeout must be at least 1 second")
		}
		if c.Webhook.Defaults.Retry.MaxAttempts < 1 {
			return fmt.Errorf("webhook.defaults.retry.max_attempts must be at least 1")
		}
		if c.Webhook.Defaults.Retry.Multiplier < 1.0 {
			return fmt.Errorf("webhook.defaults.retry.multiplier must be at least 1.0")
		}
		if c.Webhook.Defaults.CircuitBreaker.FailureThreshold < 1 {
			return fmt.Errorf("webhook.defaults.circuit_breaker.failure_threshold must be at least 1")
		}
		for i, endpoint := range c.Webhook.Endpoints {
			if endpoint.Name == "" {
				return fmt.Errorf("webhook.endpoints[%d].name cannot be empty", i)
			}
			if endpoint.URL == "" {
				return fmt.Errorf("webhook.endpoints[%d].url cannot be empty", i)
			}
		}
	}

	return c.Client.validate()
}

func (cc ClientConfig) validate() error {
	if cc.AccessType != "static" && cc.AccessType != "client_credentials" {
		return fmt.Errorf("client.access_type must be 'static' or 'client_credentials'")
	}
	if cc.AccessType == "client_credentials" && cc.AuthDomain == "" {
		return fmt.Errorf("client.auth_domain required for client_credentials access")
	}
	if cc.PublishQoS > 2 || cc.SubscribeQoS > 2 {
		return fmt.Errorf("client QoS levels must be 0, 1 or 2")
	}
	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
