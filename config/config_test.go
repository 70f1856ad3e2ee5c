// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Test server defaults
	if cfg.Server.TCPAddr != ":1883" {
		t.Errorf("expected default TCP addr :1883, got %s", cfg.Server.TCPAddr)
	}
	if cfg.Server.TLSEnabled() {
		t.Error("expected TLS listeners to be disabled by default")
	}

	// Test auth defaults
	if cfg.Auth.Region != "us-east-1" {
		t.Errorf("expected region us-east-1, got %s", cfg.Auth.Region)
	}
	if cfg.Auth.TokenUse != "access" {
		t.Errorf("expected token use access, got %s", cfg.Auth.TokenUse)
	}
	if cfg.Auth.TokenExpiration != time.Hour {
		t.Errorf("expected token expiration 1h, got %v", cfg.Auth.TokenExpiration)
	}

	// Test log defaults
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "default config is valid",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "no listeners configured",
			modify: func(c *Config) {
				c.Server.TCPAddr = ""
			},
			wantErr: true,
		},
		{
			name: "TLS listener without cert",
			modify: func(c *Config) {
				c.Server.TLSAddr = ":8883"
			},
			wantErr: true,
		},
		{
			name: "WSS listener with cert",
			modify: func(c *Config) {
				c.Server.WSSAddr = ":8443"
				c.Server.TLSCertFile = "server.crt"
				c.Server.TLSKeyFile = "server.key"
			},
			wantErr: false,
		},
		{
			name: "client auth without CA",
			modify: func(c *Config) {
				c.Server.TLSAddr = ":8883"
				c.Server.TLSCertFile = "server.crt"
				c.Server.TLSKeyFile = "server.key"
				c.Server.TLSClientAuth = "require"
			},
			wantErr: true,
		},
		{
			name: "invalid token use",
			modify: func(c *Config) {
				c.Auth.TokenUse = "token"
			},
			wantErr: true,
		},
		{
			name: "userinfo without domain",
			modify: func(c *Config) {
				c.UserInfo.Enabled = true
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Log.Level = "invalid"
			},
			wantErr: true,
		},
		{
			name: "trace sample rate out of range",
			modify: func(c *Config) {
				c.Otel.Enabled = true
				c.Otel.TraceSampleRate = 1.5
			},
			wantErr: true,
		},
		{
			name: "webhook endpoint without url",
			modify: func(c *Config) {
				c.Webhook.Enabled = true
				c.Webhook.Endpoints = []WebhookEndpoint{{Name: "audit"}}
			},
			wantErr: true,
		},
		{
			name: "client credentials without auth domain",
			modify: func(c *Config) {
				c.Client.AccessType = "client_credentials"
			},
			wantErr: true,
		},
		{
			name: "client QoS out of range",
			modify: func(c *Config) {
				c.Client.SubscribeQoS = 3
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadNonExistent(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Load() should return default config and no error when file doesn't exist, got error: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load() should return a default config, got nil")
	}

	if cfg.Server.TCPAddr != ":1883" {
		t.Errorf("expected default config, got TCP addr %s", cfg.Server.TCPAddr)
	}
}

func TestLoadPartial(t *testing.T) {
	tmpfile := t.TempDir() + "/config.yaml"
	data := []byte(`
auth:
  user_pool_id: us-east-1_abc123
  topics:
    - hello/world
    - devices/+/telemetry
log:
  level: debug
`)
	if err := os.WriteFile(tmpfile, data, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpfile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.UserPoolID != "us-east-1_abc123" {
		t.Errorf("expected user pool us-east-1_abc123, got %s", cfg.Auth.UserPoolID)
	}
	if len(cfg.Auth.Topics) != 2 || cfg.Auth.Topics[1] != "devices/+/telemetry" {
		t.Errorf("unexpected topics %v", cfg.Auth.Topics)
	}
	// Unset fields keep their defaults.
	if cfg.Auth.Region != "us-east-1" {
		t.Errorf("expected default region, got %s", cfg.Auth.Region)
	}
}

func TestLoadInvalid(t *testing.T) {
	tmpfile := t.TempDir() + "/config.yaml"
	if err := os.WriteFile(tmpfile, []byte("log:\n  format: xml\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpfile); err == nil {
		t.Error("Load() should reject an invalid log format")
	}
}

func TestSaveLoad(t *testing.T) {
	tmpfile := t.TempDir() + "/config.yaml"

	// Create custom config
	cfg := Default()
	cfg.Server.TCPAddr = ":2883"
	cfg.Auth.TokenExpiration = 30 * time.Minute
	cfg.Log.Level = "debug"

	// Save
	if err := cfg.Save(tmpfile); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Load
	loaded, err := Load(tmpfile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify
	if loaded.Server.TCPAddr != ":2883" {
		t.Errorf("expected TCP addr :2883, got %s", loaded.Server.TCPAddr)
	}
	if loaded.Auth.TokenExpiration != 30*time.Minute {
		t.Errorf("expected token expiration 30m, got %v", loaded.Auth.TokenExpiration)
	}
	if loaded.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", loaded.Log.Level)
	}
}
