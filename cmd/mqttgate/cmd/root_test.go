// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/absmach/mqttgate/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", slog.String("key", "value"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "value", line["key"])
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "debug"}, &buf)

	logger.Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")
}

func TestNewClient(t *testing.T) {
	cfg := config.Default().Client

	c, err := newClient(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.False(t, c.Connected())
}

func TestNewClientInvalidMode(t *testing.T) {
	cfg := config.Default().Client
	cfg.AccessType = "password"

	_, err := newClient(cfg, slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}

func TestCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "publish", "subscribe"} {
		assert.True(t, names[want], want)
	}
	assert.NotNil(t, serveCmd.Flags().Lookup("topics"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}
