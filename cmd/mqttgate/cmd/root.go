// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package cmd implements the mqttgate command line.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/absmach/mqttgate/config"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "mqttgate",
	Short: "MQTT broker gated by bearer tokens",
	Long: `mqttgate runs an MQTT broker that authenticates every connection with a
bearer token and authorizes publishes and subscriptions against the topics
the token grants. The publish and subscribe commands connect to it with
freshly resolved credentials.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(subscribeCmd)
}

// loadConfig reads the configuration file and installs the default logger.
func loadConfig(w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}

	logger := newLogger(cfg.Log, w)
	slog.SetDefault(logger)

	return cfg, logger, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}
