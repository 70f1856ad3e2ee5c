// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/absmach/mqttgate/client"
	"github.com/absmach/mqttgate/topics"
	"github.com/spf13/cobra"
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <filter>...",
	Short: "Subscribe through the gate and print received messages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(os.Stderr)
		if err != nil {
			return err
		}
		if err := topics.ValidateFilters(args); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		c, err := newClient(cfg.Client, logger, client.WithMessageHandler(func(topic string, payload []byte) {
			fmt.Fprintf(out, "%s %s\n", topic, payload)
		}))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := c.Connect(ctx); err != nil {
			return err
		}

		c.Subscribe(ctx, args...)
		if !c.Connected() {
			return errDisconnected
		}

		<-ctx.Done()
		c.Disconnect(false, nil)
		return nil
	},
}
