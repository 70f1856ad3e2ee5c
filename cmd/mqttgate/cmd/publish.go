// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish <topic> [payload]",
	Short: "Publish a message through the gate",
	Long: `Publish connects with freshly resolved credentials and publishes one
message. The payload is read from standard input when omitted.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(os.Stderr)
		if err != nil {
			return err
		}

		var payload []byte
		if len(args) == 2 {
			payload = []byte(args[1])
		} else if payload, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return err
		}

		c, err := newClient(cfg.Client, logger)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if err := c.Connect(ctx); err != nil {
			return err
		}

		c.Publish(ctx, args[0], payload)
		if !c.Connected() {
			return errDisconnected
		}

		c.Disconnect(false, nil)
		return nil
	},
}
