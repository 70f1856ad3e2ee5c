// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/absmach/mqttgate/client"
	"github.com/absmach/mqttgate/config"
	"github.com/absmach/mqttgate/credentials"
	"github.com/google/uuid"
)

var errDisconnected = errors.New("broker refused the request and the session was closed")

func newClient(cfg config.ClientConfig, logger *slog.Logger, opts ...client.Option) (*client.Client, error) {
	resolver, err := credentials.NewResolver(credentials.Config{
		Mode:        credentials.Mode(cfg.AccessType),
		ResourceURL: cfg.AuthDomain,
		Identity:    cfg.Username,
		Secret:      cfg.Password,
		Scope:       cfg.Scope,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create credential resolver: %w", err)
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "mqttgate-" + uuid.NewString()
	}

	o := client.NewOptions().
		SetServer(cfg.URL).
		SetClientID(clientID).
		SetCleanSession(cfg.CleanSession).
		SetPublishOptions(cfg.PublishQoS, cfg.PublishRetain).
		SetSubscribeQoS(cfg.SubscribeQoS)
	if cfg.KeepAlive > 0 {
		o.SetKeepAlive(cfg.KeepAlive)
	}
	if cfg.ConnectTimeout > 0 {
		o.ConnectTimeout = cfg.ConnectTimeout
	}

	return client.New(o, resolver, append([]client.Option{client.WithLogger(logger)}, opts...)...)
}
