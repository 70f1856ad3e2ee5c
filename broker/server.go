// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package broker runs an embedded mochi MQTT broker whose authentication and
// authorization are delegated to the gate.
package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"

	"github.com/absmach/mqttgate/config"
	"github.com/absmach/mqttgate/gate"
	gatetls "github.com/absmach/mqttgate/pkg/tls"
	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"
)

// ErrNoListeners is returned when every listener address is empty.
var ErrNoListeners = errors.New("broker: no listeners configured")

// Server is an MQTT broker guarded by gate hooks.
type Server struct {
	cfg       config.ServerConfig
	mqtt      *mqtt.Server
	hook      *Hook
	endpoints []gate.Endpoint
	cancel    context.CancelFunc
	logger    *slog.Logger
}

// New builds the broker and binds its listeners.
func New(cfg config.ServerConfig, hooks gate.Hooks, logger *slog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		cancel: cancel,
		logger: logger,
		mqtt:   mqtt.New(&mqtt.Options{Logger: logger}),
	}
	s.hook = NewHook(ctx, hooks, s.Endpoints, append([]Option{WithLogger(logger)}, opts...)...)

	if err := s.mqtt.AddHook(s.hook, nil); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to add gate hook: %w", err)
	}

	if err := s.addListeners(); err != nil {
		cancel()
		_ = s.mqtt.Close()
		return nil, err
	}

	return s, nil
}

func (s *Server) addListeners() error {
	var tlsConfig *tls.Config
	if s.cfg.TLSEnabled() {
		var err error
		tlsConfig, err = gatetls.LoadTLSConfig(gatetls.Config{
			CertFile:     s.cfg.TLSCertFile,
			KeyFile:      s.cfg.TLSKeyFile,
			ClientCAFile: s.cfg.TLSCAFile,
			ClientAuth:   s.cfg.TLSClientAuth,
		})
		if err != nil {
			return fmt.Errorf("failed to load tls config: %w", err)
		}
		s.logger.Info("tls configured", slog.String("status", gatetls.SecurityStatus(tlsConfig)))
	}

	binds := []struct {
		kind    gate.EndpointKind
		address string
		tls     *tls.Config
	}{
		{gate.EndpointMQTT, s.cfg.TCPAddr, nil},
		{gate.EndpointMQTTS, s.cfg.TLSAddr, tlsConfig},
		{gate.EndpointWS, s.cfg.WSAddr, nil},
		{gate.EndpointWSS, s.cfg.WSSAddr, tlsConfig},
	}

	for _, b := range binds {
		if b.address == "" {
			continue
		}

		lc := listeners.Config{
			ID:        string(b.kind),
			Address:   b.address,
			TLSConfig: b.tls,
		}
		var l listeners.Listener
		switch b.kind {
		case gate.EndpointWS, gate.EndpointWSS:
			l = listeners.NewWebsocket(lc)
		default:
			l = listeners.NewTCP(lc)
		}

		if err := s.mqtt.AddListener(l); err != nil {
			return fmt.Errorf("failed to add %s listener on %s: %w", b.kind, b.address, err)
		}
		s.endpoints = append(s.endpoints, gate.Endpoint{Kind: b.kind, Address: l.Address()})
	}

	if len(s.endpoints) == 0 {
		return ErrNoListeners
	}
	return nil
}

// Endpoints returns the bound listeners.
func (s *Server) Endpoints() []gate.Endpoint {
	return append([]gate.Endpoint(nil), s.endpoints...)
}

// Sessions returns the number of connected clients known to the gate.
func (s *Server) Sessions() int {
	return s.hook.Sessions()
}

// Serve starts the broker and blocks until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.mqtt.Serve(); err != nil {
		return fmt.Errorf("failed to start broker: %w", err)
	}

	<-ctx.Done()
	return s.Close()
}

// Close stops listeners and disconnects all clients.
func (s *Server) Close() error {
	s.cancel()
	return s.mqtt.Close()
}
