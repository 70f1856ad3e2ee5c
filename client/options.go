// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"crypto/tls"
	"time"
)

// Default values.
const (
	DefaultKeepAlive      = 60 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultOpTimeout      = 10 * time.Second
)

// PublishOptions are applied to every Publish.
type PublishOptions struct {
	QoS    byte
	Retain bool
}

// SubscribeOptions are applied to every Subscribe.
type SubscribeOptions struct {
	QoS byte
}

// Options are the static connection options merged with resolved credentials.
type Options struct {
	// Connection
	Server         string        // Broker URL (tcp://, ssl://, ws://, wss://)
	ClientID       string        // Client identifier (empty lets the broker assign one)
	TLSConfig      *tls.Config   // TLS configuration for ssl:// and wss://
	ConnectTimeout time.Duration // Timeout for connection attempts
	KeepAlive      time.Duration // Keep-alive interval
	CleanSession   bool          // Start with clean session
	OpTimeout      time.Duration // Timeout waiting for PUBACK/SUBACK/UNSUBACK

	Publish   PublishOptions
	Subscribe SubscribeOptions
}

// NewOptions creates options with defaults.
func NewOptions() *Options {
	return &Options{
		ConnectTimeout: DefaultConnectTimeout,
		KeepAlive:      DefaultKeepAlive,
		CleanSession:   true,
		OpTimeout:      DefaultOpTimeout,
	}
}

// SetServer sets the broker URL.
func (o *Options) SetServer(url string) *Options {
	o.Server = url
	return o
}

// SetClientID sets the client identifier.
func (o *Options) SetClientID(id string) *Options {
	o.ClientID = id
	return o
}

// SetTLSConfig sets the TLS configuration.
func (o *Options) SetTLSConfig(cfg *tls.Config) *Options {
	o.TLSConfig = cfg
	return o
}

// SetCleanSession sets the clean session flag.
func (o *Options) SetCleanSession(clean bool) *Options {
	o.CleanSession = clean
	return o
}

// SetKeepAlive sets the keep-alive interval.
func (o *Options) SetKeepAlive(d time.Duration) *Options {
	o.KeepAlive = d
	return o
}

// SetPublishOptions sets the QoS and retain flag used by Publish.
func (o *Options) SetPublishOptions(qos byte, retain bool) *Options {
	o.Publish = PublishOptions{QoS: qos, Retain: retain}
	return o
}

// SetSubscribeQoS sets the QoS requested by Subscribe.
func (o *Options) SetSubscribeQoS(qos byte) *Options {
	o.Subscribe.QoS = qos
	return o
}

// Validate checks the options for errors.
func (o *Options) Validate() error {
	if o.Server == "" {
		return ErrNoServer
	}
	if o.Publish.QoS > 2 || o.Subscribe.QoS > 2 {
		return ErrInvalidQoS
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = DefaultOpTimeout
	}
	if o.KeepAlive < 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	return nil
}
