// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/absmach/mqttgate/credentials"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// gracefulQuiesce is how long a non-forced close waits for in-flight work.
const gracefulQuiesce = 250 * time.Millisecond

// PahoDialer dials sessions with the Eclipse Paho client.
type PahoDialer struct{}

var _ Dialer = PahoDialer{}

// Dial connects to opts.Server with cred. Reconnects are left to the caller,
// since every connect must resolve credentials afresh.
func (PahoDialer) Dial(ctx context.Context, cred credentials.Credential, opts Options) (Transport, error) {
	t := &pahoTransport{opTimeout: opts.OpTimeout}

	po := mqtt.NewClientOptions().
		AddBroker(opts.Server).
		SetClientID(opts.ClientID).
		SetUsername(cred.Username).
		SetPassword(cred.Password).
		SetCleanSession(opts.CleanSession).
		SetKeepAlive(opts.KeepAlive).
		SetConnectTimeout(opts.ConnectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetDefaultPublishHandler(t.deliver)
	if opts.TLSConfig != nil {
		po.SetTLSConfig(opts.TLSConfig)
	}

	t.client = mqtt.NewClient(po)
	if err := wait(ctx, t.client.Connect(), opts.ConnectTimeout); err != nil {
		t.client.Disconnect(0)
		return nil, err
	}

	return t, nil
}

type pahoTransport struct {
	client    mqtt.Client
	opTimeout time.Duration
	handler   atomic.Pointer[MessageHandler]
}

func (t *pahoTransport) Publish(ctx context.Context, topic string, payload []byte, opts PublishOptions) ([]byte, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	// Paho does not surface PUBACK reason codes for MQTT 3.1.1.
	return nil, wait(ctx, t.client.Publish(topic, opts.QoS, opts.Retain, payload), t.opTimeout)
}

func (t *pahoTransport) Subscribe(ctx context.Context, filters []string, opts SubscribeOptions) ([]byte, error) {
	if len(filters) == 0 {
		return nil, ErrNoTopics
	}

	req := make(map[string]byte, len(filters))
	for _, f := range filters {
		req[f] = opts.QoS
	}

	tok := t.client.SubscribeMultiple(req, nil)
	if err := wait(ctx, tok, t.opTimeout); err != nil {
		return nil, err
	}

	st, ok := tok.(*mqtt.SubscribeToken)
	if !ok {
		return nil, nil
	}
	granted := st.Result()
	codes := make([]byte, 0, len(filters))
	for _, f := range filters {
		if c, ok := granted[f]; ok {
			codes = append(codes, c)
		}
	}
	return codes, nil
}

func (t *pahoTransport) Unsubscribe(ctx context.Context, filters []string) ([]byte, error) {
	if len(filters) == 0 {
		return nil, ErrNoTopics
	}
	return nil, wait(ctx, t.client.Unsubscribe(filters...), t.opTimeout)
}

func (t *pahoTransport) OnMessage(h MessageHandler) {
	t.handler.Store(&h)
}

func (t *pahoTransport) Close(force bool) error {
	if !t.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	quiesce := uint(gracefulQuiesce.Milliseconds())
	if force {
		quiesce = 0
	}
	t.client.Disconnect(quiesce)
	return nil
}

func (t *pahoTransport) deliver(_ mqtt.Client, msg mqtt.Message) {
	if h := t.handler.Load(); h != nil && *h != nil {
		(*h)(msg.Topic(), msg.Payload())
	}
}

func wait(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
