// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/absmach/mqttgate/config"
	"github.com/absmach/mqttgate/gate"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func newTestGate(t *testing.T, rec *recorder) *gate.Gate {
	t.Helper()
	g, err := gate.New(gate.TokenValidatorFunc(validator),
		gate.WithObserver(rec),
		gate.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	return g
}

func TestNewWithoutListeners(t *testing.T) {
	_, err := New(config.ServerConfig{}, newTestGate(t, &recorder{}), slog.New(slog.DiscardHandler))
	assert.ErrorIs(t, err, ErrNoListeners)
}

func TestNewTLSWithoutCertificates(t *testing.T) {
	_, err := New(config.ServerConfig{TLSAddr: freeAddr(t)}, newTestGate(t, &recorder{}), slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}

func TestServer(t *testing.T) {
	addr := freeAddr(t)
	rec := &recorder{}

	srv, err := New(config.ServerConfig{TCPAddr: addr}, newTestGate(t, rec), slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	endpoints := srv.Endpoints()
	require.Len(t, endpoints, 1)
	assert.Equal(t, gate.EndpointMQTT, endpoints[0].Kind)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool {
		return len(rec.Events()) > 0 && rec.Events()[0] == "ready"
	}, 2*time.Second, 10*time.Millisecond)

	dial := func(id, password string, lost chan<- struct{}) (paho.Client, error) {
		opts := paho.NewClientOptions().
			AddBroker("tcp://" + addr).
			SetClientID(id).
			SetUsername("device").
			SetPassword(password).
			SetAutoReconnect(false).
			SetConnectTimeout(2 * time.Second).
			SetConnectionLostHandler(func(paho.Client, error) {
				if lost != nil {
					close(lost)
				}
			})
		c := paho.NewClient(opts)
		tok := c.Connect()
		if !tok.WaitTimeout(3 * time.Second) {
			return nil, context.DeadlineExceeded
		}
		return c, tok.Error()
	}

	t.Run("rejects invalid token", func(t *testing.T) {
		_, err := dial("intruder", "forged", nil)
		assert.Error(t, err)
	})

	t.Run("delivers to other subscribers", func(t *testing.T) {
		subLost := make(chan struct{})
		subscriber, err := dial("subscriber", goodToken, subLost)
		require.NoError(t, err)
		defer subscriber.Disconnect(100)

		received := make(chan string, 4)
		sub := subscriber.Subscribe("/data/#", 1, func(_ paho.Client, m paho.Message) {
			received <- m.Topic() + " " + string(m.Payload())
		})
		require.True(t, sub.WaitTimeout(2*time.Second))
		require.NoError(t, sub.Error())

		pubLost := make(chan struct{})
		publisher, err := dial("publisher", parentToken, pubLost)
		require.NoError(t, err)
		defer publisher.Disconnect(100)

		// The publisher may use /data; the subscriber's filter matches the
		// parent level without permitting it literally.
		pub := publisher.Publish("/data", 1, false, []byte("21.5"))
		require.True(t, pub.WaitTimeout(2*time.Second))
		require.NoError(t, pub.Error())

		select {
		case msg := <-received:
			assert.Equal(t, "/data 21.5", msg)
		case <-time.After(3 * time.Second):
			t.Fatal("expected the subscriber to receive the message")
		}

		select {
		case <-subLost:
			t.Fatal("subscriber was disconnected by another client's publish")
		case <-pubLost:
			t.Fatal("publisher was disconnected")
		case <-time.After(200 * time.Millisecond):
		}
		assert.True(t, subscriber.IsConnectionOpen())
		assert.True(t, publisher.IsConnectionOpen())
		assert.Equal(t, 2, srv.Sessions())
	})

	t.Run("closes session on denied publish", func(t *testing.T) {
		lost := make(chan struct{})
		c, err := dial("device-1", goodToken, lost)
		require.NoError(t, err)

		sub := c.Subscribe("/data/#", 1, nil)
		require.True(t, sub.WaitTimeout(2*time.Second))
		require.NoError(t, sub.Error())

		require.Eventually(t, func() bool { return srv.Sessions() == 1 }, 2*time.Second, 10*time.Millisecond)

		c.Publish("/other", 0, false, []byte("x"))

		select {
		case <-lost:
		case <-time.After(3 * time.Second):
			t.Fatal("expected the broker to drop the connection")
		}

		require.Eventually(t, func() bool { return srv.Sessions() == 0 }, 2*time.Second, 10*time.Millisecond)
		assert.Contains(t, rec.Events(), "connected:device-1")
		assert.Contains(t, rec.Events(), "subscribed:/data/#")
		assert.Contains(t, rec.Events(), "disconnected:device-1")
	})
}
