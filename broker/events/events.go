// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package events defines the notifications emitted for gate decisions and
// session lifecycle changes.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants.
const (
	TypeClientConnected     = "client.connected"
	TypeClientDisconnected  = "client.disconnected"
	TypeMessagePublished    = "message.published"
	TypeSubscriptionCreated = "subscription.created"
	TypeSubscriptionRemoved = "subscription.removed"
	TypeAuthFailed          = "auth.failed"
	TypeAuthzDenied         = "authz.denied"
)

// Event is the common interface for all webhook events.
type Event interface {
	// Type returns the event type identifier (e.g., "client.connected")
	Type() string

	// Topic returns the MQTT topic or filter, empty for connection events
	Topic() string
}

// Envelope is the common wrapper for all webhook events.
type Envelope struct {
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	BrokerID  string `json:"broker_id"`
	Data      any    `json:"data"`
}

// Wrap wraps an event in an envelope with a fresh ID and timestamp.
func Wrap(e Event, brokerID string) *Envelope {
	return &Envelope{
		EventType: e.Type(),
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		BrokerID:  brokerID,
		Data:      e,
	}
}

// MarshalJSON serializes the envelope to JSON.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	type envelope Envelope
	return json.Marshal((*envelope)(e))
}

// ClientConnected is emitted when an authenticated client connects.
type ClientConnected struct {
	ClientID   string   `json:"client_id"`
	Subject    string   `json:"subject,omitempty"`
	RemoteAddr string   `json:"remote_addr"`
	Topics     []string `json:"topics"`
}

func (ClientConnected) Type() string  { return TypeClientConnected }
func (ClientConnected) Topic() string { return "" }

// ClientDisconnected is emitted when a client disconnects.
type ClientDisconnected struct {
	ClientID   string `json:"client_id"`
	Subject    string `json:"subject,omitempty"`
	RemoteAddr string `json:"remote_addr"`
}

func (ClientDisconnected) Type() string  { return TypeClientDisconnected }
func (ClientDisconnected) Topic() string { return "" }

// MessagePublished is emitted when a message is accepted by the broker.
type MessagePublished struct {
	ClientID     string `json:"client_id"`
	MessageTopic string `json:"topic"`
	QoS          byte   `json:"qos"`
	Retained     bool   `json:"retained"`
	PayloadSize  int    `json:"payload_size"`
	Payload      string `json:"payload,omitempty"` // base64 encoded, optional
}

func (MessagePublished) Type() string    { return TypeMessagePublished }
func (e MessagePublished) Topic() string { return e.MessageTopic }

// SubscriptionCreated is emitted when a client subscribes to a filter.
type SubscriptionCreated struct {
	ClientID    string `json:"client_id"`
	TopicFilter string `json:"topic_filter"`
}

func (SubscriptionCreated) Type() string    { return TypeSubscriptionCreated }
func (e SubscriptionCreated) Topic() string { return e.TopicFilter }

// SubscriptionRemoved is emitted when a client unsubscribes from a filter.
type SubscriptionRemoved struct {
	ClientID    string `json:"client_id"`
	TopicFilter string `json:"topic_filter"`
}

func (SubscriptionRemoved) Type() string    { return TypeSubscriptionRemoved }
func (e SubscriptionRemoved) Topic() string { return e.TopicFilter }

// AuthFailed is emitted when a connecting client fails authentication.
type AuthFailed struct {
	ClientID   string `json:"client_id"`
	RemoteAddr string `json:"remote_addr"`
	Reason     string `json:"reason"`
}

func (AuthFailed) Type() string  { return TypeAuthFailed }
func (AuthFailed) Topic() string { return "" }

// AuthzDenied is emitted when a publish or subscribe is denied and the
// session is closed.
type AuthzDenied struct {
	ClientID       string `json:"client_id"`
	Subject        string `json:"subject,omitempty"`
	Action         string `json:"action"`
	RequestedTopic string `json:"topic"`
}

func (AuthzDenied) Type() string    { return TypeAuthzDenied }
func (e AuthzDenied) Topic() string { return e.RequestedTopic }
