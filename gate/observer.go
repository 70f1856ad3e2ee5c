// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gate

import "fmt"

// EndpointKind identifies a transport the broker listens on.
type EndpointKind string

// Endpoint kinds.
const (
	EndpointMQTT  EndpointKind = "mqtt"
	EndpointMQTTS EndpointKind = "mqtts"
	EndpointWS    EndpointKind = "ws"
	EndpointWSS   EndpointKind = "wss"
)

// Endpoint is an active broker listener.
type Endpoint struct {
	Kind    EndpointKind
	Address string
}

// String returns a human readable endpoint description.
func (e Endpoint) String() string {
	switch e.Kind {
	case EndpointMQTT:
		return fmt.Sprintf("MQTT on %s", e.Address)
	case EndpointMQTTS:
		return fmt.Sprintf("MQTTS/TLS on %s", e.Address)
	case EndpointWS:
		return fmt.Sprintf("MQTT/HTTP on %s", e.Address)
	case EndpointWSS:
		return fmt.Sprintf("WSS/HTTPS on %s", e.Address)
	default:
		return fmt.Sprintf("%s on %s", e.Kind, e.Address)
	}
}

// Message is a published MQTT message.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Action is the operation being authorized.
type Action string

// Authorized actions.
const (
	ActionPublish   Action = "publish"
	ActionSubscribe Action = "subscribe"
)

// Observer receives session lifecycle notifications. Notifications never
// influence authorization decisions.
type Observer interface {
	Ready(endpoints []Endpoint)
	ClientConnected(s Session)
	ClientDisconnecting(s Session)
	ClientDisconnected(s Session)
	Published(s Session, msg Message)
	Subscribed(s Session, filter string)
	Unsubscribed(s Session, filter string)
}

// DecisionObserver is implemented by observers that also want to hear about
// authentication failures and authorization denials.
type DecisionObserver interface {
	AuthenticationFailed(s Session, err error)
	AuthorizationDenied(s Session, action Action, topic string)
}

// NopObserver ignores every notification. Embed it to implement only the
// notifications you need.
type NopObserver struct{}

var _ Observer = NopObserver{}

func (NopObserver) Ready([]Endpoint) {}
func (NopObserver) ClientConnected(Session) {}
func (NopObserver) ClientDisconnecting(Session) {}
func (NopObserver) ClientDisconnected(Session) {}
func (NopObserver) Published(Session, Message) {}
func (NopObserver) Subscribed(Session, string) {}
func (NopObserver) Unsubscribed(Session, string) {}
