// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"
)

// Client errors.
var (
	// Configuration errors.
	ErrNoServer     = errors.New("no broker URL configured")
	ErrNoResolver   = errors.New("credential resolver cannot be nil")
	ErrNoDialer     = errors.New("transport dialer cannot be nil")
	ErrInvalidQoS   = errors.New("invalid QoS level (must be 0, 1, or 2)")
	ErrEmptyTopic   = errors.New("topic cannot be empty")
	ErrNoTopics     = errors.New("at least one topic is required")
	ErrNotConnected = errors.New("client not connected")
	ErrTimeout      = errors.New("operation timed out")

	// Broker responses.
	ErrRefused = errors.New("broker refused the request")
)

// Connection stages reported by ConnectionError.
const (
	StageResolve = "resolve"
	StageDial    = "dial"
)

// ConnectionError reports a failed Connect.
type ConnectionError struct {
	Stage string
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect failed during %s: %v", e.Stage, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// RefusalCode is the SUBACK/PUBACK return code marking a refused request.
const RefusalCode byte = 0x80

func refused(codes []byte) bool {
	for _, c := range codes {
		if c >= RefusalCode {
			return true
		}
	}
	return false
}
