// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gate

import "errors"

// Gate errors.
var (
	// ErrAuthentication wraps every token validation or enrichment failure.
	ErrAuthentication = errors.New("authentication failed")

	// ErrNilValidator is returned when a gate is built without a token validator.
	ErrNilValidator = errors.New("token validator cannot be nil")
)
