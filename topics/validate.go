// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Validation errors.
var (
	ErrEmptyFilter        = errors.New("topic filter is empty")
	ErrInvalidFilter      = errors.New("topic filter contains illegal characters")
	ErrMultiLevelPosition = errors.New("multi-level wildcard must be the last level")
	ErrSingleLevelMixed   = errors.New("single-level wildcard must occupy an entire level")
)

// ValidateFilter checks a topic filter against the MQTT filter rules.
// Matching never calls it; it is used to reject bad configuration early.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrEmptyFilter
	}
	if !utf8.ValidString(filter) || strings.Contains(filter, "\u0000") {
		return ErrInvalidFilter
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return ErrMultiLevelPosition
		}
		if strings.Contains(level, "+") && level != "+" {
			return ErrSingleLevelMixed
		}
	}
	return nil
}

// ValidateFilters validates every filter and returns the first failure.
func ValidateFilters(filters []string) error {
	for _, f := range filters {
		if err := ValidateFilter(f); err != nil {
			return fmt.Errorf("%q: %w", f, err)
		}
	}
	return nil
}
