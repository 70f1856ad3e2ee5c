// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics_test

import (
	"errors"
	"testing"

	"github.com/absmach/mqttgate/topics"
)

func TestValidateFilter(t *testing.T) {
	tests := []struct {
		filter string
		want   error
	}{
		{"valid/topic", nil},
		{"valid/+/topic", nil},
		{"valid/#", nil},
		{"#", nil},
		{"+", nil},
		{"", topics.ErrEmptyFilter},
		{string([]byte{0xFF, 0xFE}), topics.ErrInvalidFilter},
		{"null\u0000char", topics.ErrInvalidFilter},
		{"a/#/b", topics.ErrMultiLevelPosition},
		{"a/b#", topics.ErrMultiLevelPosition},
		{"a/b+/c", topics.ErrSingleLevelMixed},
	}

	for _, tt := range tests {
		if err := topics.ValidateFilter(tt.filter); !errors.Is(err, tt.want) {
			t.Errorf("ValidateFilter(%q) error = %v, want %v", tt.filter, err, tt.want)
		}
	}
}

func TestValidateFilters(t *testing.T) {
	if err := topics.ValidateFilters([]string{"a/+", "b/#"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := topics.ValidateFilters([]string{"a/+", "b/#/c"}); !errors.Is(err, topics.ErrMultiLevelPosition) {
		t.Errorf("expected ErrMultiLevelPosition, got %v", err)
	}
}
