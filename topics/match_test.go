// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics_test

import (
	"sync"
	"testing"

	"github.com/absmach/mqttgate/topics"
	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		filters []string
		want    bool
	}{
		{"literal match", "foo/bar", []string{"foo/bar"}, true},
		{"literal mismatch", "foo/baz", []string{"foo/bar"}, false},
		{"literal prefix is not a match", "foo/bar/baz", []string{"foo/bar"}, false},
		{"literal with regexp metachars", "a.b/(c)", []string{"a.b/(c)"}, true},
		{"dot is not a wildcard", "aXb", []string{"a.b"}, false},
		{"wildcard filter matches itself", "/topic/+/name", []string{"/topic/+/name"}, true},
		{"single level", "/topic/something/name", []string{"/topic/+/name"}, true},
		{"single level never spans a slash", "/topic/a/b/name", []string{"/topic/+/name"}, false},
		{"single level needs content", "/topic//name", []string{"/topic/+/name"}, false},
		{"multi level deep", "/topic/name/anything/deep", []string{"/topic/name/#"}, true},
		{"multi level zero segments", "/topic/name/", []string{"/topic/name/#"}, true},
		{"multi level matches itself", "/topic/name/#", []string{"/topic/name/#"}, true},
		{"content after multi level", "/topic/name/#/middle", []string{"/topic/name/#"}, false},
		{"multiple multi level", "/topic/name/#/middle/#", []string{"/topic/name/#"}, false},
		{"bare multi level", "anything/at/all", []string{"#"}, true},
		{"any filter in the set", "b/c", []string{"a/#", "b/+"}, true},
		{"no filter in the set", "c/d", []string{"a/#", "b/+"}, false},
		{"empty filters", "a", []string{}, false},
		{"nil filters", "a", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, topics.Matches(tt.topic, tt.filters))
		})
	}
}

func TestMatchesLiteralIffEqual(t *testing.T) {
	literals := []string{"a", "a/b", "/a/b", "a/b/", "sensors/temp", "x.y", "$SYS/info"}
	for _, f := range literals {
		for _, topic := range literals {
			assert.Equal(t, f == topic, topics.Matches(topic, []string{f}), "filter %q topic %q", f, topic)
		}
	}
}

func TestSet(t *testing.T) {
	set := topics.NewSet("hello/world", "devices/+/telemetry", "alerts/#")

	assert.True(t, set.Matches("hello/world"))
	assert.True(t, set.Matches("devices/d1/telemetry"))
	assert.True(t, set.Matches("alerts/high/cpu"))
	assert.False(t, set.Matches("devices/d1/d2/telemetry"))
	assert.Equal(t, []string{"hello/world", "devices/+/telemetry", "alerts/#"}, set.Filters())

	var empty *topics.Set
	assert.False(t, empty.Matches("hello/world"))
	assert.Empty(t, empty.Filters())
}

func TestSetConcurrentUse(t *testing.T) {
	set := topics.NewSet("a/+/c")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.True(t, set.Matches("a/b/c"))
				assert.False(t, topics.Matches("a/b/b/c", []string{"a/+/c"}))
			}
		}()
	}
	wg.Wait()
}
