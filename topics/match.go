// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import (
	"regexp"
	"strings"
)

const (
	// multiLevel matches anything without '#', optionally followed by a single trailing '#'.
	multiLevel = `(([^#])*(#)?)`
	// singleLevel matches one level: anything that is neither '/' nor '#'.
	singleLevel = `([^/#])+`
)

// Matches reports whether the requested topic is covered by at least one of the filters.
// Filters use MQTT wildcards: '+' for a single level and '#' for the trailing levels.
func Matches(topic string, filters []string) bool {
	for _, filter := range filters {
		if Compile(filter).MatchString(topic) {
			return true
		}
	}
	return false
}

// Compile translates a topic filter into an anchored regular expression.
// Malformed filters are not rejected: a '#' followed by more levels simply
// fails to match topics carrying that trailing content.
func Compile(filter string) *regexp.Regexp {
	var b strings.Builder
	b.Grow(len(filter) + 2)
	b.WriteByte('^')
	for _, r := range filter {
		switch r {
		case '#':
			b.WriteString(multiLevel)
		case '+':
			b.WriteString(singleLevel)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')

	return regexp.MustCompile(b.String())
}

// Set is an immutable, precompiled collection of topic filters.
// It is safe for concurrent use.
type Set struct {
	filters  []string
	patterns []*regexp.Regexp
}

// NewSet compiles the given filters once so repeated checks avoid recompiling.
func NewSet(filters ...string) *Set {
	s := &Set{
		filters:  make([]string, len(filters)),
		patterns: make([]*regexp.Regexp, len(filters)),
	}
	copy(s.filters, filters)
	for i, f := range filters {
		s.patterns[i] = Compile(f)
	}
	return s
}

// Matches reports whether any filter in the set covers the topic.
func (s *Set) Matches(topic string) bool {
	if s == nil {
		return false
	}
	for _, p := range s.patterns {
		if p.MatchString(topic) {
			return true
		}
	}
	return false
}

// Filters returns a copy of the filters in the set.
func (s *Set) Filters() []string {
	if s == nil {
		return []string{}
	}
	out := make([]string, len(s.filters))
	copy(out, s.filters)
	return out
}
