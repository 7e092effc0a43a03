// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package capability

import (
	"sort"
	"strings"
)

// Capability is a permission token gating one category of context operations.
// The vocabulary is closed: only the constants below exist.
type Capability uint16

// Capability vocabulary.
const (
	DocumentRead Capability = 1 << iota
	DocumentWrite
	SelectionRead
	SelectionWrite
	UIRead
	UIWrite
	EventsEmit
	EventsSubscribe
	ExtensionsDefine
	ExtensionsContribute
	ServicesProvide
	ServicesConsume
	StorageLocal

	// sentinel marks the end of the vocabulary.
	sentinel
)

var names = map[Capability]string{
	DocumentRead:         "document:read",
	DocumentWrite:        "document:write",
	SelectionRead:        "selection:read",
	SelectionWrite:       "selection:write",
	UIRead:               "ui:read",
	UIWrite:              "ui:write",
	EventsEmit:           "events:emit",
	EventsSubscribe:      "events:subscribe",
	ExtensionsDefine:     "extensions:define",
	ExtensionsContribute: "extensions:contribute",
	ServicesProvide:      "services:provide",
	ServicesConsume:      "services:consume",
	StorageLocal:         "storage:local",
}

var byName = func() map[string]Capability {
	m := make(map[string]Capability, len(names))
	for c, n := range names {
		m[n] = c
	}
	return m
}()

// String returns the manifest token for the capability.
func (c Capability) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "unknown"
}

// Parse converts a manifest token into a Capability.
func Parse(token string) (Capability, bool) {
	c, ok := byName[token]
	return c, ok
}

// All returns every capability in the vocabulary, in declaration order.
func All() []Capability {
	all := make([]Capability, 0, len(names))
	for c := Capability(1); c < sentinel; c <<= 1 {
		all = append(all, c)
	}
	return all
}

// Tokens returns the manifest tokens of the vocabulary, sorted.
func Tokens() []string {
	tokens := make([]string, 0, len(names))
	for _, n := range names {
		tokens = append(tokens, n)
	}
	sort.Strings(tokens)
	return tokens
}

// Set is a bit set of capabilities.
type Set uint16

// NewSet builds a set from capabilities.
func NewSet(caps ...Capability) Set {
	var s Set
	for _, c := range caps {
		s |= Set(c)
	}
	return s
}

// ParseSet converts manifest tokens into a set. Unknown tokens are returned
// separately so validators can report every one of them.
func ParseSet(tokens []string) (Set, []string) {
	var (
		s       Set
		unknown []string
	)
	for _, t := range tokens {
		c, ok := Parse(t)
		if !ok {
			unknown = append(unknown, t)
			continue
		}
		s |= Set(c)
	}
	return s, unknown
}

// Has reports whether the set contains c.
func (s Set) Has(c Capability) bool {
	return s&Set(c) != 0
}

// With returns a copy of the set including c.
func (s Set) With(c Capability) Set {
	return s | Set(c)
}

// Capabilities lists the members of the set in declaration order.
func (s Set) Capabilities() []Capability {
	var caps []Capability
	for _, c := range All() {
		if s.Has(c) {
			caps = append(caps, c)
		}
	}
	return caps
}

// String renders the set as a comma separated token list.
func (s Set) String() string {
	caps := s.Capabilities()
	tokens := make([]string, len(caps))
	for i, c := range caps {
		tokens[i] = c.String()
	}
	return strings.Join(tokens, ",")
}
