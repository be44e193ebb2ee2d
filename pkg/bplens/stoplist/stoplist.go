// Package stoplist assembles the stopword sets the topic rankers exclude.
package stoplist

import (
	"sort"
	"strings"
)

// Reason records where a stopword came from.
type Reason uint8

const (
	Base       Reason = 1 << iota // general English stopword
	Domain                        // word generic to the whole forum
	Tag                           // tag of the topic being ranked
	Structural                    // keyword already captured from blueprint structure
)

func (r Reason) String() string {
	var parts []string
	for _, p := range []struct {
		bit  Reason
		name string
	}{{Base, "base"}, {Domain, "domain"}, {Tag, "tag"}, {Structural, "structural"}} {
		if r&p.bit != 0 {
			parts = append(parts, p.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Manager holds a set of lowercase stopwords with the reasons they were added.
type Manager struct {
	stops map[string]Reason
}

// NewManager creates a manager seeded with base stopwords.
func NewManager(initialStops []string) *Manager {
	m := &Manager{stops: make(map[string]Reason, len(initialStops))}
	m.Add(Base, initialStops...)
	return m
}

// Add adds tokens with a reason. Tokens are lowercased and trimmed.
func (m *Manager) Add(reason Reason, tokens ...string) {
	for _, t := range tokens {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		m.stops[t] |= reason
	}
}

// IsStop checks if a token is a stopword
func (m *Manager) IsStop(token string) bool {
	_, ok := m.stops[strings.ToLower(token)]
	return ok
}

// Why returns the reasons a token is a stopword.
func (m *Manager) Why(token string) Reason {
	return m.stops[strings.ToLower(token)]
}

// Remove removes a token from the stoplist
func (m *Manager) Remove(token string) {
	delete(m.stops, strings.ToLower(token))
}

// All returns all stopwords, sorted.
func (m *Manager) All() []string {
	result := make([]string, 0, len(m.stops))
	for s := range m.stops {
		result = append(result, s)
	}
	sort.Strings(result)
	return result
}

// Len is the number of stopwords.
func (m *Manager) Len() int {
	return len(m.stops)
}

// Clone returns an independent copy, so per-topic additions do not leak
// into the shared base set.
func (m *Manager) Clone() *Manager {
	out := &Manager{stops: make(map[string]Reason, len(m.stops))}
	for k, v := range m.stops {
		out.stops[k] = v
	}
	return out
}

// Set returns the stopwords as a lookup set.
func (m *Manager) Set() map[string]bool {
	out := make(map[string]bool, len(m.stops))
	for k := range m.stops {
		out[k] = true
	}
	return out
}
