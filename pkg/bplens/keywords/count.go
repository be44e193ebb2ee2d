package keywords

import (
	"sort"
	"strings"

	"github.com/cognicore/bplens/pkg/bplens/blueprint"
)

// Namespace groups sections: trigger and condition are inputs to an
// automation, actions are its outputs.
type Namespace string

const (
	Input  Namespace = "input"
	Output Namespace = "output"
)

// separator between namespace and keyword in a Counts key
const separator = "__"

// Version identifies the extraction rules. Bump it whenever classification
// changes so persisted counts from older rules are not reused.
const Version = "v1"

// NamespaceOf maps a section to its namespace.
func NamespaceOf(s Section) Namespace {
	if s == Action {
		return Output
	}
	return Input
}

// Key builds the Counts key for a normalized keyword.
func Key(ns Namespace, keyword string) string {
	return string(ns) + separator + keyword
}

// SplitKey is the inverse of Key.
func SplitKey(key string) (Namespace, string, bool) {
	ns, kw, ok := strings.Cut(key, separator)
	if !ok || (Namespace(ns) != Input && Namespace(ns) != Output) {
		return "", "", false
	}
	return Namespace(ns), kw, true
}

// Counts maps "input__<kw>" and "output__<kw>" keys to occurrence counts.
type Counts map[string]int

// Count normalizes every keyword in the bag and counts it under its
// section's namespace, summing sections that share a namespace.
func Count(bag Bag) Counts {
	counts := make(Counts)
	for _, section := range Sections {
		ns := NamespaceOf(section)
		for _, kw := range bag[section] {
			counts[Key(ns, blueprint.NormalizeText(kw))]++
		}
	}
	return counts
}

// Keys returns the count keys in sorted order.
func (c Counts) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the count of keyword in namespace ns.
func (c Counts) Get(ns Namespace, keyword string) int {
	return c[Key(ns, keyword)]
}

// Tokens returns the distinct keywords without namespace, split on '_' into
// their word parts, sorted. They are used to keep phrase extraction from
// repeating what the structure already says.
func (c Counts) Tokens() []string {
	seen := make(map[string]bool)
	for key := range c {
		_, kw, ok := SplitKey(key)
		if !ok {
			continue
		}
		for _, part := range strings.Split(kw, "_") {
			if part != "" {
				seen[part] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for tok := range seen {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// Merge adds other's counts into c.
func (c Counts) Merge(other Counts) {
	for k, v := range other {
		c[k] += v
	}
}
