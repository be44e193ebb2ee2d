package blueprint

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Node.
type Kind int

const (
	KindScalar Kind = iota
	KindInputRef
	KindMapping
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindInputRef:
		return "input_ref"
	case KindMapping:
		return "mapping"
	case KindSequence:
		return "sequence"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Node is one value of a parsed blueprint tree.
//
// Exactly one variant is populated, selected by Kind:
//   - KindScalar:   Value holds the decoded YAML scalar (string, int, float64, bool or nil)
//   - KindInputRef: Ref holds the name of the referenced blueprint input
//   - KindMapping:  Keys holds the source key order, Fields the values
//   - KindSequence: Items holds the elements
type Node struct {
	Kind   Kind
	Value  any
	Ref    string
	Keys   []string
	Fields map[string]*Node
	Items  []*Node
}

// Scalar returns a scalar node.
func Scalar(v any) *Node {
	return &Node{Kind: KindScalar, Value: v}
}

// InputRef returns a reference to the named blueprint input.
func InputRef(name string) *Node {
	return &Node{Kind: KindInputRef, Ref: name}
}

// Mapping returns an empty mapping node.
func Mapping() *Node {
	return &Node{Kind: KindMapping, Fields: make(map[string]*Node)}
}

// Sequence returns a sequence node holding items.
func Sequence(items ...*Node) *Node {
	return &Node{Kind: KindSequence, Items: items}
}

// Map builds a mapping from alternating key/value arguments, mostly for tests.
// Values that are not *Node are wrapped with Scalar.
func Map(kv ...any) *Node {
	m := Mapping()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		m.Set(key, wrap(kv[i+1]))
	}
	return m
}

// Seq builds a sequence from values, wrapping non-node values with Scalar.
func Seq(vals ...any) *Node {
	items := make([]*Node, len(vals))
	for i, v := range vals {
		items[i] = wrap(v)
	}
	return Sequence(items...)
}

func wrap(v any) *Node {
	if n, ok := v.(*Node); ok {
		return n
	}
	return Scalar(v)
}

// Get returns the value stored under key in a mapping.
func (n *Node) Get(key string) (*Node, bool) {
	if n == nil || n.Kind != KindMapping {
		return nil, false
	}
	v, ok := n.Fields[key]
	return v, ok
}

// Set stores v under key, appending the key if it is new.
func (n *Node) Set(key string, v *Node) {
	if n.Fields == nil {
		n.Fields = make(map[string]*Node)
	}
	if _, ok := n.Fields[key]; !ok {
		n.Keys = append(n.Keys, key)
	}
	n.Fields[key] = v
}

// Delete removes key from a mapping, keeping the order of the others.
func (n *Node) Delete(key string) {
	if n == nil || n.Kind != KindMapping {
		return
	}
	if _, ok := n.Fields[key]; !ok {
		return
	}
	delete(n.Fields, key)
	for i, k := range n.Keys {
		if k == key {
			n.Keys = append(n.Keys[:i:i], n.Keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of keys or items; scalars and references have length 0.
func (n *Node) Len() int {
	if n == nil {
		return 0
	}
	switch n.Kind {
	case KindMapping:
		return len(n.Keys)
	case KindSequence:
		return len(n.Items)
	default:
		return 0
	}
}

// Clone returns a deep copy of n. Scalar values are immutable and shared.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindMapping:
		out := &Node{
			Kind:   KindMapping,
			Keys:   make([]string, len(n.Keys)),
			Fields: make(map[string]*Node, len(n.Fields)),
		}
		copy(out.Keys, n.Keys)
		for _, k := range n.Keys {
			out.Fields[k] = n.Fields[k].Clone()
		}
		return out
	case KindSequence:
		out := &Node{Kind: KindSequence, Items: make([]*Node, len(n.Items))}
		for i, item := range n.Items {
			out.Items[i] = item.Clone()
		}
		return out
	case KindInputRef:
		return &Node{Kind: KindInputRef, Ref: n.Ref}
	default:
		return &Node{Kind: KindScalar, Value: n.Value}
	}
}

// size counts n and every node below it.
func (n *Node) size() int {
	if n == nil {
		return 0
	}
	total := 1
	for _, k := range n.Keys {
		total += n.Fields[k].size()
	}
	for _, item := range n.Items {
		total += item.size()
	}
	return total
}

// Equal reports whether two trees hold the same values with the same key order.
func (n *Node) Equal(o *Node) bool {
	if n == nil || o == nil {
		return n == o
	}
	return n.String() == o.String()
}

// Text renders a scalar value as plain text. Nil scalars render as "".
func (n *Node) Text() string {
	if n == nil {
		return ""
	}
	switch n.Kind {
	case KindScalar:
		return scalarText(n.Value)
	case KindInputRef:
		return n.Ref
	default:
		return n.String()
	}
}

func scalarText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// String renders the tree in a compact, deterministic literal form:
// {'key': value, ...}, [a, b], 'text', 5, True, None.
// Mapping keys are written in node order, so normalized trees render canonically.
func (n *Node) String() string {
	var b strings.Builder
	n.render(&b)
	return b.String()
}

func (n *Node) render(b *strings.Builder) {
	if n == nil {
		b.WriteString("None")
		return
	}
	switch n.Kind {
	case KindMapping:
		b.WriteByte('{')
		for i, k := range n.Keys {
			if i > 0 {
				b.WriteString(", ")
			}
			writeQuoted(b, k)
			b.WriteString(": ")
			n.Fields[k].render(b)
		}
		b.WriteByte('}')
	case KindSequence:
		b.WriteByte('[')
		for i, item := range n.Items {
			if i > 0 {
				b.WriteString(", ")
			}
			item.render(b)
		}
		b.WriteByte(']')
	case KindInputRef:
		b.WriteString("{'!input': ")
		writeQuoted(b, n.Ref)
		b.WriteByte('}')
	default:
		writeScalar(b, n.Value)
	}
}

func writeScalar(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("None")
	case string:
		writeQuoted(b, val)
	case bool:
		if val {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	default:
		b.WriteString(scalarText(val))
	}
}

func writeQuoted(b *strings.Builder, s string) {
	b.WriteByte('\'')
	b.WriteString(strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`).Replace(s))
	b.WriteByte('\'')
}

// Plain converts the tree into plain Go values (map[string]any, []any, scalars)
// suitable for JSON encoding and schema validation. Input references become
// {"!input": name} markers.
func (n *Node) Plain() any {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindMapping:
		out := make(map[string]any, len(n.Keys))
		for _, k := range n.Keys {
			out[k] = n.Fields[k].Plain()
		}
		return out
	case KindSequence:
		out := make([]any, len(n.Items))
		for i, item := range n.Items {
			out[i] = item.Plain()
		}
		return out
	case KindInputRef:
		return map[string]any{"!input": n.Ref}
	default:
		return n.Value
	}
}

// Walk visits every node depth-first in source order. Returning false from fn
// skips the children of that node. The path slice is reused between calls and
// must be copied if retained.
func (n *Node) Walk(fn func(path []string, node *Node) bool) {
	n.walk(nil, fn)
}

func (n *Node) walk(path []string, fn func([]string, *Node) bool) {
	if n == nil || !fn(path, n) {
		return
	}
	switch n.Kind {
	case KindMapping:
		for _, k := range n.Keys {
			n.Fields[k].walk(append(path, k), fn)
		}
	case KindSequence:
		for i, item := range n.Items {
			item.walk(append(path, strconv.Itoa(i)), fn)
		}
	}
}
