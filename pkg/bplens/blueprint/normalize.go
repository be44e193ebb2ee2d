package blueprint

import (
	"sort"
	"strconv"
	"strings"
)

var textReplacer = strings.NewReplacer("-", "_", "/", "_", " ", "_")

// NormalizeText lowercases s and maps '-', '/' and ' ' to '_'.
func NormalizeText(s string) string {
	return textReplacer.Replace(strings.ToLower(s))
}

// Normalize returns a canonical copy of the tree for structural comparison:
// mapping keys are sorted and every leaf becomes a normalized string scalar.
// Nil leaves become "none" and booleans "true"/"false", so two trees that
// differ only in key order or leaf casing normalize to equal trees.
func Normalize(n *Node) *Node {
	if n == nil {
		return Scalar(NormalizeText(leafText(nil)))
	}
	switch n.Kind {
	case KindMapping:
		keys := make([]string, len(n.Keys))
		copy(keys, n.Keys)
		sort.Strings(keys)
		out := &Node{Kind: KindMapping, Keys: keys, Fields: make(map[string]*Node, len(keys))}
		for _, k := range keys {
			out.Fields[k] = Normalize(n.Fields[k])
		}
		return out
	case KindSequence:
		out := &Node{Kind: KindSequence, Items: make([]*Node, len(n.Items))}
		for i, item := range n.Items {
			out.Items[i] = Normalize(item)
		}
		return out
	case KindInputRef:
		return InputRef(NormalizeText(n.Ref))
	default:
		return Scalar(NormalizeText(leafText(n.Value)))
	}
}

// leafText renders a scalar the way it is compared after normalization.
func leafText(v any) string {
	switch val := v.(type) {
	case nil:
		return "none"
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatFloat(val, 'f', 1, 64)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return scalarText(val)
	}
}
