// Package diff compares normalized blueprint trees and scores their
// structural similarity.
//
// The score is a size heuristic, not an edit distance: the length of the
// rendered difference report relative to the combined length of both
// rendered trees.
package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cognicore/bplens/pkg/bplens/blueprint"
)

// Category classifies one difference.
type Category string

const (
	ValuesChanged         Category = "values_changed"
	TypeChanges           Category = "type_changes"
	DictionaryItemAdded   Category = "dictionary_item_added"
	DictionaryItemRemoved Category = "dictionary_item_removed"
	IterableItemAdded     Category = "iterable_item_added"
	IterableItemRemoved   Category = "iterable_item_removed"
)

// report order of categories
var categories = []Category{
	TypeChanges,
	DictionaryItemAdded,
	DictionaryItemRemoved,
	ValuesChanged,
	IterableItemAdded,
	IterableItemRemoved,
}

// Change is one difference at a path such as root['action'][0].
type Change struct {
	Category Category
	Path     string
	Old      *blueprint.Node // nil for additions
	New      *blueprint.Node // nil for removals
}

// Report lists the differences between two trees.
type Report struct {
	Changes []Change
}

// Empty reports whether the trees were structurally equal.
func (r Report) Empty() bool {
	return len(r.Changes) == 0
}

// ByCategory groups changes, each group sorted by path.
func (r Report) ByCategory() map[Category][]Change {
	out := make(map[Category][]Change)
	for _, c := range r.Changes {
		out[c.Category] = append(out[c.Category], c)
	}
	for _, cs := range out {
		sort.SliceStable(cs, func(i, j int) bool { return cs[i].Path < cs[j].Path })
	}
	return out
}

// String renders the report deterministically as
// {'category': {"path": {'new_value': ..., 'old_value': ...}}, ...}.
// An empty report renders as {}.
func (r Report) String() string {
	if r.Empty() {
		return "{}"
	}
	groups := r.ByCategory()
	var b strings.Builder
	b.WriteByte('{')
	firstCat := true
	for _, cat := range categories {
		cs := groups[cat]
		if len(cs) == 0 {
			continue
		}
		if !firstCat {
			b.WriteString(", ")
		}
		firstCat = false
		fmt.Fprintf(&b, "'%s': ", cat)

		switch cat {
		case DictionaryItemAdded, DictionaryItemRemoved:
			b.WriteByte('[')
			for i, c := range cs {
				if i > 0 {
					b.WriteString(", ")
				}
				fmt.Fprintf(&b, "%q", c.Path)
			}
			b.WriteByte(']')
		default:
			b.WriteByte('{')
			for i, c := range cs {
				if i > 0 {
					b.WriteString(", ")
				}
				fmt.Fprintf(&b, "%q: ", c.Path)
				writeChange(&b, c)
			}
			b.WriteByte('}')
		}
	}
	b.WriteByte('}')
	return b.String()
}

func writeChange(b *strings.Builder, c Change) {
	switch c.Category {
	case IterableItemAdded:
		b.WriteString(c.New.String())
	case IterableItemRemoved:
		b.WriteString(c.Old.String())
	case TypeChanges:
		fmt.Fprintf(b, "{'new_type': '%s', 'new_value': %s, 'old_type': '%s', 'old_value': %s}",
			typeName(c.New), c.New, typeName(c.Old), c.Old)
	default:
		fmt.Fprintf(b, "{'new_value': %s, 'old_value': %s}", c.New, c.Old)
	}
}

// Size is the length of the rendered report, 0 when there is no difference.
func (r Report) Size() int {
	if r.Empty() {
		return 0
	}
	return len(r.String())
}

// Compare returns the differences from a to b. Both trees should be
// normalized first so key order and leaf casing do not register. Sequences
// are compared as multisets: reordering elements is not a difference.
func Compare(a, b *blueprint.Node) Report {
	var r Report
	compare("root", a, b, &r)
	return r
}

func compare(path string, a, b *blueprint.Node, r *Report) {
	if a == nil || b == nil {
		if a != b {
			r.Changes = append(r.Changes, Change{Category: TypeChanges, Path: path, Old: a, New: b})
		}
		return
	}
	if a.Kind != b.Kind {
		r.Changes = append(r.Changes, Change{Category: TypeChanges, Path: path, Old: a, New: b})
		return
	}

	switch a.Kind {
	case blueprint.KindMapping:
		compareMappings(path, a, b, r)
	case blueprint.KindSequence:
		compareSequences(path, a, b, r)
	case blueprint.KindInputRef:
		if a.Ref != b.Ref {
			r.Changes = append(r.Changes, Change{Category: ValuesChanged, Path: path, Old: a, New: b})
		}
	case blueprint.KindScalar:
		if typeName(a) != typeName(b) {
			r.Changes = append(r.Changes, Change{Category: TypeChanges, Path: path, Old: a, New: b})
		} else if a.String() != b.String() {
			r.Changes = append(r.Changes, Change{Category: ValuesChanged, Path: path, Old: a, New: b})
		}
	}
}

func compareMappings(path string, a, b *blueprint.Node, r *Report) {
	keys := make(map[string]bool, a.Len()+b.Len())
	for _, k := range a.Keys {
		keys[k] = true
	}
	for _, k := range b.Keys {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		child := fmt.Sprintf("%s['%s']", path, k)
		av, inA := a.Fields[k]
		bv, inB := b.Fields[k]
		switch {
		case inA && !inB:
			r.Changes = append(r.Changes, Change{Category: DictionaryItemRemoved, Path: child, Old: av})
		case !inA && inB:
			r.Changes = append(r.Changes, Change{Category: DictionaryItemAdded, Path: child, New: bv})
		default:
			compare(child, av, bv, r)
		}
	}
}

// compareSequences matches equal elements regardless of position. Elements
// left unmatched on either side are reported as removed or added.
func compareSequences(path string, a, b *blueprint.Node, r *Report) {
	pool := make(map[string][]int, len(b.Items))
	for j, item := range b.Items {
		key := item.String()
		pool[key] = append(pool[key], j)
	}
	matchedB := make([]bool, len(b.Items))
	for i, item := range a.Items {
		key := item.String()
		if idx := pool[key]; len(idx) > 0 {
			matchedB[idx[0]] = true
			pool[key] = idx[1:]
			continue
		}
		r.Changes = append(r.Changes, Change{
			Category: IterableItemRemoved,
			Path:     fmt.Sprintf("%s[%d]", path, i),
			Old:      item,
		})
	}
	for j, item := range b.Items {
		if matchedB[j] {
			continue
		}
		r.Changes = append(r.Changes, Change{
			Category: IterableItemAdded,
			Path:     fmt.Sprintf("%s[%d]", path, j),
			New:      item,
		})
	}
}

func typeName(n *blueprint.Node) string {
	if n == nil {
		return "NoneType"
	}
	switch n.Kind {
	case blueprint.KindMapping, blueprint.KindInputRef:
		return "dict"
	case blueprint.KindSequence:
		return "list"
	}
	switch n.Value.(type) {
	case nil:
		return "NoneType"
	case string:
		return "str"
	case bool:
		return "bool"
	case float64:
		return "float"
	default:
		return "int"
	}
}
