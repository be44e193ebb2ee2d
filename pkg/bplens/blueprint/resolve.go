package blueprint

import (
	"fmt"

	"github.com/cognicore/bplens/pkg/bplens/internalerr"
)

// Section names of an automation body.
const (
	KeyBlueprint = "blueprint"
	KeyInput     = "input"
	KeyTrigger   = "trigger"
	KeyCondition = "condition"
	KeyAction    = "action"
)

var bodyKeys = map[string]bool{KeyTrigger: true, KeyCondition: true, KeyAction: true}

// ResolveReport describes what Resolve did to a tree.
type ResolveReport struct {
	Substituted int      // references replaced by a declared value
	Unresolved  int      // references to names with no declaration, left in place
	Missing     []string // names of the unresolved references, in discovery order
}

// InputDecl is one declared blueprint input.
type InputDecl struct {
	Name        string
	Description string
	Default     *Node
	Selector    *Node
	raw         *Node
}

// Value is what a reference to this input resolves to: the default when one
// is declared, the declaration itself otherwise.
func (d InputDecl) Value() *Node {
	if d.Default != nil {
		return d.Default
	}
	if d.raw == nil {
		return Scalar(nil)
	}
	return d.raw
}

// Inputs returns the inputs declared under blueprint.input, keyed by name.
func Inputs(root *Node) (map[string]InputDecl, error) {
	meta, ok := root.Get(KeyBlueprint)
	if !ok {
		return nil, nil
	}
	if meta.Kind != KindMapping {
		return nil, fmt.Errorf("%w: blueprint block is a %s", internalerr.ErrResolution, meta.Kind)
	}
	block, ok := meta.Get(KeyInput)
	if !ok {
		return nil, nil
	}
	switch block.Kind {
	case KindMapping:
	case KindScalar:
		if block.Value == nil {
			return nil, nil
		}
		fallthrough
	default:
		return nil, fmt.Errorf("%w: blueprint.input is a %s", internalerr.ErrResolution, block.Kind)
	}

	decls := make(map[string]InputDecl, block.Len())
	for _, name := range block.Keys {
		raw := block.Fields[name]
		decl := InputDecl{raw: raw}
		if raw.Kind == KindMapping {
			if v, ok := raw.Get("name"); ok {
				decl.Name = v.Text()
			}
			if v, ok := raw.Get("description"); ok {
				decl.Description = v.Text()
			}
			if v, ok := raw.Get("default"); ok {
				decl.Default = v
			}
			if v, ok := raw.Get("selector"); ok {
				decl.Selector = v
			}
		}
		decls[name] = decl
	}
	return decls, nil
}

// Resolve substitutes every `!input` reference in the trigger, condition and
// action sections with a deep copy of the declared input value, then strips
// the blueprint metadata and every other top-level key.
//
// References to undeclared inputs stay in place and are counted in the
// report. A tree with an unexpected shape yields internalerr.ErrResolution.
// The argument is not modified. Resolving a resolved tree returns an equal tree.
func Resolve(root *Node) (*Node, ResolveReport, error) {
	var report ResolveReport
	if root == nil || root.Kind != KindMapping {
		kind := "nil"
		if root != nil {
			kind = root.Kind.String()
		}
		return nil, report, fmt.Errorf("%w: document root is a %s", internalerr.ErrResolution, kind)
	}

	decls, err := Inputs(root)
	if err != nil {
		return nil, report, err
	}

	out := Mapping()
	for _, key := range root.Keys {
		if !bodyKeys[key] {
			continue
		}
		out.Set(key, root.Fields[key].Clone())
	}

	if len(decls) > 0 {
		replaceRefs(out, decls, &report)
	}
	countUnresolved(out, &report)
	return out, report, nil
}

func replaceRefs(n *Node, decls map[string]InputDecl, report *ResolveReport) {
	switch n.Kind {
	case KindMapping:
		for _, k := range n.Keys {
			child := n.Fields[k]
			if child.Kind == KindInputRef {
				if decl, ok := decls[child.Ref]; ok {
					n.Fields[k] = decl.Value().Clone()
					report.Substituted++
				}
				continue
			}
			replaceRefs(child, decls, report)
		}
	case KindSequence:
		for i, child := range n.Items {
			if child.Kind == KindInputRef {
				if decl, ok := decls[child.Ref]; ok {
					n.Items[i] = decl.Value().Clone()
					report.Substituted++
				}
				continue
			}
			replaceRefs(child, decls, report)
		}
	}
}

func countUnresolved(n *Node, report *ResolveReport) {
	n.Walk(func(_ []string, node *Node) bool {
		if node.Kind == KindInputRef {
			report.Unresolved++
			report.Missing = append(report.Missing, node.Ref)
		}
		return true
	})
}
