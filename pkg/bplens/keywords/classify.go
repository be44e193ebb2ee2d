// Package keywords collects the integration, domain and device-class values a
// resolved blueprint uses, grouped by the automation section they appear in.
package keywords

import (
	"github.com/cognicore/bplens/pkg/bplens/blueprint"
)

// Section is one logical phase of an automation.
type Section string

const (
	Trigger   Section = "trigger"
	Condition Section = "condition"
	Action    Section = "action"
	none      Section = ""
)

// Sections lists the sections in the order they are reported.
var Sections = []Section{Trigger, Condition, Action}

// Bag maps each section to its raw keyword values in discovery order.
type Bag map[Section][]string

// NewBag returns a bag with every section present and empty.
func NewBag() Bag {
	return Bag{Trigger: []string{}, Condition: []string{}, Action: []string{}}
}

// Len is the total number of keywords across sections.
func (b Bag) Len() int {
	n := 0
	for _, kws := range b {
		n += len(kws)
	}
	return n
}

// keys whose values are collected as keywords
var collectKeys = map[string]bool{
	"integration":  true,
	"domain":       true,
	"device_class": true,
}

// Extract walks a resolved tree depth-first and collects keyword values.
//
// At each mapping key, in order of precedence:
//   - trigger, condition, action switch the section to that key
//   - wait_for_trigger and data switch the section to condition
//   - variables clears the section, so nothing below it is collected
//   - integration, domain, device_class collect their value into the
//     current section when one is set, element-wise for sequences
//
// The section is local to each mapping: a switch applies to the key's
// subtree and to the later keys of the same mapping, never to the parent.
func Extract(root *blueprint.Node) Bag {
	bag := NewBag()
	walk(root, none, bag)
	return bag
}

func walk(n *blueprint.Node, section Section, bag Bag) {
	if n == nil {
		return
	}
	switch n.Kind {
	case blueprint.KindMapping:
		for _, key := range n.Keys {
			value := n.Fields[key]
			switch {
			case key == string(Trigger) || key == string(Condition) || key == string(Action):
				section = Section(key)
			case key == "wait_for_trigger" || key == "data":
				section = Condition
			case key == "variables":
				section = none
			case collectKeys[key] && section != none:
				collect(value, section, bag)
			}
			walk(value, section, bag)
		}
	case blueprint.KindSequence:
		for _, item := range n.Items {
			walk(item, section, bag)
		}
	case blueprint.KindScalar, blueprint.KindInputRef:
	}
}

func collect(value *blueprint.Node, section Section, bag Bag) {
	if value.Kind == blueprint.KindSequence {
		for _, item := range value.Items {
			if kw, ok := keywordText(item); ok {
				bag[section] = append(bag[section], kw)
			}
		}
		return
	}
	if kw, ok := keywordText(value); ok {
		bag[section] = append(bag[section], kw)
	}
}

// keywordText returns the text of a scalar keyword. Nested structures and
// unresolved references carry no keyword of their own.
func keywordText(n *blueprint.Node) (string, bool) {
	if n == nil || n.Kind != blueprint.KindScalar || n.Value == nil {
		return "", false
	}
	return n.Text(), true
}
