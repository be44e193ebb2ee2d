package blueprint

import (
	"strings"

	"github.com/abadojack/whatlanggo"
)

// LeafValues returns the text of every scalar and input reference in source
// order. In blueprints these are the user-written strings, as opposed to the
// schema-defined keys.
func LeafValues(n *Node) []string {
	var out []string
	n.Walk(func(_ []string, node *Node) bool {
		switch node.Kind {
		case KindScalar:
			if node.Value == nil {
				out = append(out, "None")
			} else {
				out = append(out, node.Text())
			}
		case KindInputRef:
			out = append(out, node.Ref)
		}
		return true
	})
	return out
}

// Language guesses the ISO 639-1 code of the language the blueprint's
// user-written text is in. It returns "" when no guess is possible.
func Language(n *Node) string {
	text := strings.Join(LeafValues(n), " ")
	if strings.TrimSpace(text) == "" {
		return ""
	}
	info := whatlanggo.Detect(text)
	return info.Lang.Iso6391()
}
