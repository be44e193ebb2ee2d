// Package textclean turns forum post HTML into plain text for keyword ranking.
package textclean

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// code blocks with these classes hold pasted blueprint YAML, not prose
var codeClasses = []string{"lang-yaml", "lang-auto"}

// StripHTML returns the visible text of an HTML fragment without embedded
// YAML code blocks and links. Newlines become spaces and the result is
// trimmed. Input that cannot be parsed is returned with newlines replaced.
func StripHTML(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	}

	var buf strings.Builder
	var extractText func(*html.Node)
	extractText = func(n *html.Node) {
		if n.Type == html.ElementNode && skipElement(n) {
			return
		}
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extractText(c)
		}
	}
	extractText(doc)

	return strings.TrimSpace(strings.ReplaceAll(buf.String(), "\n", " "))
}

func skipElement(n *html.Node) bool {
	switch n.DataAtom {
	case atom.A:
		return true
	case atom.Code:
		for _, attr := range n.Attr {
			if attr.Key != "class" {
				continue
			}
			for _, class := range strings.Fields(attr.Val) {
				for _, want := range codeClasses {
					if class == want {
						return true
					}
				}
			}
		}
	}
	return false
}
