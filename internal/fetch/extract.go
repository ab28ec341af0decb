package fetch

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// hiddenElements are elements whose subtree carries no readable text.
var hiddenElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
}

// extractHTML parses raw HTML and returns (title, readable text).
func extractHTML(raw string) (string, string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", ""
	}

	var title string
	var text strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if hiddenElements[n.DataAtom] {
				if n.DataAtom == atom.Head {
					title = strings.TrimSpace(textContent(n, atom.Title))
				}
				return
			}
			if blockElement(n.DataAtom) && text.Len() > 0 {
				text.WriteString("\n")
			}
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				text.WriteString(t)
				text.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return title, tidyWhitespace(text.String())
}

// textContent returns the concatenated text of the first element
// matching want under n, or of n itself when want is zero.
func textContent(n *html.Node, want atom.Atom) string {
	if want != 0 {
		if n.Type == html.ElementNode && n.DataAtom == want {
			return textContent(n, 0)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if t := textContent(c, want); t != "" {
				return t
			}
		}
		return ""
	}

	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c, 0))
	}
	return b.String()
}

func blockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Li,
		atom.Table, atom.Tr, atom.Br, atom.Hr:
		return true
	}
	return false
}

// tidyWhitespace collapses in-line runs of whitespace and drops
// repeated blank lines.
func tidyWhitespace(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
