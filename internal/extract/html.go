package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// fromHTML walks the parsed document and collects visible text, skipping
// script and style subtrees. Block elements become newlines so the chunker
// sees paragraph structure.
func fromHTML(content []byte) string {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		// html.Parse is extremely lenient; on the rare failure fall back
		// to treating the bytes as plain text.
		return fromPlain(content)
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "head":
				return
			case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				b.WriteByte('\n')
			}
		case html.TextNode:
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.TrimSpace(b.String())
}
