package livereload

import (
	"bytes"
	"fmt"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// injectScript appends the live reload client to the body of an HTML
// document. Documents that already carry the script are returned as is.
func injectScript(document []byte, src string) ([]byte, error) {
	if bytes.Contains(document, []byte(src)) {
		return document, nil
	}

	doc, err := html.Parse(bytes.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}

	body := findElement(doc, atom.Body)
	if body == nil {
		return document, nil
	}

	script := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Script,
		Data:     "script",
		Attr: []html.Attribute{
			{Key: "src", Val: src},
			{Key: "defer"},
		},
	}
	body.AppendChild(script)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, fmt.Errorf("rendering html: %w", err)
	}
	return buf.Bytes(), nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
