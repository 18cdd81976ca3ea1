package content

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
)

// PageTitle returns the text of the first <title> element in r.
func PageTitle(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}
	var find func(*html.Node) (string, bool)
	find = func(n *html.Node) (string, bool) {
		if n.Type == html.ElementNode && n.Data == "title" {
			return strings.Join(strings.Fields(nodeText(n)), " "), true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if title, ok := find(c); ok {
				return title, true
			}
		}
		return "", false
	}
	title, _ := find(doc)
	return title, nil
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

// fileTitle reads the title of an HTML file, returning "" when it has none
// or cannot be read.
func fileTitle(path string) string {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()
	title, err := PageTitle(f)
	if err != nil {
		return ""
	}
	return title
}
