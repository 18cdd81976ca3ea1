package project

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// SetResourceString replaces the text bound to Key in every values*/strings.xml.
// Value is raw text; it is escaped before substitution.
type SetResourceString struct {
	Key   string
	Value string
}

func (op SetResourceString) Kind() string { return "set-resource-string" }

func (op SetResourceString) apply(t *Tree) (Outcome, error) {
	files, err := t.stringResourceFiles()
	if err != nil {
		return Outcome{}, err
	}
	escaped := EscapeResourceString(op.Value)

	var out Outcome
	for _, path := range files {
		found := false
		wrote, err := rewriteFile(path, func(data []byte) ([]byte, error) {
			res, ok, err := replaceStringResource(data, op.Key, escaped)
			found = ok
			return res, err
		})
		if err != nil {
			return out, fmt.Errorf("%s: %w", t.rel(path), err)
		}
		if found {
			out.Matched = true
		}
		if wrote {
			out.Changed = append(out.Changed, t.rel(path))
		}
	}
	return out, nil
}

// stringResourceFiles lists res/values*/strings.xml in sorted order.
func (t *Tree) stringResourceFiles() ([]string, error) {
	resDir := t.layout.abs(t.layout.ResDir)
	entries, err := os.ReadDir(resDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "values") {
			continue
		}
		path := filepath.Join(resDir, e.Name(), "strings.xml")
		if _, err := os.Stat(path); err == nil {
			files = append(files, path)
		}
	}
	sort.Strings(files)
	return files, nil
}

// replaceStringResource swaps the content of every <string name=key> element
// using decoder offsets, so everything outside the element text is preserved.
func replaceStringResource(data []byte, key, escaped string) ([]byte, bool, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		out   bytes.Buffer
		last  int64
		found bool
	)
	for {
		tokStart := dec.InputOffset()
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, fmt.Errorf("parse string resources: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "string" || attr(se, "name") != key {
			continue
		}
		found = true
		contentStart := dec.InputOffset()

		if bytes.HasSuffix(data[tokStart:contentStart], []byte("/>")) {
			// Self-closing element: expand it.
			tag := bytes.TrimRight(data[tokStart:contentStart-2], " \t\r\n")
			out.Write(data[last:tokStart])
			out.Write(tag)
			out.WriteString(">" + escaped + "</" + qualified(se.Name) + ">")
			if _, err := dec.RawToken(); err != nil { // synthetic end element
				return nil, false, fmt.Errorf("parse string resources: %w", err)
			}
			last = dec.InputOffset()
			continue
		}

		contentEnd, err := skipToEnd(dec)
		if err != nil {
			return nil, false, err
		}
		out.Write(data[last:contentStart])
		out.WriteString(escaped)
		last = contentEnd
	}
	if !found {
		return data, false, nil
	}
	out.Write(data[last:])
	return out.Bytes(), true, nil
}

// skipToEnd consumes tokens up to the end tag closing the current element and
// returns the offset where that end tag begins.
func skipToEnd(dec *xml.Decoder) (int64, error) {
	depth := 1
	for {
		start := dec.InputOffset()
		tok, err := dec.RawToken()
		if err != nil {
			return 0, fmt.Errorf("unterminated string resource: %w", err)
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
			if depth == 0 {
				return start, nil
			}
		}
	}
}

func attr(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name && a.Name.Space == "" {
			return a.Value
		}
	}
	return ""
}

func qualified(n xml.Name) string {
	if n.Space != "" {
		return n.Space + ":" + n.Local
	}
	return n.Local
}

// EscapeResourceString prepares raw text for an Android string resource:
// NFC normalization, Android escapes for backslash, quotes and a leading @ or ?,
// then XML escaping of &, < and >.
func EscapeResourceString(s string) string {
	s = norm.NFC.String(s)
	var b strings.Builder
	for i, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '@', '?':
			if i == 0 {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
