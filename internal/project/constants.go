package project

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// LiteralForm selects how SetDeclaredConstant writes its value.
type LiteralForm int

const (
	// StringLiteral quotes and escapes the value for the declaring language.
	StringLiteral LiteralForm = iota
	// BoolLiteral writes "true" or "false" unquoted.
	BoolLiteral
	// Expression writes the value verbatim. Used to restore a recorded
	// right-hand side.
	Expression
)

// SetDeclaredConstant rewrites the right-hand side of the first declaration
// assigning Name. Without a declaration the operation matches nothing.
type SetDeclaredConstant struct {
	Name  string
	Value string
	Form  LiteralForm
}

func (op SetDeclaredConstant) Kind() string { return "set-declared-constant" }

func (op SetDeclaredConstant) apply(t *Tree) (Outcome, error) {
	if op.Form == BoolLiteral && op.Value != "true" && op.Value != "false" {
		return Outcome{}, fmt.Errorf("constant %s: %q is not a boolean literal", op.Name, op.Value)
	}
	path, data, start, end, err := t.findConstant(op.Name)
	if err != nil || path == "" {
		return Outcome{}, err
	}
	literal := op.literal(filepath.Ext(path) == ".kt")
	if string(data[start:end]) == literal {
		return Outcome{Matched: true}, nil
	}
	updated := make([]byte, 0, len(data)-(end-start)+len(literal))
	updated = append(updated, data[:start]...)
	updated = append(updated, literal...)
	updated = append(updated, data[end:]...)

	info, err := os.Stat(path)
	if err != nil {
		return Outcome{}, err
	}
	if err := writeFileAtomic(path, updated, info.Mode().Perm()); err != nil {
		return Outcome{}, fmt.Errorf("write %s: %w", t.rel(path), err)
	}
	return Outcome{Matched: true, Changed: []string{t.rel(path)}}, nil
}

func (op SetDeclaredConstant) literal(kotlin bool) string {
	switch op.Form {
	case BoolLiteral, Expression:
		return op.Value
	default:
		return stringLiteral(op.Value, kotlin)
	}
}

// DeclaredExpression returns the right-hand side SetDeclaredConstant would
// replace for name, exactly as written in the source. ok is false when no
// file declares name.
func (t *Tree) DeclaredExpression(name string) (expr string, ok bool, err error) {
	path, data, start, end, err := t.findConstant(name)
	if err != nil || path == "" {
		return "", false, err
	}
	return string(data[start:end]), true, nil
}

// findConstant locates the first declaration of name in candidate order. An
// empty path means no declaration exists.
func (t *Tree) findConstant(name string) (string, []byte, int, int, error) {
	candidates, err := t.sourceCandidates()
	if err != nil {
		return "", nil, 0, 0, err
	}
	decl := declarationPattern(name)
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", nil, 0, 0, err
		}
		if start, end, ok := findDeclaration(data, decl); ok {
			return path, data, start, end, nil
		}
	}
	return "", nil, 0, 0, nil
}

// sourceCandidates lists the entry-point files inside the package directories
// first, followed by every other Java or Kotlin file of the module.
func (t *Tree) sourceCandidates() ([]string, error) {
	var primary, rest []string
	dirs, err := t.PackageDirs()
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		entry := filepath.Join(t.layout.PackageDir(d), t.layout.Suffix, t.layout.EntryFile)
		if _, err := os.Stat(entry); err == nil {
			primary = append(primary, entry)
		}
	}
	seen := make(map[string]bool, len(primary))
	for _, p := range primary {
		seen[p] = true
	}
	err = t.walkModule(func(path string) error {
		ext := filepath.Ext(path)
		if (ext == ".java" || ext == ".kt") && !seen[path] {
			rest = append(rest, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return append(primary, rest...), nil
}

// declarationPattern matches a line declaring name (at least one type or
// modifier token before it) up to and including the '='.
func declarationPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^[ \t]*(?:[\w<>\[\],.?@]+[ \t]+)+` + regexp.QuoteMeta(name) +
		`[ \t]*(?::[ \t]*[\w<>?.]+[ \t]*)?=`)
}

// findDeclaration returns the byte span of the right-hand side of the first
// declaration matched by decl, excluding surrounding whitespace, the
// terminating ';' and any trailing line comment.
func findDeclaration(data []byte, decl *regexp.Regexp) (int, int, bool) {
	for _, loc := range decl.FindAllIndex(data, -1) {
		i := loc[1]
		if i < len(data) && data[i] == '=' {
			continue // comparison, not assignment
		}
		for i < len(data) && (data[i] == ' ' || data[i] == '\t') {
			i++
		}
		start := i
		end := scanExpression(data, start)
		for end > start && (data[end-1] == ' ' || data[end-1] == '\t') {
			end--
		}
		if end == start {
			continue
		}
		return start, end, true
	}
	return 0, 0, false
}

// scanExpression finds where the expression starting at i ends: the first ';',
// line break or line comment outside a string or character literal.
func scanExpression(data []byte, i int) int {
	var quote byte
	for ; i < len(data); i++ {
		c := data[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			case '\n':
				return i
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case ';', '\n', '\r':
			return i
		case '/':
			if i+1 < len(data) && (data[i+1] == '/' || data[i+1] == '*') {
				return i
			}
		}
	}
	return i
}

// stringLiteral renders value as a Java or Kotlin string literal.
func stringLiteral(value string, kotlin bool) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range value {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '$':
			if kotlin {
				b.WriteString(`\$`)
			} else {
				b.WriteRune(r)
			}
		default:
			if r < 0x20 || r == 0x7f || r == utf8.RuneError {
				b.WriteString(`\u` + leftPad(strconv.FormatInt(int64(r), 16)))
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func leftPad(hex string) string {
	for len(hex) < 4 {
		hex = "0" + hex
	}
	return hex
}
