package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Value is one source variable: either a boolean literal or a string.
type Value struct {
	Text   string
	IsBool bool
}

// String returns a string value.
func String(s string) Value { return Value{Text: s} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{Text: strconv.FormatBool(b), IsBool: true} }

// ParseValue reads a command line value: "true" and "false" are booleans,
// anything else is a string.
func ParseValue(s string) Value {
	switch s {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	return String(s)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsBool {
		return []byte(v.Text), nil
	}
	return json.Marshal(v.Text)
}

func (v Value) MarshalYAML() (any, error) {
	if v.IsBool {
		return v.Text == "true", nil
	}
	return v.Text, nil
}

// Variables maps source constant names to their values.
type Variables map[string]Value

// Names returns the variable names in sorted order.
func (v Variables) Names() []string {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// UnmarshalJSON accepts an object whose values are JSON booleans or strings.
func (v *Variables) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = nil
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("variables must be an object: %w", err)
	}
	out := make(Variables, len(raw))
	for name, msg := range raw {
		if bytes.Equal(bytes.TrimSpace(msg), []byte("null")) {
			return fmt.Errorf("variable %q: value must be a boolean or a string, got null", name)
		}
		var b bool
		if err := json.Unmarshal(msg, &b); err == nil {
			out[name] = Bool(b)
			continue
		}
		var s string
		if err := json.Unmarshal(msg, &s); err == nil {
			out[name] = String(s)
			continue
		}
		return fmt.Errorf("variable %q: value must be a boolean or a string, got %s", name, string(msg))
	}
	*v = out
	return nil
}

// UnmarshalYAML accepts a mapping whose values are YAML booleans or strings.
func (v *Variables) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: variables must be a mapping", node.Line)
	}
	out := make(Variables, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: variable %q must be a scalar", val.Line, key.Value)
		}
		switch val.ShortTag() {
		case "!!bool":
			var b bool
			if err := val.Decode(&b); err != nil {
				return err
			}
			out[key.Value] = Bool(b)
		case "!!str":
			out[key.Value] = String(val.Value)
		default:
			return fmt.Errorf("line %d: variable %q: value must be a boolean or a string", val.Line, key.Value)
		}
	}
	*v = out
	return nil
}
