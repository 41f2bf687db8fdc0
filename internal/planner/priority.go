package planner

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Priority decodes a manifest priority leniently. Integers, numeric strings
// and whole floats are accepted. Anything else decodes to 0 with the raw
// text kept in Invalid, so one bad field never fails the whole manifest.
type Priority struct {
	Value   int
	Invalid string
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Priority) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		*p = Priority{Invalid: nodeText(node)}
		return nil
	}
	if node.Tag == "!!null" {
		*p = Priority{}
		return nil
	}
	*p = parsePriority(node.Value)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Priority) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*p = Priority{}
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*p = Priority{Invalid: string(data)}
			return nil
		}
		*p = parsePriority(s)
	default:
		*p = parsePriority(string(data))
	}
	return nil
}

// MarshalJSON writes the decoded value.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Value)
}

func parsePriority(raw string) Priority {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Priority{}
	}
	if n, err := strconv.Atoi(s); err == nil {
		return Priority{Value: n}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && math.Abs(f) <= math.MaxInt32 {
		return Priority{Value: int(f)}
	}
	return Priority{Invalid: raw}
}

func nodeText(node *yaml.Node) string {
	out, err := yaml.Marshal(node)
	if err != nil {
		return node.Tag
	}
	return strings.TrimSpace(string(out))
}
