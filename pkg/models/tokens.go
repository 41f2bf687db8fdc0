package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// DesignTokens is the read-only shared configuration published by the planner.
// Tokens are organised in groups (colors, spacing, typography) of name/value pairs.
// The zero value is an empty token set.
type DesignTokens struct {
	groups map[string]map[string]string
}

// NewDesignTokens copies groups into a new token set.
// Later changes to groups do not affect the returned value.
func NewDesignTokens(groups map[string]map[string]string) DesignTokens {
	t := DesignTokens{groups: make(map[string]map[string]string, len(groups))}
	for g, values := range groups {
		c := make(map[string]string, len(values))
		for k, v := range values {
			c[k] = v
		}
		t.groups[g] = c
	}
	return t
}

// Get returns a single token value.
func (t DesignTokens) Get(group, name string) (string, bool) {
	v, ok := t.groups[group][name]
	return v, ok
}

// Group returns a copy of the named group, or nil if absent.
func (t DesignTokens) Group(name string) map[string]string {
	values, ok := t.groups[name]
	if !ok {
		return nil
	}
	c := make(map[string]string, len(values))
	for k, v := range values {
		c[k] = v
	}
	return c
}

// Groups returns the group names in sorted order.
func (t DesignTokens) Groups() []string {
	names := make([]string, 0, len(t.groups))
	for g := range t.groups {
		names = append(names, g)
	}
	sort.Strings(names)
	return names
}

// Len returns the total number of tokens across all groups.
func (t DesignTokens) Len() int {
	n := 0
	for _, values := range t.groups {
		n += len(values)
	}
	return n
}

// MarshalJSON encodes the tokens as a nested object.
func (t DesignTokens) MarshalJSON() ([]byte, error) {
	if t.groups == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(t.groups)
}

// UnmarshalJSON decodes a nested object of scalar values.
// Non-string scalars are stored in their JSON text form.
func (t *DesignTokens) UnmarshalJSON(data []byte) error {
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode design tokens: %w", err)
	}
	groups := make(map[string]map[string]string, len(raw))
	for g, values := range raw {
		groups[g] = make(map[string]string, len(values))
		for k, v := range values {
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				groups[g][k] = s
				continue
			}
			groups[g][k] = string(v)
		}
	}
	*t = NewDesignTokens(groups)
	return nil
}
