package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Attributes is an opaque attribute bag for raw service payloads and play
// context. Values are restricted to JSON-representable scalars, lists and
// nested maps; the bag is persisted as JSON text.
type Attributes map[string]any

// MarshalAttributes serializes a bag to JSON text for persistence.
// A nil bag serializes to an empty object.
func MarshalAttributes(a Attributes) (string, error) {
	if a == nil {
		a = Attributes{}
	}
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to marshal attributes: %w", err)
	}
	return string(data), nil
}

// UnmarshalAttributes parses JSON text produced by [MarshalAttributes].
// Empty input yields an empty bag.
func UnmarshalAttributes(text string) (Attributes, error) {
	if text == "" {
		return Attributes{}, nil
	}
	var a Attributes
	if err := json.Unmarshal([]byte(text), &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
	}
	return a, nil
}

// String returns the string value stored under key, or "" when absent or not a string.
func (a Attributes) String(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

// Int returns the integer value stored under key. JSON numbers decode as
// float64, so both representations are accepted.
func (a Attributes) Int(key string) (int64, bool) {
	switch v := a[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// Float returns the numeric value stored under key.
func (a Attributes) Float(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Bool returns the boolean value stored under key.
func (a Attributes) Bool(key string) bool {
	v, _ := a[key].(bool)
	return v
}

// Time parses the RFC3339 timestamp stored under key.
func (a Attributes) Time(key string) (time.Time, bool) {
	s := a.String(key)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// Strings returns the list of strings stored under key. Lists decoded from
// JSON arrive as []any and are converted element-wise.
func (a Attributes) Strings(key string) []string {
	switch v := a[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// AttributeMapper is implemented by adapter info structs that can flatten
// themselves into an attribute bag. The metadata manager uses it as the first
// branch of its conversion dispatch.
type AttributeMapper interface {
	AttributeMap() map[string]any
}
