package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SpecKind tags the shape of a SpecEntry.
type SpecKind int

const (
	// SpecScalar is a plain value ("OLED", "true", "128").
	SpecScalar SpecKind = iota
	// SpecMeasured is a value with a unit ({"value": "6.1", "unit": "inch"}).
	SpecMeasured
	// SpecGroup is a nested map of further specifications.
	SpecGroup
)

// Spec is one named specification of a product or variant.
type Spec struct {
	Key   string
	Entry SpecEntry
}

// SpecEntry is a tagged union over the shapes a specification value can take.
// Only the fields matching Kind are meaningful.
type SpecEntry struct {
	Kind     SpecKind
	Value    string
	Unit     string
	Children []Spec
}

// Scalar builds a scalar spec entry.
func Scalar(value string) SpecEntry {
	return SpecEntry{Kind: SpecScalar, Value: value}
}

// Measured builds a value-with-unit spec entry.
func Measured(value, unit string) SpecEntry {
	return SpecEntry{Kind: SpecMeasured, Value: value, Unit: unit}
}

// Group builds a nested spec entry.
func Group(children ...Spec) SpecEntry {
	return SpecEntry{Kind: SpecGroup, Children: children}
}

// ParseSpecs decodes a JSON object of specifications (as stored in the catalog's
// JSONB columns) into tagged entries. Keys are sorted so that the result is
// stable across calls. Null values are dropped. An empty or null payload
// yields nil.
func ParseSpecs(raw []byte) ([]Spec, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("parse specs: %w", err)
	}
	return parseSpecObject(obj)
}

func parseSpecObject(obj map[string]json.RawMessage) ([]Spec, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	specs := make([]Spec, 0, len(keys))
	for _, k := range keys {
		entry, ok, err := parseSpecValue(obj[k])
		if err != nil {
			return nil, fmt.Errorf("spec %q: %w", k, err)
		}
		if !ok {
			continue
		}
		specs = append(specs, Spec{Key: k, Entry: entry})
	}
	return specs, nil
}

func parseSpecValue(raw json.RawMessage) (SpecEntry, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return SpecEntry{}, false, nil
	}

	switch raw[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return SpecEntry{}, false, err
		}
		if isMeasuredShape(obj) {
			return Measured(scalarText(obj["value"]), scalarText(obj["unit"])), true, nil
		}
		children, err := parseSpecObject(obj)
		if err != nil {
			return SpecEntry{}, false, err
		}
		return Group(children...), true, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return SpecEntry{}, false, err
		}
		parts := make([]string, 0, len(items))
		for _, it := range items {
			if s := scalarText(it); s != "" {
				parts = append(parts, s)
			}
		}
		return Scalar(strings.Join(parts, ", ")), true, nil
	default:
		return Scalar(scalarText(raw)), true, nil
	}
}

// isMeasuredShape reports whether obj is {"value": ..., "unit"?: ...} and
// nothing else.
func isMeasuredShape(obj map[string]json.RawMessage) bool {
	if _, ok := obj["value"]; !ok {
		return false
	}
	for k := range obj {
		if k != "value" && k != "unit" {
			return false
		}
	}
	return true
}

// scalarText renders a JSON scalar as display text. Strings lose their quotes;
// numbers and booleans keep their literal form.
func scalarText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}
