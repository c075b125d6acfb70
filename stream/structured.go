package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// parseStructuredForm decodes a structured-form gadget call body (a single
// JSON or YAML mapping) into the raw parameter tree. JSON is tried first
// since it is a YAML subset and unambiguous; YAML is the fallback so
// unquoted block-style parameter bodies still decode.
func parseStructuredForm(body string) (map[string]any, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return map[string]any{}, nil
	}

	var jsonOut map[string]any
	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.UseNumber()
	if err := dec.Decode(&jsonOut); err == nil {
		return normalizeJSONNumbers(jsonOut), nil
	}

	var yamlOut map[string]any
	if err := yaml.Unmarshal([]byte(trimmed), &yamlOut); err != nil {
		return nil, fmt.Errorf("stream: structured form is neither valid JSON nor YAML: %w", err)
	}
	return normalizeYAML(yamlOut), nil
}

// normalizeJSONNumbers converts json.Number leaves (from UseNumber) to
// float64 so downstream coercion/validation sees the same scalar types
// regardless of which decoder produced the tree.
func normalizeJSONNumbers(v map[string]any) map[string]any {
	out := make(map[string]any, len(v))
	for k, val := range v {
		out[k] = normalizeJSONValue(val)
	}
	return out
}

func normalizeJSONValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		return normalizeJSONNumbers(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeJSONValue(e)
		}
		return out
	default:
		return v
	}
}

// normalizeYAML converts yaml.v3's map[string]interface{} (which may
// nest map[string]interface{} keyed maps or map[any]any for some
// constructs) into a canonical map[string]any / []any / scalar tree
// matching what encoding/json would produce.
func normalizeYAML(v map[string]any) map[string]any {
	out := make(map[string]any, len(v))
	for k, val := range v {
		out[k] = normalizeYAMLValue(val)
	}
	return out
}

func normalizeYAMLValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeYAML(t)
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprintf("%v", k)] = normalizeYAMLValue(val)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeYAMLValue(e)
		}
		return out
	case int:
		return float64(t)
	default:
		return v
	}
}
