package stream

import (
	"strconv"

	"github.com/gadgetrun/agentcore/gadget"
)

// coerceTree walks a block-form parameter tree (whose leaves are rawLeaf
// values awaiting a type decision) by JSON-pointer path, converting each
// leaf according to the declared schema at that path: a schema-declared
// string field keeps the raw string even when it looks numeric; number/
// boolean fields get the standard coercion; union/intersect and other
// nodes with no statically known leaf kind keep the raw string. Only a
// path with no schema node at all (no schema, or a path that runs off the
// declared shape) falls back to the block-form default heuristic
// (numeric/boolean literal
// pattern match on single-line values; multi-line values always remain
// strings). Structured-form (JSON/YAML) trees never pass through here —
// §4.1 scopes coercion to the raw string/JSON produced by block form.
func coerceTree(params map[string]any, schema *gadget.Schema) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		var field *gadget.Schema
		if schema != nil {
			field = schema.Lookup([]string{k})
		}
		out[k] = coerceValue(v, field, []string{k}, schema)
	}
	return out
}

func coerceValue(v any, field *gadget.Schema, path []string, root *gadget.Schema) any {
	switch t := v.(type) {
	case rawLeaf:
		return coerceLeaf(t, field)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			childPath := append(append([]string{}, path...), k)
			var childField *gadget.Schema
			if root != nil {
				childField = root.Lookup(childPath)
			}
			out[k] = coerceValue(val, childField, childPath, root)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			childPath := append(append([]string{}, path...), strconv.Itoa(i))
			var childField *gadget.Schema
			if root != nil {
				childField = root.Lookup(childPath)
			}
			out[i] = coerceValue(val, childField, childPath, root)
		}
		return out
	default:
		return v
	}
}

// coerceLeaf applies the schema-directed (or, absent a usable schema
// node, the pattern-based default) coercion policy to one block-form
// value.
func coerceLeaf(leaf rawLeaf, field *gadget.Schema) any {
	if leaf.Multiline {
		return leaf.Raw
	}
	if field == nil {
		return defaultCoerce(leaf.Raw)
	}
	switch field.Kind {
	case gadget.KindString, gadget.KindEnum, gadget.KindLiteral:
		return leaf.Raw
	case gadget.KindNumber:
		if n, err := strconv.ParseFloat(leaf.Raw, 64); err == nil {
			return n
		}
		return leaf.Raw
	case gadget.KindBool:
		if leaf.Raw == "true" {
			return true
		}
		if leaf.Raw == "false" {
			return false
		}
		return leaf.Raw
	default:
		// union/intersect/object/array/record/optional/default: no
		// coercion, per §4.1.
		return leaf.Raw
	}
}

func defaultCoerce(raw string) any {
	if raw == "true" {
		return true
	}
	if raw == "false" {
		return false
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	return raw
}
