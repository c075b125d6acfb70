package gadget

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator holds a Descriptor's declared parameter schema compiled to
// JSON Schema and exposes a reusable Validate entry point for the
// executor's validation step (§4.2.2). The executor compiles one per
// gadget on that gadget's first dispatch and caches it by name; the
// stream parser's coercion walk uses Schema.Lookup, not a Validator.
type Validator struct {
	schema *jsonschema.Schema
	raw    *Schema
}

// CompileValidator compiles the JSON Schema document for s (built via
// ToJSONSchema) into a reusable Validator.
func CompileValidator(name string, s *Schema) (*Validator, error) {
	doc := ToJSONSchema(s)
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("gadget: marshal schema for %q: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	url := "mem://gadget/" + name + ".json"
	if err := c.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("gadget: add schema resource for %q: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("gadget: compile schema for %q: %w", name, err)
	}
	return &Validator{schema: compiled, raw: s}, nil
}

// Validate checks params against the compiled schema and returns the list
// of field issues found, empty when params is valid. It never invokes the
// gadget's Execute closure.
func (v *Validator) Validate(params map[string]any) []FieldIssue {
	if v == nil || v.schema == nil {
		return nil
	}
	// jsonschema/v6 validates native Go values (map[string]any / []any /
	// string / float64 / bool / nil) produced by encoding/json.Unmarshal.
	err := v.schema.Validate(params)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []FieldIssue{{Path: "", Constraint: "schema", Message: err.Error()}}
	}
	return flattenValidationError(ve)
}

// Schema returns the descriptor tree this validator was compiled from.
func (v *Validator) Schema() *Schema { return v.raw }

func flattenValidationError(ve *jsonschema.ValidationError) []FieldIssue {
	var issues []FieldIssue
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			path := ""
			if len(e.InstanceLocation) > 0 {
				path = "/" + joinPath(e.InstanceLocation)
			}
			issues = append(issues, FieldIssue{
				Path:       path,
				Constraint: "schema",
				Message:    e.Error(),
			})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return issues
}

func joinPath(segs []string) string {
	out := ""
	for i, s := range segs {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}

// ToJSONSchema renders a Schema descriptor tree as a JSON Schema document
// (draft 2020-12 subset), used to compile a Validator.
func ToJSONSchema(s *Schema) map[string]any {
	if s == nil {
		return map[string]any{}
	}
	switch s.Kind {
	case KindString:
		return map[string]any{"type": "string"}
	case KindNumber:
		return map[string]any{"type": "number"}
	case KindBool:
		return map[string]any{"type": "boolean"}
	case KindEnum:
		vals := make([]any, len(s.EnumValues))
		for i, v := range s.EnumValues {
			vals[i] = v
		}
		return map[string]any{"type": "string", "enum": vals}
	case KindLiteral:
		return map[string]any{"const": s.Literal}
	case KindObject:
		props := map[string]any{}
		for name, f := range s.Fields {
			props[name] = ToJSONSchema(f)
		}
		doc := map[string]any{"type": "object", "properties": props}
		if len(s.Required) > 0 {
			req := make([]any, len(s.Required))
			for i, r := range s.Required {
				req[i] = r
			}
			doc["required"] = req
		}
		return doc
	case KindArray:
		return map[string]any{"type": "array", "items": ToJSONSchema(s.Element)}
	case KindTuple:
		items := make([]any, len(s.Elements))
		for i, e := range s.Elements {
			items[i] = ToJSONSchema(e)
		}
		return map[string]any{"type": "array", "prefixItems": items}
	case KindRecord:
		return map[string]any{"type": "object", "additionalProperties": ToJSONSchema(s.Element)}
	case KindUnion:
		variants := make([]any, len(s.Variants))
		for i, v := range s.Variants {
			variants[i] = ToJSONSchema(v)
		}
		return map[string]any{"anyOf": variants}
	case KindIntersect:
		variants := make([]any, len(s.Variants))
		for i, v := range s.Variants {
			variants[i] = ToJSONSchema(v)
		}
		return map[string]any{"allOf": variants}
	case KindOptional:
		return ToJSONSchema(s.Element)
	case KindDefault:
		doc := ToJSONSchema(s.Element)
		doc["default"] = s.DefaultValue
		return doc
	default:
		return map[string]any{}
	}
}
