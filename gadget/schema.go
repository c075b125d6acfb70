package gadget

import (
	"fmt"
	"strconv"
)

// Kind identifies the shape of a Schema node. Concrete node fields are
// populated according to Kind; the rest are left zero.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBool    Kind = "bool"
	KindEnum    Kind = "enum"
	KindLiteral Kind = "literal"

	KindObject   Kind = "object"
	KindArray    Kind = "array"
	KindTuple    Kind = "tuple"
	KindRecord   Kind = "record"
	KindUnion    Kind = "union"
	KindIntersect Kind = "intersect"
	KindOptional Kind = "optional"
	KindDefault  Kind = "default"
)

// Schema is a tagged tree describing a gadget's parameter shape. Rather
// than relying on runtime reflection over Go types, every gadget
// registers an explicit descriptor; the stream parser's coercion pass and
// the executor's validation pass both walk this tree by JSON pointer path.
type Schema struct {
	Kind Kind

	// Object/Record
	Fields   map[string]*Schema // KindObject: declared field schemas
	Required []string           // KindObject: required field names
	Element  *Schema            // KindArray/KindRecord/KindOptional/KindDefault: element schema

	// Tuple
	Elements []*Schema // KindTuple

	// Union/Intersect
	Variants []*Schema // KindUnion/KindIntersect

	// Enum/Literal
	EnumValues []string // KindEnum
	Literal    any       // KindLiteral

	// Default
	DefaultValue any // KindDefault

	// Raw optionally carries a JSON Schema document for this node. The
	// builders in this package leave it nil, and validation does not read
	// it: CompileValidator builds its document with ToJSONSchema.
	Raw map[string]any
}

// String builds a KindString leaf schema.
func String() *Schema { return &Schema{Kind: KindString} }

// Number builds a KindNumber leaf schema.
func Number() *Schema { return &Schema{Kind: KindNumber} }

// Bool builds a KindBool leaf schema.
func Bool() *Schema { return &Schema{Kind: KindBool} }

// Enum builds a KindEnum leaf schema over the given string values.
func Enum(values ...string) *Schema { return &Schema{Kind: KindEnum, EnumValues: values} }

// Object builds a KindObject schema with the given fields, a subset of
// which are required.
func Object(fields map[string]*Schema, required ...string) *Schema {
	return &Schema{Kind: KindObject, Fields: fields, Required: required}
}

// Array builds a KindArray schema over the given element schema.
func Array(element *Schema) *Schema { return &Schema{Kind: KindArray, Element: element} }

// Optional wraps a schema as not-required, distinct from the object-level
// Required list so nested optionals (e.g. inside a record value) compose.
func Optional(inner *Schema) *Schema { return &Schema{Kind: KindOptional, Element: inner} }

// Record builds a KindRecord schema: an open string-keyed map whose values
// all conform to element.
func Record(element *Schema) *Schema { return &Schema{Kind: KindRecord, Element: element} }

// Lookup navigates a JSON-pointer-style path (segments without the leading
// separator, e.g. "items/0/name") into the descriptor tree and returns the
// schema node governing that location, or nil if the path runs off the
// declared shape (e.g. into a union/intersect or a leaf, where no static
// node applies).
func (s *Schema) Lookup(segments []string) *Schema {
	node := s
	for _, seg := range segments {
		// Optional/Default wrappers consume no segment: unwrap them and
		// process the same segment against the unwrapped node.
		for node != nil && (node.Kind == KindOptional || node.Kind == KindDefault) {
			node = node.Element
		}
		if node == nil {
			return nil
		}
		switch node.Kind {
		case KindObject:
			node = node.lookupOne(seg)
		case KindArray:
			if _, err := strconv.Atoi(seg); err != nil {
				return nil
			}
			node = node.Element
		case KindRecord:
			node = node.Element
		case KindTuple:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node.Elements) {
				return nil
			}
			node = node.Elements[idx]
		default:
			// union/intersect/leaf: no statically-known child node.
			return nil
		}
	}
	return node
}

func (s *Schema) lookupOne(seg string) *Schema {
	if s.Fields == nil {
		return nil
	}
	return s.Fields[seg]
}

// CoercesTo reports whether a schema leaf indicates scalar coercion should
// be applied to a raw string value (number/bool), versus left as a string
// (string leaf) or skipped entirely (union/effect/record/nil — unknown
// shape).
func (k Kind) CoercesTo() bool {
	return k == KindNumber || k == KindBool
}

// describe renders a human-readable type name, used in validation messages.
func (s *Schema) describe() string {
	if s == nil {
		return "unknown"
	}
	switch s.Kind {
	case KindEnum:
		return fmt.Sprintf("enum%v", s.EnumValues)
	default:
		return string(s.Kind)
	}
}
