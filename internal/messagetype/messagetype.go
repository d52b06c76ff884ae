// Package messagetype implements the node message type algebra:
// string / enum / array / optional / object / taggedUnion / ref.
// Represented as a tagged variant rather than an interface hierarchy,
// per the spec's recursive-value-type guidance.
package messagetype

// Kind discriminates the variant of a Type.
type Kind string

const (
	KindString      Kind = "string"
	KindEnum        Kind = "enum"
	KindArray       Kind = "array"
	KindOptional    Kind = "optional"
	KindObject      Kind = "object"
	KindTaggedUnion Kind = "taggedUnion"
	KindRef         Kind = "ref"
)

// Field describes one member of an object or taggedUnion type.
type Field struct {
	Description string `json:"description,omitempty"`
	Type        *Type  `json:"type"`
}

// Type is the recursive node message type.
type Type struct {
	Kind Kind `json:"kind"`

	// KindEnum
	Values []string `json:"values,omitempty"`

	// KindArray, KindOptional
	Of *Type `json:"of,omitempty"`

	// KindObject, KindTaggedUnion: field name -> Field
	Fields map[string]Field `json:"fields,omitempty"`

	// KindRef
	RefName string `json:"refName,omitempty"`
}

// TypeDefs is the workflow-level map of named type definitions resolved
// by Resolve when a Type is a ref(name).
type TypeDefs map[string]*Type

// Resolve follows ref(name) indirection using the supplied typedefs,
// returning the concrete (non-ref) Type. Self-referential or missing
// typedefs return ok=false rather than looping forever.
func Resolve(t *Type, defs TypeDefs) (*Type, bool) {
	seen := map[string]bool{}
	cur := t
	for cur != nil && cur.Kind == KindRef {
		if seen[cur.RefName] {
			return nil, false
		}
		seen[cur.RefName] = true
		next, ok := defs[cur.RefName]
		if !ok {
			return nil, false
		}
		cur = next
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// Str is a convenience constructor for the string type.
func Str() *Type { return &Type{Kind: KindString} }

// EnumOf builds an enum type.
func EnumOf(values ...string) *Type { return &Type{Kind: KindEnum, Values: values} }

// ArrayOf builds an array type.
func ArrayOf(of *Type) *Type { return &Type{Kind: KindArray, Of: of} }

// OptionalOf builds an optional type.
func OptionalOf(of *Type) *Type { return &Type{Kind: KindOptional, Of: of} }

// ObjectOf builds an object type from named fields.
func ObjectOf(fields map[string]Field) *Type { return &Type{Kind: KindObject, Fields: fields} }

// TaggedUnionOf builds a taggedUnion type from named fields (tag -> Field).
func TaggedUnionOf(fields map[string]Field) *Type {
	return &Type{Kind: KindTaggedUnion, Fields: fields}
}

// RefTo builds a ref(name) type.
func RefTo(name string) *Type { return &Type{Kind: KindRef, RefName: name} }
