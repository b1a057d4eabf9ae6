package graph

import (
	"github.com/pkg/errors"

	"boxgraph/address"
)

// FieldType is the variant of a field.
type FieldType uint8

const (
	TypePrimitive FieldType = iota + 1
	TypePointer
	TypeObject
	TypeArray
)

func (t FieldType) String() string {
	switch t {
	case TypePrimitive:
		return "primitive"
	case TypePointer:
		return "pointer"
	case TypeObject:
		return "object"
	case TypeArray:
		return "array"
	default:
		return "invalid"
	}
}

// PrimitiveType is the scalar type held by a primitive field.
type PrimitiveType uint8

const (
	Bool PrimitiveType = iota + 1
	Int32
	Int64
	Float32
	Float64
	String
	Bytes
)

var primitiveNames = map[PrimitiveType]string{
	Bool:    "bool",
	Int32:   "int32",
	Int64:   "int64",
	Float32: "float32",
	Float64: "float64",
	String:  "string",
	Bytes:   "bytes",
}

func (t PrimitiveType) String() string {
	if name, ok := primitiveNames[t]; ok {
		return name
	}
	return "invalid"
}

// ParsePrimitiveType maps a type name ("int32", "string", ...) to its value.
func ParsePrimitiveType(name string) (PrimitiveType, bool) {
	for t, n := range primitiveNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// PointerRules declare what a pointer field may refer to.
type PointerRules struct {
	// Tag names the kind of edge in the target's PointerHub.
	Tag string
	// Accepts lists the box kinds the pointer may target. Empty accepts any kind.
	Accepts []string
	// Mandatory pointers must be set once their box has finished creation.
	Mandatory bool
}

// AcceptsKind reports whether a box kind is an allowed target.
func (r PointerRules) AcceptsKind(kind string) bool {
	if len(r.Accepts) == 0 {
		return true
	}
	for _, k := range r.Accepts {
		if k == kind {
			return true
		}
	}
	return false
}

// FieldSpec declares one field of a box schema.
type FieldSpec struct {
	Key  address.FieldKey
	Name string
	Type FieldType

	// Primitive fields.
	Primitive PrimitiveType
	Default   any

	// Pointer fields.
	Pointer PointerRules

	// Object fields.
	Fields []FieldSpec

	// Array fields. The element key is ignored.
	Element *FieldSpec
}

// Factory returns the declared field set of a box kind. It is called once
// per box allocation.
type Factory func() []FieldSpec

// Factories maps box kind names to their factories. It is built once at
// startup and handed to New.
type Factories map[string]Factory

// Register adds a factory for kind.
func (fs Factories) Register(kind string, f Factory) {
	fs[kind] = f
}

// Kinds returns the registered kind names.
func (fs Factories) Kinds() []string {
	kinds := make([]string, 0, len(fs))
	for k := range fs {
		kinds = append(kinds, k)
	}
	return kinds
}

// Validate builds every registered schema once and reports the first
// malformed declaration.
func (fs Factories) Validate() error {
	for kind, f := range fs {
		if err := validateFields(f(), kind); err != nil {
			return err
		}
	}
	return nil
}

func validateFields(specs []FieldSpec, path string) error {
	seen := make(map[address.FieldKey]bool, len(specs))
	for i := range specs {
		spec := &specs[i]
		if seen[spec.Key] {
			return errors.Wrapf(ErrInvalidSchema, "%s: duplicate key %d", path, spec.Key)
		}
		seen[spec.Key] = true
		if err := validateSpec(spec, path+"."+spec.Name); err != nil {
			return err
		}
	}
	return nil
}

func validateSpec(spec *FieldSpec, path string) error {
	switch spec.Type {
	case TypePrimitive:
		if _, ok := primitiveNames[spec.Primitive]; !ok {
			return errors.Wrapf(ErrInvalidSchema, "%s: unknown primitive type %d", path, spec.Primitive)
		}
		if spec.Default != nil {
			if _, err := coerce(spec.Primitive, spec.Default); err != nil {
				return errors.Wrapf(ErrInvalidSchema, "%s: default: %v", path, err)
			}
		}
	case TypePointer:
	case TypeObject:
		return validateFields(spec.Fields, path)
	case TypeArray:
		if spec.Element == nil {
			return errors.Wrapf(ErrInvalidSchema, "%s: array without element", path)
		}
		return validateSpec(spec.Element, path+"[]")
	default:
		return errors.Wrapf(ErrInvalidSchema, "%s: unknown field type %d", path, spec.Type)
	}
	return nil
}

// ----- Declaration helpers -----

// PrimitiveField declares a scalar field.
func PrimitiveField(key address.FieldKey, name string, t PrimitiveType, def any) FieldSpec {
	return FieldSpec{Key: key, Name: name, Type: TypePrimitive, Primitive: t, Default: def}
}

// PointerField declares a pointer field.
func PointerField(key address.FieldKey, name string, rules PointerRules) FieldSpec {
	return FieldSpec{Key: key, Name: name, Type: TypePointer, Pointer: rules}
}

// ObjectField declares a nested record.
func ObjectField(key address.FieldKey, name string, fields ...FieldSpec) FieldSpec {
	return FieldSpec{Key: key, Name: name, Type: TypeObject, Fields: fields}
}

// ArrayField declares an ordered list of same-shaped elements.
func ArrayField(key address.FieldKey, name string, element FieldSpec) FieldSpec {
	return FieldSpec{Key: key, Name: name, Type: TypeArray, Element: &element}
}
