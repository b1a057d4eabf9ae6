package graph

import (
	"boxgraph/address"
)

// Field is one of *Primitive, *Pointer, *Object or *Array. The set is
// closed: the unexported base method keeps other packages from adding
// variants, and Visit is the exhaustive dispatch over it.
type Field interface {
	// Address is derived from the field's current position. Array mutations
	// change the addresses of later siblings and their descendants.
	Address() address.Address
	Box() *Box
	Spec() *FieldSpec
	Type() FieldType

	// Encode returns the binary payload of the field.
	Encode() []byte
	// Decode replaces the field's state with a binary payload. On a live box
	// it must run inside a transaction and records changes.
	Decode(data []byte) error
	// ToTree returns a JSON-compatible value.
	ToTree() any
	// FromTree applies a JSON-compatible value. Unknown and missing keys are
	// ignored.
	FromTree(v any) error

	base() *fieldBase
}

// Visitor holds one callback per field variant.
type Visitor[R any] struct {
	Primitive func(*Primitive) R
	Pointer   func(*Pointer) R
	Object    func(*Object) R
	Array     func(*Array) R
}

// Visit dispatches f to the matching callback. A nil callback for the
// variant at hand panics, so every call site must handle all four.
func Visit[R any](f Field, v Visitor[R]) R {
	switch f := f.(type) {
	case *Primitive:
		if v.Primitive == nil {
			panic(missingCallback("Primitive"))
		}
		return v.Primitive(f)
	case *Pointer:
		if v.Pointer == nil {
			panic(missingCallback("Pointer"))
		}
		return v.Pointer(f)
	case *Object:
		if v.Object == nil {
			panic(missingCallback("Object"))
		}
		return v.Object(f)
	case *Array:
		if v.Array == nil {
			panic(missingCallback("Array"))
		}
		return v.Array(f)
	default:
		panic("graph: unknown field variant")
	}
}

func missingCallback(variant string) string {
	return "graph: visitor has no " + variant + " callback"
}

type fieldBase struct {
	box    *Box
	parent Field // nil for the root object of a box
	key    address.FieldKey
	spec   *FieldSpec
	// removed is set on array elements taken out of their array.
	removed bool
}

func (f *fieldBase) base() *fieldBase { return f }

// Box returns the owning box.
func (f *fieldBase) Box() *Box { return f.box }

// Spec returns the field's declaration.
func (f *fieldBase) Spec() *FieldSpec { return f.spec }

// Key returns the field's key within its parent.
func (f *fieldBase) Key() address.FieldKey { return f.key }

// Name returns the declared field name.
func (f *fieldBase) Name() string { return f.spec.Name }

// Address derives the field's path from its ancestors.
func (f *fieldBase) Address() address.Address {
	if f.parent == nil {
		return address.Compose(f.box.id)
	}
	return f.parent.Address().Append(f.key)
}

// attached reports whether the field is reachable from its box.
func (f *fieldBase) attached() bool {
	for b := f; ; {
		if b.removed {
			return false
		}
		if b.parent == nil {
			return true
		}
		b = b.parent.base()
	}
}

// live reports whether mutations go through the transaction machinery, as
// opposed to filling in a box or element that is still being materialized.
func (f *fieldBase) live() bool {
	return f.box.registered && f.attached()
}

// mutable gates every recorded mutation.
func (f *fieldBase) mutable() error {
	g := f.box.graph
	if g.state != stateOpen {
		return ErrNotInTransaction
	}
	if f.box.deleted {
		return g.fail(violation(ErrBoxDeleted, f.Address(), "kind %s", f.box.kind))
	}
	if !f.attached() {
		return g.fail(violation(ErrFieldRemoved, f.Address(), ""))
	}
	return nil
}

// guard aborts the open transaction when a live decode fails part way.
func (f *fieldBase) guard(live bool, err error) error {
	if err != nil && live {
		return f.box.graph.fail(err)
	}
	return err
}

// newField allocates the field tree for spec.
func newField(box *Box, parent Field, key address.FieldKey, spec *FieldSpec) Field {
	fb := fieldBase{box: box, parent: parent, key: key, spec: spec}
	switch spec.Type {
	case TypePrimitive:
		p := &Primitive{fieldBase: fb}
		p.value = zeroOrDefault(spec)
		return p
	case TypePointer:
		return &Pointer{fieldBase: fb}
	case TypeObject:
		o := &Object{fieldBase: fb}
		o.buildChildren(spec.Fields)
		return o
	case TypeArray:
		return &Array{fieldBase: fb}
	default:
		panic("graph: invalid field type " + spec.Type.String())
	}
}

// walkPointers calls fn for every pointer in the subtree of f, in key order.
func walkPointers(f Field, fn func(*Pointer)) {
	Visit(f, Visitor[struct{}]{
		Primitive: func(*Primitive) struct{} { return struct{}{} },
		Pointer: func(p *Pointer) struct{} {
			fn(p)
			return struct{}{}
		},
		Object: func(o *Object) struct{} {
			for _, c := range o.children {
				walkPointers(c, fn)
			}
			return struct{}{}
		},
		Array: func(a *Array) struct{} {
			for _, e := range a.elements {
				walkPointers(e, fn)
			}
			return struct{}{}
		},
	})
}
