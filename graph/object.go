package graph

import (
	"encoding/binary"
	"slices"
	"strconv"

	"github.com/pkg/errors"

	"boxgraph/address"
)

// Object is a fixed record of child fields. Its shape comes from the schema
// and never changes at runtime.
type Object struct {
	fieldBase
	children []Field // ordered by key
	byKey    map[address.FieldKey]Field
	byName   map[string]Field
}

// Type implements Field.
func (o *Object) Type() FieldType { return TypeObject }

func (o *Object) buildChildren(specs []FieldSpec) {
	o.children = make([]Field, 0, len(specs))
	o.byKey = make(map[address.FieldKey]Field, len(specs))
	o.byName = make(map[string]Field, len(specs))
	for i := range specs {
		spec := &specs[i]
		child := newField(o.box, o, spec.Key, spec)
		o.children = append(o.children, child)
		o.byKey[spec.Key] = child
		if spec.Name != "" {
			o.byName[spec.Name] = child
		}
	}
	slices.SortFunc(o.children, func(a, b Field) int {
		return int(a.base().key) - int(b.base().key)
	})
}

// Field returns the child with key.
func (o *Object) Field(key address.FieldKey) (Field, bool) {
	f, ok := o.byKey[key]
	return f, ok
}

// FieldByName returns the child declared with name.
func (o *Object) FieldByName(name string) (Field, bool) {
	f, ok := o.byName[name]
	return f, ok
}

// Fields returns the children ordered by key.
func (o *Object) Fields() []Field {
	return append([]Field(nil), o.children...)
}

// Primitive returns the named child as a primitive, or nil.
func (o *Object) Primitive(name string) *Primitive {
	f, _ := o.byName[name].(*Primitive)
	return f
}

// Pointer returns the named child as a pointer, or nil.
func (o *Object) Pointer(name string) *Pointer {
	f, _ := o.byName[name].(*Pointer)
	return f
}

// Object returns the named child as an object, or nil.
func (o *Object) Object(name string) *Object {
	f, _ := o.byName[name].(*Object)
	return f
}

// Array returns the named child as an array, or nil.
func (o *Object) Array(name string) *Array {
	f, _ := o.byName[name].(*Array)
	return f
}

// Encode implements Field.
func (o *Object) Encode() []byte {
	buf := binary.BigEndian.AppendUint16(nil, uint16(len(o.children)))
	for _, c := range o.children {
		buf = binary.BigEndian.AppendUint16(buf, uint16(c.base().key))
		buf = appendChunk(buf, c.Encode())
	}
	return buf
}

// Decode implements Field. Keys missing from data keep their value; keys
// unknown to the schema are skipped.
func (o *Object) Decode(data []byte) error {
	live := o.live()
	return o.guard(live, o.decode(data, live))
}

func (o *Object) decode(data []byte, live bool) error {
	r := newReader(data)
	count, err := r.uint16()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		key, err := r.uint16()
		if err != nil {
			return err
		}
		payload, err := r.chunk()
		if err != nil {
			return err
		}
		child, ok := o.byKey[address.FieldKey(key)]
		if !ok {
			continue
		}
		if err := decodeField(child, payload, live); err != nil {
			return err
		}
	}
	return r.done()
}

// ToTree implements Field: a map keyed by decimal field key.
func (o *Object) ToTree() any {
	m := make(map[string]any, len(o.children))
	for _, c := range o.children {
		m[strconv.Itoa(int(c.base().key))] = c.ToTree()
	}
	return m
}

// FromTree implements Field.
func (o *Object) FromTree(v any) error {
	live := o.live()
	return o.guard(live, o.fromTree(v, live))
}

func (o *Object) fromTree(v any, live bool) error {
	if v == nil {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return errors.Wrapf(ErrValueType, "object %s: %T", o.spec.Name, v)
	}
	for _, c := range o.children {
		value, ok := m[strconv.Itoa(int(c.base().key))]
		if !ok {
			continue
		}
		if err := fieldFromTree(c, value, live); err != nil {
			return err
		}
	}
	return nil
}

// decodeField and fieldFromTree route to the variant's implementation with
// an explicit live flag, so a subtree being materialized is filled in
// without touching the transaction.
func decodeField(f Field, data []byte, live bool) error {
	return Visit(f, Visitor[error]{
		Primitive: func(p *Primitive) error { return p.decode(data, live) },
		Pointer:   func(p *Pointer) error { return p.decode(data, live) },
		Object:    func(o *Object) error { return o.decode(data, live) },
		Array:     func(a *Array) error { return a.decode(data, live) },
	})
}

func fieldFromTree(f Field, v any, live bool) error {
	return Visit(f, Visitor[error]{
		Primitive: func(p *Primitive) error { return p.fromTree(v, live) },
		Pointer:   func(p *Pointer) error { return p.fromTree(v, live) },
		Object:    func(o *Object) error { return o.fromTree(v, live) },
		Array:     func(a *Array) error { return a.fromTree(v, live) },
	})
}
