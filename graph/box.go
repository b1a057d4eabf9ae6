package graph

import (
	"github.com/pkg/errors"

	"boxgraph/address"
)

// Box is a root vertex: an identity plus a fixed set of fields declared by
// the factory of its kind.
type Box struct {
	graph *Graph
	kind  string
	id    address.Identity
	root  *Object
	hub   *PointerHub
	// seq is the creation order within the graph.
	seq uint64

	registered bool
	deleted    bool
}

func newBox(g *Graph, kind string, id address.Identity, specs []FieldSpec) *Box {
	b := &Box{graph: g, kind: kind, id: id}
	b.hub = newPointerHub(b)
	rootSpec := &FieldSpec{Name: kind, Type: TypeObject, Fields: specs}
	b.root = newField(b, nil, 0, rootSpec).(*Object)
	return b
}

// Kind returns the box kind name.
func (b *Box) Kind() string { return b.kind }

// ID returns the box identity.
func (b *Box) ID() address.Identity { return b.id }

// Address returns the address of the box itself.
func (b *Box) Address() address.Address { return address.Compose(b.id) }

// Graph returns the owning graph.
func (b *Box) Graph() *Graph { return b.graph }

// Hub returns the index of pointers targeting this box.
func (b *Box) Hub() *PointerHub { return b.hub }

// Deleted reports whether the box was removed from its graph.
func (b *Box) Deleted() bool { return b.deleted }

// Root returns the object holding the box's top-level fields.
func (b *Box) Root() *Object { return b.root }

// Field returns the top-level field with key.
func (b *Box) Field(key address.FieldKey) (Field, bool) { return b.root.Field(key) }

// FieldByName returns the top-level field declared with name.
func (b *Box) FieldByName(name string) (Field, bool) { return b.root.FieldByName(name) }

// Fields returns the top-level fields ordered by key.
func (b *Box) Fields() []Field { return b.root.Fields() }

// Primitive returns the named top-level primitive, or nil.
func (b *Box) Primitive(name string) *Primitive { return b.root.Primitive(name) }

// Pointer returns the named top-level pointer, or nil.
func (b *Box) Pointer(name string) *Pointer { return b.root.Pointer(name) }

// Object returns the named top-level object, or nil.
func (b *Box) Object(name string) *Object { return b.root.Object(name) }

// Array returns the named top-level array, or nil.
func (b *Box) Array(name string) *Array { return b.root.Array(name) }

// Lookup resolves a key path below the box.
func (b *Box) Lookup(keys ...address.FieldKey) (Field, error) {
	var f Field = b.root
	for depth, key := range keys {
		switch parent := f.(type) {
		case *Object:
			child, ok := parent.byKey[key]
			if !ok {
				return nil, errors.Wrapf(ErrAddressNotFound, "%s has no key %d", address.Compose(b.id, keys[:depth+1]...), key)
			}
			f = child
		case *Array:
			if int(key) >= len(parent.elements) {
				return nil, errors.Wrapf(ErrAddressNotFound, "%s: index %d of %d", address.Compose(b.id, keys[:depth+1]...), key, len(parent.elements))
			}
			f = parent.elements[key]
		default:
			return nil, errors.Wrapf(ErrAddressNotFound, "%s: %s field has no children", address.Compose(b.id, keys[:depth]...), f.Type())
		}
	}
	return f, nil
}

// Pointers returns every pointer of the box in key order.
func (b *Box) Pointers() []*Pointer {
	var out []*Pointer
	walkPointers(b.root, func(p *Pointer) { out = append(out, p) })
	return out
}

// Encode returns the binary payload of the box's fields.
func (b *Box) Encode() []byte { return b.root.Encode() }

// Decode applies a binary payload to the box's fields.
func (b *Box) Decode(data []byte) error { return b.root.Decode(data) }

// ToTree returns {"kind", "id", "fields"}.
func (b *Box) ToTree() map[string]any {
	return map[string]any{
		"kind":   b.kind,
		"id":     b.id.String(),
		"fields": b.root.ToTree(),
	}
}

// FromTree applies a fields tree, as found under "fields" in ToTree.
func (b *Box) FromTree(fields any) error { return b.root.FromTree(fields) }

// missingMandatory lists mandatory pointers that are empty without having
// been deferred.
func (b *Box) missingMandatory() []*Pointer {
	var out []*Pointer
	walkPointers(b.root, func(p *Pointer) {
		if p.Mandatory() && !p.hasTarget && !p.deferred {
			out = append(out, p)
		}
	})
	return out
}
