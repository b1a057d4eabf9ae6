package graph

import (
	"github.com/pkg/errors"

	"boxgraph/address"
)

// Apply replays c inside the open transaction, recording it again. Changes
// must be applied in the order they were recorded. Apply is how undo,
// replicas and diffs mutate a graph.
func (g *Graph) Apply(c Change) error {
	if g.state != stateOpen {
		return ErrNotInTransaction
	}
	switch c.Kind {
	case Created:
		if c.Address.IsBox() {
			return g.applyCreateBox(c)
		}
		return g.applyCreateElement(c)
	case Deleted:
		if c.Address.IsBox() {
			b, ok := g.boxes[c.Address.Identity()]
			if !ok {
				return g.fail(violation(ErrAddressNotFound, c.Address, "delete of missing box"))
			}
			return g.DeleteBox(b)
		}
		arr, err := g.resolveArray(c.Address)
		if err != nil {
			return err
		}
		return arr.RemoveAt(int(c.Address.Last()))
	case ValueChanged:
		f, err := g.Resolve(c.Address)
		if err != nil {
			return g.fail(err)
		}
		p, ok := f.(*Primitive)
		if !ok {
			return g.fail(violation(ErrValueType, c.Address, "%s field is not a primitive", f.Type()))
		}
		return p.SetValue(c.NewValue)
	case PointerChanged:
		f, err := g.Resolve(c.Address)
		if err != nil {
			return g.fail(err)
		}
		p, ok := f.(*Pointer)
		if !ok {
			return g.fail(violation(ErrValueType, c.Address, "%s field is not a pointer", f.Type()))
		}
		switch {
		case c.NewTarget != nil:
			return p.ReferTo(*c.NewTarget)
		case c.Deferred:
			return p.Defer()
		default:
			return p.Clear()
		}
	default:
		return g.fail(errors.Errorf("unknown change kind %d at %s", c.Kind, c.Address))
	}
}

// ApplyAll applies changes in order, stopping at the first error.
func (g *Graph) ApplyAll(changes []Change) error {
	for _, c := range changes {
		if err := g.Apply(c); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) applyCreateBox(c Change) error {
	id := c.Address.Identity()
	if _, exists := g.boxes[id]; exists {
		return g.fail(violation(ErrDuplicateIdentity, c.Address, "kind %s", c.BoxKind))
	}
	b := c.box
	if b == nil || b.graph != g || !b.deleted {
		factory, ok := g.factories[c.BoxKind]
		if !ok {
			return g.fail(errors.Wrapf(ErrUnknownBoxKind, "%q", c.BoxKind))
		}
		b = newBox(g, c.BoxKind, id, factory())
		if len(c.Snapshot) > 0 {
			if err := decodeField(b.root, c.Snapshot, false); err != nil {
				return g.fail(errors.Wrapf(err, "materializing %s", c.Address))
			}
		}
	}
	if err := g.checkTargets(b.root, b); err != nil {
		return g.fail(err)
	}
	g.attach(b)
	g.record(Change{
		Kind:     Created,
		Address:  b.Address(),
		BoxKind:  b.kind,
		Snapshot: b.Encode(),
		box:      b,
	})
	return nil
}

func (g *Graph) applyCreateElement(c Change) error {
	arr, err := g.resolveArray(c.Address)
	if err != nil {
		return err
	}
	i := int(c.Address.Last())
	if i > len(arr.elements) {
		return g.fail(violation(ErrIndexOutOfRange, c.Address, "insert at %d of %d", i, len(arr.elements)))
	}
	if err := arr.mutable(); err != nil {
		return err
	}
	elem := c.field
	if elem == nil || elem.base().parent != Field(arr) || !elem.base().removed {
		elem = arr.newElement(i)
		if len(c.Snapshot) > 0 {
			if err := decodeField(elem, c.Snapshot, false); err != nil {
				return g.fail(errors.Wrapf(err, "materializing %s", c.Address))
			}
		}
	}
	if err := g.checkTargets(elem, arr.box); err != nil {
		return g.fail(err)
	}
	arr.insert(i, elem)
	g.record(Change{
		Kind:     Created,
		Address:  elem.Address(),
		BoxKind:  arr.box.kind,
		Snapshot: elem.Encode(),
		field:    elem,
	})
	return nil
}

// resolveArray returns the array holding the element at addr.
func (g *Graph) resolveArray(addr address.Address) (*Array, error) {
	if addr.IsBox() {
		return nil, g.fail(violation(ErrAddressNotFound, addr, "not an element address"))
	}
	f, err := g.Resolve(addr.Parent())
	if err != nil {
		return nil, g.fail(err)
	}
	arr, ok := f.(*Array)
	if !ok {
		return nil, g.fail(violation(ErrAddressNotFound, addr, "parent is a %s field", f.Type()))
	}
	return arr, nil
}

// checkTargets verifies that every set pointer below f targets a living box
// of an accepted kind. self counts as living even before it is attached.
func (g *Graph) checkTargets(f Field, self *Box) error {
	var err error
	walkPointers(f, func(p *Pointer) {
		if err != nil || !p.hasTarget {
			return
		}
		err = g.checkTarget(p, p.target, func(id address.Identity) (*Box, bool) {
			if id == self.id {
				return self, true
			}
			return g.FindBox(id)
		})
	})
	return err
}

func (g *Graph) checkTarget(p *Pointer, target address.Address, lookup func(address.Identity) (*Box, bool)) error {
	if !target.IsBox() {
		return violation(ErrPointerTypeMismatch, p.Address(), "target %s is a field", target)
	}
	t, ok := lookup(target.Identity())
	if !ok {
		return violation(ErrDanglingPointer, p.Address(), "target %s", target)
	}
	if !p.spec.Pointer.AcceptsKind(t.kind) {
		return violation(ErrPointerTypeMismatch, p.Address(), "%s does not accept %s", p.spec.Name, t.kind)
	}
	return nil
}
