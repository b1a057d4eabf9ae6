package graph

import (
	"github.com/pkg/errors"

	"boxgraph/address"
)

// Pointer is a weak, typed reference to a box. It never owns its target.
type Pointer struct {
	fieldBase
	target    address.Address
	hasTarget bool
	// deferred marks a pointer detached on purpose while its box or its
	// target is being removed. Deferred pointers are exempt from the
	// mandatory check until they are referred again.
	deferred bool
}

// Type implements Field.
func (p *Pointer) Type() FieldType { return TypePointer }

// Rules returns the declared pointer rules.
func (p *Pointer) Rules() PointerRules { return p.spec.Pointer }

// Mandatory reports whether the pointer must be set.
func (p *Pointer) Mandatory() bool { return p.spec.Pointer.Mandatory }

// Target returns the target address, if any.
func (p *Pointer) Target() (address.Address, bool) {
	return p.target, p.hasTarget
}

// TargetBox resolves the target in the owning graph.
func (p *Pointer) TargetBox() (*Box, bool) {
	if !p.hasTarget {
		return nil, false
	}
	return p.box.graph.FindBox(p.target.Identity())
}

// Deferred reports whether the pointer was detached with Defer.
func (p *Pointer) Deferred() bool { return p.deferred }

// Refer points at target after checking it against the accepted kinds.
func (p *Pointer) Refer(target *Box) error {
	if err := p.mutable(); err != nil {
		return err
	}
	g := p.box.graph
	if target == nil {
		return g.fail(violation(ErrDanglingPointer, p.Address(), "nil target"))
	}
	if target.graph != g {
		return g.fail(violation(ErrForeignBox, p.Address(), "target %s", target.id))
	}
	if target.deleted || !target.registered {
		return g.fail(violation(ErrDanglingPointer, p.Address(), "target %s is not in the graph", target.id))
	}
	if !p.spec.Pointer.AcceptsKind(target.kind) {
		return g.fail(violation(ErrPointerTypeMismatch, p.Address(), "%s does not accept %s", p.spec.Name, target.kind))
	}
	addr := target.Address()
	p.change(&addr, false)
	return nil
}

// ReferTo points at the box named by addr. Pointers target boxes only, so
// addr must be a box address.
func (p *Pointer) ReferTo(addr address.Address) error {
	if err := p.mutable(); err != nil {
		return err
	}
	g := p.box.graph
	if !addr.IsBox() {
		return g.fail(violation(ErrPointerTypeMismatch, p.Address(), "target %s is a field", addr))
	}
	target, ok := g.FindBox(addr.Identity())
	if !ok {
		return g.fail(violation(ErrDanglingPointer, p.Address(), "target %s", addr))
	}
	return p.Refer(target)
}

// Clear empties the pointer. A mandatory pointer left empty on a living box
// fails the transaction when it ends.
func (p *Pointer) Clear() error {
	if err := p.mutable(); err != nil {
		return err
	}
	p.change(nil, false)
	return nil
}

// Defer detaches the pointer without touching its target. It is used when
// the pointer's box is about to be removed, or when the pointer will be
// redirected, so that deleting the current target can proceed.
func (p *Pointer) Defer() error {
	if err := p.mutable(); err != nil {
		return err
	}
	p.change(nil, true)
	return nil
}

// change applies and records a new target.
func (p *Pointer) change(target *address.Address, deferred bool) {
	old, had, wasDeferred := p.target, p.hasTarget, p.deferred
	if target == nil && !had && deferred == wasDeferred {
		return
	}
	if target != nil && had && *target == old {
		return
	}
	p.relink(target, deferred)
	c := Change{
		Kind:        PointerChanged,
		Address:     p.Address(),
		BoxKind:     p.box.kind,
		WasDeferred: wasDeferred,
		Deferred:    deferred,
		field:       p,
	}
	if had {
		c.OldTarget = &old
	}
	if target != nil {
		t := *target
		c.NewTarget = &t
	}
	p.box.graph.record(c)
}

// relink moves the pointer between target hubs without recording.
func (p *Pointer) relink(target *address.Address, deferred bool) {
	linked := p.live()
	if linked && p.hasTarget {
		if b, ok := p.box.graph.boxes[p.target.Identity()]; ok {
			b.hub.remove(p)
		}
	}
	p.hasTarget = target != nil
	if target != nil {
		p.target = *target
		deferred = false
	} else {
		p.target = address.Address{}
	}
	p.deferred = deferred
	if linked && p.hasTarget {
		if b, ok := p.box.graph.boxes[p.target.Identity()]; ok {
			b.hub.add(p)
		}
	}
}

// Encode implements Field.
func (p *Pointer) Encode() []byte {
	if !p.hasTarget {
		return []byte{0}
	}
	return p.target.AppendBinary([]byte{1})
}

// Decode implements Field.
func (p *Pointer) Decode(data []byte) error {
	live := p.live()
	return p.guard(live, p.decode(data, live))
}

func (p *Pointer) decode(data []byte, live bool) error {
	if len(data) == 0 {
		return errors.Wrapf(ErrCorruptPayload, "empty pointer payload for %s", p.spec.Name)
	}
	switch data[0] {
	case 0:
		if len(data) != 1 {
			return errors.Wrapf(ErrCorruptPayload, "empty pointer %s has %d trailing bytes", p.spec.Name, len(data)-1)
		}
		return p.assign(nil, live)
	case 1:
		var addr address.Address
		if err := addr.UnmarshalBinary(data[1:]); err != nil {
			return errors.Wrapf(err, "decoding pointer %s", p.spec.Name)
		}
		return p.assign(&addr, live)
	default:
		return errors.Wrapf(ErrCorruptPayload, "pointer %s has flag %#x", p.spec.Name, data[0])
	}
}

func (p *Pointer) assign(target *address.Address, live bool) error {
	if live {
		if target == nil {
			return p.Clear()
		}
		return p.ReferTo(*target)
	}
	p.hasTarget = target != nil
	if target != nil {
		p.target = *target
	}
	return nil
}

// ToTree implements Field: nil or the target address text.
func (p *Pointer) ToTree() any {
	if !p.hasTarget {
		return nil
	}
	return p.target.String()
}

// FromTree implements Field. A nil value empties the pointer.
func (p *Pointer) FromTree(v any) error {
	live := p.live()
	return p.guard(live, p.fromTree(v, live))
}

func (p *Pointer) fromTree(v any, live bool) error {
	switch t := v.(type) {
	case nil:
		return p.assign(nil, live)
	case string:
		addr, err := address.Parse(t)
		if err != nil {
			return errors.Wrapf(err, "pointer %s", p.spec.Name)
		}
		return p.assign(&addr, live)
	case address.Address:
		return p.assign(&t, live)
	default:
		return errors.Wrapf(ErrValueType, "pointer %s: %T", p.spec.Name, v)
	}
}
