package graph

import (
	"encoding/binary"
	"slices"

	"github.com/pkg/errors"

	"boxgraph/address"
)

// maxElements is the number of distinct element keys.
const maxElements = int(^address.FieldKey(0)) + 1

// Array is an ordered list of same-shaped elements keyed by index.
//
// Element addresses are positional: removing an element shifts the
// addresses of every later sibling and all of their descendants. An address
// taken before an Append or RemoveAt must not be used after it.
type Array struct {
	fieldBase
	elements []Field
}

// Type implements Field.
func (a *Array) Type() FieldType { return TypeArray }

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.elements) }

// Fields returns the elements in index order.
func (a *Array) Fields() []Field {
	return append([]Field(nil), a.elements...)
}

// At returns the element at index i.
func (a *Array) At(i int) (Field, error) {
	if i < 0 || i >= len(a.elements) {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "%s[%d] of %d", a.spec.Name, i, len(a.elements))
	}
	return a.elements[i], nil
}

// Append adds a default-valued element at the end and returns it.
func (a *Array) Append() (Field, error) {
	if err := a.mutable(); err != nil {
		return nil, err
	}
	if len(a.elements) >= maxElements {
		return nil, a.box.graph.fail(violation(ErrIndexOutOfRange, a.Address(), "array is full"))
	}
	elem := a.newElement(len(a.elements))
	a.insert(len(a.elements), elem)
	a.box.graph.record(Change{
		Kind:     Created,
		Address:  elem.Address(),
		BoxKind:  a.box.kind,
		Snapshot: elem.Encode(),
		field:    elem,
	})
	return elem, nil
}

// RemoveAt removes the element at index i. Pointers inside the element are
// cleared first, then later siblings are re-indexed.
func (a *Array) RemoveAt(i int) error {
	if err := a.mutable(); err != nil {
		return err
	}
	if i < 0 || i >= len(a.elements) {
		return a.box.graph.fail(violation(ErrIndexOutOfRange, a.Address(), "index %d of %d", i, len(a.elements)))
	}
	elem := a.elements[i]
	walkPointers(elem, func(p *Pointer) {
		if p.hasTarget {
			p.change(nil, false)
		}
	})
	addr := elem.Address()
	snapshot := elem.Encode()
	a.detach(i)
	a.box.graph.record(Change{
		Kind:     Deleted,
		Address:  addr,
		BoxKind:  a.box.kind,
		Snapshot: snapshot,
		field:    elem,
	})
	return nil
}

func (a *Array) newElement(i int) Field {
	return newField(a.box, a, address.FieldKey(i), a.spec.Element)
}

// insert places elem at index i, re-keys later siblings and links the
// element's pointers into their target hubs.
func (a *Array) insert(i int, elem Field) {
	a.elements = slices.Insert(a.elements, i, elem)
	elem.base().removed = false
	a.reindex(i)
	if a.live() {
		walkPointers(elem, a.box.graph.link)
	}
}

// detach takes the element at index i out of the array without recording.
func (a *Array) detach(i int) Field {
	elem := a.elements[i]
	if a.live() {
		walkPointers(elem, a.box.graph.unlink)
	}
	a.elements = slices.Delete(a.elements, i, i+1)
	elem.base().removed = true
	a.reindex(i)
	return elem
}

func (a *Array) reindex(from int) {
	for i := from; i < len(a.elements); i++ {
		a.elements[i].base().key = address.FieldKey(i)
	}
}

func (a *Array) indexOf(elem Field) int {
	return slices.Index(a.elements, elem)
}

// Encode implements Field.
func (a *Array) Encode() []byte {
	buf := binary.BigEndian.AppendUint32(nil, uint32(len(a.elements)))
	for _, e := range a.elements {
		buf = appendChunk(buf, e.Encode())
	}
	return buf
}

// Decode implements Field. On a live box the array is resized with Append
// and RemoveAt before the elements are decoded in place.
func (a *Array) Decode(data []byte) error {
	live := a.live()
	return a.guard(live, a.decode(data, live))
}

func (a *Array) decode(data []byte, live bool) error {
	r := newReader(data)
	count, err := r.uint32()
	if err != nil {
		return err
	}
	if int64(count) > int64(maxElements) {
		return errors.Wrapf(ErrCorruptPayload, "array %s: %d elements, at most %d", a.spec.Name, count, maxElements)
	}
	payloads := make([][]byte, 0, min(int(count), r.remaining()/4))
	for i := 0; i < int(count); i++ {
		payload, err := r.chunk()
		if err != nil {
			return err
		}
		payloads = append(payloads, payload)
	}
	if err := r.done(); err != nil {
		return err
	}
	if err := a.resize(len(payloads), live); err != nil {
		return err
	}
	for i, payload := range payloads {
		if err := decodeField(a.elements[i], payload, live); err != nil {
			return err
		}
	}
	return nil
}

func (a *Array) resize(n int, live bool) error {
	if !live {
		for len(a.elements) > n {
			a.elements[len(a.elements)-1].base().removed = true
			a.elements = a.elements[:len(a.elements)-1]
		}
		for len(a.elements) < n {
			a.elements = append(a.elements, a.newElement(len(a.elements)))
		}
		return nil
	}
	for len(a.elements) > n {
		if err := a.RemoveAt(len(a.elements) - 1); err != nil {
			return err
		}
	}
	for len(a.elements) < n {
		if _, err := a.Append(); err != nil {
			return err
		}
	}
	return nil
}

// ToTree implements Field: a list of element trees.
func (a *Array) ToTree() any {
	out := make([]any, len(a.elements))
	for i, e := range a.elements {
		out[i] = e.ToTree()
	}
	return out
}

// FromTree implements Field.
func (a *Array) FromTree(v any) error {
	live := a.live()
	return a.guard(live, a.fromTree(v, live))
}

func (a *Array) fromTree(v any, live bool) error {
	if v == nil {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return errors.Wrapf(ErrValueType, "array %s: %T", a.spec.Name, v)
	}
	if len(list) > maxElements {
		return errors.Wrapf(ErrValueType, "array %s: %d elements, at most %d", a.spec.Name, len(list), maxElements)
	}
	if err := a.resize(len(list), live); err != nil {
		return err
	}
	for i, item := range list {
		if err := fieldFromTree(a.elements[i], item, live); err != nil {
			return err
		}
	}
	return nil
}
