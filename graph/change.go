package graph

import (
	"bytes"

	"boxgraph/address"
)

// ChangeKind classifies a Change.
type ChangeKind uint8

const (
	// Created is a new box, or a new array element when the address has keys.
	Created ChangeKind = iota + 1
	// Deleted is a removed box or array element.
	Deleted
	ValueChanged
	PointerChanged
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Deleted:
		return "deleted"
	case ValueChanged:
		return "value"
	case PointerChanged:
		return "pointer"
	default:
		return "invalid"
	}
}

// ParseChangeKind is the inverse of ChangeKind.String.
func ParseChangeKind(s string) (ChangeKind, bool) {
	for k := Created; k <= PointerChanged; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Change is one recorded mutation. Addresses are the ones valid at the
// moment the mutation happened, so a change list must be replayed in order.
type Change struct {
	Kind    ChangeKind
	Address address.Address
	// BoxKind is the kind of the box the address belongs to.
	BoxKind string

	// ValueChanged.
	OldValue any
	NewValue any

	// PointerChanged. A nil target is an empty pointer.
	OldTarget   *address.Address
	NewTarget   *address.Address
	WasDeferred bool
	Deferred    bool

	// Snapshot is the binary payload of the created or deleted box or
	// element. Pointers in a deletion snapshot are already cleared.
	Snapshot []byte

	// The live objects involved, kept so rollback and undo can revive the
	// very same box or element. Never set on changes from another graph.
	box   *Box
	field Field
}

// IsBox reports whether the change creates or deletes a whole box.
func (c Change) IsBox() bool {
	return (c.Kind == Created || c.Kind == Deleted) && c.Address.IsBox()
}

// Inverse returns the change that undoes c.
func (c Change) Inverse() Change {
	inv := c
	switch c.Kind {
	case Created:
		inv.Kind = Deleted
	case Deleted:
		inv.Kind = Created
	case ValueChanged:
		inv.OldValue, inv.NewValue = c.NewValue, c.OldValue
	case PointerChanged:
		inv.OldTarget, inv.NewTarget = c.NewTarget, c.OldTarget
		inv.WasDeferred, inv.Deferred = c.Deferred, c.WasDeferred
	}
	return inv
}

// Equal compares two changes ignoring the live objects they carry.
func (c Change) Equal(o Change) bool {
	return c.Kind == o.Kind &&
		c.Address == o.Address &&
		c.BoxKind == o.BoxKind &&
		equalValues(c.OldValue, o.OldValue) &&
		equalValues(c.NewValue, o.NewValue) &&
		equalTargets(c.OldTarget, o.OldTarget) &&
		equalTargets(c.NewTarget, o.NewTarget) &&
		c.WasDeferred == o.WasDeferred &&
		c.Deferred == o.Deferred &&
		bytes.Equal(c.Snapshot, o.Snapshot)
}

func equalTargets(a, b *address.Address) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Batch is everything one committed transaction changed, in mutation order.
type Batch struct {
	// Seq numbers batches of one graph from 1 in commit order.
	Seq     uint64
	Changes []Change
	// Record is false for transactions committed with SkipRecording.
	Record bool
	// Checkpoint is set by Mark and closes an undo step after this batch.
	Checkpoint bool
}

// Observer receives one batch per committed transaction, synchronously and
// in commit order. Observers must not open transactions on the graph that
// delivers to them.
type Observer interface {
	OnBatch(b *Batch)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(b *Batch)

// OnBatch implements Observer.
func (f ObserverFunc) OnBatch(b *Batch) { f(b) }
