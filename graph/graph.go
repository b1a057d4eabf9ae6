// Package graph implements the box graph: typed boxes of nested fields
// connected by typed pointers, mutated only inside transactions.
package graph

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"boxgraph/address"
)

// Graph holds every box of one document. It is single-threaded: callers
// must not use one Graph from more than one goroutine at a time.
type Graph struct {
	factories Factories
	log       logrus.FieldLogger

	boxes   map[address.Identity]*Box
	nextSeq uint64

	tx        txn
	state     txState
	batchSeq  uint64
	lastBatch *Batch

	observers  []observerEntry
	observerID int
}

type observerEntry struct {
	id int
	o  Observer
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger used for transaction and decode events.
func WithLogger(log logrus.FieldLogger) Option {
	return func(g *Graph) { g.log = log }
}

// New creates an empty graph that builds boxes with factories.
func New(factories Factories, opts ...Option) *Graph {
	g := &Graph{
		factories: factories,
		log:       logrus.StandardLogger(),
		boxes:     make(map[address.Identity]*Box),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Factories returns the factory table the graph was built with.
func (g *Graph) Factories() Factories { return g.factories }

// Subscribe registers o for committed batches and returns a function that
// removes it.
func (g *Graph) Subscribe(o Observer) (unsubscribe func()) {
	g.observerID++
	id := g.observerID
	g.observers = append(g.observers, observerEntry{id: id, o: o})
	return func() {
		g.observers = slices.DeleteFunc(g.observers, func(e observerEntry) bool { return e.id == id })
	}
}

// CreateBox allocates a box of kind, registers it under id and runs init
// on it. Field writes made by init are recorded like any other mutation.
func (g *Graph) CreateBox(kind string, id address.Identity, init func(*Box) error) (*Box, error) {
	if g.state != stateOpen {
		return nil, ErrNotInTransaction
	}
	factory, ok := g.factories[kind]
	if !ok {
		return nil, g.fail(errors.Wrapf(ErrUnknownBoxKind, "%q", kind))
	}
	if _, exists := g.boxes[id]; exists {
		return nil, g.fail(violation(ErrDuplicateIdentity, address.Compose(id), "kind %s", kind))
	}
	b := newBox(g, kind, id, factory())
	g.attach(b)
	g.record(Change{
		Kind:     Created,
		Address:  b.Address(),
		BoxKind:  kind,
		Snapshot: b.Encode(),
		box:      b,
	})
	if init != nil {
		if err := init(b); err != nil {
			if g.state == stateOpen {
				return nil, g.fail(err)
			}
			return nil, err
		}
	}
	return b, nil
}

// FindBox returns the living box with id.
func (g *Graph) FindBox(id address.Identity) (*Box, bool) {
	b, ok := g.boxes[id]
	return b, ok
}

// Len returns the number of living boxes.
func (g *Graph) Len() int { return len(g.boxes) }

// Boxes returns the living boxes in creation order.
func (g *Graph) Boxes() []*Box {
	out := make([]*Box, 0, len(g.boxes))
	for _, b := range g.boxes {
		out = append(out, b)
	}
	sortByCreation(out)
	return out
}

// Resolve returns the field at addr. A box address resolves to the box's
// root object.
func (g *Graph) Resolve(addr address.Address) (Field, error) {
	b, ok := g.boxes[addr.Identity()]
	if !ok {
		return nil, errors.Wrapf(ErrAddressNotFound, "%s: no box", addr)
	}
	return b.Lookup(addr.Keys()...)
}

// DeleteBox removes box from the graph. It fails with
// ErrMandatoryPointerViolation while another box holds a mandatory pointer
// to it; optional incoming pointers are cleared and the box's own pointers
// released.
func (g *Graph) DeleteBox(b *Box) error {
	if g.state != stateOpen {
		return ErrNotInTransaction
	}
	if b == nil || b.graph != g {
		return g.fail(ErrForeignBox)
	}
	if b.deleted || !b.registered {
		return g.fail(violation(ErrBoxDeleted, b.Address(), "kind %s", b.kind))
	}
	for _, e := range b.hub.Incoming() {
		if e.Mandatory && e.Pointer.box != b {
			return g.fail(violation(ErrMandatoryPointerViolation, b.Address(),
				"mandatory pointer %s (%s) still targets %s", e.From, e.Tag, b.kind))
		}
	}
	for _, e := range b.hub.Incoming() {
		if e.Pointer.box != b {
			e.Pointer.change(nil, false)
		}
	}
	for _, p := range b.Pointers() {
		if p.hasTarget {
			p.change(nil, false)
		}
	}
	snapshot := b.Encode()
	g.detach(b)
	g.record(Change{
		Kind:     Deleted,
		Address:  b.Address(),
		BoxKind:  b.kind,
		Snapshot: snapshot,
		box:      b,
	})
	return nil
}

// attach registers b and links its set pointers into their target hubs.
func (g *Graph) attach(b *Box) {
	if b.seq == 0 {
		g.nextSeq++
		b.seq = g.nextSeq
	}
	b.registered = true
	b.deleted = false
	g.boxes[b.id] = b
	walkPointers(b.root, g.link)
}

// detach unregisters b and unlinks its pointers.
func (g *Graph) detach(b *Box) {
	walkPointers(b.root, g.unlink)
	delete(g.boxes, b.id)
	b.registered = false
	b.deleted = true
}

func (g *Graph) link(p *Pointer) {
	if !p.hasTarget {
		return
	}
	if t, ok := g.boxes[p.target.Identity()]; ok {
		t.hub.add(p)
	}
}

func (g *Graph) unlink(p *Pointer) {
	if !p.hasTarget {
		return
	}
	if t, ok := g.boxes[p.target.Identity()]; ok {
		t.hub.remove(p)
	}
}
