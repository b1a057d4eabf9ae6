package graph

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"boxgraph/address"
)

// Record is the serialized form of one box: its kind, identity and either
// the binary payload of its fields or their tree form.
type Record struct {
	Kind string
	ID   address.Identity
	// Payload is the binary field payload. When nil, Fields is used.
	Payload []byte
	// Fields is the tree form of the fields, as returned by Box.ToTree
	// under "fields".
	Fields any
}

// Export returns a binary record per living box in creation order.
func (g *Graph) Export() []Record {
	boxes := g.Boxes()
	out := make([]Record, len(boxes))
	for i, b := range boxes {
		out[i] = Record{Kind: b.kind, ID: b.id, Payload: b.Encode()}
	}
	return out
}

// ExportTree returns a tree record per living box in creation order.
func (g *Graph) ExportTree() []Record {
	boxes := g.Boxes()
	out := make([]Record, len(boxes))
	for i, b := range boxes {
		out[i] = Record{Kind: b.kind, ID: b.id, Fields: b.root.ToTree()}
	}
	return out
}

// Import adds the boxes described by records. It runs in two passes: all
// boxes are materialized first, then every pointer is resolved against the
// new boxes and those already in the graph, so records may reference each
// other in any order. Import is atomic: on error nothing is registered.
//
// Empty mandatory pointers are imported as deferred, the only way a
// committed graph can hold them.
func (g *Graph) Import(records []Record) error {
	if g.state != stateIdle {
		return errors.Wrapf(ErrTransactionOpen, "import while %s", g.state)
	}

	staged := make(map[address.Identity]*Box, len(records))
	order := make([]*Box, 0, len(records))
	for _, r := range records {
		factory, ok := g.factories[r.Kind]
		if !ok {
			return errors.Wrapf(ErrUnknownBoxKind, "%q for box %s", r.Kind, r.ID)
		}
		if _, dup := staged[r.ID]; dup {
			return violation(ErrDuplicateIdentity, address.Compose(r.ID), "repeated in input")
		}
		if _, dup := g.boxes[r.ID]; dup {
			return violation(ErrDuplicateIdentity, address.Compose(r.ID), "already in graph")
		}
		b := newBox(g, r.Kind, r.ID, factory())
		var err error
		if r.Payload != nil {
			err = decodeField(b.root, r.Payload, false)
		} else {
			err = fieldFromTree(b.root, r.Fields, false)
		}
		if err != nil {
			return errors.Wrapf(err, "box %s (%s)", r.ID, r.Kind)
		}
		staged[r.ID] = b
		order = append(order, b)
	}

	lookup := func(id address.Identity) (*Box, bool) {
		if b, ok := staged[id]; ok {
			return b, true
		}
		return g.FindBox(id)
	}
	for _, b := range order {
		var err error
		walkPointers(b.root, func(p *Pointer) {
			if err != nil {
				return
			}
			if !p.hasTarget {
				p.deferred = p.Mandatory()
				return
			}
			err = g.checkTarget(p, p.target, lookup)
		})
		if err != nil {
			return err
		}
	}

	for _, b := range order {
		g.nextSeq++
		b.seq = g.nextSeq
		b.registered = true
		g.boxes[b.id] = b
	}
	for _, b := range order {
		walkPointers(b.root, g.link)
	}
	g.log.WithFields(logrus.Fields{
		"boxes": len(order),
		"total": len(g.boxes),
	}).Debug("imported boxes")
	return nil
}
