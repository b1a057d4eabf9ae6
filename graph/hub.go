package graph

import (
	"slices"

	"boxgraph/address"
)

// Edge is one incoming pointer of a PointerHub.
type Edge struct {
	// From is the current address of the pointing field.
	From      address.Address
	Tag       string
	Mandatory bool
	Pointer   *Pointer
}

// PointerHub indexes the pointers that currently target one box. It is the
// exact inverse of all set pointer fields in the graph.
//
// The hub keeps the pointer fields themselves rather than their addresses,
// so array re-indexing never leaves a stale entry behind; addresses are
// derived when edges are listed.
type PointerHub struct {
	owner    *Box
	incoming map[*Pointer]struct{}
}

func newPointerHub(owner *Box) *PointerHub {
	return &PointerHub{owner: owner, incoming: make(map[*Pointer]struct{})}
}

// Len returns the number of incoming pointers.
func (h *PointerHub) Len() int {
	return len(h.incoming)
}

// Incoming lists every incoming edge ordered by pointing address.
func (h *PointerHub) Incoming() []Edge {
	edges := make([]Edge, 0, len(h.incoming))
	for p := range h.incoming {
		edges = append(edges, Edge{
			From:      p.Address(),
			Tag:       p.spec.Pointer.Tag,
			Mandatory: p.spec.Pointer.Mandatory,
			Pointer:   p,
		})
	}
	slices.SortFunc(edges, func(a, b Edge) int { return a.From.Compare(b.From) })
	return edges
}

// Filter lists the incoming edges carrying tag.
func (h *PointerHub) Filter(tag string) []Edge {
	var out []Edge
	for _, e := range h.Incoming() {
		if e.Tag == tag {
			out = append(out, e)
		}
	}
	return out
}

// Addresses returns the pointing addresses mapped to their tags.
func (h *PointerHub) Addresses() map[address.Address]string {
	m := make(map[address.Address]string, len(h.incoming))
	for p := range h.incoming {
		m[p.Address()] = p.spec.Pointer.Tag
	}
	return m
}

func (h *PointerHub) add(p *Pointer) {
	h.incoming[p] = struct{}{}
}

func (h *PointerHub) remove(p *Pointer) {
	delete(h.incoming, p)
}
