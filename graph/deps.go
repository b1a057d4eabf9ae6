package graph

import (
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// Predicate selects boxes.
type Predicate func(*Box) bool

// ExcludeKinds matches boxes whose kind matches any of the glob patterns,
// e.g. "Selection*" or "{Marker,Cursor}". Malformed patterns match nothing.
func ExcludeKinds(patterns ...string) Predicate {
	return func(b *Box) bool {
		for _, pattern := range patterns {
			if ok, err := doublestar.Match(pattern, b.kind); err == nil && ok {
				return true
			}
		}
		return false
	}
}

// ExcludeBoxes matches exactly the given boxes.
func ExcludeBoxes(boxes ...*Box) Predicate {
	return func(b *Box) bool {
		return slices.Contains(boxes, b)
	}
}

// DependenciesOf returns every box reachable from b over outgoing pointers,
// in creation order. Boxes matched by exclude are neither returned nor
// traversed; b itself is never returned. exclude may be nil.
func (g *Graph) DependenciesOf(b *Box, exclude Predicate) []*Box {
	visited := map[*Box]bool{b: true}
	var out []*Box
	queue := []*Box{b}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range cur.Pointers() {
			t, ok := p.TargetBox()
			if !ok || visited[t] {
				continue
			}
			visited[t] = true
			if exclude != nil && exclude(t) {
				continue
			}
			out = append(out, t)
			queue = append(queue, t)
		}
	}
	sortByCreation(out)
	return out
}

// DependentsOf returns the boxes that cannot outlive b: those holding a
// mandatory pointer to b, and transitively to any of them. The result is
// in discovery order, nearest first.
func (g *Graph) DependentsOf(b *Box) []*Box {
	visited := map[*Box]bool{b: true}
	var out []*Box
	queue := []*Box{b}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range cur.hub.Incoming() {
			holder := e.Pointer.box
			if !e.Mandatory || visited[holder] {
				continue
			}
			visited[holder] = true
			out = append(out, holder)
			queue = append(queue, holder)
		}
	}
	return out
}

// DeleteCascade deletes b together with DependentsOf(b). Mandatory
// pointers between the deleted boxes are deferred first, then the boxes are
// deleted farthest dependent first and b last.
func (g *Graph) DeleteCascade(b *Box) error {
	if g.state != stateOpen {
		return ErrNotInTransaction
	}
	if b == nil || b.graph != g {
		return g.fail(ErrForeignBox)
	}
	doomed := append([]*Box{b}, g.DependentsOf(b)...)
	set := make(map[*Box]bool, len(doomed))
	for _, d := range doomed {
		set[d] = true
	}
	for _, d := range doomed {
		for _, p := range d.Pointers() {
			t, ok := p.TargetBox()
			if ok && p.Mandatory() && set[t] {
				if err := p.Defer(); err != nil {
					return err
				}
			}
		}
	}
	for i := len(doomed) - 1; i >= 0; i-- {
		if err := g.DeleteBox(doomed[i]); err != nil {
			return err
		}
	}
	return nil
}

func sortByCreation(boxes []*Box) {
	slices.SortFunc(boxes, func(a, b *Box) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
}
