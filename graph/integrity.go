package graph

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"boxgraph/address"
)

// VerifyIntegrity rebuilds every pointer hub from the pointer fields and
// compares the result with the live hubs. It also checks that every set
// pointer targets a living box of an accepted kind and that no mandatory
// pointer is empty unless deferred.
//
// A failure means a bug in the graph or its caller, not bad input.
func (g *Graph) VerifyIntegrity() error {
	var problems []string
	expected := make(map[*Box]map[*Pointer]bool, len(g.boxes))
	for _, b := range g.boxes {
		expected[b] = make(map[*Pointer]bool)
	}

	for _, b := range g.Boxes() {
		for _, p := range b.Pointers() {
			if p.Mandatory() && !p.hasTarget && !p.deferred {
				problems = append(problems, fmt.Sprintf("mandatory pointer %s is empty", p.Address()))
			}
			if !p.hasTarget {
				continue
			}
			if err := g.checkTarget(p, p.target, g.FindBox); err != nil {
				problems = append(problems, err.Error())
				continue
			}
			t := g.boxes[p.target.Identity()]
			expected[t][p] = true
		}
	}

	for _, b := range g.Boxes() {
		want := expected[b]
		var stale, missing []address.Address
		for p := range b.hub.incoming {
			if !want[p] {
				stale = append(stale, p.Address())
			}
		}
		for p := range want {
			if _, ok := b.hub.incoming[p]; !ok {
				missing = append(missing, p.Address())
			}
		}
		address.Sort(stale)
		address.Sort(missing)
		tags := b.hub.Addresses()
		for _, a := range stale {
			problems = append(problems, fmt.Sprintf("hub of %s holds stale pointer %s (%s)", b.Address(), a, tags[a]))
		}
		for _, a := range missing {
			problems = append(problems, fmt.Sprintf("hub of %s misses pointer %s", b.Address(), a))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	g.log.WithField("problems", len(problems)).Warn("integrity check failed")
	return errors.Wrapf(ErrIntegrityCheckFailed, "%s", strings.Join(problems, "; "))
}

// MustVerifyIntegrity panics if VerifyIntegrity fails.
func (g *Graph) MustVerifyIntegrity() {
	if err := g.VerifyIntegrity(); err != nil {
		panic(err)
	}
}
