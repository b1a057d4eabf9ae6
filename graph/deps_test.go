package graph

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boxgraph/address"
)

// chain creates boxes of the given kinds, each pointing at the next.
func chain(t *testing.T, g *Graph, kinds ...string) []*Box {
	t.Helper()
	boxes := make([]*Box, len(kinds))
	inTx(t, g, func() error {
		for i := len(kinds) - 1; i >= 0; i-- {
			next := (*Box)(nil)
			if i+1 < len(kinds) {
				next = boxes[i+1]
			}
			b, err := g.CreateBox(kinds[i], address.New(), func(b *Box) error {
				if next == nil {
					return nil
				}
				return b.Pointer("next").Refer(next)
			})
			if err != nil {
				return err
			}
			boxes[i] = b
		}
		return nil
	})
	return boxes
}

func TestDependencyClosure(t *testing.T) {
	g := newTestGraph(t)
	abc := chain(t, g, "Link", "Link", "Link")
	a, b, c := abc[0], abc[1], abc[2]

	assert.ElementsMatch(t, []*Box{b, c}, g.DependenciesOf(a, nil))
	excludeB := ExcludeBoxes(b)
	assert.Empty(t, g.DependenciesOf(a, excludeB))
	assert.Equal(t, []*Box{c}, g.DependenciesOf(b, excludeB))
	assert.Empty(t, g.DependenciesOf(c, nil))
}

func TestDependencyClosureTerminatesOnCycles(t *testing.T) {
	g := newTestGraph(t)
	abc := chain(t, g, "Link", "Link", "Link")
	inTx(t, g, func() error { return abc[2].Pointer("next").Refer(abc[0]) })

	deps := g.DependenciesOf(abc[0], nil)
	assert.ElementsMatch(t, []*Box{abc[1], abc[2]}, deps)
}

func TestExcludeKinds(t *testing.T) {
	g := newTestGraph(t)
	boxes := chain(t, g, "Link", "Marker", "Link")

	assert.Empty(t, g.DependenciesOf(boxes[0], ExcludeKinds("Mark*")))
	assert.ElementsMatch(t, []*Box{boxes[1], boxes[2]}, g.DependenciesOf(boxes[0], ExcludeKinds("{Track,Region}")))
	assert.Len(t, g.DependenciesOf(boxes[0], ExcludeKinds("[")), 2, "bad pattern matches nothing")
}

func TestDeleteCascade(t *testing.T) {
	g := newTestGraph(t)
	var track, other *Box
	var regions []*Box
	inTx(t, g, func() error {
		track = createTrack(t, g, "doomed")
		other = createTrack(t, g, "kept")
		for i := 0; i < 3; i++ {
			regions = append(regions, createRegion(t, g, track))
		}
		kept := createRegion(t, g, other)
		n, err := kept.Array("notes").Append()
		if err != nil {
			return err
		}
		return n.(*Object).Pointer("target").Refer(track)
	})

	assert.ElementsMatch(t, regions, g.DependentsOf(track))

	inTx(t, g, func() error { return g.DeleteCascade(track) })
	assert.Equal(t, 2, g.Len())
	for _, r := range regions {
		assert.True(t, r.Deleted())
	}
	_, ok := g.FindBox(other.ID())
	assert.True(t, ok)
	g.MustVerifyIntegrity()
}

func TestVerifyIntegrityDetectsDamage(t *testing.T) {
	g := newTestGraph(t)
	buildSession(t, g)
	require.NoError(t, g.VerifyIntegrity())

	bass := g.Boxes()[1]
	edges := bass.Hub().Incoming()
	require.NotEmpty(t, edges)
	bass.hub.remove(edges[0].Pointer)

	err := g.VerifyIntegrity()
	require.ErrorIs(t, err, ErrIntegrityCheckFailed)
	assert.Contains(t, err.Error(), "misses pointer")
	assert.Panics(t, g.MustVerifyIntegrity)

	bass.hub.add(edges[0].Pointer)
	require.NoError(t, g.VerifyIntegrity())

	drums := g.Boxes()[0]
	drums.hub.add(edges[0].Pointer)
	err = g.VerifyIntegrity()
	require.ErrorIs(t, err, ErrIntegrityCheckFailed)
	assert.Contains(t, err.Error(), fmt.Sprintf("holds stale pointer %s (%s)", edges[0].Pointer.Address(), edges[0].Tag))
	drums.hub.remove(edges[0].Pointer)
	require.NoError(t, g.VerifyIntegrity())

	region := g.Boxes()[2]
	region.Pointer("track").hasTarget = false
	err = g.VerifyIntegrity()
	require.ErrorIs(t, err, ErrIntegrityCheckFailed)
	assert.Contains(t, err.Error(), "mandatory pointer")
}

func TestIntegrityAfterManyTransactions(t *testing.T) {
	g := newTestGraph(t)
	buildSession(t, g)
	for round := 0; round < 5; round++ {
		inTx(t, g, func() error {
			boxes := g.Boxes()
			track := createTrack(t, g, "extra")
			r := createRegion(t, g, track)
			if _, err := r.Array("notes").Append(); err != nil {
				return err
			}
			for _, b := range boxes {
				if b.Kind() == "Region" && b.Array("notes").Len() > 0 {
					return b.Array("notes").RemoveAt(0)
				}
			}
			return nil
		})
		require.NoError(t, g.VerifyIntegrity(), "round %d", round)
	}
}
