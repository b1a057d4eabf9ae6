package graph

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boxgraph/address"
)

func TestTrackRegionScenario(t *testing.T) {
	g := newTestGraph(t)

	var track, region *Box
	inTx(t, g, func() error {
		track = createTrack(t, g, "drums")
		region = createRegion(t, g, track)
		return nil
	})
	g.MustVerifyIntegrity()

	require.NoError(t, g.BeginTransaction())
	err := g.DeleteBox(track)
	require.ErrorIs(t, err, ErrMandatoryPointerViolation)
	var v *ViolationError
	require.True(t, errors.As(err, &v))
	assert.Equal(t, track.Address(), v.Address)
	assert.False(t, g.InTransaction(), "violation aborts the transaction")
	_, ok := g.FindBox(track.ID())
	assert.True(t, ok, "track must survive the failed delete")

	inTx(t, g, func() error {
		if err := region.Pointer("track").Defer(); err != nil {
			return err
		}
		return g.DeleteBox(track)
	})
	_, ok = g.FindBox(track.ID())
	assert.False(t, ok)
	assert.True(t, track.Deleted())
	assert.True(t, region.Pointer("track").Deferred())
	_, set := region.Pointer("track").Target()
	assert.False(t, set)
	g.MustVerifyIntegrity()
}

func TestMutationOutsideTransaction(t *testing.T) {
	g := newTestGraph(t)
	var track *Box
	inTx(t, g, func() error {
		track = createTrack(t, g, "bass")
		return nil
	})

	assert.ErrorIs(t, track.Primitive("name").SetValue("x"), ErrNotInTransaction)
	assert.ErrorIs(t, g.DeleteBox(track), ErrNotInTransaction)
	_, err := g.CreateBox("Track", address.New(), nil)
	assert.ErrorIs(t, err, ErrNotInTransaction)
	assert.ErrorIs(t, g.EndTransaction(), ErrNotInTransaction)
	assert.Equal(t, "bass", track.Primitive("name").Text())
}

func TestTransactionsDoNotNest(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.BeginTransaction())
	assert.ErrorIs(t, g.BeginTransaction(), ErrTransactionOpen)
	require.NoError(t, g.EndTransaction())
	require.NoError(t, g.BeginTransaction())
	require.NoError(t, g.AbortTransaction())
}

func TestCreateBoxErrors(t *testing.T) {
	g := newTestGraph(t)
	id := address.New()
	inTx(t, g, func() error {
		_, err := g.CreateBox("Track", id, nil)
		return err
	})

	require.NoError(t, g.BeginTransaction())
	_, err := g.CreateBox("Track", id, nil)
	assert.ErrorIs(t, err, ErrDuplicateIdentity)
	assert.False(t, g.InTransaction())

	require.NoError(t, g.BeginTransaction())
	_, err = g.CreateBox("Nope", address.New(), nil)
	assert.ErrorIs(t, err, ErrUnknownBoxKind)
	assert.Equal(t, 1, g.Len())
}

func TestMandatoryPointerCheckedAtCommit(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.BeginTransaction())
	region, err := g.CreateBox("Region", address.New(), nil)
	require.NoError(t, err)

	err = g.EndTransaction()
	require.ErrorIs(t, err, ErrMandatoryPointerViolation)
	_, ok := g.FindBox(region.ID())
	assert.False(t, ok, "the whole transaction is rolled back")
	assert.Equal(t, 0, g.Len())

	var track *Box
	inTx(t, g, func() error {
		track = createTrack(t, g, "keys")
		createRegion(t, g, track)
		return nil
	})
	require.NoError(t, g.BeginTransaction())
	r := g.Boxes()[1]
	require.NoError(t, r.Pointer("track").Clear())
	assert.ErrorIs(t, g.EndTransaction(), ErrMandatoryPointerViolation)
	target, ok := r.Pointer("track").Target()
	require.True(t, ok)
	assert.Equal(t, track.Address(), target)
	g.MustVerifyIntegrity()
}

func TestPointerTypeMismatch(t *testing.T) {
	g := newTestGraph(t)
	var region *Box
	var link *Box
	inTx(t, g, func() error {
		track := createTrack(t, g, "a")
		region = createRegion(t, g, track)
		var err error
		link, err = g.CreateBox("Link", address.New(), nil)
		return err
	})

	require.NoError(t, g.BeginTransaction())
	err := region.Pointer("track").Refer(link)
	assert.ErrorIs(t, err, ErrPointerTypeMismatch)
	assert.False(t, g.InTransaction())

	require.NoError(t, g.BeginTransaction())
	elemAddr := region.Address().Append(keyPosition)
	assert.ErrorIs(t, link.Pointer("next").ReferTo(elemAddr), ErrPointerTypeMismatch)
}

func TestRollbackRestoresStateForAnyPrefix(t *testing.T) {
	steps := []func(g *Graph, track, region *Box) error{
		func(g *Graph, track, region *Box) error { return track.Primitive("name").SetValue("renamed") },
		func(g *Graph, track, region *Box) error { return region.Primitive("position").SetValue(960) },
		func(g *Graph, track, region *Box) error {
			_, err := region.Array("notes").Append()
			return err
		},
		func(g *Graph, track, region *Box) error {
			note, err := region.Array("notes").At(0)
			if err != nil {
				return err
			}
			return note.(*Object).Pointer("target").Refer(track)
		},
		func(g *Graph, track, region *Box) error {
			_, err := g.CreateBox("Track", address.New(), nil)
			return err
		},
		func(g *Graph, track, region *Box) error { return region.Array("notes").RemoveAt(0) },
		func(g *Graph, track, region *Box) error { return region.Pointer("track").Defer() },
		func(g *Graph, track, region *Box) error { return g.DeleteBox(track) },
	}

	for n := 0; n <= len(steps); n++ {
		g := newTestGraph(t)
		var track, region *Box
		inTx(t, g, func() error {
			track = createTrack(t, g, "t")
			region = createRegion(t, g, track)
			_, err := region.Array("notes").Append()
			return err
		})
		before := state(g)

		require.NoError(t, g.BeginTransaction())
		for _, step := range steps[:n] {
			require.NoError(t, step(g, track, region))
		}
		err := region.Primitive("position").SetValue("not a number")
		require.ErrorIs(t, err, ErrValueType, "prefix %d", n)
		assert.False(t, g.InTransaction())

		assert.Equal(t, before, state(g), "prefix %d", n)
		assert.False(t, track.Deleted())
		assert.Equal(t, 1, region.Array("notes").Len())
		require.NoError(t, g.VerifyIntegrity(), "prefix %d", n)
	}
}

func TestRollbackKeepsLiveObjects(t *testing.T) {
	g := newTestGraph(t)
	var region *Box
	inTx(t, g, func() error {
		region = createRegion(t, g, createTrack(t, g, "t"))
		_, err := region.Array("notes").Append()
		return err
	})
	note, err := region.Array("notes").At(0)
	require.NoError(t, err)

	require.NoError(t, g.BeginTransaction())
	require.NoError(t, region.Array("notes").RemoveAt(0))
	require.NoError(t, g.AbortTransaction())

	again, err := region.Array("notes").At(0)
	require.NoError(t, err)
	assert.Same(t, note.(*Object), again.(*Object))
	inTx(t, g, func() error {
		return note.(*Object).Primitive("pitch").SetValue(64)
	})
	assert.Equal(t, int32(64), again.(*Object).Primitive("pitch").Int32())
}

func TestDeleteClearsOptionalIncoming(t *testing.T) {
	g := newTestGraph(t)
	var a, b *Box
	inTx(t, g, func() error {
		var err error
		if b, err = g.CreateBox("Link", address.New(), nil); err != nil {
			return err
		}
		a, err = g.CreateBox("Link", address.New(), func(box *Box) error {
			return box.Pointer("next").Refer(b)
		})
		return err
	})
	assert.Equal(t, 1, b.Hub().Len())

	inTx(t, g, func() error { return g.DeleteBox(b) })
	_, set := a.Pointer("next").Target()
	assert.False(t, set)
	g.MustVerifyIntegrity()
}

func TestSelfPointerDoesNotBlockDelete(t *testing.T) {
	fs := testFactories()
	fs.Register("Loop", func() []FieldSpec {
		return []FieldSpec{PointerField(1, "self", PointerRules{Tag: "self", Mandatory: true})}
	})
	g := New(fs, WithLogger(quietLogger()))
	var loop *Box
	inTx(t, g, func() error {
		var err error
		loop, err = g.CreateBox("Loop", address.New(), func(b *Box) error {
			return b.Pointer("self").Refer(b)
		})
		return err
	})
	inTx(t, g, func() error { return g.DeleteBox(loop) })
	assert.Equal(t, 0, g.Len())
}

func TestMutatingDeletedBox(t *testing.T) {
	g := newTestGraph(t)
	var track *Box
	inTx(t, g, func() error {
		track = createTrack(t, g, "gone")
		return nil
	})
	inTx(t, g, func() error { return g.DeleteBox(track) })

	require.NoError(t, g.BeginTransaction())
	assert.ErrorIs(t, track.Primitive("name").SetValue("back"), ErrBoxDeleted)
}

func TestStaleArrayAddresses(t *testing.T) {
	g := newTestGraph(t)
	var track, region *Box
	inTx(t, g, func() error {
		track = createTrack(t, g, "t")
		region = createRegion(t, g, track)
		notes := region.Array("notes")
		for i := 0; i < 3; i++ {
			n, err := notes.Append()
			if err != nil {
				return err
			}
			if err := n.(*Object).Primitive("pitch").SetValue(60 + i); err != nil {
				return err
			}
			if err := n.(*Object).Pointer("target").Refer(track); err != nil {
				return err
			}
		}
		return nil
	})

	notes := region.Array("notes")
	last, err := notes.At(2)
	require.NoError(t, err)
	staleAddr := last.Address()
	stalePitch := staleAddr.Append(keyPitch)
	assert.Equal(t, []address.FieldKey{keyNotes, 2}, staleAddr.Keys())

	inTx(t, g, func() error { return notes.RemoveAt(0) })

	_, err = g.Resolve(stalePitch)
	assert.ErrorIs(t, err, ErrAddressNotFound, "address taken before the removal no longer resolves")

	moved := last.Address()
	assert.Equal(t, []address.FieldKey{keyNotes, 1}, moved.Keys())
	f, err := g.Resolve(moved.Append(keyPitch))
	require.NoError(t, err)
	assert.Equal(t, int32(62), f.(*Primitive).Int32())

	from := make([]address.Address, 0)
	for _, e := range track.Hub().Filter("notes") {
		from = append(from, e.From)
	}
	assert.Equal(t, []address.Address{
		region.Address().Append(keyNotes, 0, keyTarget),
		region.Address().Append(keyNotes, 1, keyTarget),
	}, from)
	g.MustVerifyIntegrity()
}

func TestRemoveAtOutOfRange(t *testing.T) {
	g := newTestGraph(t)
	var region *Box
	inTx(t, g, func() error {
		region = createRegion(t, g, createTrack(t, g, "t"))
		return nil
	})
	require.NoError(t, g.BeginTransaction())
	assert.ErrorIs(t, region.Array("notes").RemoveAt(0), ErrIndexOutOfRange)
	assert.False(t, g.InTransaction())
}

func TestRemovedElementIsFrozen(t *testing.T) {
	g := newTestGraph(t)
	var region *Box
	inTx(t, g, func() error {
		region = createRegion(t, g, createTrack(t, g, "t"))
		_, err := region.Array("notes").Append()
		return err
	})
	note, err := region.Array("notes").At(0)
	require.NoError(t, err)
	inTx(t, g, func() error { return region.Array("notes").RemoveAt(0) })

	require.NoError(t, g.BeginTransaction())
	assert.ErrorIs(t, note.(*Object).Primitive("pitch").SetValue(1), ErrFieldRemoved)
}

func TestHubIncomingSortedAndFiltered(t *testing.T) {
	g := newTestGraph(t)
	var track *Box
	var regions []*Box
	inTx(t, g, func() error {
		track = createTrack(t, g, "t")
		for i := 0; i < 4; i++ {
			regions = append(regions, createRegion(t, g, track))
		}
		return nil
	})

	edges := track.Hub().Incoming()
	require.Len(t, edges, 4)
	for i := 1; i < len(edges); i++ {
		assert.Negative(t, edges[i-1].From.Compare(edges[i].From))
	}
	for _, e := range edges {
		assert.Equal(t, "regions", e.Tag)
		assert.True(t, e.Mandatory)
	}
	assert.Len(t, track.Hub().Filter("regions"), 4)
	assert.Empty(t, track.Hub().Filter("notes"))
}

func TestBoxesInCreationOrder(t *testing.T) {
	g := newTestGraph(t)
	var want []address.Identity
	inTx(t, g, func() error {
		for i := 0; i < 5; i++ {
			want = append(want, createTrack(t, g, "t").ID())
		}
		return nil
	})
	var got []address.Identity
	for _, b := range g.Boxes() {
		got = append(got, b.ID())
	}
	assert.Equal(t, want, got)
}

func TestResolve(t *testing.T) {
	g := newTestGraph(t)
	var track *Box
	inTx(t, g, func() error {
		track = createTrack(t, g, "t")
		return nil
	})

	f, err := g.Resolve(track.Address())
	require.NoError(t, err)
	assert.Same(t, track.Root(), f.(*Object))

	f, err = g.Resolve(track.Address().Append(keyName))
	require.NoError(t, err)
	assert.Equal(t, "t", f.(*Primitive).Text())

	_, err = g.Resolve(track.Address().Append(99))
	assert.ErrorIs(t, err, ErrAddressNotFound)
	_, err = g.Resolve(track.Address().Append(keyName, 1))
	assert.ErrorIs(t, err, ErrAddressNotFound)
	_, err = g.Resolve(address.Compose(address.New()))
	assert.ErrorIs(t, err, ErrAddressNotFound)
}

func TestVisitRequiresEveryCallback(t *testing.T) {
	g := newTestGraph(t)
	var track *Box
	inTx(t, g, func() error {
		track = createTrack(t, g, "t")
		return nil
	})
	name := track.Primitive("name")
	got := Visit(name, Visitor[string]{
		Primitive: func(p *Primitive) string { return p.Text() },
		Pointer:   func(*Pointer) string { return "pointer" },
		Object:    func(*Object) string { return "object" },
		Array:     func(*Array) string { return "array" },
	})
	assert.Equal(t, "t", got)
	assert.Panics(t, func() {
		Visit(name, Visitor[string]{Pointer: func(*Pointer) string { return "" }})
	})
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	g := newTestGraph(t)
	var batches []*Batch
	unsubscribe := g.Subscribe(ObserverFunc(func(b *Batch) { batches = append(batches, b) }))

	var track *Box
	inTx(t, g, func() error {
		track = createTrack(t, g, "t")
		return track.Primitive("volume").SetValue(0.5)
	})
	require.NoError(t, g.Transact(func() error {
		return track.Primitive("name").SetValue("quiet")
	}, WithoutUndo()))
	require.NoError(t, g.Transact(func() error { return nil }, WithMark()))

	require.Len(t, batches, 3)
	first := batches[0]
	assert.Equal(t, uint64(1), first.Seq)
	assert.True(t, first.Record)
	require.Len(t, first.Changes, 3)
	assert.Equal(t, Created, first.Changes[0].Kind)
	assert.Equal(t, track.Address(), first.Changes[0].Address)
	assert.Equal(t, ValueChanged, first.Changes[1].Kind)
	assert.Equal(t, "untitled", first.Changes[1].OldValue)
	assert.Equal(t, "t", first.Changes[1].NewValue)
	assert.Equal(t, float32(0.5), first.Changes[2].NewValue)

	assert.False(t, batches[1].Record)
	assert.Empty(t, batches[2].Changes)
	assert.True(t, batches[2].Checkpoint)

	g.Mark()
	assert.True(t, batches[2].Checkpoint)
	assert.False(t, batches[1].Checkpoint)

	unsubscribe()
	inTx(t, g, func() error { return track.Primitive("name").SetValue("x") })
	assert.Len(t, batches, 3)
}

func TestEqualValueIsNoop(t *testing.T) {
	g := newTestGraph(t)
	var track *Box
	inTx(t, g, func() error {
		track = createTrack(t, g, "t")
		return nil
	})
	var batch *Batch
	g.Subscribe(ObserverFunc(func(b *Batch) { batch = b }))
	inTx(t, g, func() error { return track.Primitive("name").SetValue("t") })
	require.NotNil(t, batch)
	assert.Empty(t, batch.Changes)
}

func TestNonFiniteFloatsRejected(t *testing.T) {
	g := newTestGraph(t)
	var track *Box
	inTx(t, g, func() error {
		track = createTrack(t, g, "t")
		return nil
	})
	var batches int
	g.Subscribe(ObserverFunc(func(*Batch) { batches++ }))

	for _, v := range []any{math.NaN(), math.Inf(1), float32(math.Inf(-1)), 1e300} {
		err := g.Transact(func() error {
			if err := track.Primitive("name").SetValue("renamed"); err != nil {
				return err
			}
			return track.Primitive("volume").SetValue(v)
		})
		assert.ErrorIs(t, err, ErrValueType, "%v", v)
	}
	assert.Equal(t, "t", track.Primitive("name").Text())
	assert.Equal(t, float32(1), track.Primitive("volume").Float32())
	assert.Zero(t, batches, "nothing is committed")

	// volume = float32 NaN bits
	payload := []byte{0, 1, 0, 2, 0, 0, 0, 4, 0x7f, 0xc0, 0, 0}
	require.NoError(t, g.BeginTransaction())
	assert.ErrorIs(t, track.Decode(payload), ErrValueType)
	if g.InTransaction() {
		require.NoError(t, g.AbortTransaction())
	}
	assert.Equal(t, float32(1), track.Primitive("volume").Float32())

	err := g.Import([]Record{{Kind: "Track", ID: address.New(), Fields: map[string]any{"2": math.Inf(1)}}})
	assert.ErrorIs(t, err, ErrValueType)
	assert.Equal(t, 1, g.Len())
}

func TestObserverPanicLeavesGraphIdle(t *testing.T) {
	g := newTestGraph(t)
	unsubscribe := g.Subscribe(ObserverFunc(func(*Batch) { panic("observer failed") }))
	assert.Panics(t, func() {
		_ = g.Transact(func() error {
			createTrack(t, g, "a")
			return nil
		})
	})
	assert.False(t, g.InTransaction())

	unsubscribe()
	inTx(t, g, func() error {
		createTrack(t, g, "b")
		return nil
	})
	assert.Equal(t, 2, g.Len())
	g.MustVerifyIntegrity()
}
