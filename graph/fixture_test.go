package graph

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"boxgraph/address"
)

// Field keys of the test schema.
const (
	keyName     address.FieldKey = 1
	keyVolume   address.FieldKey = 2
	keyTrack    address.FieldKey = 1
	keyPosition address.FieldKey = 2
	keyNotes    address.FieldKey = 3
	keyLabel    address.FieldKey = 4
	keyPitch    address.FieldKey = 1
	keyTarget   address.FieldKey = 2
	keyNext     address.FieldKey = 1
)

func testFactories() Factories {
	fs := Factories{}
	fs.Register("Track", func() []FieldSpec {
		return []FieldSpec{
			PrimitiveField(keyName, "name", String, "untitled"),
			PrimitiveField(keyVolume, "volume", Float32, 1.0),
		}
	})
	fs.Register("Region", func() []FieldSpec {
		return []FieldSpec{
			PointerField(keyTrack, "track", PointerRules{Tag: "regions", Accepts: []string{"Track"}, Mandatory: true}),
			PrimitiveField(keyPosition, "position", Int64, nil),
			ArrayField(keyNotes, "notes", ObjectField(0, "note",
				PrimitiveField(keyPitch, "pitch", Int32, 60),
				PointerField(keyTarget, "target", PointerRules{Tag: "notes"}),
			)),
			PrimitiveField(keyLabel, "label", Bytes, nil),
		}
	})
	fs.Register("Link", func() []FieldSpec {
		return []FieldSpec{
			PointerField(keyNext, "next", PointerRules{Tag: "next"}),
		}
	})
	fs.Register("Marker", func() []FieldSpec {
		return []FieldSpec{
			PointerField(keyNext, "next", PointerRules{Tag: "next"}),
		}
	})
	return fs
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	fs := testFactories()
	require.NoError(t, fs.Validate())
	return New(fs, WithLogger(quietLogger()))
}

// inTx runs fn in a transaction and requires it to commit.
func inTx(t *testing.T, g *Graph, fn func() error) {
	t.Helper()
	require.NoError(t, g.Transact(fn))
}

func createTrack(t *testing.T, g *Graph, name string) *Box {
	t.Helper()
	b, err := g.CreateBox("Track", address.New(), func(b *Box) error {
		return b.Primitive("name").SetValue(name)
	})
	require.NoError(t, err)
	return b
}

func createRegion(t *testing.T, g *Graph, track *Box) *Box {
	t.Helper()
	b, err := g.CreateBox("Region", address.New(), func(b *Box) error {
		return b.Pointer("track").Refer(track)
	})
	require.NoError(t, err)
	return b
}

// state captures everything observable about a graph for comparisons.
func state(g *Graph) []Record {
	return g.Export()
}
