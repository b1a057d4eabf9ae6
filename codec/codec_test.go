package codec

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boxgraph/graph"
	"boxgraph/internal/studiotest"
)

func TestBinaryRoundTrip(t *testing.T) {
	s := studiotest.Build(t)
	doc := Encode(s.Graph)

	assert.Equal(t, uint32(Magic), binary.BigEndian.Uint32(doc[0:4]))
	assert.Equal(t, uint32(Version), binary.BigEndian.Uint32(doc[4:8]))
	assert.Equal(t, uint32(len(doc)-12), binary.BigEndian.Uint32(doc[8:12]))

	g := studiotest.NewGraph()
	require.NoError(t, Decode(doc, g))
	g.MustVerifyIntegrity()
	assert.Equal(t, s.Graph.Export(), g.Export())
	assert.Equal(t, doc, Encode(g), "encoding is deterministic")

	for _, b := range s.Graph.Boxes() {
		other, ok := g.FindBox(b.ID())
		require.True(t, ok)
		for _, p := range b.Pointers() {
			want, wantSet := p.Target()
			got, gotSet := other.Pointers()[indexOf(b.Pointers(), p)].Target()
			assert.Equal(t, wantSet, gotSet)
			assert.Equal(t, want, got)
		}
	}
}

func indexOf(ps []*graph.Pointer, p *graph.Pointer) int {
	for i := range ps {
		if ps[i] == p {
			return i
		}
	}
	return -1
}

func TestEmptyGraphRoundTrip(t *testing.T) {
	doc := Encode(studiotest.NewGraph())
	assert.Len(t, doc, 16)
	g := studiotest.NewGraph()
	require.NoError(t, Decode(doc, g))
	assert.Equal(t, 0, g.Len())
}

func TestDecodeHeaderErrors(t *testing.T) {
	doc := Encode(studiotest.Build(t).Graph)

	badMagic := append([]byte(nil), doc...)
	badMagic[0] ^= 0xff
	badVersion := append([]byte(nil), doc...)
	binary.BigEndian.PutUint32(badVersion[4:8], 2)
	badLength := append([]byte(nil), doc...)
	binary.BigEndian.PutUint32(badLength[8:12], uint32(len(doc)))

	tests := []struct {
		name string
		doc  []byte
		want error
	}{
		{"short", doc[:7], ErrCorruptHeader},
		{"magic", badMagic, ErrCorruptHeader},
		{"version", badVersion, ErrUnsupportedVersion},
		{"length", badLength, ErrCorruptHeader},
		{"truncated", doc[:len(doc)-1], ErrCorruptHeader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := studiotest.NewGraph()
			assert.ErrorIs(t, Decode(tt.doc, g), tt.want)
			assert.Equal(t, 0, g.Len())
		})
	}
}

func TestDecodeIsAtomic(t *testing.T) {
	s := studiotest.Build(t)
	records := s.Graph.Export()
	records[len(records)-1].Kind = "Theremin"
	doc := EncodeRecords(records)

	g := studiotest.NewGraph()
	err := Decode(doc, g)
	assert.ErrorIs(t, err, graph.ErrUnknownBoxKind)
	assert.Equal(t, 0, g.Len())

	// Drop the tracks: regions now point nowhere.
	var kept []graph.Record
	for _, r := range s.Graph.Export() {
		if r.Kind != "Track" {
			kept = append(kept, r)
		}
	}
	err = Decode(EncodeRecords(kept), g)
	assert.ErrorIs(t, err, graph.ErrDanglingPointer)
	assert.Equal(t, 0, g.Len())
}

func TestDecodeCorruptRecords(t *testing.T) {
	frame := func(payload []byte) []byte {
		doc := binary.BigEndian.AppendUint32(nil, uint32(Magic))
		doc = binary.BigEndian.AppendUint32(doc, uint32(Version))
		doc = binary.BigEndian.AppendUint32(doc, uint32(len(payload)))
		return append(doc, payload...)
	}
	tests := map[string][]byte{
		"no count":         {},
		"count too large":  {0, 0, 0, 9},
		"short identity":   append([]byte{0, 0, 0, 1, 0, 1, 'A'}, make([]byte, 15)...),
		"fields too long":  append(append([]byte{0, 0, 0, 1, 0, 1, 'A'}, make([]byte, 16)...), 0, 0, 1, 0),
		"trailing garbage": {0, 0, 0, 0, 1},
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeRecords(frame(payload))
			assert.ErrorIs(t, err, ErrCorruptRecord)
		})
	}
}

func TestTreeRoundTripThroughJSON(t *testing.T) {
	s := studiotest.Build(t)
	data, err := EncodeJSON(s.Graph)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.Equal(t, TreeFormat, generic["format"])
	assert.Len(t, generic["boxes"], s.Graph.Len())

	g := studiotest.NewGraph()
	require.NoError(t, DecodeJSON(data, g))
	g.MustVerifyIntegrity()
	assert.Equal(t, s.Graph.Export(), g.Export())

	again, err := EncodeJSON(g)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestTreeFromNativeValues(t *testing.T) {
	s := studiotest.Build(t)
	g := studiotest.NewGraph()
	require.NoError(t, FromTree(ToTree(s.Graph), g))
	assert.Equal(t, s.Graph.Export(), g.Export())
}

func TestTreeErrors(t *testing.T) {
	tree := ToTree(studiotest.Build(t).Graph)
	tests := []struct {
		name   string
		mutate func(map[string]any)
		want   error
	}{
		{"format", func(m map[string]any) { m["format"] = "other" }, ErrCorruptHeader},
		{"version", func(m map[string]any) { m["version"] = 7 }, ErrUnsupportedVersion},
		{"boxes", func(m map[string]any) { m["boxes"] = "nope" }, ErrMalformedTree},
		{"box shape", func(m map[string]any) { m["boxes"] = []any{42} }, ErrMalformedTree},
		{"identity", func(m map[string]any) {
			m["boxes"] = []any{map[string]any{"kind": "Marker", "id": "zz"}}
		}, ErrMalformedTree},
		{"kind", func(m map[string]any) {
			m["boxes"] = []any{map[string]any{"kind": "Ghost", "id": "7f1f6c52-44a5-4f55-9c1c-7b3c1d5f1b2a"}}
		}, graph.ErrUnknownBoxKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := make(map[string]any, len(tree))
			for k, v := range tree {
				m[k] = v
			}
			tt.mutate(m)
			g := studiotest.NewGraph()
			assert.ErrorIs(t, FromTree(m, g), tt.want)
			assert.Equal(t, 0, g.Len())
		})
	}

	assert.ErrorIs(t, DecodeJSON([]byte("{"), studiotest.NewGraph()), ErrMalformedTree)
}
