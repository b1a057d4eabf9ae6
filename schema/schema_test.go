package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boxgraph/graph"
)

func TestStudio(t *testing.T) {
	fs := Studio()
	assert.ElementsMatch(t,
		[]string{"Track", "AudioUnit", "Region", "Automation", "Marker", "Sample", "Selection"},
		fs.Kinds())

	region := fs["Region"]()
	require.Equal(t, graph.TypePointer, region[0].Type)
	assert.Equal(t, graph.PointerRules{Tag: "regions", Accepts: []string{"Track"}, Mandatory: true}, region[0].Pointer)
	assert.Equal(t, graph.TypeArray, region[4].Type)
	require.NotNil(t, region[4].Element)
	assert.Len(t, region[4].Element.Fields, 4)

	automation := fs["Automation"]()
	assert.Equal(t, []string{"AudioUnit", "Track"}, automation[0].Pointer.Accepts)

	selection := fs["Selection"]()
	assert.Empty(t, selection[0].Pointer.Accepts, "* accepts every kind")
}

func TestAcceptsGlobs(t *testing.T) {
	fs, err := Parse([]byte(`
kinds:
  - name: AudioIn
  - name: AudioOut
  - name: Midi
  - name: Cable
    fields:
      - {key: 1, name: from, type: pointer, accepts: ["Audio*"]}
      - {key: 2, name: to, type: pointer, accepts: ["{Midi,AudioOut}"]}
`))
	require.NoError(t, err)
	cable := fs["Cable"]()
	assert.Equal(t, []string{"AudioIn", "AudioOut"}, cable[0].Pointer.Accepts)
	assert.Equal(t, []string{"AudioOut", "Midi"}, cable[1].Pointer.Accepts)
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"unknown type": `
kinds:
  - name: A
    fields: [{key: 1, name: x, type: complex128}]`,
		"duplicate key": `
kinds:
  - name: A
    fields: [{key: 1, name: x, type: bool}, {key: 1, name: y, type: bool}]`,
		"bad default": `
kinds:
  - name: A
    fields: [{key: 1, name: x, type: int32, default: loud}]`,
		"accepts nothing": `
kinds:
  - name: A
    fields: [{key: 1, name: p, type: pointer, accepts: [Ghost]}]`,
		"array without element": `
kinds:
  - name: A
    fields: [{key: 1, name: xs, type: array}]`,
		"duplicate kind": `
kinds:
  - name: A
  - name: A`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, graph.ErrInvalidSchema)
		})
	}

	_, err := Parse([]byte("kinds: ["))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, studioYAML, 0o644))
	fs, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, fs, 7)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestStudioBoxesUseDefaults(t *testing.T) {
	g := graph.New(Studio())
	require.NoError(t, g.BeginTransaction())
	track, err := g.CreateBox("Track", [16]byte{1}, nil)
	require.NoError(t, err)
	require.NoError(t, g.EndTransaction())

	assert.Equal(t, "untitled", track.Primitive("name").Text())
	assert.Equal(t, float32(1), track.Primitive("volume").Float32())
	assert.Equal(t, int32(4161471), track.Primitive("color").Int32())
}
