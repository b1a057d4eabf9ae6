// Package studiotest builds studio documents for tests.
package studiotest

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"boxgraph/address"
	"boxgraph/graph"
	"boxgraph/schema"
)

// Logger discards everything.
func Logger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// NewGraph returns an empty graph over the studio schema.
func NewGraph() *graph.Graph {
	return graph.New(schema.Studio(), graph.WithLogger(Logger()))
}

// Session is a populated studio document.
type Session struct {
	Graph   *graph.Graph
	Drums   *graph.Box
	Synth   *graph.Box
	Unit    *graph.Box
	Regions []*graph.Box
	Sample  *graph.Box
}

// Build creates a session with two tracks, a device, regions with notes,
// automation, a marker and a sample.
func Build(t testing.TB) *Session {
	t.Helper()
	s := &Session{Graph: NewGraph()}
	g := s.Graph
	require.NoError(t, g.Transact(func() error {
		var err error
		if s.Unit, err = g.CreateBox("AudioUnit", address.New(), func(b *graph.Box) error {
			if err := b.Primitive("name").SetValue("Vaporisateur"); err != nil {
				return err
			}
			p, err := b.Array("params").Append()
			if err != nil {
				return err
			}
			obj := p.(*graph.Object)
			if err := obj.Primitive("id").SetValue("cutoff"); err != nil {
				return err
			}
			return obj.Primitive("value").SetValue(0.75)
		}); err != nil {
			return err
		}
		if s.Drums, err = track(g, "Drums", nil); err != nil {
			return err
		}
		if s.Synth, err = track(g, "Synth", s.Unit); err != nil {
			return err
		}
		for i, tr := range []*graph.Box{s.Drums, s.Synth, s.Synth} {
			r, err := region(g, tr, int64(i)*3840, i+1)
			if err != nil {
				return err
			}
			s.Regions = append(s.Regions, r)
		}
		if _, err := g.CreateBox("Automation", address.New(), func(b *graph.Box) error {
			if err := b.Pointer("target").Refer(s.Unit); err != nil {
				return err
			}
			if err := b.Primitive("param").SetValue("cutoff"); err != nil {
				return err
			}
			pt, err := b.Array("points").Append()
			if err != nil {
				return err
			}
			return pt.(*graph.Object).Primitive("value").SetValue(0.5)
		}); err != nil {
			return err
		}
		if _, err := g.CreateBox("Marker", address.New(), func(b *graph.Box) error {
			return b.Primitive("label").SetValue("Chorus")
		}); err != nil {
			return err
		}
		s.Sample, err = g.CreateBox("Sample", address.New(), func(b *graph.Box) error {
			return b.Primitive("data").SetValue([]byte{0, 1, 2, 3, 254, 255})
		})
		return err
	}))
	g.MustVerifyIntegrity()
	return s
}

func track(g *graph.Graph, name string, device *graph.Box) (*graph.Box, error) {
	return g.CreateBox("Track", address.New(), func(b *graph.Box) error {
		if err := b.Primitive("name").SetValue(name); err != nil {
			return err
		}
		if device == nil {
			return nil
		}
		return b.Pointer("device").Refer(device)
	})
}

func region(g *graph.Graph, track *graph.Box, position int64, notes int) (*graph.Box, error) {
	return g.CreateBox("Region", address.New(), func(b *graph.Box) error {
		if err := b.Pointer("track").Refer(track); err != nil {
			return err
		}
		if err := b.Primitive("position").SetValue(position); err != nil {
			return err
		}
		for i := 0; i < notes; i++ {
			n, err := b.Array("notes").Append()
			if err != nil {
				return err
			}
			if err := n.(*graph.Object).Primitive("pitch").SetValue(60 + i*4); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddRegion creates a region on track in its own transaction.
func AddRegion(t testing.TB, g *graph.Graph, track *graph.Box, position int64) *graph.Box {
	t.Helper()
	var r *graph.Box
	require.NoError(t, g.Transact(func() error {
		var err error
		r, err = region(g, track, position, 1)
		return err
	}))
	return r
}
