package diff

import (
	"bytes"
	"io"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"boxgraph/address"
	"boxgraph/graph"
)

// ErrKindMismatch is returned when an identity names boxes of different
// kinds in the two graphs.
var ErrKindMismatch = errors.New("box kind differs between graphs")

type differ struct {
	changes []graph.Change
}

// Compute returns the diff from a to b. Applying its Changes to a yields a
// graph whose boxes encode like those of b.
//
// Change order: new boxes are created empty, then fields are set on new
// and common boxes, then the pointers of removed boxes are released and
// the boxes deleted. Every pointer target exists at each step.
func Compute(a, b *graph.Graph) (*GraphDiff, error) {
	d := &differ{}
	gd := &GraphDiff{}

	// New boxes are diffed against a default box of their kind.
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	scratch := graph.New(a.Factories(), graph.WithLogger(quiet))
	if err := scratch.BeginTransaction(); err != nil {
		return nil, err
	}
	defer func() {
		if scratch.InTransaction() {
			_ = scratch.AbortTransaction()
		}
	}()

	var added []*graph.Box
	for _, y := range b.Boxes() {
		if x, ok := a.FindBox(y.ID()); ok {
			if x.Kind() != y.Kind() {
				return nil, errors.Wrapf(ErrKindMismatch, "%s is a %s, then a %s", y.ID(), x.Kind(), y.Kind())
			}
			continue
		}
		d.changes = append(d.changes, graph.Change{
			Kind:    graph.Created,
			Address: y.Address(),
			BoxKind: y.Kind(),
		})
		added = append(added, y)
	}
	for _, y := range added {
		x, err := scratch.CreateBox(y.Kind(), y.ID(), nil)
		if err != nil {
			return nil, errors.Wrapf(err, "box %s", y.ID())
		}
		bd := BoxDiff{ID: y.ID(), Kind: y.Kind(), Action: ActionAdded}
		d.field(&bd, x.Root(), y.Root(), "")
		gd.Boxes = append(gd.Boxes, bd)
	}

	var removed []*graph.Box
	for _, x := range a.Boxes() {
		y, ok := b.FindBox(x.ID())
		if !ok {
			removed = append(removed, x)
			continue
		}
		bd := BoxDiff{ID: x.ID(), Kind: x.Kind(), Action: ActionModified}
		d.field(&bd, x.Root(), y.Root(), "")
		if len(bd.Fields) > 0 {
			gd.Boxes = append(gd.Boxes, bd)
		}
	}

	for _, x := range removed {
		for _, p := range x.Pointers() {
			target, ok := p.Target()
			if !ok {
				continue
			}
			d.changes = append(d.changes, graph.Change{
				Kind:      graph.PointerChanged,
				Address:   p.Address(),
				BoxKind:   x.Kind(),
				OldTarget: &target,
				Deferred:  p.Mandatory(),
			})
		}
	}
	for _, x := range removed {
		d.changes = append(d.changes, graph.Change{
			Kind:    graph.Deleted,
			Address: x.Address(),
			BoxKind: x.Kind(),
		})
		gd.Boxes = append(gd.Boxes, BoxDiff{ID: x.ID(), Kind: x.Kind(), Action: ActionRemoved})
	}

	gd.Changes = d.changes
	gd.ComputeSummary()
	return gd, nil
}

// field diffs x against y. Both have the same schema.
func (d *differ) field(bd *BoxDiff, x, y graph.Field, path string) {
	graph.Visit(y, graph.Visitor[struct{}]{
		Primitive: func(py *graph.Primitive) struct{} {
			px := x.(*graph.Primitive)
			if bytes.Equal(px.Encode(), py.Encode()) {
				return struct{}{}
			}
			d.changes = append(d.changes, graph.Change{
				Kind:     graph.ValueChanged,
				Address:  px.Address(),
				BoxKind:  bd.Kind,
				OldValue: px.Value(),
				NewValue: py.Value(),
			})
			bd.Fields = append(bd.Fields, FieldDiff{
				Path:    path,
				Address: px.Address(),
				Action:  ActionModified,
				Before:  formatValue(px.Value()),
				After:   formatValue(py.Value()),
			})
			return struct{}{}
		},
		Pointer: func(py *graph.Pointer) struct{} {
			px := x.(*graph.Pointer)
			xt, xok := px.Target()
			yt, yok := py.Target()
			if xok == yok && xt == yt && px.Deferred() == py.Deferred() {
				return struct{}{}
			}
			c := graph.Change{
				Kind:        graph.PointerChanged,
				Address:     px.Address(),
				BoxKind:     bd.Kind,
				WasDeferred: px.Deferred(),
				Deferred:    py.Deferred(),
			}
			if xok {
				c.OldTarget = &xt
			}
			if yok {
				c.NewTarget = &yt
			}
			d.changes = append(d.changes, c)
			bd.Fields = append(bd.Fields, FieldDiff{
				Path:    path,
				Address: px.Address(),
				Action:  ActionModified,
				Before:  formatPointer(px),
				After:   formatPointer(py),
			})
			return struct{}{}
		},
		Object: func(oy *graph.Object) struct{} {
			ox := x.(*graph.Object)
			for _, cy := range oy.Fields() {
				cx, ok := ox.Field(cy.Address().Last())
				if !ok {
					continue
				}
				d.field(bd, cx, cy, joinPath(path, cy.Spec().Name))
			}
			return struct{}{}
		},
		Array: func(ay *graph.Array) struct{} {
			ax := x.(*graph.Array)
			xs, ys := ax.Fields(), ay.Fields()
			for i := 0; i < min(len(xs), len(ys)); i++ {
				d.field(bd, xs[i], ys[i], indexPath(path, i))
			}
			// Remove from the end so earlier indexes stay valid.
			for i := len(xs) - 1; i >= len(ys); i-- {
				d.changes = append(d.changes, graph.Change{
					Kind:     graph.Deleted,
					Address:  xs[i].Address(),
					BoxKind:  bd.Kind,
					Snapshot: xs[i].Encode(),
				})
				bd.Fields = append(bd.Fields, FieldDiff{
					Path:    indexPath(path, i),
					Address: xs[i].Address(),
					Action:  ActionRemoved,
				})
			}
			for i := len(xs); i < len(ys); i++ {
				addr := ax.Address().Append(address.FieldKey(i))
				d.changes = append(d.changes, graph.Change{
					Kind:     graph.Created,
					Address:  addr,
					BoxKind:  bd.Kind,
					Snapshot: ys[i].Encode(),
				})
				bd.Fields = append(bd.Fields, FieldDiff{
					Path:    indexPath(path, i),
					Address: addr,
					Action:  ActionAdded,
				})
			}
			return struct{}{}
		},
	})
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func indexPath(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}
