// Package undo keeps undo and redo history for a box graph.
package undo

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"boxgraph/graph"
)

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// step is the changes of one or more batches, in commit order.
type step []graph.Change

// Manager is a graph.Observer that groups recorded batches into steps. A
// step closes at a batch committed with a checkpoint (see graph.WithMark
// and Graph.Mark) or at Mark.
type Manager struct {
	g     *graph.Graph
	log   logrus.FieldLogger
	open  step
	undo  []step
	redo  []step
	limit int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLimit keeps at most n undo steps. Zero keeps all.
func WithLimit(n int) Option {
	return func(m *Manager) { m.limit = n }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Manager) { m.log = log }
}

// New creates a manager and subscribes it to g.
func New(g *graph.Graph, opts ...Option) *Manager {
	m := &Manager{g: g, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(m)
	}
	g.Subscribe(m)
	return m
}

// OnBatch implements graph.Observer.
func (m *Manager) OnBatch(b *graph.Batch) {
	if !b.Record {
		return
	}
	if len(b.Changes) > 0 {
		m.open = append(m.open, b.Changes...)
		m.redo = nil
	}
	if b.Checkpoint {
		m.Mark()
	}
}

// Mark closes the open step. Marking with nothing open does nothing.
func (m *Manager) Mark() {
	if len(m.open) == 0 {
		return
	}
	m.undo = append(m.undo, m.open)
	m.open = nil
	if m.limit > 0 && len(m.undo) > m.limit {
		m.undo = m.undo[len(m.undo)-m.limit:]
	}
}

// CanUndo reports whether there is a step to undo, closed or open.
func (m *Manager) CanUndo() bool { return len(m.undo) > 0 || len(m.open) > 0 }

// CanRedo reports whether there is an undone step to redo.
func (m *Manager) CanRedo() bool { return len(m.redo) > 0 }

// Steps returns the number of undo and redo steps. An open step counts
// as an undo step.
func (m *Manager) Steps() (undo, redo int) {
	undo = len(m.undo)
	if len(m.open) > 0 {
		undo++
	}
	return undo, len(m.redo)
}

// Undo reverts the newest step in one transaction. An open step is closed
// first.
func (m *Manager) Undo() error {
	m.Mark()
	if len(m.undo) == 0 {
		return ErrNothingToUndo
	}
	s := m.undo[len(m.undo)-1]
	err := m.g.Transact(func() error {
		for i := len(s) - 1; i >= 0; i-- {
			if err := m.g.Apply(s[i].Inverse()); err != nil {
				return err
			}
		}
		return nil
	}, graph.WithoutUndo())
	if err != nil {
		return errors.Wrap(err, "undoing step")
	}
	m.undo = m.undo[:len(m.undo)-1]
	m.redo = append(m.redo, s)
	m.log.WithField("changes", len(s)).Debug("undo")
	return nil
}

// Redo reapplies the newest undone step in one transaction.
func (m *Manager) Redo() error {
	if len(m.redo) == 0 {
		return ErrNothingToRedo
	}
	s := m.redo[len(m.redo)-1]
	err := m.g.Transact(func() error { return m.g.ApplyAll(s) }, graph.WithoutUndo())
	if err != nil {
		return errors.Wrap(err, "redoing step")
	}
	m.redo = m.redo[:len(m.redo)-1]
	m.undo = append(m.undo, s)
	m.log.WithField("changes", len(s)).Debug("redo")
	return nil
}

// Clear drops all history.
func (m *Manager) Clear() {
	m.open, m.undo, m.redo = nil, nil, nil
}
