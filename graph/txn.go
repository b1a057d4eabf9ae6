package graph

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"boxgraph/address"
)

type txState uint8

const (
	stateIdle txState = iota
	stateOpen
	stateCommitting
	stateAborted
)

func (s txState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateOpen:
		return "open"
	case stateCommitting:
		return "committing"
	case stateAborted:
		return "aborted"
	default:
		return "invalid"
	}
}

// txn is the bookkeeping of the open transaction.
type txn struct {
	changes    []Change
	skip       bool
	checkpoint bool
}

// TxOption configures a transaction started by Transact.
type TxOption func(*Graph)

// WithoutUndo commits the transaction with Record unset, so undo history
// ignores it.
func WithoutUndo() TxOption {
	return func(g *Graph) { g.tx.skip = true }
}

// WithMark closes an undo step after the transaction.
func WithMark() TxOption {
	return func(g *Graph) { g.tx.checkpoint = true }
}

// InTransaction reports whether a transaction is open.
func (g *Graph) InTransaction() bool { return g.state == stateOpen }

// BeginTransaction opens a transaction. Transactions do not nest.
func (g *Graph) BeginTransaction() error {
	if g.state != stateIdle {
		return errors.Wrapf(ErrTransactionOpen, "state %s", g.state)
	}
	g.state = stateOpen
	g.tx = txn{}
	return nil
}

// SkipRecording marks the open transaction as not undoable.
func (g *Graph) SkipRecording() error {
	if g.state != stateOpen {
		return ErrNotInTransaction
	}
	g.tx.skip = true
	return nil
}

// Mark closes an undo step. Inside a transaction it applies to the batch
// that transaction will commit; otherwise to the most recent batch.
func (g *Graph) Mark() {
	if g.state == stateOpen {
		g.tx.checkpoint = true
		return
	}
	if g.lastBatch != nil {
		g.lastBatch.Checkpoint = true
	}
}

// EndTransaction checks that every touched box still has its mandatory
// pointers set, then delivers the batch to observers. On a violation the
// transaction is rolled back and the violation returned.
func (g *Graph) EndTransaction() error {
	if g.state != stateOpen {
		return ErrNotInTransaction
	}
	g.state = stateCommitting
	if err := g.checkMandatory(); err != nil {
		g.rollback(err)
		return err
	}
	g.batchSeq++
	batch := &Batch{
		Seq:        g.batchSeq,
		Changes:    g.tx.changes,
		Record:     !g.tx.skip,
		Checkpoint: g.tx.checkpoint,
	}
	g.tx = txn{}
	g.lastBatch = batch
	g.log.WithFields(logrus.Fields{
		"seq":     batch.Seq,
		"changes": len(batch.Changes),
		"record":  batch.Record,
	}).Debug("transaction committed")
	defer func() { g.state = stateIdle }()
	for _, e := range append([]observerEntry(nil), g.observers...) {
		e.o.OnBatch(batch)
	}
	return nil
}

// AbortTransaction rolls back every change of the open transaction.
func (g *Graph) AbortTransaction() error {
	if g.state != stateOpen {
		return ErrNotInTransaction
	}
	g.rollback(nil)
	return nil
}

// Transact runs fn inside a transaction. An error from fn aborts the
// transaction; otherwise it is ended and the commit error returned.
func (g *Graph) Transact(fn func() error, opts ...TxOption) error {
	if err := g.BeginTransaction(); err != nil {
		return err
	}
	for _, opt := range opts {
		opt(g)
	}
	if err := fn(); err != nil {
		if g.state == stateOpen {
			g.rollback(err)
		}
		return err
	}
	if g.state != stateOpen {
		// fn hit a violation that already rolled the transaction back but
		// swallowed the error.
		return errors.Wrap(ErrNotInTransaction, "transaction was aborted")
	}
	return g.EndTransaction()
}

// fail aborts the open transaction and returns err.
func (g *Graph) fail(err error) error {
	if g.state == stateOpen {
		g.rollback(err)
	}
	return err
}

// record appends c to the open transaction's change log.
func (g *Graph) record(c Change) {
	if g.state != stateOpen {
		return
	}
	g.tx.changes = append(g.tx.changes, c)
}

// rollback reverts the change log in reverse order and returns to Idle.
func (g *Graph) rollback(cause error) {
	g.state = stateAborted
	changes := g.tx.changes
	for i := len(changes) - 1; i >= 0; i-- {
		g.revert(changes[i])
	}
	g.tx = txn{}
	g.state = stateIdle
	entry := g.log.WithField("changes", len(changes))
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Debug("transaction rolled back")
}

// revert undoes one recorded change without recording. Changes are
// reverted newest first, so every address in c is valid again when c is
// reached.
func (g *Graph) revert(c Change) {
	switch c.Kind {
	case ValueChanged:
		if p, ok := c.field.(*Primitive); ok {
			p.value = c.OldValue
		}
	case PointerChanged:
		if p, ok := c.field.(*Pointer); ok {
			p.relink(c.OldTarget, c.WasDeferred)
		}
	case Created:
		if c.box != nil {
			g.detach(c.box)
			return
		}
		if arr, ok := c.field.base().parent.(*Array); ok {
			if i := arr.indexOf(c.field); i >= 0 {
				arr.detach(i)
			}
		}
	case Deleted:
		if c.box != nil {
			g.attach(c.box)
			return
		}
		if arr, ok := c.field.base().parent.(*Array); ok {
			arr.insert(int(c.Address.Last()), c.field)
		}
	}
}

// checkMandatory verifies the boxes touched by the open transaction.
func (g *Graph) checkMandatory() error {
	seen := make(map[address.Identity]bool)
	for _, c := range g.tx.changes {
		id := c.Address.Identity()
		if seen[id] {
			continue
		}
		seen[id] = true
		b, ok := g.boxes[id]
		if !ok {
			continue
		}
		if missing := b.missingMandatory(); len(missing) > 0 {
			p := missing[0]
			return violation(ErrMandatoryPointerViolation, p.Address(),
				"%s.%s is empty", b.kind, p.spec.Name)
		}
	}
	return nil
}
