// Package replica keeps a read-only copy of a box graph in step with the
// batches committed by another.
package replica

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"boxgraph/codec"
	"boxgraph/graph"
	"boxgraph/proto"
)

// ErrOutOfOrder is returned for a batch whose sequence number is not past
// the last applied one.
var ErrOutOfOrder = errors.New("batch out of order")

// Replica applies batch messages to its own graph, one transaction each.
type Replica struct {
	mu   sync.RWMutex
	g    *graph.Graph
	last uint64
	log  logrus.FieldLogger
}

// New returns a replica over an empty graph of the given schema.
func New(factories graph.Factories, log logrus.FieldLogger) *Replica {
	return &Replica{
		g:   graph.New(factories, graph.WithLogger(log)),
		log: log.WithField("component", "replica"),
	}
}

// FromDocument returns a replica that starts from a binary document taken
// after batch seq.
func FromDocument(factories graph.Factories, doc []byte, seq uint64, log logrus.FieldLogger) (*Replica, error) {
	r := New(factories, log)
	if err := codec.Decode(doc, r.g); err != nil {
		return nil, errors.Wrap(err, "loading document")
	}
	r.last = seq
	return r, nil
}

// Seq returns the sequence number of the last applied batch.
func (r *Replica) Seq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// View calls fn with the graph under the read lock. fn must not mutate it.
func (r *Replica) View(fn func(g *graph.Graph) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fn(r.g)
}

// Apply replays msg. Sequence numbers must increase; gaps are allowed
// since empty batches are not always sent.
func (r *Replica) Apply(msg proto.BatchMessage) error {
	return r.apply(msg, true)
}

func (r *Replica) apply(msg proto.BatchMessage, ordered bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ordered && msg.Seq <= r.last {
		return errors.Wrapf(ErrOutOfOrder, "batch %d after %d", msg.Seq, r.last)
	}
	changes, err := msg.ToChanges()
	if err != nil {
		return err
	}
	if err := r.g.Transact(func() error { return r.g.ApplyAll(changes) }, graph.WithoutUndo()); err != nil {
		return errors.Wrapf(err, "applying batch %d", msg.Seq)
	}
	r.last = max(r.last, msg.Seq)
	r.log.WithFields(logrus.Fields{
		"seq":     msg.Seq,
		"changes": len(changes),
	}).Debug("batch applied")
	return nil
}

// Run applies messages from in until it is closed or ctx is done. The first
// failing batch stops the loop and is returned.
func (r *Replica) Run(ctx context.Context, in <-chan proto.BatchMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			if err := r.Apply(msg); err != nil {
				r.log.WithError(err).Error("replica stopped")
				return err
			}
		}
	}
}

// Feed returns an observer that forwards the batches of a source graph to
// out as messages. Sends block, so out must be drained. Batches without
// changes are dropped.
func Feed(out chan<- proto.BatchMessage, log logrus.FieldLogger) graph.Observer {
	return graph.ObserverFunc(func(b *graph.Batch) {
		if len(b.Changes) == 0 {
			return
		}
		msg, err := proto.FromBatch(b)
		if err != nil {
			log.WithError(err).WithField("seq", b.Seq).Error("encoding batch")
			return
		}
		out <- msg
	})
}
