package store

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"boxgraph/codec"
	"boxgraph/graph"
	"boxgraph/proto"
)

// Recorder appends every committed batch of a graph to a document journal.
type Recorder struct {
	db    *DB
	doc   string
	actor string
	log   logrus.FieldLogger

	// steps journals every batch as a closed, recorded undo step.
	steps bool

	mu  sync.Mutex
	n   int
	err error
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// AsUndoSteps journals every batch as recorded work that closes an undo
// step, whatever flags it was committed with. Undo and redo transactions
// commit unrecorded; journaling them this way makes a later undo revert
// them in turn.
func AsUndoSteps() RecorderOption {
	return func(r *Recorder) { r.steps = true }
}

// NewRecorder returns a recorder for doc. Subscribe it to the graph after
// any Restore, or the replayed batches are journaled again.
func NewRecorder(db *DB, doc, actor string, log logrus.FieldLogger, opts ...RecorderOption) *Recorder {
	r := &Recorder{db: db, doc: doc, actor: actor, log: log.WithField("doc", doc)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnBatch implements graph.Observer. Empty batches are skipped.
func (r *Recorder) OnBatch(b *graph.Batch) {
	if len(b.Changes) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, err := proto.FromBatch(b)
	if r.steps {
		msg.Record, msg.Checkpoint = true, true
	}
	if err == nil {
		var entry *proto.JournalEntry
		entry, err = r.db.AppendBatch(r.doc, r.actor, msg)
		if err == nil {
			r.n++
			r.log.WithFields(logrus.Fields{
				"seq":   entry.Seq,
				"batch": b.Seq,
			}).Debug("batch journaled")
			return
		}
	}
	r.log.WithError(err).WithField("batch", b.Seq).Error("journaling batch")
	if r.err == nil {
		r.err = errors.Wrapf(err, "batch %d", b.Seq)
	}
}

// Recorded returns the number of journaled batches.
func (r *Recorder) Recorded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Err returns the first journaling error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Checkpoint saves the current document of g as the newest snapshot of doc.
func (db *DB) Checkpoint(doc string, g *graph.Graph) (*Snapshot, error) {
	return db.SaveSnapshot(doc, codec.Encode(g))
}

// Restore loads the newest snapshot of doc into g, or nothing when there is
// none, and replays the journal entries after it without undo recording.
// It returns the number of replayed entries.
func (db *DB) Restore(doc string, g *graph.Graph) (int, error) {
	return db.restore(doc, g, false)
}

// RestoreHistory is Restore with every entry committed with the undo flags
// it was journaled with, so an undo manager subscribed to g rebuilds the
// history recorded since the snapshot.
func (db *DB) RestoreHistory(doc string, g *graph.Graph) (int, error) {
	return db.restore(doc, g, true)
}

func (db *DB) restore(doc string, g *graph.Graph, history bool) (int, error) {
	var after int64
	snap, err := db.LatestSnapshot(doc)
	switch {
	case err == nil:
		if err := codec.Decode(snap.Data, g); err != nil {
			return 0, errors.Wrapf(err, "loading snapshot %d", snap.ID)
		}
		after = snap.JournalSeq
	case errors.Is(err, ErrSnapshotNotFound):
	default:
		return 0, err
	}

	entries, err := db.Journal(doc, after, 0)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		changes, err := e.Batch.ToChanges()
		if err != nil {
			return i, err
		}
		if err := g.Transact(func() error { return g.ApplyAll(changes) }, replayOptions(e.Batch, history)...); err != nil {
			return i, errors.Wrapf(err, "replaying journal entry %d", e.Seq)
		}
	}
	return len(entries), nil
}

func replayOptions(msg proto.BatchMessage, history bool) []graph.TxOption {
	if !history || !msg.Record {
		return []graph.TxOption{graph.WithoutUndo()}
	}
	if msg.Checkpoint {
		return []graph.TxOption{graph.WithMark()}
	}
	return nil
}
