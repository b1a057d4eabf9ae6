package replica

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"boxgraph/store"
)

// Follower tails a document journal in a store and applies new entries to
// a replica. Entries are ordered by their journal position, so batch
// sequence numbers may restart across writer sessions.
type Follower struct {
	r        *Replica
	db       *store.DB
	doc      string
	mu       sync.Mutex
	cursor   int64
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// FollowerOption configures a Follower.
type FollowerOption func(*Follower)

// WithInterval sets how often the journal is polled.
func WithInterval(d time.Duration) FollowerOption {
	return func(f *Follower) {
		if d > 0 {
			f.interval = d
		}
	}
}

// NewFollower returns a follower that starts after journal entry cursor.
func NewFollower(r *Replica, db *store.DB, doc string, cursor int64, opts ...FollowerOption) *Follower {
	f := &Follower{
		r:        r,
		db:       db,
		doc:      doc,
		cursor:   cursor,
		interval: 1 * time.Second,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start begins polling in the background. Only the first call starts
// the worker, and Start after Stop does nothing.
func (f *Follower) Start(ctx context.Context) {
	f.startOnce.Do(func() { go f.run(ctx) })
}

// Stop signals the follower to stop and waits for it. It may be called
// more than once, with or without a prior Start.
func (f *Follower) Stop() {
	f.stopOnce.Do(func() { close(f.stop) })
	// Never started: nothing will close done.
	f.startOnce.Do(func() { close(f.done) })
	<-f.done
}

// Cursor returns the last applied journal entry.
func (f *Follower) Cursor() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor
}

func (f *Follower) run(ctx context.Context) {
	defer close(f.done)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		case <-ticker.C:
			n, err := f.Poll()
			if err != nil {
				f.r.log.WithError(err).WithField("doc", f.doc).Warn("following journal")
			} else if n > 0 {
				f.r.log.WithFields(logrus.Fields{
					"doc":     f.doc,
					"entries": n,
					"cursor":  f.Cursor(),
				}).Info("journal followed")
			}
		}
	}
}

// Poll applies up to a page of journal entries past the cursor and returns
// how many were applied. Polls must not run concurrently.
func (f *Follower) Poll() (int, error) {
	entries, err := f.db.Journal(f.doc, f.Cursor(), 100)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		if err := f.r.apply(e.Batch, false); err != nil {
			return i, err
		}
		f.mu.Lock()
		f.cursor = e.Seq
		f.mu.Unlock()
	}
	return len(entries), nil
}
