package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"boxgraph/codec"
	"boxgraph/diff"
	"boxgraph/graph"
	"boxgraph/pack"
	"boxgraph/replica"
	"boxgraph/store"
	"boxgraph/undo"
)

var storeCmd = &cobra.Command{
	Use:     "store",
	Short:   "Store commands",
	GroupID: groupTransfer,
}

var storeSaveCmd = &cobra.Command{
	Use:   "save <document>",
	Short: "Save a document as the newest snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runStoreSave,
}

var storeLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Restore the document from its snapshot and journal",
	Args:  cobra.NoArgs,
	RunE:  runStoreLoad,
}

var storeLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show journal entries",
	Args:  cobra.NoArgs,
	RunE:  runStoreLog,
}

var storeVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the journal hash chain",
	Args:  cobra.NoArgs,
	RunE:  runStoreVerify,
}

var storeCommitCmd = &cobra.Command{
	Use:   "commit <document>",
	Short: "Journal the changes that turn the store document into <document>",
	Long: `Journal the changes that turn the store document into <document>.

The changes are computed with the same structural diff as "boxgraph diff"
and recorded as one undo step under the configured actor.`,
	Args: cobra.ExactArgs(1),
	RunE: runStoreCommit,
}

var storeUndoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Revert the newest undo steps journaled since the last snapshot",
	Long: `Revert the newest undo steps journaled since the last snapshot.

Each undo is journaled as a new step, so undoing it in turn restores the
reverted changes.`,
	Args: cobra.NoArgs,
	RunE: runStoreUndo,
}

var storeFollowCmd = &cobra.Command{
	Use:   "follow",
	Short: "Keep a replica of the store document in step with its journal",
	Args:  cobra.NoArgs,
	RunE:  runStoreFollow,
}

var (
	logLimit   int
	logAfter   int64
	undoSteps  int
	followOnce bool
)

func init() {
	storeLoadCmd.Flags().StringVarP(&outPath, "output", "o", "", "Output file (default stdout)")
	storeLogCmd.Flags().IntVarP(&logLimit, "limit", "n", 20, "Number of entries to show")
	storeLogCmd.Flags().Int64Var(&logAfter, "after", 0, "Show entries after this journal position")
	storeUndoCmd.Flags().IntVarP(&undoSteps, "steps", "n", 1, "Number of steps to undo")
	storeFollowCmd.Flags().BoolVar(&followOnce, "once", false, "Catch up with the journal and exit")

	storeCmd.AddCommand(storeSaveCmd, storeLoadCmd, storeLogCmd, storeVerifyCmd,
		storeCommitCmd, storeUndoCmd, storeFollowCmd)
	rootCmd.AddCommand(storeCmd)
}

func runStoreSave(cmd *cobra.Command, args []string) error {
	g, _, err := readGraph(cmd, args[0])
	if err != nil {
		return err
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	snap, err := db.Checkpoint(cfg.Document, g)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved snapshot %d of %s (%s, %d boxes)\n",
		snap.ID, cfg.Document, humanize.Bytes(uint64(len(snap.Data))), g.Len())
	return nil
}

func runStoreLoad(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	g, err := newGraph()
	if err != nil {
		return err
	}
	n, err := db.Restore(cfg.Document, g)
	if err != nil {
		return err
	}
	log.WithField("replayed", n).Info("document restored")
	return writeOutput(cmd, outPath, codec.Encode(g))
}

func runStoreLog(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := db.Journal(cfg.Document, logAfter, logLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No journal entries.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%4d %s  %-10s %3d changes  %s\n",
			e.Seq, shortHex(e.ID), e.Actor, len(e.Batch.Changes),
			humanize.Time(time.UnixMilli(e.Time)))
	}
	return nil
}

func runStoreVerify(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.VerifyJournal(cfg.Document); err != nil {
		return err
	}
	head, err := db.Head(cfg.Document)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok: head %s\n", shortHex(head))
	return nil
}

func runStoreCommit(cmd *cobra.Command, args []string) error {
	target, _, err := readGraph(cmd, args[0])
	if err != nil {
		return err
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	g, err := newGraph()
	if err != nil {
		return err
	}
	if _, err := db.Restore(cfg.Document, g); err != nil {
		return err
	}
	gd, err := diff.Compute(g, target)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if gd.Empty() {
		fmt.Fprintln(out, "No changes.")
		return nil
	}

	rec := store.NewRecorder(db, cfg.Document, cfg.Actor, log)
	g.Subscribe(rec)
	if err := g.Transact(func() error { return g.ApplyAll(gd.Changes) }, graph.WithMark()); err != nil {
		return errors.Wrap(err, "applying changes")
	}
	if err := rec.Err(); err != nil {
		return err
	}
	s := gd.Summary
	fmt.Fprintf(out, "committed %d changes to %s as %s (%d boxes added, %d modified, %d removed)\n",
		len(gd.Changes), cfg.Document, cfg.Actor, s.BoxesAdded, s.BoxesModified, s.BoxesRemoved)
	return nil
}

func runStoreUndo(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	g, err := newGraph()
	if err != nil {
		return err
	}
	history := undo.New(g, undo.WithLimit(cfg.UndoLimit), undo.WithLogger(log))
	if _, err := db.RestoreHistory(cfg.Document, g); err != nil {
		return err
	}
	rec := store.NewRecorder(db, cfg.Document, cfg.Actor, log, store.AsUndoSteps())
	g.Subscribe(rec)

	done := 0
	for ; done < undoSteps; done++ {
		err := history.Undo()
		if errors.Is(err, undo.ErrNothingToUndo) && done > 0 {
			break
		}
		if err != nil {
			return err
		}
	}
	if err := rec.Err(); err != nil {
		return err
	}
	log.WithField("journaled", rec.Recorded()).Debug("undo steps journaled")
	fmt.Fprintf(cmd.OutOrStdout(), "undid %d of %d steps of %s\n", done, undoSteps, cfg.Document)
	return nil
}

func runStoreFollow(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	fs, err := factories()
	if err != nil {
		return err
	}
	r := replica.New(fs, log)
	var cursor int64
	snap, err := db.LatestSnapshot(cfg.Document)
	switch {
	case err == nil:
		if r, err = replica.FromDocument(fs, snap.Data, 0, log); err != nil {
			return err
		}
		cursor = snap.JournalSeq
	case !errors.Is(err, store.ErrSnapshotNotFound):
		return err
	}
	f := replica.NewFollower(r, db, cfg.Document, cursor, replica.WithInterval(cfg.FollowInterval))

	if !followOnce {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		log.WithField("doc", cfg.Document).Info("following journal")
		f.Start(ctx)
		<-ctx.Done()
		f.Stop()
	} else {
		for {
			n, err := f.Poll()
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
		}
	}
	return r.View(func(g *graph.Graph) error {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d boxes at journal position %d\n", cfg.Document, g.Len(), f.Cursor())
		return nil
	})
}

// storeObjects returns the newest snapshot of doc and the journal entries
// after it as pack objects. Batches are renumbered by journal position,
// since batch numbering restarts with every writer session.
func storeObjects(db *store.DB, doc string) ([]pack.Object, error) {
	snap, err := db.LatestSnapshot(doc)
	if err != nil {
		return nil, err
	}
	entries, err := db.Journal(doc, snap.JournalSeq, 0)
	if err != nil {
		return nil, err
	}
	objects := []pack.Object{{Kind: pack.KindDocument, Content: snap.Data}}
	for _, e := range entries {
		msg := e.Batch
		msg.Seq = uint64(e.Seq)
		content, err := json.Marshal(msg)
		if err != nil {
			return nil, errors.Wrapf(err, "journal entry %d", e.Seq)
		}
		objects = append(objects, pack.Object{Kind: pack.KindBatch, Content: content})
	}
	return objects, nil
}
