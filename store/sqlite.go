// Package store persists document snapshots and a hash-chained journal of
// committed batches in SQLite.
package store

import (
	"bytes"
	"database/sql"
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"boxgraph/cas"
	"boxgraph/proto"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

// FileName is the database file created by OpenDir.
const FileName = "boxgraph.db"

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")
	ErrBrokenChain      = errors.New("journal chain broken")
)

// DB wraps a SQLite connection.
type DB struct {
	conn *sql.DB
	mu   sync.Mutex
	path string
}

// OpenDir opens or creates the database inside dir.
func OpenDir(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "creating db directory")
	}
	return Open(filepath.Join(dir, FileName))
}

// Open opens a database at the given path.
func Open(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite")
	}
	// Pragmas are per connection.
	conn.SetMaxOpenConns(1)

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "applying pragma %q", pragma)
		}
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "applying schema")
	}
	return &DB{conn: conn, path: dbPath}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// ----- Documents -----

func ensureDocument(tx *sql.Tx, name string, ts int64) error {
	_, err := tx.Exec(
		`INSERT OR IGNORE INTO documents (name, head, created_at, updated_at) VALUES (?, NULL, ?, ?)`,
		name, ts, ts,
	)
	return errors.Wrap(err, "inserting document")
}

// Documents lists the stored document names.
func (db *DB) Documents() ([]string, error) {
	rows, err := db.conn.Query(`SELECT name FROM documents ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "querying documents")
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scanning document")
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Head returns the ID of the newest journal entry of doc, or nil.
func (db *DB) Head(doc string) ([]byte, error) {
	var head []byte
	err := db.conn.QueryRow(`SELECT head FROM documents WHERE name = ?`, doc).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying head")
	}
	return head, nil
}

// ----- Snapshots -----

// Snapshot is a stored binary document.
type Snapshot struct {
	ID  int64
	Doc string
	// JournalSeq is the last journal entry the snapshot includes.
	JournalSeq int64
	Time       int64
	Checksum   []byte
	Data       []byte
}

// SaveSnapshot stores data as the newest snapshot of doc. It covers every
// journal entry appended so far.
func (db *DB) SaveSnapshot(doc string, data []byte) (*Snapshot, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	ts := cas.NowMs()
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	if err := ensureDocument(tx, doc, ts); err != nil {
		return nil, err
	}
	snap := &Snapshot{Doc: doc, Time: ts, Checksum: cas.Blake3Hash(data), Data: data}
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(seq), 0) FROM journal WHERE doc = ?`, doc,
	).Scan(&snap.JournalSeq); err != nil {
		return nil, errors.Wrap(err, "querying journal position")
	}
	result, err := tx.Exec(
		`INSERT INTO snapshots (doc, journal_seq, ts, checksum, size, blob) VALUES (?, ?, ?, ?, ?, ?)`,
		doc, snap.JournalSeq, ts, snap.Checksum, len(data), data,
	)
	if err != nil {
		return nil, errors.Wrap(err, "inserting snapshot")
	}
	if snap.ID, err = result.LastInsertId(); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing transaction")
	}
	return snap, nil
}

// LatestSnapshot returns the newest snapshot of doc after verifying its
// checksum.
func (db *DB) LatestSnapshot(doc string) (*Snapshot, error) {
	snap := &Snapshot{Doc: doc}
	err := db.conn.QueryRow(
		`SELECT id, journal_seq, ts, checksum, blob FROM snapshots WHERE doc = ? ORDER BY id DESC LIMIT 1`,
		doc,
	).Scan(&snap.ID, &snap.JournalSeq, &snap.Time, &snap.Checksum, &snap.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrSnapshotNotFound, "document %q", doc)
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying snapshot")
	}
	if !bytes.Equal(cas.Blake3Hash(snap.Data), snap.Checksum) {
		return nil, errors.Wrapf(ErrChecksumMismatch, "snapshot %d of %q", snap.ID, doc)
	}
	return snap, nil
}

// ----- Journal -----

// entryID chains the canonical form of an entry to its parent.
func entryID(parent []byte, time int64, actor string, batch proto.BatchMessage) ([]byte, error) {
	canonical, err := cas.CanonicalJSON(map[string]any{
		"time":  time,
		"actor": actor,
		"batch": batch,
	})
	if err != nil {
		return nil, errors.Wrap(err, "canonicalizing entry")
	}
	return cas.Chain(parent, canonical), nil
}

// AppendBatch appends msg to the journal of doc and advances its head.
func (db *DB) AppendBatch(doc, actor string, msg proto.BatchMessage) (*proto.JournalEntry, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	ts := cas.NowMs()
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling batch")
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	if err := ensureDocument(tx, doc, ts); err != nil {
		return nil, err
	}
	var parent []byte
	if err := tx.QueryRow(`SELECT head FROM documents WHERE name = ?`, doc).Scan(&parent); err != nil {
		return nil, errors.Wrap(err, "querying head")
	}
	id, err := entryID(parent, ts, actor, msg)
	if err != nil {
		return nil, err
	}
	result, err := tx.Exec(
		`INSERT INTO journal (doc, id, parent, time, actor, batch_seq, body) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc, id, parent, ts, actor, int64(msg.Seq), string(body),
	)
	if err != nil {
		return nil, errors.Wrap(err, "inserting journal entry")
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(
		`UPDATE documents SET head = ?, updated_at = ? WHERE name = ?`, id, ts, doc,
	); err != nil {
		return nil, errors.Wrap(err, "advancing head")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing transaction")
	}
	return &proto.JournalEntry{ID: id, Seq: seq, Parent: parent, Time: ts, Actor: actor, Batch: msg}, nil
}

// Journal returns the entries of doc after afterSeq in order. A limit of
// zero or less returns all of them.
func (db *DB) Journal(doc string, afterSeq int64, limit int) ([]*proto.JournalEntry, error) {
	query := `SELECT seq, id, parent, time, actor, body FROM journal WHERE doc = ? AND seq > ? ORDER BY seq ASC`
	args := []any{doc, afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying journal")
	}
	defer rows.Close()

	var entries []*proto.JournalEntry
	for rows.Next() {
		var e proto.JournalEntry
		var body string
		if err := rows.Scan(&e.Seq, &e.ID, &e.Parent, &e.Time, &e.Actor, &body); err != nil {
			return nil, errors.Wrap(err, "scanning journal entry")
		}
		if err := json.Unmarshal([]byte(body), &e.Batch); err != nil {
			return nil, errors.Wrapf(err, "decoding journal entry %d", e.Seq)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// VerifyJournal recomputes every entry ID of doc and checks the parent
// links and the head.
func (db *DB) VerifyJournal(doc string) error {
	entries, err := db.Journal(doc, 0, 0)
	if err != nil {
		return err
	}
	var prev []byte
	for _, e := range entries {
		if !bytes.Equal(e.Parent, prev) {
			return errors.Wrapf(ErrBrokenChain, "entry %d parent %s, want %s",
				e.Seq, cas.BytesToHex(e.Parent), cas.BytesToHex(prev))
		}
		id, err := entryID(e.Parent, e.Time, e.Actor, e.Batch)
		if err != nil {
			return err
		}
		if !bytes.Equal(id, e.ID) {
			return errors.Wrapf(ErrBrokenChain, "entry %d content does not match its id", e.Seq)
		}
		prev = e.ID
	}
	head, err := db.Head(doc)
	if err != nil {
		return err
	}
	if !bytes.Equal(head, prev) {
		return errors.Wrapf(ErrBrokenChain, "head %s, last entry %s", cas.BytesToHex(head), cas.BytesToHex(prev))
	}
	return nil
}
