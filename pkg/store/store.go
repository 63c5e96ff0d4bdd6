// Package store provides optional SQLite-backed persistence for document
// snapshots, adapted from the teacher's pkg/database (same driver, same
// migration-embedding scheme) to persist (docId, text, serverSeq) instead
// of the teacher's (id, text, language), since a rejoining client must
// learn the server_seq the snapshot corresponds to (spec.md §4.4's "capture
// the current server_seq and document snapshot atomically" applies to a
// reload-from-snapshot join too).
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Snapshot is a persisted document's text paired with the server_seq it
// was captured at.
type Snapshot struct {
	DocID     string
	Text      string
	ServerSeq uint64
}

// Store wraps a SQLite connection holding document snapshots.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at uri and runs
// migrations.
func Open(uri string) (*Store, error) {
	db, err := sql.Open("sqlite3", uri)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load retrieves a document's snapshot. A nil Snapshot with no error means
// no snapshot is on record.
func (s *Store) Load(docID string) (*Snapshot, error) {
	var snap Snapshot
	snap.DocID = docID

	err := s.db.QueryRow(
		"SELECT text, server_seq FROM document WHERE doc_id = ?",
		docID,
	).Scan(&snap.Text, &snap.ServerSeq)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", docID, err)
	}
	return &snap, nil
}

// Store persists (or updates) a document's snapshot.
func (s *Store) Store(snap Snapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO document (doc_id, text, server_seq)
		VALUES (?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			text = excluded.text,
			server_seq = excluded.server_seq
	`, snap.DocID, snap.Text, snap.ServerSeq)
	if err != nil {
		return fmt.Errorf("store %s: %w", snap.DocID, err)
	}
	return nil
}

// Count returns the total number of persisted documents.
func (s *Store) Count() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM document").Scan(&count); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

// Delete removes a document's persisted snapshot.
func (s *Store) Delete(docID string) error {
	if _, err := s.db.Exec("DELETE FROM document WHERE doc_id = ?", docID); err != nil {
		return fmt.Errorf("delete %s: %w", docID, err)
	}
	return nil
}
