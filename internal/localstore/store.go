// Package localstore is the durable on-device store: a SQLite database
// holding keyed entries (notes, page tree, manifests, indices) with their sync
// state, plus a content-addressed blob table used for local snapshots.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vonshlovens/blockvault/internal/cas"
)

// ErrNotFound is returned by Load for unknown keys
var ErrNotFound = errors.New("entry not found")

// Entry kinds stored by the module
const (
	KindNote     = "note"
	KindTree     = "tree"
	KindManifest = "manifest"
	KindIndex    = "index"
)

// Entry is one keyed record with its sync bookkeeping
type Entry struct {
	Key       string
	Kind      string
	Data      []byte
	Hash      string
	Synced    bool
	ContentID string
	UpdatedAt time.Time
}

// Store wraps the SQLite connection
type Store struct {
	conn *sql.DB
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate local store: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		key TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		data BLOB NOT NULL,
		hash TEXT NOT NULL,
		synced INTEGER NOT NULL DEFAULT 0,
		content_id TEXT,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS blobs (
		id TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_entries_kind ON entries(kind);
	CREATE INDEX IF NOT EXISTS idx_entries_synced ON entries(kind, synced);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Close closes the database
func (s *Store) Close() error {
	return s.conn.Close()
}

// Save writes data under key and marks it unsynced. The returned hash
// identifies this exact version for MarkSynced.
func (s *Store) Save(ctx context.Context, kind, key string, data []byte) (string, error) {
	hash := cas.ContentID(data)
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO entries (key, kind, data, hash, synced, content_id, updated_at)
		VALUES (?, ?, ?, ?, 0, NULL, ?)
		ON CONFLICT(key) DO UPDATE SET
			kind = excluded.kind,
			data = excluded.data,
			hash = excluded.hash,
			synced = CASE WHEN entries.hash = excluded.hash THEN entries.synced ELSE 0 END,
			updated_at = excluded.updated_at
	`, key, kind, data, hash, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to save %s %s: %w", kind, key, err)
	}
	return hash, nil
}

// Load returns the entry stored under key
func (s *Store) Load(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	var synced int
	var contentID sql.NullString

	err := s.conn.QueryRowContext(ctx, `
		SELECT key, kind, data, hash, synced, content_id, updated_at
		FROM entries WHERE key = ?
	`, key).Scan(&e.Key, &e.Kind, &e.Data, &e.Hash, &synced, &contentID, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}

	e.Synced = synced == 1
	e.ContentID = contentID.String
	return &e, nil
}

// List returns all entries of kind ordered by key
func (s *Store) List(ctx context.Context, kind string) ([]Entry, error) {
	return s.query(ctx, `
		SELECT key, kind, data, hash, synced, content_id, updated_at
		FROM entries WHERE kind = ? ORDER BY key
	`, kind)
}

// ListUnsynced returns entries of kind whose current version is not replicated
func (s *Store) ListUnsynced(ctx context.Context, kind string) ([]Entry, error) {
	return s.query(ctx, `
		SELECT key, kind, data, hash, synced, content_id, updated_at
		FROM entries WHERE kind = ? AND synced = 0 ORDER BY updated_at, key
	`, kind)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var synced int
		var contentID sql.NullString
		if err := rows.Scan(&e.Key, &e.Kind, &e.Data, &e.Hash, &synced, &contentID, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Synced = synced == 1
		e.ContentID = contentID.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkSynced records that the version identified by hash was replicated as
// contentID. It is a no-op when the entry changed in the meantime.
func (s *Store) MarkSynced(ctx context.Context, key, hash, contentID string) (bool, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE entries SET synced = 1, content_id = ?
		WHERE key = ? AND hash = ?
	`, contentID, key, hash)
	if err != nil {
		return false, fmt.Errorf("failed to mark %s synced: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark %s synced: %w", key, err)
	}
	return n > 0, nil
}

// Delete removes the entry under key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Stats returns total and unsynced entry counts for kind
func (s *Store) Stats(ctx context.Context, kind string) (total, unsynced int, err error) {
	err = s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN synced = 0 THEN 1 ELSE 0 END), 0)
		FROM entries WHERE kind = ?
	`, kind).Scan(&total, &unsynced)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return total, unsynced, nil
}
