package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vonshlovens/blockvault/internal/cas"
)

// Put stores data in the local blob table and returns its content id
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	id := cas.ContentID(data)
	_, err := s.conn.ExecContext(ctx, `INSERT OR IGNORE INTO blobs (id, data) VALUES (?, ?)`, id, data)
	if err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}
	return id, nil
}

// Get returns the blob with id
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.conn.QueryRowContext(ctx, `SELECT data FROM blobs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cas.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", id, err)
	}
	return data, nil
}

// Head reports whether the blob exists
func (s *Store) Head(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM blobs WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check blob %s: %w", id, err)
	}
	return n > 0, nil
}

// Remove deletes the blob with id
func (s *Store) Remove(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM blobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove blob %s: %w", id, err)
	}
	return nil
}

var _ cas.Store = (*Store)(nil)
var _ cas.Remover = (*Store)(nil)
