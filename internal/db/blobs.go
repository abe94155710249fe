package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vonshlovens/blockvault/internal/cas"
)

// Blobs is a cas.Store over the content_blobs table
type Blobs struct {
	db *DB
}

// Blobs returns the content store of db
func (db *DB) Blobs() *Blobs {
	return &Blobs{db: db}
}

// Put stores data under its content id. Storing existing content is a no-op.
func (b *Blobs) Put(ctx context.Context, data []byte) (string, error) {
	id := cas.ContentID(data)
	_, err := b.db.Pool.Exec(ctx, `
		INSERT INTO content_blobs (content_id, size_bytes, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (content_id) DO NOTHING
	`, id, int64(len(data)), data)
	if err != nil {
		return "", fmt.Errorf("failed to store blob %s: %w", id, unavailable(err))
	}
	return id, nil
}

// Get returns the content stored under id
func (b *Blobs) Get(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := b.db.Pool.QueryRow(ctx,
		"SELECT data FROM content_blobs WHERE content_id = $1", id,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cas.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blob %s: %w", id, unavailable(err))
	}
	if !cas.Verify(id, data) {
		return nil, fmt.Errorf("blob %s: %w", id, cas.ErrCorrupt)
	}
	return data, nil
}

// Head reports whether content with id exists
func (b *Blobs) Head(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := b.db.Pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM content_blobs WHERE content_id = $1)", id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check blob %s: %w", id, unavailable(err))
	}
	return exists, nil
}

// Remove deletes the content stored under id. Unknown ids are ignored.
func (b *Blobs) Remove(ctx context.Context, id string) error {
	if _, err := b.db.Pool.Exec(ctx, "DELETE FROM content_blobs WHERE content_id = $1", id); err != nil {
		return fmt.Errorf("failed to remove blob %s: %w", id, unavailable(err))
	}
	return nil
}

// Ping checks that the content store is reachable
func (b *Blobs) Ping(ctx context.Context) error {
	return b.db.Ping(ctx)
}

// List returns the stored blobs without their data, newest first
func (b *Blobs) List(ctx context.Context, limit int) ([]Blob, error) {
	rows, err := b.db.Pool.Query(ctx, `
		SELECT content_id, size_bytes, created_at
		FROM content_blobs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", unavailable(err))
	}

	blobs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Blob, error) {
		var blob Blob
		err := row.Scan(&blob.ContentID, &blob.SizeBytes, &blob.CreatedAt)
		return blob, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", unavailable(err))
	}
	return blobs, nil
}
