package db

import "time"

// Blob is a row of the content_blobs table
type Blob struct {
	ContentID string    `db:"content_id"`
	SizeBytes int64     `db:"size_bytes"`
	Data      []byte    `db:"data"`
	CreatedAt time.Time `db:"created_at"`
}

// Status summarizes the remote content store
type Status struct {
	Connected bool
	Blobs     int64
	Bytes     int64
	LastWrite *time.Time
}
