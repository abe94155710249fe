// Package cas defines the content-addressable blob store used for remote
// replication, local snapshots and row bodies.
//
// Blobs are addressed by the SHA256 hex digest of their bytes. Remote stores
// may be unreachable at any time; callers wrap them with WithTimeout and treat
// failures as transient.
package cas

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned by Get for unknown content ids
	ErrNotFound = errors.New("content not found")

	// ErrUnavailable is returned when the store cannot be reached
	ErrUnavailable = errors.New("content store unavailable")

	// ErrCorrupt is returned when fetched bytes do not match their id
	ErrCorrupt = errors.New("content does not match its id")
)

// Store is an opaque content-addressable blob store
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
	Head(ctx context.Context, id string) (bool, error)
}

// Remover is implemented by stores that can drop content
type Remover interface {
	Remove(ctx context.Context, id string) error
}

// Pinger is implemented by stores that can report reachability cheaply
type Pinger interface {
	Ping(ctx context.Context) error
}

// MemoryStore keeps blobs in memory. It can simulate being offline.
type MemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	offline bool
	puts    int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// SetOffline toggles simulated unavailability
func (m *MemoryStore) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// Puts returns the number of successful Put calls
func (m *MemoryStore) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

// Len returns the number of stored blobs
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

func (m *MemoryStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.offline {
		return "", ErrUnavailable
	}

	id := ContentID(data)
	m.blobs[id] = append([]byte(nil), data...)
	m.puts++
	return id, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.offline {
		return nil, ErrUnavailable
	}

	data, ok := m.blobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Head(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.offline {
		return false, ErrUnavailable
	}

	_, ok := m.blobs[id]
	return ok, nil
}

func (m *MemoryStore) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.offline {
		return ErrUnavailable
	}

	delete(m.blobs, id)
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.offline {
		return ErrUnavailable
	}
	return nil
}

// timeoutStore bounds every call to the wrapped store
type timeoutStore struct {
	next    Store
	timeout time.Duration
}

// WithTimeout wraps s so that every call is bounded by timeout.
// Remover and Pinger are forwarded when s implements them.
func WithTimeout(s Store, timeout time.Duration) Store {
	if timeout <= 0 {
		return s
	}
	return &timeoutStore{next: s, timeout: timeout}
}

func (t *timeoutStore) Put(ctx context.Context, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	id, err := t.next.Put(ctx, data)
	if err != nil {
		return "", fmt.Errorf("failed to put content: %w", err)
	}
	return id, nil
}

func (t *timeoutStore) Get(ctx context.Context, id string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	data, err := t.next.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get content %s: %w", id, err)
	}
	if !Verify(id, data) {
		return nil, fmt.Errorf("failed to get content %s: %w", id, ErrCorrupt)
	}
	return data, nil
}

func (t *timeoutStore) Head(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Head(ctx, id)
}

func (t *timeoutStore) Remove(ctx context.Context, id string) error {
	r, ok := t.next.(Remover)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return r.Remove(ctx, id)
}

func (t *timeoutStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if p, ok := t.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	// Head of an unknown id is the cheapest round trip available
	_, err := t.next.Head(ctx, ContentID(nil))
	return err
}
