package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/vonshlovens/blockvault/internal/localstore"
)

// ManifestStore persists database manifests
type ManifestStore interface {
	LoadManifest(ctx context.Context, id string) (*Manifest, error)
	SaveManifest(ctx context.Context, m *Manifest) error
	ListManifests(ctx context.Context) ([]*Manifest, error)
}

func cloneManifest(m *Manifest) (*Manifest, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out Manifest
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MemoryManifests keeps manifests in memory
type MemoryManifests struct {
	mu        sync.RWMutex
	manifests map[string]*Manifest
}

// NewMemoryManifests creates an empty in-memory manifest store
func NewMemoryManifests() *MemoryManifests {
	return &MemoryManifests{manifests: make(map[string]*Manifest)}
}

func (m *MemoryManifests) LoadManifest(ctx context.Context, id string) (*Manifest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	manifest, ok := m.manifests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneManifest(manifest)
}

func (m *MemoryManifests) SaveManifest(ctx context.Context, manifest *Manifest) error {
	stored, err := cloneManifest(manifest)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifests[manifest.ID] = stored
	return nil
}

func (m *MemoryManifests) ListManifests(ctx context.Context) ([]*Manifest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Manifest, 0, len(m.manifests))
	for _, manifest := range m.manifests {
		c, err := cloneManifest(manifest)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// StoreManifests keeps manifests as JSON entries in the local store
type StoreManifests struct {
	store *localstore.Store
}

// NewStoreManifests creates a manifest store over the local store
func NewStoreManifests(store *localstore.Store) *StoreManifests {
	return &StoreManifests{store: store}
}

const manifestPrefix = "database/"

func (s *StoreManifests) LoadManifest(ctx context.Context, id string) (*Manifest, error) {
	e, err := s.store.Load(ctx, manifestPrefix+id)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeManifest(e.Data)
}

func decodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

func (s *StoreManifests) SaveManifest(ctx context.Context, m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest %s: %w", m.ID, err)
	}
	_, err = s.store.Save(ctx, localstore.KindManifest, manifestPrefix+m.ID, data)
	return err
}

func (s *StoreManifests) ListManifests(ctx context.Context) ([]*Manifest, error) {
	entries, err := s.store.List(ctx, localstore.KindManifest)
	if err != nil {
		return nil, err
	}

	var out []*Manifest
	for _, e := range entries {
		if !strings.HasPrefix(e.Key, manifestPrefix) {
			continue
		}
		m, err := decodeManifest(e.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Key, err)
		}
		out = append(out, m)
	}
	return out, nil
}
