package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/vonshlovens/blockvault/internal/localstore"
	"github.com/vonshlovens/blockvault/internal/note"
)

// MemoryIndex keeps version logs in memory
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string][]note.VersionEntry
}

// NewMemoryIndex creates an empty in-memory index
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string][]note.VersionEntry)}
}

func (m *MemoryIndex) Entries(ctx context.Context, noteID string) ([]note.VersionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]note.VersionEntry(nil), m.entries[noteID]...), nil
}

func (m *MemoryIndex) SetEntries(ctx context.Context, noteID string, entries []note.VersionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[noteID] = append([]note.VersionEntry(nil), entries...)
	return nil
}

func (m *MemoryIndex) DeleteEntries(ctx context.Context, noteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, noteID)
	return nil
}

// StoreIndex keeps version logs as JSON entries in the local store
type StoreIndex struct {
	store *localstore.Store
}

// NewStoreIndex creates an index backed by the local store
func NewStoreIndex(store *localstore.Store) *StoreIndex {
	return &StoreIndex{store: store}
}

func indexKey(noteID string) string {
	return "versions/" + noteID
}

func (s *StoreIndex) Entries(ctx context.Context, noteID string) ([]note.VersionEntry, error) {
	e, err := s.store.Load(ctx, indexKey(noteID))
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []note.VersionEntry
	if err := json.Unmarshal(e.Data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse version index of %s: %w", noteID, err)
	}
	return entries, nil
}

func (s *StoreIndex) SetEntries(ctx context.Context, noteID string, entries []note.VersionEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode version index of %s: %w", noteID, err)
	}
	_, err = s.store.Save(ctx, localstore.KindIndex, indexKey(noteID), data)
	return err
}

func (s *StoreIndex) DeleteEntries(ctx context.Context, noteID string) error {
	return s.store.Delete(ctx, indexKey(noteID))
}
