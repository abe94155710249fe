package sync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// queueState is the on-disk form of the offline queue
type queueState struct {
	Operations    []*Operation `json:"operations"`
	Seq           int64        `json:"seq"`
	LastProcessed *time.Time   `json:"last_processed,omitempty"`
}

// stateFile persists queue state as JSON. An empty path disables persistence.
type stateFile struct {
	path string
}

// load reads the state file. A missing file yields an empty state.
func (f *stateFile) load() (*queueState, error) {
	state := &queueState{}
	if f.path == "" {
		return state, nil
	}

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue file: %w", err)
	}

	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("failed to parse queue file: %w", err)
	}
	return state, nil
}

// save atomically replaces the state file
func (f *stateFile) save(state *queueState) error {
	if f.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode queue: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create queue directory: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write queue file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace queue file: %w", err)
	}
	return nil
}
