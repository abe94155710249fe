// Package note defines the serialized note exchanged between the local
// store, the remote content store and the version history.
package note

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChangeType classifies a version entry
type ChangeType string

const (
	ChangeCreate    ChangeType = "create"
	ChangeMinorEdit ChangeType = "minor-edit"
	ChangeMajorEdit ChangeType = "major-edit"
	ChangeRestore   ChangeType = "restore"
)

// VersionEntry is an immutable reference to one stored snapshot
type VersionEntry struct {
	Version           int        `json:"version"`
	Timestamp         time.Time  `json:"timestamp"`
	ContentID         string     `json:"contentId"`
	ChangeDescription string     `json:"changeDescription,omitempty"`
	LinesAdded        int        `json:"linesAdded"`
	LinesRemoved      int        `json:"linesRemoved"`
	ChangeType        ChangeType `json:"changeType"`
	Tags              []string   `json:"tags,omitempty"`
}

// Metadata is the bookkeeping of a serialized note
type Metadata struct {
	Created          time.Time `json:"created"`
	Modified         time.Time `json:"modified"`
	Version          int       `json:"version"`
	StorageContentID string    `json:"storageContentId,omitempty"`
	ShareLinks       []string  `json:"shareLinks"`
}

// Note is the persisted and exchanged form of a note or page. For pages,
// CRDTUpdate holds the encoded block records.
type Note struct {
	NoteID         string         `json:"noteId"`
	CRDTUpdate     []byte         `json:"crdtUpdateBytes"`
	Metadata       Metadata       `json:"metadata"`
	VersionHistory []VersionEntry `json:"versionHistory"`
}

// Marshal encodes n as JSON
func Marshal(n *Note) ([]byte, error) {
	out := *n
	if out.Metadata.ShareLinks == nil {
		out.Metadata.ShareLinks = []string{}
	}
	if out.VersionHistory == nil {
		out.VersionHistory = []VersionEntry{}
	}
	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal note %s: %w", n.NoteID, err)
	}
	return data, nil
}

// Unmarshal decodes a note produced by Marshal
func Unmarshal(data []byte) (*Note, error) {
	var n Note
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to parse note: %w", err)
	}
	if n.NoteID == "" {
		return nil, fmt.Errorf("failed to parse note: missing noteId")
	}
	return &n, nil
}
