package crdt

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/automerge/automerge-go"
)

// chunkMagic prefixes every encoded automerge document or change
var chunkMagic = []byte{0x85, 0x6f, 0x4a, 0x83}

// TextDoc is a multi-field collaborative text document. Each field is an
// automerge text object at the root of the document.
type TextDoc struct {
	mu  sync.Mutex
	doc *automerge.Doc
}

// NewTextDoc creates an empty document with a fresh actor id
func NewTextDoc() *TextDoc {
	return &TextDoc{doc: automerge.New()}
}

// Actor returns the actor id used for local edits
func (d *TextDoc) Actor() string {
	return d.doc.ActorID()
}

func (d *TextDoc) text(field string) *automerge.Text {
	return d.doc.Path(field).Text()
}

// GetText returns the text of field, or "" when it was never written
func (d *TextDoc) GetText(field string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.text(field).Get()
	if err != nil {
		return ""
	}
	return s
}

// Insert inserts text at the rune index and returns the update
func (d *TextDoc) Insert(field string, index int, text string) ([]byte, error) {
	if text == "" {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	t := d.text(field)
	index = max(0, min(index, t.Len()))
	return d.edit(func() error {
		return t.Insert(index, text)
	})
}

// Delete removes length runes starting at index and returns the update
func (d *TextDoc) Delete(field string, index, length int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t := d.text(field)
	if index < 0 {
		length += index
		index = 0
	}
	length = min(length, t.Len()-index)
	if length <= 0 {
		return nil, nil
	}
	return d.edit(func() error {
		return t.Delete(index, length)
	})
}

// SetText replaces the whole text of field and returns the update
func (d *TextDoc) SetText(field, text string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t := d.text(field)
	current, err := t.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to read field %s: %w", field, err)
	}
	if current == text {
		return nil, nil
	}
	return d.edit(func() error {
		return t.Set(text)
	})
}

// edit runs fn, commits it and returns the resulting changes.
// Must be called with d.mu held.
func (d *TextDoc) edit(fn func() error) ([]byte, error) {
	before := d.doc.Heads()
	if err := fn(); err != nil {
		return nil, err
	}
	if _, err := d.doc.Commit(""); err != nil {
		return nil, fmt.Errorf("failed to commit edit: %w", err)
	}
	changes, err := d.doc.Changes(before...)
	if err != nil {
		return nil, fmt.Errorf("failed to collect changes: %w", err)
	}
	return automerge.SaveChanges(changes), nil
}

// ApplyUpdate applies a remote or persisted update, either a full state or
// a set of changes. Applying the same update twice has no effect; changes
// whose dependencies are missing wait for them.
func (d *TextDoc) ApplyUpdate(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if !bytes.HasPrefix(data, chunkMagic) {
		return fmt.Errorf("%w: missing chunk header", ErrMalformedUpdate)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.doc.LoadIncremental(data); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	return nil
}

// EncodeStateAsUpdate encodes the full document, history included
func (d *TextDoc) EncodeStateAsUpdate() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.doc.Save()
}
