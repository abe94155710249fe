// Package crdt binds collaborative text documents to blocks.
//
// The rest of the module depends only on the Document contract: updates are
// opaque byte slices that can be applied in any order and any number of times,
// and every replica that has applied the same set of updates returns the same
// text. TextDoc is the default binding, an automerge document with one text
// object per field.
package crdt

import (
	"errors"
)

// ContentField is the field holding a block's rich text
const ContentField = "content"

// ErrMalformedUpdate is returned by ApplyUpdate for undecodable input
var ErrMalformedUpdate = errors.New("malformed crdt update")

// Document is the update-stream contract of a collaborative document
type Document interface {
	ApplyUpdate(update []byte) error
	EncodeStateAsUpdate() []byte
	GetText(field string) string
}

// Factory creates empty documents
type Factory func() Document

// NewFactory returns a Factory creating TextDocs. Every document gets its
// own random actor id, so two instances never mint the same operation ids.
func NewFactory() Factory {
	return func() Document {
		return NewTextDoc()
	}
}

// Merge returns a single update equivalent to applying all updates in order
func Merge(updates ...[]byte) ([]byte, error) {
	doc := NewTextDoc()
	for _, u := range updates {
		if err := doc.ApplyUpdate(u); err != nil {
			return nil, err
		}
	}
	return doc.EncodeStateAsUpdate(), nil
}

// TextOf decodes a full-state update and returns the text of field
func TextOf(update []byte, field string) (string, error) {
	doc := NewTextDoc()
	if err := doc.ApplyUpdate(update); err != nil {
		return "", err
	}
	return doc.GetText(field), nil
}
