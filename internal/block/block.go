// Package block owns the block tree of every page: block entities, their
// parent/child structure and sibling order, and the manager that mutates
// them and schedules persistence.
package block

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/vonshlovens/blockvault/internal/crdt"
)

var (
	// ErrNotFound is returned for unknown block ids
	ErrNotFound = errors.New("block not found")

	// ErrCycle is returned when a move would make a block its own ancestor
	ErrCycle = errors.New("block cannot be its own ancestor")

	// ErrLastBlock is returned when an operation would leave a page without blocks
	ErrLastBlock = errors.New("page must keep at least one block")

	// ErrInvalidPatch is returned for patches that do not fit the block type
	ErrInvalidPatch = errors.New("invalid block patch")

	// ErrInvalidProperties is returned when properties do not match the block type
	ErrInvalidProperties = errors.New("invalid block properties")

	// ErrInvalidMove is returned for moves with unknown or inconsistent targets
	ErrInvalidMove = errors.New("invalid block move")

	// ErrInvalidParent is returned when the parent cannot hold the block
	ErrInvalidParent = errors.New("invalid parent block")
)

// Block is a single content unit. ParentID is empty for root blocks.
type Block struct {
	ID               string
	Type             Type
	Properties       Properties
	Children         []string
	ParentID         string
	PageID           string
	Order            int64
	Content          crdt.Document
	StorageContentID string
	CreatedAt        time.Time
	ModifiedAt       time.Time
	CreatedBy        string
	ModifiedBy       string
}

// Text returns the block's plain text
func (b *Block) Text() string {
	return PlainText(b.Properties)
}

func (b *Block) clone() *Block {
	c := *b
	c.Children = append([]string(nil), b.Children...)
	return &c
}

// Record is the serialized form of a block
type Record struct {
	ID               string          `json:"id"`
	Type             Type            `json:"type"`
	Properties       json.RawMessage `json:"properties"`
	Children         []string        `json:"children"`
	ParentID         string          `json:"parentId,omitempty"`
	PageID           string          `json:"pageId"`
	Order            int64           `json:"order"`
	CRDTUpdate       []byte          `json:"crdtUpdateBytes,omitempty"`
	StorageContentID string          `json:"storageContentId,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	ModifiedAt       time.Time       `json:"modifiedAt"`
	CreatedBy        string          `json:"createdBy,omitempty"`
	ModifiedBy       string          `json:"modifiedBy,omitempty"`
}

// ToRecord serializes b
func ToRecord(b *Block) (Record, error) {
	props, err := MarshalProperties(b.Properties)
	if err != nil {
		return Record{}, err
	}

	r := Record{
		ID:               b.ID,
		Type:             b.Type,
		Properties:       props,
		Children:         append([]string{}, b.Children...),
		ParentID:         b.ParentID,
		PageID:           b.PageID,
		Order:            b.Order,
		StorageContentID: b.StorageContentID,
		CreatedAt:        b.CreatedAt,
		ModifiedAt:       b.ModifiedAt,
		CreatedBy:        b.CreatedBy,
		ModifiedBy:       b.ModifiedBy,
	}
	if b.Content != nil {
		r.CRDTUpdate = b.Content.EncodeStateAsUpdate()
	}
	return r, nil
}

// FromRecord deserializes r. A collaborative document is created with
// newDoc when the block type carries text.
func FromRecord(r Record, newDoc crdt.Factory) (*Block, error) {
	if !r.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown block type %q", ErrInvalidProperties, r.Type)
	}
	props, err := UnmarshalProperties(r.Type, r.Properties)
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", r.ID, err)
	}

	b := &Block{
		ID:               r.ID,
		Type:             r.Type,
		Properties:       props,
		Children:         append([]string(nil), r.Children...),
		ParentID:         r.ParentID,
		PageID:           r.PageID,
		Order:            r.Order,
		StorageContentID: r.StorageContentID,
		CreatedAt:        r.CreatedAt,
		ModifiedAt:       r.ModifiedAt,
		CreatedBy:        r.CreatedBy,
		ModifiedBy:       r.ModifiedBy,
	}

	if r.Type.TextBearing() && newDoc != nil {
		doc := newDoc()
		if err := doc.ApplyUpdate(r.CRDTUpdate); err != nil {
			return nil, fmt.Errorf("block %s: %w", r.ID, err)
		}
		b.Content = doc
	}
	return b, nil
}

var recordEncMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("block: cbor encoding mode: %v", err))
	}
	return em
}()

// EncodeRecords encodes a page's block records as CBOR
func EncodeRecords(records []Record) ([]byte, error) {
	data, err := recordEncMode.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to encode block records: %w", err)
	}
	return data, nil
}

// DecodeRecords decodes records produced by EncodeRecords
func DecodeRecords(data []byte) ([]Record, error) {
	var records []Record
	if len(data) == 0 {
		return nil, nil
	}
	if err := cbor.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode block records: %w", err)
	}
	return records, nil
}
