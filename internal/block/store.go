package block

import (
	"github.com/vonshlovens/blockvault/internal/order"
)

// store indexes blocks by id and keeps every sibling list ordered. It is
// mutated only by Manager, under Manager's lock.
type store struct {
	blocks map[string]*Block
	roots  map[string][]string
}

func newStore() *store {
	return &store{
		blocks: make(map[string]*Block),
		roots:  make(map[string][]string),
	}
}

func (s *store) get(id string) (*Block, bool) {
	b, ok := s.blocks[id]
	return b, ok
}

// siblings returns the ordered ids under parentID, or the page roots when
// parentID is empty
func (s *store) siblings(pageID, parentID string) []string {
	if parentID == "" {
		return s.roots[pageID]
	}
	if p, ok := s.blocks[parentID]; ok {
		return p.Children
	}
	return nil
}

func (s *store) setSiblings(pageID, parentID string, ids []string) {
	if parentID == "" {
		if len(ids) == 0 {
			delete(s.roots, pageID)
			return
		}
		s.roots[pageID] = ids
		return
	}
	if p, ok := s.blocks[parentID]; ok {
		p.Children = ids
	}
}

// insertAt links b into the sibling list of its ParentID at idx and assigns
// its order key, renumbering the whole list when the gap is exhausted.
// It reports whether a renumbering happened.
func (s *store) insertAt(b *Block, idx int) bool {
	ids := s.siblings(b.PageID, b.ParentID)

	keys := make([]int64, len(ids))
	for i, id := range ids {
		keys[i] = s.blocks[id].Order
	}

	ids = order.Insert(ids, idx, b.ID)
	s.setSiblings(b.PageID, b.ParentID, ids)

	if key, ok := order.Place(keys, idx); ok {
		b.Order = key
		return false
	}

	for i, key := range order.Renumber(len(ids)) {
		s.blocks[ids[i]].Order = key
	}
	return true
}

// detach unlinks b from its sibling list
func (s *store) detach(b *Block) {
	ids := s.siblings(b.PageID, b.ParentID)
	s.setSiblings(b.PageID, b.ParentID, order.Remove(ids, b.ID))
}

// isAncestor reports whether ancestorID is id or one of its ancestors
func (s *store) isAncestor(ancestorID, id string) bool {
	seen := make(map[string]bool)
	for cur := id; cur != ""; {
		if cur == ancestorID {
			return true
		}
		if seen[cur] {
			return true
		}
		seen[cur] = true
		b, ok := s.blocks[cur]
		if !ok {
			return false
		}
		cur = b.ParentID
	}
	return false
}

// subtree returns id and all its descendants, depth first
func (s *store) subtree(id string) []string {
	var out []string
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, cur)

		b, ok := s.blocks[cur]
		if !ok {
			continue
		}
		for i := len(b.Children) - 1; i >= 0; i-- {
			stack = append(stack, b.Children[i])
		}
	}
	return out
}

// pageBlocks returns every block id of the page, depth first in order
func (s *store) pageBlocks(pageID string) []string {
	var out []string
	for _, root := range s.roots[pageID] {
		out = append(out, s.subtree(root)...)
	}
	return out
}
