// Package order computes sibling sort keys for blocks and pages.
//
// Keys are integers spaced by Gap. A new key is placed at the midpoint of its
// neighbours; when two neighbours are adjacent integers the whole sibling list
// has to be renumbered.
package order

// Gap is the spacing between freshly numbered keys
const Gap int64 = 1000

// After returns the key for an item appended after last.
func After(last int64, hasLast bool) int64 {
	if !hasLast {
		return Gap
	}
	return last + Gap
}

// Place returns the key for an item inserted at index idx of keys, which must
// be sorted ascending and pairwise distinct. ok is false when no free key
// exists between the neighbours.
func Place(keys []int64, idx int) (key int64, ok bool) {
	switch {
	case len(keys) == 0:
		return Gap, true
	case idx <= 0:
		return keys[0] - Gap, true
	case idx >= len(keys):
		return keys[len(keys)-1] + Gap, true
	}

	prev, next := keys[idx-1], keys[idx]
	if next-prev < 2 {
		return 0, false
	}
	return prev + (next-prev)/2, true
}

// Renumber returns n fresh keys: Gap, 2*Gap, ...
func Renumber(n int) []int64 {
	keys := make([]int64, n)
	for i := range keys {
		keys[i] = int64(i+1) * Gap
	}
	return keys
}

// Insert returns ids with id inserted at idx
func Insert(ids []string, idx int, id string) []string {
	if idx < 0 {
		idx = 0
	}
	if idx > len(ids) {
		idx = len(ids)
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:idx]...)
	out = append(out, id)
	return append(out, ids[idx:]...)
}

// Remove returns ids without id
func Remove(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// IndexOf returns the position of id in ids, or -1
func IndexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
