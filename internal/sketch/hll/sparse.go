package hll

import "sort"

// sparseRegister is one non-zero register in the sparse representation:
// a register index (uint16, hence the precision cap at 16) and its rank.
type sparseRegister struct {
	index uint16
	rank  uint8
}

// sparseUpdate applies max(register, rank) to the sorted pair list and
// reports whether the list changed.
//
// The list is kept sorted by index so lookups are a binary search and the
// serialized sparse payload comes out canonical (ascending indices) with
// no extra work at serialization time.
func (h *HLL) sparseUpdate(index uint16, rank uint8) bool {
	i := sort.Search(len(h.sparse), func(i int) bool {
		return h.sparse[i].index >= index
	})

	if i < len(h.sparse) && h.sparse[i].index == index {
		if rank > h.sparse[i].rank {
			h.sparse[i].rank = rank
			return true
		}
		return false
	}

	// Insert at position i: grow by one, shift the tail right with copy
	// (which lowers to memmove), then place the new pair. Avoids the
	// temporary slice a variadic append would allocate.
	h.sparse = append(h.sparse, sparseRegister{})
	copy(h.sparse[i+1:], h.sparse[i:])
	h.sparse[i] = sparseRegister{index: index, rank: rank}
	return true
}

// convertToDense materializes the full register array from the pair list
// and drops the list. One-way: the sketch never returns to the sparse
// representation short of Clear.
func (h *HLL) convertToDense() {
	dense := make([]byte, h.m)
	for _, pair := range h.sparse {
		dense[pair.index] = pair.rank
	}
	h.dense = dense
	h.sparse = nil
}

// maybePromote converts to the dense representation once the estimate
// crosses the Sparse/Hybrid boundary. Called after any mutation that can
// raise the estimate (a changed update, a merge, a deserialize), which
// keeps the storage representation consistent with the reported mode.
func (h *HLL) maybePromote() {
	if h.dense != nil {
		return
	}
	if modeForEstimate(h.Estimate(), h.m) > ModeSparse {
		h.convertToDense()
	}
}
