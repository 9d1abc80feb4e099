// Package hll implements the adaptive cardinality sketch variant.
//
// An HLL owns m = 2^p registers (precision p between 4 and 16) and
// estimates cardinality with the bias-corrected harmonic mean of the
// register values. What makes the variant "adaptive" is its storage: the
// register array is materialized differently depending on how full the
// sketch is, so that a sketch tracking a handful of items costs a few
// dozen bytes instead of the full 2^p.
//
// Storage Modes
// =============
//
// The sketch moves through five modes as its estimate grows relative to
// k = m (see mode.go for the exact thresholds):
//
//	Empty    nothing observed; no payload at all.
//	Sparse   only the non-zero registers exist, as a sorted (index, rank)
//	         pair list with binary-search insertion.
//	Hybrid   transitional; the registers are materialized densely but the
//	         population is still low.
//	Pinned   dense, uncompressed register array.
//	Sliding  dense array, serialized LZ4-compressed for maximum space
//	         efficiency.
//
// The mode is a pure function of the current estimate, never stored state,
// so it is trivially monotonic as items arrive and trivially consistent
// after merge or deserialization. Estimate and Merge behave identically in
// every mode; the mode only decides which encoding Serialize emits.
//
// In memory there are just two representations: the sparse pair list and
// the dense byte array. The list is converted to the array exactly once,
// when the estimate crosses the Sparse/Hybrid boundary, and never back.
// Both feed estimation through the same register histogram, so the
// estimate is independent of which one is live.
package hll

import (
	"github.com/cardinalkit/cardinal/internal/sketch"
)

const (
	// MinPrecision and MaxPrecision bound the precision parameter. The
	// upper bound keeps sparse register indices within uint16, which the
	// pair list and the serialized sparse payload rely on.
	MinPrecision = 4
	MaxPrecision = 16

	// DefaultPrecision gives 16,384 registers and a standard error of
	// about 0.81%, the usual accuracy/memory sweet spot.
	DefaultPrecision = 14
)

// HLL is an adaptive cardinality sketch. The zero value is not usable;
// construct with New or Deserialize.
//
// An HLL is single-writer: no method is safe for concurrent use with a
// mutating method on the same instance.
type HLL struct {
	precision uint8
	m         uint32
	maxRank   uint8
	updates   uint64

	// Exactly one of the two representations is live. sparse is the
	// sorted non-zero pair list used until the estimate crosses the
	// Sparse/Hybrid boundary; dense is the full register array used from
	// then on.
	sparse []sparseRegister
	dense  []byte
}

// New creates an empty sketch with the given precision.
func New(precision uint8) (*HLL, error) {
	if precision < MinPrecision || precision > MaxPrecision {
		return nil, sketch.ErrInvalidPrecision
	}

	return &HLL{
		precision: precision,
		m:         1 << precision,
		maxRank:   sketch.MaxRank(precision),
		// A small initial capacity avoids reallocations for the first
		// few distinct items.
		sparse: make([]sparseRegister, 0, 8),
	}, nil
}

// Precision returns the precision parameter p.
func (h *HLL) Precision() uint8 { return h.precision }

// Registers returns the number of registers m = 2^p.
func (h *HLL) Registers() uint32 { return h.m }

// Updates returns the total number of Update calls observed.
func (h *HLL) Updates() uint64 { return h.updates }

// Update observes one item and reports whether a register advanced.
//
// The item's hash selects a bucket and a rank; the bucket's register is
// raised to the rank if (and only if) the rank exceeds the stored value.
// Repeating an item therefore never changes the sketch after its first
// observation.
func (h *HLL) Update(item []byte) bool {
	bucket, rank := sketch.SplitHash(item, h.precision)
	h.updates++

	if h.dense != nil {
		return h.denseUpdate(bucket, rank)
	}

	changed := h.sparseUpdate(uint16(bucket), rank)
	if changed {
		h.maybePromote()
	}
	return changed
}

// Estimate returns the estimated number of distinct items observed. It is
// a pure function of the registers: identical registers give bit-identical
// estimates regardless of storage representation or mode.
func (h *HLL) Estimate() float64 {
	return sketch.HarmonicEstimate(h.histogram(), h.m)
}

// Merge folds other into the receiver, register by register, so the
// receiver afterwards estimates the union of both streams.
//
// The argument is never mutated and may be merged into any number of
// receivers. Incompatible sketches (different precision, or a different
// variant) fail with ErrPrecisionMismatch before the receiver is touched,
// so a failed merge leaves it exactly as it was. Merging a sketch into
// itself is a no-op.
func (h *HLL) Merge(other sketch.Sketch) error {
	o, ok := other.(*HLL)
	if !ok {
		return sketch.WrapVariantMismatch(other)
	}
	if h.precision != o.precision {
		return sketch.PrecisionError(h.precision, o.precision)
	}
	if o == h {
		return nil
	}

	// If the other side is already dense the union will be at least as
	// populated, so skip straight to the dense representation rather
	// than funneling 2^p inserts through the sorted list.
	if o.dense != nil && h.dense == nil {
		h.convertToDense()
	}

	if o.dense != nil {
		for i, rank := range o.dense {
			if rank > h.dense[i] {
				h.dense[i] = rank
			}
		}
	} else {
		for _, pair := range o.sparse {
			h.absorb(pair.index, pair.rank)
		}
	}

	h.updates += o.updates
	h.maybePromote()
	return nil
}

// absorb applies a single (index, rank) observation to whichever
// representation is live, without counting it as an update.
func (h *HLL) absorb(index uint16, rank uint8) {
	if h.dense != nil {
		if rank > h.dense[index] {
			h.dense[index] = rank
		}
		return
	}
	h.sparseUpdate(index, rank)
}

// Clear resets every register to zero, returning the sketch to the Empty
// mode. This is the only operation that ever lowers a register.
func (h *HLL) Clear() {
	h.sparse = make([]sparseRegister, 0, 8)
	h.dense = nil
	h.updates = 0
}

// histogram counts how many registers hold each rank. Index 0 counts the
// untouched registers. Both estimation and serialization size decisions
// run off this view, which is identical for both storage representations.
func (h *HLL) histogram() []int {
	histo := make([]int, int(h.maxRank)+1)

	if h.dense != nil {
		for _, rank := range h.dense {
			histo[rank]++
		}
		return histo
	}

	for _, pair := range h.sparse {
		histo[pair.rank]++
	}
	histo[0] = int(h.m) - len(h.sparse)
	return histo
}

// denseUpdate raises the register for bucket if rank exceeds it.
func (h *HLL) denseUpdate(bucket uint32, rank uint8) bool {
	if rank > h.dense[bucket] {
		h.dense[bucket] = rank
		return true
	}
	return false
}
