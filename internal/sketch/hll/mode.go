package hll

// Mode identifies the storage encoding of an adaptive sketch. The numeric
// values are the serialized mode tags and must never be renumbered.
//
// Mode is derived, not stored: it is a deterministic function of the
// current estimate relative to k = m. Because the estimate only grows as
// items are added, the mode is monotonically non-decreasing over a
// sketch's lifetime; only Clear resets it. Merge and deserialization can
// jump a sketch several modes forward at once, which costs nothing here
// precisely because nothing is cached.
type Mode uint8

const (
	// ModeEmpty means no item has been observed; serialization emits no
	// payload at all.
	ModeEmpty Mode = iota

	// ModeSparse covers estimates below 3k/32, where most registers are
	// still zero and a (index, rank) pair list is the cheapest encoding.
	ModeSparse

	// ModeHybrid covers 3k/32 up to k/2: transitional, materialized
	// densely in memory and serialized as a raw register array.
	ModeHybrid

	// ModePinned covers k/2 up to 3k/4: a fully dense, uncompressed
	// register array.
	ModePinned

	// ModeSliding covers 3k/4 and beyond: dense registers serialized
	// LZ4-compressed for maximum space efficiency.
	ModeSliding
)

// String returns the mode name used in protocol responses and diagnostics.
func (m Mode) String() string {
	switch m {
	case ModeEmpty:
		return "empty"
	case ModeSparse:
		return "sparse"
	case ModeHybrid:
		return "hybrid"
	case ModePinned:
		return "pinned"
	case ModeSliding:
		return "sliding"
	default:
		return "unknown"
	}
}

// Mode returns the sketch's current storage mode.
func (h *HLL) Mode() Mode {
	return modeForEstimate(h.Estimate(), h.m)
}

// modeForEstimate maps an estimate to its mode for a sketch of k = m
// registers. Thresholds: 0, 3k/32, k/2, 3k/4.
func modeForEstimate(estimate float64, m uint32) Mode {
	k := float64(m)
	switch {
	case estimate == 0:
		return ModeEmpty
	case estimate < 3*k/32:
		return ModeSparse
	case estimate < k/2:
		return ModeHybrid
	case estimate < 3*k/4:
		return ModePinned
	default:
		return ModeSliding
	}
}
