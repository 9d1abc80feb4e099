package sketch

import (
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

// SplitHash maps an item to its (bucket, rank) pair for precision p.
//
// The item is hashed to 64 bits with xxHash. The top p bits select the
// bucket; the remaining 64-p bits determine the rank, defined as one plus
// the number of leading zeros among them.
//
// A guard bit is planted at position p-1 before counting so the count can
// never run past the usable bits: the rank therefore saturates at
// MaxRank(p) = 64 - p + 1 instead of overflowing. Determinism matters more
// than the particular hash here; the same item must map to the same pair
// forever, because merges and serialized fixtures depend on it.
func SplitHash(item []byte, p uint8) (bucket uint32, rank uint8) {
	h := xxhash.Sum64(item)

	bucket = uint32(h >> (64 - p))

	// Shift out the bucket bits and plant the guard bit. After the shift
	// the low p bits are zero, so the guard at position p-1 caps the
	// leading-zero count at exactly 64-p.
	w := h<<p | 1<<(p-1)
	rank = uint8(bits.LeadingZeros64(w)) + 1

	return bucket, rank
}

// MaxRank returns the largest rank SplitHash can produce for precision p.
// Register values above it in serialized input indicate corruption.
func MaxRank(p uint8) uint8 {
	return 64 - p + 1
}
