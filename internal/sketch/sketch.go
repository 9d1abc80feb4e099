// Package sketch defines the shared contracts of the cardinality estimation
// engine: the Sketch interface implemented by every variant, the error
// taxonomy, the hash splitter, and the serialized envelope shared by all
// variants.
//
// The engine estimates the number of distinct items in a stream using a
// fixed array of m = 2^p "registers". Each item is hashed; the top p bits
// of the hash select a register (the "bucket") and the remaining bits
// produce a "rank" (1 + leading zeros). Each register stores the maximum
// rank ever observed for its bucket, so register values only grow and
// repeated updates with the same item are harmless. The register array is
// a pure function of the *set* of items seen, which is what makes sketches
// mergeable: taking the register-wise maximum of two sketches yields the
// sketch of the union of their streams.
//
// Two variants implement this contract:
//
//   - hll: the adaptive variant (precision 4-16). Storage migrates through
//     five modes (Empty, Sparse, Hybrid, Pinned, Sliding) as occupancy
//     grows, and the estimator is the classic bias-corrected harmonic mean.
//   - ull: the higher-resolution variant (precision 4-18). Storage is a
//     plain dense array and the estimator is a maximum-likelihood solve,
//     which gives tighter error bounds for the same register count.
//
// Concurrency: a sketch instance is single-writer. No engine type locks;
// callers that share an instance across goroutines must serialize access
// themselves (the server's store does exactly that).
package sketch

// Variant identifies a sketch implementation. It doubles as the format tag
// in the serialized envelope, so the values are part of the wire format and
// must never be renumbered.
type Variant uint8

const (
	// VariantHLL is the adaptive harmonic-mean variant.
	VariantHLL Variant = 1

	// VariantULL is the dense maximum-likelihood variant.
	VariantULL Variant = 2
)

// String returns the short lowercase name used in protocol responses and
// diagnostics.
func (v Variant) String() string {
	switch v {
	case VariantHLL:
		return "hll"
	case VariantULL:
		return "ull"
	default:
		return "unknown"
	}
}

// Sketch is the contract shared by every cardinality sketch variant.
//
// All operations are synchronous and bounded: Update is O(1), Estimate and
// Merge are O(m). None of them block or suspend, so there is no context
// parameter anywhere in the engine.
type Sketch interface {
	// Update observes one item. Any byte slice, including empty, is a
	// valid item. It returns true if a register advanced, which callers
	// use to skip redundant persistence; the estimate is unchanged when
	// it returns false.
	Update(item []byte) bool

	// Estimate returns the estimated number of distinct items observed.
	// It is a pure function of the register array: an empty sketch
	// estimates exactly 0, and two sketches with bit-identical registers
	// produce bit-identical estimates.
	Estimate() float64

	// Merge folds other into the receiver so that the receiver estimates
	// the union of both streams. The argument is never mutated. Merging
	// sketches of different precisions or variants fails with
	// ErrPrecisionMismatch and leaves the receiver unchanged.
	Merge(other Sketch) error

	// Clear resets every register to zero. This is the only way a
	// register value ever decreases.
	Clear()

	// Precision returns the precision parameter p (m = 2^p).
	Precision() uint8

	// Updates returns the total number of Update calls observed. It is
	// informational only and never participates in estimation.
	Updates() uint64

	// Serialize encodes the sketch into the versioned binary envelope.
	// A constructed sketch is always serializable.
	Serialize() []byte
}

// Serialized envelope, shared by all variants.
//
// Every serialized sketch starts with a fixed 16-byte header followed by a
// variant- and mode-specific payload:
//
//	+------+-----+---+------+----------+---------------------+
//	| CDSK | Fmt | P | Mode | Reserved | Updates (uint64 LE) |
//	+------+-----+---+------+----------+---------------------+
//	 0..3    4     5    6       7        8..15
//
// Fmt is the Variant value and selects the payload grammar. Mode is the
// adaptive variant's storage mode tag (always 0 for ull). Unknown format
// or mode tags fail deserialization; there is no best-effort decoding.
const (
	// Magic identifies a serialized cardinal sketch.
	Magic = "CDSK"

	// HeaderSize is the fixed size of the envelope header in bytes.
	HeaderSize = 16
)

// HasValidMagic reports whether data starts with the sketch magic bytes
// without allocating. Callers use it as a cheap type check before
// attempting a full decode.
func HasValidMagic(data []byte) bool {
	return len(data) >= 4 &&
		data[0] == Magic[0] && data[1] == Magic[1] &&
		data[2] == Magic[2] && data[3] == Magic[3]
}

// Sniff returns the variant recorded in a serialized sketch without
// decoding the payload. It validates only the magic and the format tag;
// the full header and payload are validated by the variant's Deserialize.
func Sniff(data []byte) (Variant, error) {
	if !HasValidMagic(data) {
		return 0, wrapMalformed("missing sketch magic")
	}
	if len(data) < HeaderSize {
		return 0, wrapMalformed("data shorter than envelope header")
	}
	v := Variant(data[4])
	switch v {
	case VariantHLL, VariantULL:
		return v, nil
	default:
		return 0, wrapMalformed("unknown format tag")
	}
}
