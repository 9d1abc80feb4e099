package sketch

import (
	"errors"
	"fmt"
)

// The engine's error taxonomy. Every failure is a programming or
// data-integrity error, never a transient condition, so nothing is retried
// or recovered internally; errors surface to the caller at the point of the
// offending call.
//
// Callers match with errors.Is; the helpers below attach context while
// keeping the sentinel in the chain.
var (
	// ErrInvalidPrecision is returned by constructors when the precision
	// parameter is outside the variant's supported range.
	ErrInvalidPrecision = errors.New("precision out of range")

	// ErrPrecisionMismatch is returned by Merge when the two sketches do
	// not share the same precision and variant. The receiver is left
	// unchanged.
	ErrPrecisionMismatch = errors.New("precision mismatch")

	// ErrMalformedData is returned by Deserialize for corrupt, truncated
	// or unknown-format input.
	ErrMalformedData = errors.New("malformed sketch data")

	// ErrAllocation is returned when a register buffer sized from
	// untrusted input would exceed the engine's sanity bound. Go aborts
	// the process on genuine allocation failure, so in practice this
	// guards deserialization against absurd declared sizes.
	ErrAllocation = errors.New("register allocation refused")

	// ErrReleased is returned by the handle layer for operations on a
	// released or unknown handle.
	ErrReleased = errors.New("sketch handle released")
)

func wrapMalformed(detail string) error {
	return fmt.Errorf("%w: %s", ErrMalformedData, detail)
}

// WrapMalformed attaches detail to ErrMalformedData. It is exported for the
// variant packages, which share the envelope validation error text style.
func WrapMalformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedData, fmt.Sprintf(format, args...))
}

// PrecisionError reports an attempted merge between precision a and b.
func PrecisionError(a, b uint8) error {
	return fmt.Errorf("%w: %d vs %d", ErrPrecisionMismatch, a, b)
}

// WrapVariantMismatch reports an attempted merge across sketch variants.
// Cross-variant merges are incompatibilities of the same kind as differing
// precisions, so they share the ErrPrecisionMismatch sentinel.
func WrapVariantMismatch(other Sketch) error {
	return fmt.Errorf("%w: incompatible variant %T", ErrPrecisionMismatch, other)
}
