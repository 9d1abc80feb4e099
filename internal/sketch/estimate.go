package sketch

import "math"

// Estimator primitives shared by the variants. Both estimation strategies
// (the harmonic mean used by hll and the maximum-likelihood solve used by
// ull, which seeds from the harmonic value) consume a *histogram* of
// register values rather than the registers themselves.
//
// Working from the histogram has two benefits. It mirrors how the register
// array actually carries information (only the multiplicity of each rank
// matters), and it makes the floating-point summation order independent of
// the storage representation: a sparse pair list and a dense array with
// identical logical registers produce the identical histogram and therefore
// the bit-identical estimate, which the round-trip and merge tests rely on.

// Alpha returns the bias correction constant alpha(m) for the harmonic
// mean estimator. The three small-m values are the exact constants from
// the original analysis; everything larger uses the closed-form
// approximation.
func Alpha(m uint32) float64 {
	switch m {
	case 16:
		return 0.673
	case 32:
		return 0.697
	case 64:
		return 0.709
	default:
		return 0.7213 / (1.0 + 1.079/float64(m))
	}
}

// RawHarmonic computes the uncorrected harmonic mean estimate
// alpha(m) * m^2 / sum(2^-r) from a register histogram.
//
// The sum runs over ranks in descending order, smallest terms first, so
// the accumulation order is fixed and the result is reproducible
// bit-for-bit for a given histogram. Ldexp keeps every 2^-r term exact.
func RawHarmonic(histo []int, m uint32) float64 {
	sum := 0.0
	for r := len(histo) - 1; r >= 0; r-- {
		if histo[r] != 0 {
			sum += float64(histo[r]) * math.Ldexp(1, -r)
		}
	}

	fm := float64(m)
	return Alpha(m) * fm * fm / sum
}

// HarmonicEstimate converts a register histogram into the bias-corrected
// cardinality estimate.
//
// Three regimes:
//
//   - Small range: when the raw estimate is at most 2.5m and zero-valued
//     registers remain, linear counting on the zero count is more accurate
//     than the harmonic mean and is used instead.
//   - Mid range: the raw harmonic mean estimate.
//   - Large range: near the top of the 64-bit hash space the estimate is
//     corrected for hash collisions. With 64-bit hashes this threshold is
//     unreachable in practice, but the correction keeps the estimator
//     well-defined over its whole documented domain.
func HarmonicEstimate(histo []int, m uint32) float64 {
	zeros := histo[0]
	if zeros == int(m) {
		return 0
	}

	fm := float64(m)
	raw := RawHarmonic(histo, m)

	if raw <= 2.5*fm && zeros > 0 {
		return fm * math.Log(fm/float64(zeros))
	}

	pow64 := math.Ldexp(1, 64)
	if raw > pow64/30 {
		ratio := raw / pow64
		if ratio >= 1 {
			return raw
		}
		return -pow64 * math.Log1p(-ratio)
	}

	return raw
}
