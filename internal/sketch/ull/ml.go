// ml.go holds the maximum-likelihood estimator.
//
// Model: under a Poisson approximation with intensity n, each register
// receives items at rate x = n/m, and the probability that a register's
// value is at most k is exp(-x * 2^-k) for k in [0, q], where q = 64-p is
// the largest non-saturated rank. Saturated registers (rank q+1) absorb
// the remaining mass. Differentiating the log-likelihood of the observed
// rank histogram C by x gives
//
//	f(x) = sum_{k=1..q} C_k * 2^-k / expm1(x * 2^-k)
//	     + C_{q+1} * 2^-q / expm1(x * 2^-q)
//	     - (C_0 + sum_{k=1..q} C_k * 2^-k)
//
// which is strictly decreasing in x, so the likelihood has a unique
// maximum at the root of f. The estimate is m times that root.
package ull

import (
	"math"

	"github.com/cardinalkit/cardinal/internal/sketch"
)

const (
	mlMaxIterations = 64
	mlRelativeTol   = 1e-12
)

// mlEstimate solves f(x) = 0 by bracket expansion and bisection, seeded
// from the harmonic-mean estimate. Two histograms need no solve at all:
// all-zero registers mean an empty sketch, and all-saturated registers
// leave f with no finite root, so the harmonic estimate with its
// large-range correction stands in.
func (u *ULL) mlEstimate(histo []int) float64 {
	q := len(histo) - 2 // ranks run 0..q+1

	if histo[0] == int(u.m) {
		return 0
	}
	if histo[q+1] == int(u.m) {
		return sketch.HarmonicEstimate(histo, u.m)
	}

	// Constant part of f: every observed rank k <= q contributes a fixed
	// -C_k * 2^-k, and rank-0 registers contribute -C_0.
	base := float64(histo[0])
	for k := 1; k <= q; k++ {
		if histo[k] != 0 {
			base += float64(histo[k]) * math.Ldexp(1, -k)
		}
	}

	f := func(x float64) float64 {
		s := -base
		for k := 1; k <= q; k++ {
			if histo[k] != 0 {
				w := math.Ldexp(1, -k)
				s += float64(histo[k]) * w / math.Expm1(x*w)
			}
		}
		if histo[q+1] != 0 {
			w := math.Ldexp(1, -q)
			s += float64(histo[q+1]) * w / math.Expm1(x*w)
		}
		return s
	}

	// Seed from the harmonic estimate; it lands near the root for any
	// realistic register state, so the bracket rarely expands more than
	// a step or two.
	x := sketch.HarmonicEstimate(histo, u.m) / float64(u.m)
	if x <= 0 || math.IsInf(x, 0) || math.IsNaN(x) {
		x = 1
	}

	var lo, hi float64
	if f(x) > 0 {
		// Root is above the seed: f is decreasing, so walk up.
		lo = x
		hi = 2 * x
		for f(hi) > 0 {
			lo = hi
			hi *= 2
		}
	} else {
		hi = x
		lo = x / 2
		for f(lo) <= 0 {
			hi = lo
			lo /= 2
		}
	}

	for i := 0; i < mlMaxIterations && hi-lo > mlRelativeTol*lo; i++ {
		mid := (lo + hi) / 2
		if f(mid) > 0 {
			lo = mid
		} else {
			hi = mid
		}
	}

	return float64(u.m) * (lo + hi) / 2
}
