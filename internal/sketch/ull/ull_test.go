package ull

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/cardinalkit/cardinal/internal/sketch"
	"github.com/cardinalkit/cardinal/internal/sketch/hll"
)

func fill(t *testing.T, precision uint8, prefix string, n int) *ULL {
	t.Helper()
	u, err := New(precision)
	if err != nil {
		t.Fatalf("New(%d): %v", precision, err)
	}
	for i := 0; i < n; i++ {
		u.Update([]byte(fmt.Sprintf("%s-%d", prefix, i)))
	}
	return u
}

func relativeError(estimate float64, actual int) float64 {
	return math.Abs(estimate-float64(actual)) / float64(actual)
}

func TestNew(t *testing.T) {
	t.Run("valid precisions", func(t *testing.T) {
		for p := uint8(MinPrecision); p <= MaxPrecision; p++ {
			u, err := New(p)
			if err != nil {
				t.Fatalf("New(%d): %v", p, err)
			}
			if u.Registers() != uint32(1)<<p {
				t.Errorf("p=%d: %d registers, want %d", p, u.Registers(), uint32(1)<<p)
			}
		}
	})

	t.Run("invalid precisions", func(t *testing.T) {
		for _, p := range []uint8{0, 3, 19, 255} {
			if _, err := New(p); !errors.Is(err, sketch.ErrInvalidPrecision) {
				t.Errorf("New(%d): got %v, want ErrInvalidPrecision", p, err)
			}
		}
	})
}

func TestEmptySketch(t *testing.T) {
	u, _ := New(14)
	if got := u.Estimate(); got != 0 {
		t.Errorf("empty sketch estimated %v, want exactly 0", got)
	}
}

func TestUpdate(t *testing.T) {
	t.Run("duplicates never change the sketch", func(t *testing.T) {
		u, _ := New(14)
		u.Update([]byte("x"))
		before := u.Estimate()

		for i := 0; i < 50; i++ {
			if u.Update([]byte("x")) {
				t.Fatal("repeated item changed a register")
			}
		}
		if u.Estimate() != before {
			t.Error("estimate moved on duplicates")
		}
		if u.Updates() != 51 {
			t.Errorf("update counter %d, want 51", u.Updates())
		}
	})

	t.Run("single item estimates about one", func(t *testing.T) {
		u, _ := New(14)
		u.Update([]byte("only"))
		if est := u.Estimate(); est < 0.5 || est > 2 {
			t.Errorf("one distinct item estimated %v", est)
		}
	})
}

func TestMaximumLikelihoodAccuracy(t *testing.T) {
	// The ML estimator's error at p=14 is well under 1%; 5% gives wide
	// deterministic headroom across the tested range.
	for _, n := range []int{100, 2000, 10000, 60000} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			u := fill(t, 14, "item", n)
			if err := relativeError(u.Estimate(), n); err > 0.05 {
				t.Errorf("estimate %v for %d items, relative error %.2f%%", u.Estimate(), n, err*100)
			}
		})
	}
}

func TestEstimateDeterministic(t *testing.T) {
	u := fill(t, 12, "item", 5000)
	if u.Estimate() != u.Estimate() {
		t.Error("repeated Estimate calls on unchanged registers differ")
	}
}

func TestMerge(t *testing.T) {
	t.Run("disjoint union", func(t *testing.T) {
		a := fill(t, 12, "left", 5000)
		b := fill(t, 12, "right", 5000)

		if err := a.Merge(b); err != nil {
			t.Fatalf("merge: %v", err)
		}
		if err := relativeError(a.Estimate(), 10000); err > 0.05 {
			t.Errorf("merged estimate %v for 10000 items, relative error %.2f%%", a.Estimate(), err*100)
		}
		if a.Updates() != 10000 {
			t.Errorf("merged update counter %d, want 10000", a.Updates())
		}
	})

	t.Run("precision mismatch leaves receiver unchanged", func(t *testing.T) {
		a := fill(t, 12, "a", 100)
		b := fill(t, 14, "b", 100)
		before := a.Estimate()

		if err := a.Merge(b); !errors.Is(err, sketch.ErrPrecisionMismatch) {
			t.Fatalf("got %v, want ErrPrecisionMismatch", err)
		}
		if a.Estimate() != before {
			t.Error("failed merge changed the receiver")
		}
	})

	t.Run("variant mismatch", func(t *testing.T) {
		a := fill(t, 12, "a", 100)
		h, _ := hll.New(12)
		if err := a.Merge(h); !errors.Is(err, sketch.ErrPrecisionMismatch) {
			t.Fatalf("got %v, want ErrPrecisionMismatch", err)
		}
	})

	t.Run("self merge is a no-op", func(t *testing.T) {
		a := fill(t, 12, "self", 500)
		before := a.Estimate()
		if err := a.Merge(a); err != nil {
			t.Fatal(err)
		}
		if a.Estimate() != before {
			t.Error("self merge changed the sketch")
		}
	})
}

func TestClear(t *testing.T) {
	u := fill(t, 12, "item", 5000)
	u.Clear()

	if got := u.Estimate(); got != 0 {
		t.Errorf("cleared sketch estimated %v", got)
	}
	if got := u.Updates(); got != 0 {
		t.Errorf("cleared sketch reports %d updates", got)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 100, 20000} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			orig := fill(t, 12, "rt", n)
			data := orig.Serialize()

			got, err := Deserialize(data)
			if err != nil {
				t.Fatalf("round trip failed: %v", err)
			}
			if got.Precision() != orig.Precision() || got.Updates() != orig.Updates() {
				t.Error("header fields not preserved")
			}
			if got.Estimate() != orig.Estimate() {
				t.Errorf("estimate %v, want bit-identical %v", got.Estimate(), orig.Estimate())
			}
			if again := got.Serialize(); !bytes.Equal(again, data) {
				t.Error("serialize(deserialize(x)) differs from x")
			}
		})
	}
}

func TestSerializedEnvelope(t *testing.T) {
	u := fill(t, 16, "env", 7)
	data := u.Serialize()

	if v, err := sketch.Sniff(data); err != nil || v != sketch.VariantULL {
		t.Fatalf("sniff: %v %v", v, err)
	}
	if data[5] != 16 {
		t.Errorf("precision byte %d, want 16", data[5])
	}
	if data[6] != 0 {
		t.Errorf("mode byte %d, want 0", data[6])
	}
	if got := binary.LittleEndian.Uint64(data[8:16]); got != 7 {
		t.Errorf("updates field %d, want 7", got)
	}
	if len(data) != sketch.HeaderSize+1<<16 {
		t.Errorf("payload %d bytes, want %d", len(data)-sketch.HeaderSize, 1<<16)
	}
}

func TestDeserializeRejectsMalformed(t *testing.T) {
	valid := fill(t, 12, "base", 100).Serialize()

	corrupt := func(mutate func([]byte)) []byte {
		c := append([]byte(nil), valid...)
		mutate(c)
		return c
	}

	cases := []struct {
		name string
		data []byte
		want error
	}{
		{"empty input", nil, sketch.ErrMalformedData},
		{"bad magic", corrupt(func(b []byte) { b[0] = 'Z' }), sketch.ErrMalformedData},
		{"unknown format tag", corrupt(func(b []byte) { b[4] = 42 }), sketch.ErrMalformedData},
		{"adaptive variant rejected here", func() []byte {
			h, _ := hll.New(12)
			return h.Serialize()
		}(), sketch.ErrMalformedData},
		{"precision too high", corrupt(func(b []byte) { b[5] = 19 }), sketch.ErrMalformedData},
		{"nonzero mode tag", corrupt(func(b []byte) { b[6] = 1 }), sketch.ErrMalformedData},
		{"truncated registers", valid[:len(valid)-10], sketch.ErrMalformedData},
		{"rank out of range", corrupt(func(b []byte) { b[sketch.HeaderSize] = 200 }), sketch.ErrMalformedData},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Deserialize(tc.data)
			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSaturatedRegistersFallBack(t *testing.T) {
	// All-saturated registers have no finite ML root; the estimator falls
	// back to the harmonic estimate, which must stay finite and positive.
	u, _ := New(4)
	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = u.maxRank
	}

	data := u.Serialize()
	copy(data[sketch.HeaderSize:], payload)

	got, err := Deserialize(data)
	if err != nil {
		t.Fatalf("saturated payload rejected: %v", err)
	}
	est := got.Estimate()
	if math.IsNaN(est) || math.IsInf(est, 0) || est <= 0 {
		t.Errorf("saturated estimate %v, want finite positive", est)
	}
}
