package main

import (
	"strings"
	"testing"

	"github.com/cardinalkit/cardinal/internal/sketch/hll"
	"github.com/cardinalkit/cardinal/internal/sketch/ull"
)

func TestIdentifySketch(t *testing.T) {
	t.Run("adaptive sketch", func(t *testing.T) {
		h, _ := hll.New(14)
		for _, item := range []string{"a", "b", "c"} {
			h.Update([]byte(item))
		}

		name, details := identifySketch(h.Serialize())
		if name != "HLL" {
			t.Errorf("type %q, want HLL", name)
		}
		if !strings.Contains(details, "p:14") || !strings.Contains(details, "mode:sparse") {
			t.Errorf("details %q missing precision or mode", details)
		}
	})

	t.Run("dense sketch", func(t *testing.T) {
		u, _ := ull.New(12)
		u.Update([]byte("x"))

		name, details := identifySketch(u.Serialize())
		if name != "ULL" {
			t.Errorf("type %q, want ULL", name)
		}
		if !strings.Contains(details, "p:12") {
			t.Errorf("details %q missing precision", details)
		}
	})

	t.Run("non-sketch value", func(t *testing.T) {
		name, _ := identifySketch([]byte("arbitrary bytes"))
		if name != "Raw" {
			t.Errorf("type %q, want Raw", name)
		}
	})

	t.Run("corrupt sketch reported not fatal", func(t *testing.T) {
		h, _ := hll.New(14)
		h.Update([]byte("a"))
		data := h.Serialize()
		data[5] = 200 // absurd precision

		name, _ := identifySketch(data)
		if name != "HLL-Corrupt" {
			t.Errorf("type %q, want HLL-Corrupt", name)
		}
	})
}
