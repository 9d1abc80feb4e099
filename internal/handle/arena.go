// Package handle provides opaque numeric handles over live sketches.
//
// Embedders that cannot hold Go pointers (snapshot replay, FFI-shaped
// integrations, tests that model a foreign caller) allocate sketches in an
// Arena and refer to them by uint64 handle. Handles are never reused within
// an Arena's lifetime, so a stale handle fails loudly instead of silently
// aliasing a newer sketch.
package handle

import (
	"sync"

	"github.com/cardinalkit/cardinal/internal/sketch"
	"github.com/cardinalkit/cardinal/internal/sketch/hll"
	"github.com/cardinalkit/cardinal/internal/sketch/ull"
)

// Arena owns a set of sketches addressed by handle. All methods are safe
// for concurrent use; operations on the sketches themselves are serialized
// by the caller obtaining them one at a time through Get.
type Arena struct {
	mu       sync.Mutex
	next     uint64
	sketches map[uint64]sketch.Sketch
}

// NewArena creates an empty arena. Handle numbering starts at 1 so zero
// can serve callers as a null handle.
func NewArena() *Arena {
	return &Arena{
		next:     1,
		sketches: make(map[uint64]sketch.Sketch),
	}
}

// Create allocates a new empty sketch of the given variant and precision
// and returns its handle.
func (a *Arena) Create(variant sketch.Variant, precision uint8) (uint64, error) {
	var (
		s   sketch.Sketch
		err error
	)
	switch variant {
	case sketch.VariantHLL:
		s, err = hll.New(precision)
	case sketch.VariantULL:
		s, err = ull.New(precision)
	default:
		return 0, sketch.WrapMalformed("unknown format tag %d", variant)
	}
	if err != nil {
		return 0, err
	}
	return a.Adopt(s), nil
}

// Adopt takes ownership of an existing sketch (typically one produced by
// Deserialize) and returns its handle.
func (a *Arena) Adopt(s sketch.Sketch) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := a.next
	a.next++
	a.sketches[h] = s
	return h
}

// Get resolves a handle to its sketch. It returns sketch.ErrReleased for
// handles that were released or never issued.
func (a *Arena) Get(h uint64) (sketch.Sketch, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sketches[h]
	if !ok {
		return nil, sketch.ErrReleased
	}
	return s, nil
}

// Release frees the sketch behind a handle and reports whether the handle
// was live. Releasing twice is safe; the second call reports false.
func (a *Arena) Release(h uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.sketches[h]; !ok {
		return false
	}
	delete(a.sketches, h)
	return true
}

// Len returns the number of live handles.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sketches)
}
