// handlers_sketch.go implements the cardinality sketch commands.
//
// Keys hold serialized sketches; every command deserializes under the
// store's per-key locking, operates on the live sketch, and writes the
// serialized result back only when something changed. The "CDSK" envelope
// magic doubles as the type check that keeps sketch commands off keys
// holding other data.
//
// Two sketch variants exist behind one interface: the adaptive variant
// (HLL), which grows through storage modes as cardinality rises, and the
// dense high-precision variant (ULL) with a maximum-likelihood estimator.
// The envelope's format tag selects the right decoder, so commands never
// need to be told which variant a key holds.

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cardinalkit/cardinal/internal/sketch"
	"github.com/cardinalkit/cardinal/internal/sketch/hll"
	"github.com/cardinalkit/cardinal/internal/sketch/ull"
)

// decodeSketch sniffs the envelope's format tag and dispatches to the
// matching variant decoder.
func decodeSketch(data []byte) (sketch.Sketch, error) {
	variant, err := sketch.Sniff(data)
	if err != nil {
		return nil, err
	}
	switch variant {
	case sketch.VariantULL:
		return ull.Deserialize(data)
	default:
		return hll.Deserialize(data)
	}
}

// parseVariant maps a command argument to a sketch variant.
func parseVariant(s string) (sketch.Variant, bool) {
	switch strings.ToUpper(s) {
	case "HLL":
		return sketch.VariantHLL, true
	case "ULL":
		return sketch.VariantULL, true
	default:
		return 0, false
	}
}

// newSketch constructs an empty sketch of the given variant.
func newSketch(variant sketch.Variant, precision uint8) (sketch.Sketch, error) {
	if variant == sketch.VariantULL {
		return ull.New(precision)
	}
	return hll.New(precision)
}

// handleSketchCreate handles the SK.CREATE command.
// Syntax: SK.CREATE key [HLL|ULL] [precision]
//
// Creates an empty sketch. Variant defaults to HLL, precision to the
// server's -default-precision flag. Fails if the key already exists, so a
// client can never silently clobber accumulated state.
func (app *application) handleSketchCreate(w io.Writer, args []string) {
	if len(args) < 1 || len(args) > 3 {
		app.wrongNumberOfArgsResponse(w, "SK.CREATE")
		return
	}

	key := args[0]

	variant := sketch.VariantHLL
	if len(args) >= 2 {
		v, ok := parseVariant(args[1])
		if !ok {
			_ = app.writeErrorResponse(w, fmt.Sprintf("ERR unknown sketch variant '%s'", args[1]))
			return
		}
		variant = v
	}

	precision := uint8(app.config.defaultPrecision)
	if len(args) == 3 {
		p, err := strconv.Atoi(args[2])
		if err != nil || p < 0 || p > 255 {
			_ = app.writeErrorResponse(w, "ERR value is not an integer or out of range")
			return
		}
		precision = uint8(p)
	}

	s, err := newSketch(variant, precision)
	if err != nil {
		_ = app.writeErrorResponse(w, fmt.Sprintf("ERR %v", err))
		return
	}

	var existed bool
	app.store.Mutate(key, func(data []byte) ([]byte, bool) {
		if data != nil {
			existed = true
			return data, false
		}
		return s.Serialize(), true
	})

	if existed {
		_ = app.writeErrorResponse(w, "ERR key already exists")
		return
	}

	_ = app.writeSimpleStringResponse(w, "OK")
}

// handleSketchAdd handles the SK.ADD command.
// Syntax: SK.ADD key item [item ...]
//
// Missing keys are created lazily as adaptive sketches at the server's
// default precision. Returns 1 if any register changed, 0 when every item
// was certainly seen before.
func (app *application) handleSketchAdd(w io.Writer, args []string) {
	//
	// DESIGN
	// ------
	//
	// The whole batch runs inside one Mutate callback, which holds the
	// key's shard lock across deserialize, update and reserialize. That
	// makes concurrent SK.ADDs to the same key linearizable without any
	// locking inside the sketch itself.
	//
	// Serialization is skipped when no register changed and the key
	// already existed; re-adding known items then costs a decode but no
	// encode and no store write. A freshly created key is always written,
	// even if its items all hashed to already-zero state, so the key
	// exists afterwards regardless.
	//
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "SK.ADD")
		return
	}

	key := args[0]
	items := args[1:]

	var registersChanged int
	var typeError, decodeError bool

	app.store.Mutate(key, func(data []byte) ([]byte, bool) {
		var s sketch.Sketch
		var err error

		if data == nil {
			s, err = hll.New(uint8(app.config.defaultPrecision))
			if err != nil {
				decodeError = true
				return data, false
			}
		} else {
			if !sketch.HasValidMagic(data) {
				typeError = true
				return data, false
			}
			s, err = decodeSketch(data)
			if err != nil {
				decodeError = true
				return data, false
			}
		}

		modified := false
		for _, item := range items {
			if s.Update([]byte(item)) {
				modified = true
			}
		}

		if modified {
			registersChanged = 1
			return s.Serialize(), true
		}
		if data == nil {
			return s.Serialize(), true
		}

		// Update counts still moved even though no register did, but
		// persisting that alone is not worth a reserialize per call.
		return data, false
	})

	if typeError {
		app.wrongTypeResponse(w)
		return
	}
	if decodeError {
		app.corruptionResponse(w)
		return
	}

	_ = app.writeIntegerResponse(w, registersChanged)
}

// handleSketchCount handles the SK.COUNT command.
// Syntax: SK.COUNT key [key ...]
//
// One key returns its estimate. Several keys return the estimate of their
// union, computed in a scratch sketch so the sources are never modified.
// Missing keys count as empty. The estimate is rounded to the nearest
// integer for the wire.
func (app *application) handleSketchCount(w io.Writer, args []string) {
	if len(args) < 1 {
		app.wrongNumberOfArgsResponse(w, "SK.COUNT")
		return
	}

	var union sketch.Sketch
	var typeError, decodeError bool
	var mergeErr error

	for _, key := range args {
		_ = app.store.View(key, func(data []byte) error {
			if data == nil {
				return nil
			}
			if !sketch.HasValidMagic(data) {
				typeError = true
				return nil
			}

			// Deserialize allocates a private copy, so the scratch union
			// is safe to mutate after the read lock drops.
			s, err := decodeSketch(data)
			if err != nil {
				decodeError = true
				return nil
			}

			if union == nil {
				union = s
				return nil
			}
			mergeErr = union.Merge(s)
			return nil
		})

		if typeError {
			app.wrongTypeResponse(w)
			return
		}
		if decodeError {
			app.corruptionResponse(w)
			return
		}
		if mergeErr != nil {
			_ = app.writeErrorResponse(w, fmt.Sprintf("ERR %v", mergeErr))
			return
		}
	}

	if union == nil {
		_ = app.writeIntegerResponse(w, 0)
		return
	}

	_ = app.writeIntegerResponse64(w, int64(union.Estimate()+0.5))
}

// handleSketchMerge handles the SK.MERGE command.
// Syntax: SK.MERGE destkey srckey [srckey ...]
//
// Folds the sources into the destination so it estimates the union of all
// input streams. A missing destination is created from the sources alone.
// All participants must share variant and precision.
func (app *application) handleSketchMerge(w io.Writer, args []string) {
	//
	// DESIGN
	// ------
	//
	// Two phases. Phase one reads every source under read locks and
	// accumulates their union into a scratch sketch; sources are never
	// written, so concurrent readers proceed freely. Phase two takes the
	// destination's write lock once and folds the accumulated union in.
	// Locks never nest across keys, which rules out deadlock regardless
	// of how clients order their merge arguments.
	//
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "SK.MERGE")
		return
	}

	var union sketch.Sketch
	var typeError, decodeError bool
	var mergeErr error

	for _, key := range args[1:] {
		_ = app.store.View(key, func(data []byte) error {
			if data == nil {
				return nil
			}
			if !sketch.HasValidMagic(data) {
				typeError = true
				return nil
			}

			s, err := decodeSketch(data)
			if err != nil {
				decodeError = true
				return nil
			}

			if union == nil {
				union = s
				return nil
			}
			mergeErr = union.Merge(s)
			return nil
		})

		if typeError {
			app.wrongTypeResponse(w)
			return
		}
		if decodeError {
			app.corruptionResponse(w)
			return
		}
		if mergeErr != nil {
			_ = app.writeErrorResponse(w, fmt.Sprintf("ERR %v", mergeErr))
			return
		}
	}

	app.store.Mutate(args[0], func(data []byte) ([]byte, bool) {
		if data == nil {
			if union == nil {
				// Nothing to fold and no destination: leave absent.
				return nil, false
			}
			return union.Serialize(), true
		}

		if !sketch.HasValidMagic(data) {
			typeError = true
			return data, false
		}
		dest, err := decodeSketch(data)
		if err != nil {
			decodeError = true
			return data, false
		}

		if union == nil {
			return data, false
		}

		if mergeErr = dest.Merge(union); mergeErr != nil {
			return data, false
		}
		return dest.Serialize(), true
	})

	if typeError {
		app.wrongTypeResponse(w)
		return
	}
	if decodeError {
		app.corruptionResponse(w)
		return
	}
	if mergeErr != nil {
		_ = app.writeErrorResponse(w, fmt.Sprintf("ERR %v", mergeErr))
		return
	}

	_ = app.writeSimpleStringResponse(w, "OK")
}

// handleSketchInfo handles the SK.INFO command.
// Syntax: SK.INFO key
//
// Returns a bulk string of key:value lines describing the sketch: its
// variant, precision, register count, storage mode, update count, current
// estimate and serialized size.
func (app *application) handleSketchInfo(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "SK.INFO")
		return
	}

	data, found := app.store.Get(args[0])
	if !found {
		_ = app.writeNilResponse(w)
		return
	}
	if !sketch.HasValidMagic(data) {
		app.wrongTypeResponse(w)
		return
	}

	s, err := decodeSketch(data)
	if err != nil {
		app.corruptionResponse(w)
		return
	}

	mode := "dense"
	var registers uint32
	switch v := s.(type) {
	case *hll.HLL:
		mode = v.Mode().String()
		registers = v.Registers()
	case *ull.ULL:
		registers = v.Registers()
	}

	variant := sketch.VariantHLL
	if _, ok := s.(*ull.ULL); ok {
		variant = sketch.VariantULL
	}

	var b strings.Builder
	fmt.Fprintf(&b, "variant:%s\r\n", variant)
	fmt.Fprintf(&b, "precision:%d\r\n", s.Precision())
	fmt.Fprintf(&b, "registers:%d\r\n", registers)
	fmt.Fprintf(&b, "mode:%s\r\n", mode)
	fmt.Fprintf(&b, "updates:%d\r\n", s.Updates())
	fmt.Fprintf(&b, "estimate:%d\r\n", int64(s.Estimate()+0.5))
	fmt.Fprintf(&b, "serialized_bytes:%d\r\n", len(data))

	_ = app.writeBulkStringResponse(w, b.String())
}

// handleSketchReset handles the SK.RESET command.
// Syntax: SK.RESET key
//
// Clears the sketch back to empty while keeping its variant and precision.
// Returns 1 if a sketch was reset, 0 if the key does not exist.
func (app *application) handleSketchReset(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "SK.RESET")
		return
	}

	var existed bool
	var typeError, decodeError bool

	app.store.Mutate(args[0], func(data []byte) ([]byte, bool) {
		if data == nil {
			return nil, false
		}
		if !sketch.HasValidMagic(data) {
			typeError = true
			return data, false
		}

		s, err := decodeSketch(data)
		if err != nil {
			decodeError = true
			return data, false
		}

		s.Clear()
		existed = true
		return s.Serialize(), true
	})

	if typeError {
		app.wrongTypeResponse(w)
		return
	}
	if decodeError {
		app.corruptionResponse(w)
		return
	}

	if existed {
		_ = app.writeIntegerResponse(w, 1)
		return
	}
	_ = app.writeIntegerResponse(w, 0)
}
