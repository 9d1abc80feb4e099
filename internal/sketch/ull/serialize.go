package ull

import (
	"github.com/cardinalkit/cardinal/internal/sketch"
)

// The dense-only layout needs no mode machinery; the envelope's mode byte
// is fixed at zero and anything else is rejected as malformed.

// Serialize encodes the sketch as the 16-byte envelope header followed by
// the raw m-byte register array.
func (u *ULL) Serialize() []byte {
	buf := make([]byte, 0, sketch.HeaderSize+int(u.m))
	buf = sketch.AppendHeader(buf, sketch.Header{
		Variant:   sketch.VariantULL,
		Precision: u.precision,
		Updates:   u.updates,
	})
	return append(buf, u.registers...)
}

// Deserialize reconstructs a sketch from its serialized form. The returned
// sketch owns its registers; mutating it never touches the input slice.
func Deserialize(data []byte) (*ULL, error) {
	header, err := sketch.ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if header.Variant != sketch.VariantULL {
		return nil, sketch.WrapMalformed("format tag %d is not the dense variant", header.Variant)
	}
	if header.Precision < MinPrecision || header.Precision > MaxPrecision {
		return nil, sketch.WrapMalformed("precision %d outside [%d, %d]", header.Precision, MinPrecision, MaxPrecision)
	}
	if header.Mode != 0 {
		return nil, sketch.WrapMalformed("unexpected mode tag %d for dense variant", header.Mode)
	}

	u, _ := New(header.Precision)
	u.updates = header.Updates

	payload := data[sketch.HeaderSize:]
	if len(payload) != int(u.m) {
		return nil, sketch.WrapMalformed("register payload is %d bytes, want %d", len(payload), u.m)
	}
	for i, rank := range payload {
		if rank > u.maxRank {
			return nil, sketch.WrapMalformed("register %d holds rank %d above maximum %d", i, rank, u.maxRank)
		}
	}

	copy(u.registers, payload)
	return u, nil
}
