// serialize.go implements the adaptive variant's wire format.
//
// Every encoding starts with the shared 16-byte envelope header (see the
// sketch package); the payload grammar depends on the mode tag:
//
//	Empty    no payload.
//	Sparse   count (uint32 LE) followed by count 3-byte pairs, each a
//	         register index (uint16 LE) and a rank byte, in strictly
//	         ascending index order.
//	Hybrid,  the raw register array, exactly m bytes.
//	Pinned
//	Sliding  compressed length (uint32 LE) followed by that many bytes of
//	         LZ4 block data that decompresses to exactly m register
//	         bytes. A compressed length of zero is the incompressibility
//	         escape: the raw m-byte array follows instead.
//
// Deserialization is strict: unknown mode tags, out-of-range precision,
// payload lengths inconsistent with the declared mode, register indices
// beyond m, ranks beyond the precision's maximum, and unsorted sparse
// pairs are all rejected. The mode itself is then *recomputed* from the
// decoded registers rather than trusted from the tag, so a round-tripped
// sketch always reports exactly the mode its content implies.
package hll

import (
	"encoding/binary"

	"github.com/pierrec/lz4/v4"

	"github.com/cardinalkit/cardinal/internal/sketch"
)

// Serialize encodes the sketch. The encoding is canonical: serializing,
// deserializing and serializing again yields byte-identical output.
func (h *HLL) Serialize() []byte {
	mode := h.Mode()

	header := sketch.Header{
		Variant:   sketch.VariantHLL,
		Precision: h.precision,
		Mode:      uint8(mode),
		Updates:   h.updates,
	}

	switch mode {
	case ModeEmpty:
		return sketch.AppendHeader(make([]byte, 0, sketch.HeaderSize), header)

	case ModeSparse:
		return h.serializeSparse(header)

	case ModeSliding:
		return h.serializeSliding(header)

	default: // ModeHybrid, ModePinned
		buf := make([]byte, 0, sketch.HeaderSize+int(h.m))
		buf = sketch.AppendHeader(buf, header)
		return append(buf, h.effectiveDense()...)
	}
}

// serializeSparse emits the pair-list payload. The in-memory pair list is
// already sorted; when the registers happen to be materialized densely
// (a deserialized low-occupancy sketch), scanning the array in index order
// produces the same canonical ascending layout.
func (h *HLL) serializeSparse(header sketch.Header) []byte {
	pairs := h.sparse
	if h.dense != nil {
		pairs = make([]sparseRegister, 0, 64)
		for i, rank := range h.dense {
			if rank != 0 {
				pairs = append(pairs, sparseRegister{index: uint16(i), rank: rank})
			}
		}
	}

	buf := make([]byte, 0, sketch.HeaderSize+4+3*len(pairs))
	buf = sketch.AppendHeader(buf, header)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(pairs)))
	for _, pair := range pairs {
		buf = binary.LittleEndian.AppendUint16(buf, pair.index)
		buf = append(buf, pair.rank)
	}
	return buf
}

// serializeSliding emits the LZ4-compressed dense payload. When the block
// does not shrink (possible for small m, where high-entropy registers have
// nothing for LZ4 to exploit), the zero-length escape stores the raw array
// so the format never expands pathologically.
func (h *HLL) serializeSliding(header sketch.Header) []byte {
	registers := h.effectiveDense()

	compressed := make([]byte, lz4.CompressBlockBound(len(registers)))
	n, err := lz4.CompressBlock(registers, compressed, nil)
	if err != nil || n == 0 || n >= len(registers) {
		buf := make([]byte, 0, sketch.HeaderSize+4+len(registers))
		buf = sketch.AppendHeader(buf, header)
		buf = binary.LittleEndian.AppendUint32(buf, 0)
		return append(buf, registers...)
	}

	buf := make([]byte, 0, sketch.HeaderSize+4+n)
	buf = sketch.AppendHeader(buf, header)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n))
	return append(buf, compressed[:n]...)
}

// effectiveDense returns the registers as a dense array, materializing
// from the pair list if necessary without changing the live representation.
func (h *HLL) effectiveDense() []byte {
	if h.dense != nil {
		return h.dense
	}
	dense := make([]byte, h.m)
	for _, pair := range h.sparse {
		dense[pair.index] = pair.rank
	}
	return dense
}

// Deserialize reconstructs a sketch from its serialized form. The returned
// sketch owns its registers; mutating it never touches the input slice.
func Deserialize(data []byte) (*HLL, error) {
	header, err := sketch.ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if header.Variant != sketch.VariantHLL {
		return nil, sketch.WrapMalformed("format tag %d is not the adaptive variant", header.Variant)
	}
	if header.Precision < MinPrecision || header.Precision > MaxPrecision {
		return nil, sketch.WrapMalformed("precision %d outside [%d, %d]", header.Precision, MinPrecision, MaxPrecision)
	}

	h, _ := New(header.Precision)
	h.updates = header.Updates
	payload := data[sketch.HeaderSize:]

	switch Mode(header.Mode) {
	case ModeEmpty:
		if len(payload) != 0 {
			return nil, sketch.WrapMalformed("empty mode with %d payload bytes", len(payload))
		}

	case ModeSparse:
		if err := h.deserializeSparse(payload); err != nil {
			return nil, err
		}

	case ModeHybrid, ModePinned:
		if len(payload) != int(h.m) {
			return nil, sketch.WrapMalformed("dense payload is %d bytes, want %d", len(payload), h.m)
		}
		if err := h.adoptDense(append([]byte(nil), payload...)); err != nil {
			return nil, err
		}

	case ModeSliding:
		if err := h.deserializeSliding(payload); err != nil {
			return nil, err
		}

	default:
		return nil, sketch.WrapMalformed("unknown mode tag %d", header.Mode)
	}

	// The mode tag chose the payload grammar above; from here on the mode
	// is recomputed from the registers themselves, which also settles the
	// storage representation for low-occupancy dense payloads.
	h.maybePromote()
	return h, nil
}

// deserializeSparse parses the pair-list payload into the sparse
// representation.
func (h *HLL) deserializeSparse(payload []byte) error {
	if len(payload) < 4 {
		return sketch.WrapMalformed("sparse payload missing pair count")
	}
	count := binary.LittleEndian.Uint32(payload[:4])
	if count > h.m {
		return sketch.ErrAllocation
	}
	payload = payload[4:]
	if len(payload) != 3*int(count) {
		return sketch.WrapMalformed("sparse payload is %d bytes, want %d pairs", len(payload), count)
	}

	pairs := make([]sparseRegister, 0, count)
	prev := -1
	for i := uint32(0); i < count; i++ {
		index := binary.LittleEndian.Uint16(payload[3*i:])
		rank := payload[3*i+2]

		if uint32(index) >= h.m {
			return sketch.WrapMalformed("register index %d beyond %d registers", index, h.m)
		}
		if int(index) <= prev {
			return sketch.WrapMalformed("sparse pairs not in ascending index order")
		}
		if rank == 0 || rank > h.maxRank {
			return sketch.WrapMalformed("rank %d outside [1, %d]", rank, h.maxRank)
		}

		pairs = append(pairs, sparseRegister{index: index, rank: rank})
		prev = int(index)
	}

	h.sparse = pairs
	return nil
}

// deserializeSliding parses the compressed dense payload.
func (h *HLL) deserializeSliding(payload []byte) error {
	if len(payload) < 4 {
		return sketch.WrapMalformed("compressed payload missing length")
	}
	clen := binary.LittleEndian.Uint32(payload[:4])
	payload = payload[4:]

	if clen == 0 {
		// Incompressibility escape: raw register array follows.
		if len(payload) != int(h.m) {
			return sketch.WrapMalformed("raw payload is %d bytes, want %d", len(payload), h.m)
		}
		return h.adoptDense(append([]byte(nil), payload...))
	}

	if uint32(len(payload)) != clen {
		return sketch.WrapMalformed("compressed payload is %d bytes, header says %d", len(payload), clen)
	}

	registers := make([]byte, h.m)
	n, err := lz4.UncompressBlock(payload, registers)
	if err != nil || n != int(h.m) {
		return sketch.WrapMalformed("compressed registers do not decode to %d bytes", h.m)
	}
	return h.adoptDense(registers)
}

// adoptDense installs a decoded register array after validating every rank
// against the precision's maximum.
func (h *HLL) adoptDense(registers []byte) error {
	for i, rank := range registers {
		if rank > h.maxRank {
			return sketch.WrapMalformed("register %d holds rank %d above maximum %d", i, rank, h.maxRank)
		}
	}
	h.dense = registers
	h.sparse = nil
	return nil
}
