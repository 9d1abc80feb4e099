package sketch

import "encoding/binary"

// Header is the decoded 16-byte envelope header shared by all variants.
type Header struct {
	Variant   Variant
	Precision uint8
	Mode      uint8
	Updates   uint64
}

// AppendHeader appends the 16-byte envelope header to buf.
// All multi-byte fields are little-endian for portability.
func AppendHeader(buf []byte, h Header) []byte {
	buf = append(buf, Magic...)
	buf = append(buf, byte(h.Variant), h.Precision, h.Mode, 0)
	buf = binary.LittleEndian.AppendUint64(buf, h.Updates)
	return buf
}

// ParseHeader validates and decodes the envelope header. It checks the
// magic and the format tag; precision and mode ranges are variant-specific
// and validated by the variant's Deserialize.
func ParseHeader(data []byte) (Header, error) {
	if !HasValidMagic(data) {
		return Header{}, wrapMalformed("missing sketch magic")
	}
	if len(data) < HeaderSize {
		return Header{}, wrapMalformed("data shorter than envelope header")
	}

	h := Header{
		Variant:   Variant(data[4]),
		Precision: data[5],
		Mode:      data[6],
		Updates:   binary.LittleEndian.Uint64(data[8:16]),
	}

	switch h.Variant {
	case VariantHLL, VariantULL:
	default:
		return Header{}, wrapMalformed("unknown format tag")
	}

	return h, nil
}
