// Package encoding implements the codec primitives of the MIMDB002 format:
// the zigzag varint for signed 64-bit integers and the delta transform that
// precedes it in the int64 column pipeline.
package encoding

import (
	"fmt"

	"github.com/arloliu/mimdb/errs"
)

// MaxVarintLen is the maximum number of bytes a zigzag varint occupies.
// A 64-bit value yields at most ceil(64/7) = 10 groups of 7 bits.
const MaxVarintLen = 10

// AppendVarint appends the zigzag varint encoding of v to buf and returns
// the extended slice.
//
// The zigzag map u = (v << 1) ^ (v >> 63) folds small-magnitude signed values
// onto small unsigned values (-1 -> 1, 1 -> 2, -2 -> 3, ...), so the varint
// stays short for the small deltas the delta transform produces. The encoding
// is canonical: every value has a single shortest form.
//
// Parameters:
//   - buf: Destination slice (may be nil)
//   - v: Signed 64-bit value to encode
//
// Returns:
//   - []byte: buf with 1-10 encoded bytes appended
func AppendVarint(buf []byte, v int64) []byte {
	uval := uint64(v<<1) ^ uint64(v>>63) //nolint:gosec

	for uval >= 0x80 {
		buf = append(buf, byte(uval)|0x80)
		uval >>= 7
	}

	return append(buf, byte(uval))
}

// Varint decodes a single zigzag varint from the front of data.
//
// Parameters:
//   - data: Encoded bytes; decoding stops at the first byte without the
//     continuation bit
//
// Returns:
//   - int64: Decoded signed value
//   - int: Number of bytes consumed
//   - error: errs.ErrVarintOverflow if the first MaxVarintLen bytes all carry
//     a continuation bit and more data follows, errs.ErrTruncatedPayload if
//     data ends mid-value
func Varint(data []byte) (int64, int, error) {
	var uval uint64
	var shift uint

	for i, b := range data {
		if i >= MaxVarintLen {
			return 0, 0, fmt.Errorf("%w: no terminator within %d bytes", errs.ErrVarintOverflow, MaxVarintLen)
		}

		uval |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			// Unfold the zigzag map.
			v := int64(uval>>1) ^ -int64(uval&1) //nolint:gosec
			return v, i + 1, nil
		}
		shift += 7
	}

	return 0, 0, fmt.Errorf("%w: varint ends mid-value", errs.ErrTruncatedPayload)
}
