package encoding

// DeltaTransform appends the delta encoding of values to buf: the first
// element as-is, then each successive difference, every delta zigzag-varint
// encoded. Subtraction wraps in two's complement, so the transform is total
// for all int64 inputs and batches starting with a full value remain
// independently decodable.
//
// Parameters:
//   - buf: Destination slice (may be nil)
//   - values: Values to transform; empty input appends nothing
//
// Returns:
//   - []byte: buf with the encoded deltas appended
func DeltaTransform(buf []byte, values []int64) []byte {
	if len(values) == 0 {
		return buf
	}

	buf = AppendVarint(buf, values[0])
	prev := values[0]
	for _, v := range values[1:] {
		buf = AppendVarint(buf, v-prev)
		prev = v
	}

	return buf
}

// DeltaRestore decodes exactly count zigzag varints from data and inverts the
// delta transform by prefix summation with wrap-around addition.
//
// Trailing bytes beyond the count-th varint are tolerated and must not
// produce extra values; the caller decides whether their presence is an
// error.
//
// Parameters:
//   - data: Varint-encoded delta stream
//   - count: Exact number of values to restore
//
// Returns:
//   - []int64: Restored values, length == count
//   - error: errs.ErrTruncatedPayload or errs.ErrVarintOverflow from the
//     varint decoder
func DeltaRestore(data []byte, count int) ([]int64, error) {
	values := make([]int64, 0, count)

	pos := 0
	var prev int64
	for len(values) < count {
		delta, n, err := Varint(data[pos:])
		if err != nil {
			return nil, err
		}
		pos += n

		if len(values) == 0 {
			prev = delta
		} else {
			prev += delta
		}
		values = append(values, prev)
	}

	return values, nil
}
