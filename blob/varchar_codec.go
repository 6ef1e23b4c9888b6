package blob

import (
	"fmt"
	"unicode/utf8"

	"github.com/arloliu/mimdb/compress"
	"github.com/arloliu/mimdb/endian"
	"github.com/arloliu/mimdb/errs"
	"github.com/arloliu/mimdb/internal/pool"
)

var lz4Codec = compress.NewLZ4Compressor()

// CompressVarcharColumn compresses one batch of strings: each value is
// serialized as a u32 little-endian length prefix followed by its raw UTF-8
// bytes, and the concatenation is LZ4-compressed with size-prepended
// framing.
//
// Empty input yields empty (nil) output.
//
// Parameters:
//   - values: Batch values in row order
//
// Returns:
//   - []byte: Framed compressed batch
//   - error: Compression backend failure
func CompressVarcharColumn(values []string) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}

	engine := endian.GetLittleEndianEngine()

	buf := pool.GetColumnBuffer()
	defer pool.PutColumnBuffer(buf)

	for _, s := range values {
		buf.Grow(4 + len(s))
		buf.B = engine.AppendUint32(buf.B, uint32(len(s))) //nolint:gosec
		buf.B = append(buf.B, s...)
	}

	compressed, err := lz4Codec.Compress(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("varchar column compression: %w", err)
	}

	return compressed, nil
}

// DecompressVarcharColumn inverts CompressVarcharColumn, restoring exactly
// rowCount strings.
//
// Every restored byte span must be valid UTF-8. Trailing bytes after the
// rowCount-th record are tolerated.
//
// Parameters:
//   - data: Framed compressed batch
//   - rowCount: Exact number of rows to restore
//
// Returns:
//   - []string: Restored values, length == rowCount
//   - error: errs.ErrRowCountMismatch, errs.ErrTruncatedPayload, or
//     errs.ErrInvalidUTF8
func DecompressVarcharColumn(data []byte, rowCount int) ([]string, error) {
	if len(data) == 0 {
		if rowCount != 0 {
			return nil, fmt.Errorf("%w: empty payload for %d rows", errs.ErrRowCountMismatch, rowCount)
		}

		return nil, nil
	}

	decompressed, err := lz4Codec.Decompress(data)
	if err != nil {
		return nil, err
	}

	engine := endian.GetLittleEndianEngine()
	values := make([]string, 0, rowCount)

	pos := 0
	for len(values) < rowCount {
		if pos+4 > len(decompressed) {
			return nil, fmt.Errorf("%w: varchar record %d has no length prefix",
				errs.ErrTruncatedPayload, len(values))
		}

		strLen := int(engine.Uint32(decompressed[pos : pos+4]))
		pos += 4

		if pos+strLen > len(decompressed) {
			return nil, fmt.Errorf("%w: varchar record %d declares %d bytes, %d remain",
				errs.ErrTruncatedPayload, len(values), strLen, len(decompressed)-pos)
		}

		span := decompressed[pos : pos+strLen]
		if !utf8.Valid(span) {
			return nil, fmt.Errorf("%w: varchar record %d", errs.ErrInvalidUTF8, len(values))
		}

		values = append(values, string(span))
		pos += strLen
	}

	return values, nil
}
