package blob

import (
	"fmt"

	"github.com/arloliu/mimdb/compress"
	"github.com/arloliu/mimdb/encoding"
	"github.com/arloliu/mimdb/errs"
)

var zstdCodec = compress.NewZstdCompressor()

// CompressInt64Column compresses one batch of int64 values: delta transform,
// zigzag varint, then Zstd at level 3.
//
// The first element is emitted as a full value, so a batch decodes without
// any neighbor. Empty input yields empty (nil) output.
//
// Parameters:
//   - values: Batch values in row order
//
// Returns:
//   - []byte: Compressed batch
//   - error: Compression backend failure
func CompressInt64Column(values []int64) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}

	// Varints average well under 10 bytes on delta-transformed data; the
	// exact size is unknowable up front.
	encoded := make([]byte, 0, len(values)*3)
	encoded = encoding.DeltaTransform(encoded, values)

	compressed, err := zstdCodec.Compress(encoded)
	if err != nil {
		return nil, fmt.Errorf("int64 column compression: %w", err)
	}

	return compressed, nil
}

// DecompressInt64Column inverts CompressInt64Column, restoring exactly
// rowCount values.
//
// Trailing bytes after the rowCount-th varint are tolerated and ignored;
// running out of bytes before rowCount values is errs.ErrTruncatedPayload.
//
// Parameters:
//   - data: Compressed batch
//   - rowCount: Exact number of rows to restore
//
// Returns:
//   - []int64: Restored values, length == rowCount
//   - error: errs.ErrRowCountMismatch for an empty payload with rowCount > 0,
//     or decode errors classified Corrupt
func DecompressInt64Column(data []byte, rowCount int) ([]int64, error) {
	if len(data) == 0 {
		if rowCount != 0 {
			return nil, fmt.Errorf("%w: empty payload for %d rows", errs.ErrRowCountMismatch, rowCount)
		}

		return nil, nil
	}

	decompressed, err := zstdCodec.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTruncatedPayload, err)
	}

	values, err := encoding.DeltaRestore(decompressed, rowCount)
	if err != nil {
		return nil, fmt.Errorf("int64 column decompression: %w", err)
	}

	return values, nil
}
