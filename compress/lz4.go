package compress

import (
	"fmt"
	"sync"

	"github.com/pierrec/lz4/v4"

	"github.com/arloliu/mimdb/endian"
	"github.com/arloliu/mimdb/errs"
)

// lz4CompressorPool pools lz4.Compressor instances for reuse. The
// lz4.Compressor maintains internal hash-table state that benefits from
// reuse across batches.
var lz4CompressorPool = sync.Pool{
	New: func() any {
		return &lz4.Compressor{}
	},
}

// LZ4Compressor compresses varchar column batches with size-prepended
// framing: a 4-byte little-endian uncompressed-size prefix followed by one
// LZ4 block.
//
// The prefix lets Decompress allocate the exact output buffer instead of
// guessing. A block whose length equals the stored uncompressed size holds
// the input verbatim: lz4.Compressor signals incompressible input by
// producing no block, and Compress keeps a compressed block only when it is
// strictly shorter than its input, so the two cases cannot collide.
type LZ4Compressor struct{}

var _ Codec = (*LZ4Compressor)(nil)

// NewLZ4Compressor creates a new framed LZ4 codec.
func NewLZ4Compressor() LZ4Compressor {
	return LZ4Compressor{}
}

// maxUncompressedSize bounds the size a frame may declare, protecting the
// decoder against corrupt prefixes that would otherwise drive a huge
// allocation.
const maxUncompressedSize = 1 << 30

// Compress compresses the input data into a size-prepended LZ4 frame.
//
// Parameters:
//   - data: Input bytes to compress
//
// Returns:
//   - []byte: Framed compressed data (nil if input is empty)
//   - error: Compression error if any
func (c LZ4Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	engine := endian.GetLittleEndianEngine()
	out := make([]byte, 0, 4+len(data))
	out = engine.AppendUint32(out, uint32(len(data))) //nolint:gosec

	dst := make([]byte, lz4.CompressBlockBound(len(data)))

	lc, _ := lz4CompressorPool.Get().(*lz4.Compressor)
	defer lz4CompressorPool.Put(lc)

	n, err := lc.CompressBlock(data, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 compression failed: %w", err)
	}
	if n == 0 || n >= len(data) {
		// Incompressible input: store raw. The reader detects this by
		// block length == declared uncompressed size.
		return append(out, data...), nil
	}

	return append(out, dst[:n]...), nil
}

// Decompress reverses the size-prepended framing and decompresses the block.
//
// Parameters:
//   - data: Framed compressed data
//
// Returns:
//   - []byte: Original bytes (nil if input is empty)
//   - error: errs.ErrTruncatedPayload on a short frame, or LZ4 block errors
func (c LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: lz4 frame shorter than size prefix", errs.ErrTruncatedPayload)
	}

	engine := endian.GetLittleEndianEngine()
	uncompressedSize := int(engine.Uint32(data[:4]))
	if uncompressedSize > maxUncompressedSize {
		return nil, fmt.Errorf("%w: declared size %d exceeds limit", errs.ErrTruncatedPayload, uncompressedSize)
	}

	block := data[4:]
	if len(block) == uncompressedSize {
		// Raw block, stored verbatim by Compress.
		out := make([]byte, uncompressedSize)
		copy(out, block)

		return out, nil
	}

	out := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(block, out)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompression failed: %w", err)
	}
	if n != uncompressedSize {
		return nil, fmt.Errorf("%w: lz4 block yielded %d bytes, frame declared %d",
			errs.ErrTruncatedPayload, n, uncompressedSize)
	}

	return out, nil
}
