package compress

// ZstdCompressor provides Zstandard compression for delta-encoded int64
// column batches.
//
// The MIMDB002 format fixes the compression level at 3: measured on
// varint-encoded delta streams, higher levels buy little extra ratio while
// costing meaningfully more CPU per batch.
//
// Two backends satisfy the same contract and produce interchangeable
// frames:
//   - cgo builds use valyala/gozstd (bindings to libzstd)
//   - pure-Go builds use klauspost/compress/zstd
type ZstdCompressor struct{}

var _ Codec = (*ZstdCompressor)(nil)

// NewZstdCompressor creates a new Zstd codec with the format's settings.
func NewZstdCompressor() ZstdCompressor {
	return ZstdCompressor{}
}
