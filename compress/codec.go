// Package compress provides the compression backends of the MIMDB002 column
// pipeline: Zstandard for delta-encoded int64 batches and framed LZ4 for
// length-prefixed varchar batches.
package compress

// Compressor compresses one column batch.
//
// Memory management:
//   - Returned slice is newly allocated and owned by the caller
//   - Input slice is not modified
//   - Internal buffers may be reused for efficiency
type Compressor interface {
	// Compress compresses the input data and returns the compressed result.
	// Empty input yields empty (nil) output.
	Compress(data []byte) ([]byte, error)
}

// Decompressor decompresses one column batch.
//
// Implementations validate the data format and return an error if the data
// is corrupted or was produced by an incompatible algorithm. Implementations
// must be safe for concurrent use.
type Decompressor interface {
	// Decompress decompresses the input data and returns the original bytes.
	// Empty input yields empty (nil) output.
	Decompress(data []byte) ([]byte, error)
}

// Codec combines both compression and decompression capabilities.
type Codec interface {
	Compressor
	Decompressor
}
