// Package blob implements the MIMDB002 data file: the batched column codecs
// and the self-describing file layout
//
//	MAGIC || u32le(HEADER_LEN) || HEADER_BYTES || payload
//
// where the payload is, for each column in header order, for each batch in
// order, exactly that batch's compressed bytes. Every batch is an
// independent codec invocation, so a reader never has to materialize more
// than one batch of uncompressed data per column at a time.
package blob

import (
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/arloliu/mimdb/endian"
	"github.com/arloliu/mimdb/errs"
	"github.com/arloliu/mimdb/format"
)

// BatchMeta describes one contiguous row range of a column payload.
type BatchMeta struct {
	// StartRow is the absolute row index of the batch's first row.
	StartRow uint64
	// RowCount is the number of rows in the batch.
	RowCount uint32
	// CompressedSize is the exact number of payload bytes the batch occupies.
	CompressedSize uint64
	// UncompressedSize is the size of the batch's raw serialized form.
	UncompressedSize uint64
}

// ColumnMeta describes one column of a data file. Batches are contiguous,
// non-overlapping, and cover the column in row order.
type ColumnMeta struct {
	Name                  string
	Type                  format.ColumnType
	TotalCompressedSize   uint64
	TotalUncompressedSize uint64
	TotalRowCount         uint64
	BatchSize             uint32
	Batches               []BatchMeta
}

// FileHeader is the decoded HEADER_BYTES section. The order of Columns
// determines the order of compressed payload bytes in the file.
type FileHeader struct {
	Version     uint32
	ColumnCount uint32
	RowCount    uint64
	Columns     []ColumnMeta
}

// Bytes serializes the header into its deterministic little-endian form and
// appends an xxhash64 of the preceding bytes. The checksum guards the one
// structure every payload size hangs off; payload corruption is caught by
// the per-column size and row-count validation instead.
func (h *FileHeader) Bytes() []byte {
	engine := endian.GetLittleEndianEngine()

	buf := make([]byte, 0, h.encodedSize())
	buf = engine.AppendUint32(buf, h.Version)
	buf = engine.AppendUint32(buf, h.ColumnCount)
	buf = engine.AppendUint64(buf, h.RowCount)

	for i := range h.Columns {
		col := &h.Columns[i]
		buf = engine.AppendUint16(buf, uint16(len(col.Name))) //nolint:gosec
		buf = append(buf, col.Name...)
		buf = append(buf, byte(col.Type))
		buf = engine.AppendUint64(buf, col.TotalCompressedSize)
		buf = engine.AppendUint64(buf, col.TotalUncompressedSize)
		buf = engine.AppendUint64(buf, col.TotalRowCount)
		buf = engine.AppendUint32(buf, col.BatchSize)
		buf = engine.AppendUint32(buf, uint32(len(col.Batches))) //nolint:gosec

		for _, b := range col.Batches {
			buf = engine.AppendUint64(buf, b.StartRow)
			buf = engine.AppendUint32(buf, b.RowCount)
			buf = engine.AppendUint64(buf, b.CompressedSize)
			buf = engine.AppendUint64(buf, b.UncompressedSize)
		}
	}

	return engine.AppendUint64(buf, xxhash.Sum64(buf))
}

func (h *FileHeader) encodedSize() int {
	size := 4 + 4 + 8 + 8 // fixed fields + checksum
	for i := range h.Columns {
		size += 2 + len(h.Columns[i].Name) + 1 + 8 + 8 + 8 + 4 + 4
		size += len(h.Columns[i].Batches) * (8 + 4 + 8 + 8)
	}

	return size
}

// ParseFileHeader decodes and validates HEADER_BYTES.
//
// Validation covers the checksum, the version, per-column totals against
// batch sums, batch contiguity, and agreement between every column's row
// count and the file row count.
//
// Parameters:
//   - data: The full HEADER_BYTES section
//
// Returns:
//   - *FileHeader: Decoded header
//   - error: errs.ErrInvalidHeader, errs.ErrHeaderChecksum,
//     errs.ErrUnsupportedVersion, or errs.ErrInvalidBatchLayout
func ParseFileHeader(data []byte) (*FileHeader, error) {
	engine := endian.GetLittleEndianEngine()

	if len(data) < 4+4+8+8 {
		return nil, fmt.Errorf("%w: header shorter than fixed fields", errs.ErrInvalidHeader)
	}

	body, checksum := data[:len(data)-8], engine.Uint64(data[len(data)-8:])
	if xxhash.Sum64(body) != checksum {
		return nil, errs.ErrHeaderChecksum
	}

	r := headerReader{engine: engine, data: body}

	h := &FileHeader{
		Version:     r.uint32(),
		ColumnCount: r.uint32(),
		RowCount:    r.uint64(),
	}
	if h.Version != format.FormatVersion {
		return nil, fmt.Errorf("%w: got version %d, want %d", errs.ErrUnsupportedVersion, h.Version, format.FormatVersion)
	}
	if h.ColumnCount > math.MaxUint16 {
		return nil, fmt.Errorf("%w: implausible column count %d", errs.ErrInvalidHeader, h.ColumnCount)
	}

	h.Columns = make([]ColumnMeta, 0, h.ColumnCount)
	for range h.ColumnCount {
		col := ColumnMeta{
			Name: string(r.bytes(int(r.uint16()))),
			Type: format.ColumnType(r.byte()),
		}
		col.TotalCompressedSize = r.uint64()
		col.TotalUncompressedSize = r.uint64()
		col.TotalRowCount = r.uint64()
		col.BatchSize = r.uint32()

		batchCount := r.uint32()
		if r.err == nil && int(batchCount) > len(r.data)/(8+4+8+8)+1 {
			return nil, fmt.Errorf("%w: implausible batch count %d", errs.ErrInvalidHeader, batchCount)
		}
		col.Batches = make([]BatchMeta, 0, batchCount)
		for range batchCount {
			col.Batches = append(col.Batches, BatchMeta{
				StartRow:         r.uint64(),
				RowCount:         r.uint32(),
				CompressedSize:   r.uint64(),
				UncompressedSize: r.uint64(),
			})
		}

		if r.err != nil {
			return nil, r.err
		}
		if !col.Type.Valid() {
			return nil, fmt.Errorf("%w: unknown column type 0x%x", errs.ErrInvalidHeader, uint8(col.Type))
		}
		if err := validateBatchLayout(&col, h.RowCount); err != nil {
			return nil, err
		}

		h.Columns = append(h.Columns, col)
	}

	if r.err != nil {
		return nil, r.err
	}
	if len(r.data) != 0 {
		return nil, fmt.Errorf("%w: %d unread header bytes", errs.ErrInvalidHeader, len(r.data))
	}

	return h, nil
}

// validateBatchLayout checks that a column's batches are contiguous, cover
// the declared row count, and sum to the declared compressed size.
func validateBatchLayout(col *ColumnMeta, fileRowCount uint64) error {
	if col.TotalRowCount != fileRowCount {
		return fmt.Errorf("%w: column %q has %d rows, file declares %d",
			errs.ErrInvalidHeader, col.Name, col.TotalRowCount, fileRowCount)
	}

	var rows, compressed uint64
	for i, b := range col.Batches {
		if b.StartRow != rows {
			return fmt.Errorf("%w: column %q batch %d starts at row %d, want %d",
				errs.ErrInvalidBatchLayout, col.Name, i, b.StartRow, rows)
		}
		rows += uint64(b.RowCount)
		compressed += b.CompressedSize
	}

	if rows != col.TotalRowCount {
		return fmt.Errorf("%w: column %q batches cover %d rows, header declares %d",
			errs.ErrInvalidBatchLayout, col.Name, rows, col.TotalRowCount)
	}
	if compressed != col.TotalCompressedSize {
		return fmt.Errorf("%w: column %q batches total %d compressed bytes, header declares %d",
			errs.ErrInvalidBatchLayout, col.Name, compressed, col.TotalCompressedSize)
	}

	return nil
}

// headerReader is a cursor over the header body that records the first
// short-read instead of returning an error at every call site.
type headerReader struct {
	engine endian.EndianEngine
	data   []byte
	err    error
}

func (r *headerReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.data) < n {
		r.err = fmt.Errorf("%w: header truncated", errs.ErrInvalidHeader)
		return nil
	}

	out := r.data[:n]
	r.data = r.data[n:]

	return out
}

func (r *headerReader) byte() byte {
	b := r.bytes(1)
	if b == nil {
		return 0
	}

	return b[0]
}

func (r *headerReader) uint16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}

	return r.engine.Uint16(b)
}

func (r *headerReader) uint32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}

	return r.engine.Uint32(b)
}

func (r *headerReader) uint64() uint64 {
	b := r.bytes(8)
	if b == nil {
		return 0
	}

	return r.engine.Uint64(b)
}
