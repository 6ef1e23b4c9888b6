package blob

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/arloliu/mimdb/endian"
	"github.com/arloliu/mimdb/format"
	"github.com/arloliu/mimdb/table"
)

// Write serializes tbl to w in MIMDB002 format with the default batch size.
func Write(w io.Writer, tbl *table.Table) error {
	return WriteBatched(w, tbl, format.DefaultBatchSize)
}

// WriteBatched serializes tbl to w, cutting each column into batches of
// batchSize rows (clamped to the format's [MinBatchSize, MaxBatchSize]).
//
// Columns are written in the table's insertion order, which callers building
// tables from a catalog schema make the schema order; the payload is
// therefore byte-reproducible for a given table.
//
// A column whose row count is at most batchSize gets a single batch covering
// the whole column; larger columns are cut at every batchSize rows with a
// smaller final batch for the residue. Each batch is an independent codec
// invocation: the delta chain and the LZ4 window never cross a batch
// boundary.
//
// Parameters:
//   - w: Destination stream
//   - tbl: Table to serialize
//   - batchSize: Requested rows per batch before clamping
//
// Returns:
//   - error: Codec or write failure
func WriteBatched(w io.Writer, tbl *table.Table, batchSize int) error {
	batchSize = format.ClampBatchSize(batchSize)

	header := &FileHeader{
		Version:     format.FormatVersion,
		ColumnCount: uint32(tbl.ColumnCount()), //nolint:gosec
		RowCount:    uint64(tbl.RowCount()),    //nolint:gosec
	}

	// Compressed batches in payload order: column-major, batches in row
	// order within each column.
	var payload [][]byte

	for _, name := range tbl.ColumnNames() {
		data, _ := tbl.GetColumn(name)

		colMeta, batches, err := compressColumn(name, data, batchSize)
		if err != nil {
			return err
		}

		header.Columns = append(header.Columns, colMeta)
		payload = append(payload, batches...)
	}

	headerBytes := header.Bytes()
	engine := endian.GetLittleEndianEngine()

	framing := make([]byte, 0, len(format.MagicBytes)+4)
	framing = append(framing, format.MagicBytes...)
	framing = engine.AppendUint32(framing, uint32(len(headerBytes))) //nolint:gosec

	if _, err := w.Write(framing); err != nil {
		return fmt.Errorf("write file framing: %w", err)
	}
	if _, err := w.Write(headerBytes); err != nil {
		return fmt.Errorf("write file header: %w", err)
	}
	for _, batch := range payload {
		if _, err := w.Write(batch); err != nil {
			return fmt.Errorf("write column payload: %w", err)
		}
	}

	return nil
}

// WriteFile serializes tbl to a new file at path with the default batch
// size.
func WriteFile(path string, tbl *table.Table) error {
	return WriteFileBatched(path, tbl, format.DefaultBatchSize)
}

// WriteFileBatched serializes tbl to a new file at path with the given batch
// size.
func WriteFileBatched(path string, tbl *table.Table, batchSize int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create data file: %w", err)
	}

	bw := bufio.NewWriter(f)
	if err := WriteBatched(bw, tbl, batchSize); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush data file: %w", err)
	}

	return f.Close()
}

// compressColumn cuts one column into batches and compresses each batch
// independently, returning the column metadata and the compressed batches in
// row order.
func compressColumn(name string, data table.ColumnData, batchSize int) (ColumnMeta, [][]byte, error) {
	meta := ColumnMeta{
		Name:          name,
		Type:          data.Type(),
		TotalRowCount: uint64(data.Len()), //nolint:gosec
		BatchSize:     uint32(batchSize),  //nolint:gosec
	}

	rows := data.Len()
	batchCount := 1
	if rows > batchSize {
		batchCount = (rows + batchSize - 1) / batchSize
	}

	batches := make([][]byte, 0, batchCount)
	meta.Batches = make([]BatchMeta, 0, batchCount)

	for i := range batchCount {
		start := i * batchSize
		end := min(start+batchSize, rows)

		compressed, uncompressedSize, err := compressBatch(data, start, end)
		if err != nil {
			return ColumnMeta{}, nil, fmt.Errorf("column %q batch %d: %w", name, i, err)
		}

		meta.Batches = append(meta.Batches, BatchMeta{
			StartRow:         uint64(start),            //nolint:gosec
			RowCount:         uint32(end - start),      //nolint:gosec
			CompressedSize:   uint64(len(compressed)),  //nolint:gosec
			UncompressedSize: uint64(uncompressedSize), //nolint:gosec
		})
		meta.TotalCompressedSize += uint64(len(compressed))    //nolint:gosec
		meta.TotalUncompressedSize += uint64(uncompressedSize) //nolint:gosec

		batches = append(batches, compressed)
	}

	return meta, batches, nil
}

// compressBatch compresses rows [start, end) of a column and reports the
// batch's uncompressed serialized size.
func compressBatch(data table.ColumnData, start, end int) ([]byte, int, error) {
	switch values := data.(type) {
	case table.Int64Data:
		compressed, err := CompressInt64Column(values[start:end])
		return compressed, (end - start) * 8, err
	case table.VarcharData:
		uncompressed := 0
		for _, s := range values[start:end] {
			uncompressed += 4 + len(s)
		}
		compressed, err := CompressVarcharColumn(values[start:end])

		return compressed, uncompressed, err
	default:
		return nil, 0, fmt.Errorf("unsupported column data type %T", data)
	}
}
