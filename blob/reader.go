package blob

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/arloliu/mimdb/endian"
	"github.com/arloliu/mimdb/errs"
	"github.com/arloliu/mimdb/format"
	"github.com/arloliu/mimdb/table"
)

// maxHeaderLen bounds the declared header length so a corrupt length prefix
// cannot drive an arbitrary allocation.
const maxHeaderLen = 1 << 28

// Read deserializes one MIMDB002 file from r.
//
// The reader validates the magic, the version, the header checksum, batch
// layout against the declared totals, and that the stream ends exactly after
// the last batch's payload. Each batch is decompressed independently and
// appended to its column.
//
// Parameters:
//   - r: Source stream positioned at the file's first byte
//
// Returns:
//   - *table.Table: Decoded table, columns in header order
//   - error: Corrupt-kind errors for any format violation, or the underlying
//     read error
func Read(r io.Reader) (*table.Table, error) {
	header, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	tbl := table.New()
	for i := range header.Columns {
		col := &header.Columns[i]

		data, err := readColumn(r, col)
		if err != nil {
			return nil, err
		}
		if err := tbl.AddColumn(col.Name, data); err != nil {
			return nil, err
		}
	}

	// The format is fully self-describing; any byte after the last batch is
	// garbage.
	var probe [1]byte
	if n, err := r.Read(probe[:]); n > 0 {
		return nil, errs.ErrTrailingData
	} else if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("probe end of payload: %w", err)
	}

	return tbl, nil
}

// ReadFile deserializes the MIMDB002 file at path.
func ReadFile(path string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	defer f.Close()

	tbl, err := Read(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("read data file %s: %w", path, err)
	}

	return tbl, nil
}

// ReadFileHeader reads and validates only the header of the MIMDB002 file at
// path, without touching the payload. Used by the inspection tool.
func ReadFileHeader(path string) (*FileHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	defer f.Close()

	return readHeader(bufio.NewReader(f))
}

// readHeader consumes and validates the framing and HEADER_BYTES sections.
func readHeader(r io.Reader) (*FileHeader, error) {
	var magic [len(format.MagicBytes)]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidMagicNumber, err)
	}
	if string(magic[:]) != format.MagicBytes {
		return nil, fmt.Errorf("%w: got %q", errs.ErrInvalidMagicNumber, magic[:])
	}

	var lenBytes [4]byte
	if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
		return nil, fmt.Errorf("%w: missing header length: %v", errs.ErrInvalidHeader, err)
	}

	headerLen := int(endian.GetLittleEndianEngine().Uint32(lenBytes[:]))
	if headerLen > maxHeaderLen {
		return nil, fmt.Errorf("%w: declared header length %d", errs.ErrInvalidHeader, headerLen)
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("%w: header truncated: %v", errs.ErrInvalidHeader, err)
	}

	return ParseFileHeader(headerBytes)
}

// readColumn reads and decompresses every batch of one column, appending the
// results in row order.
func readColumn(r io.Reader, col *ColumnMeta) (table.ColumnData, error) {
	switch col.Type {
	case format.Int64:
		values := make([]int64, 0, col.TotalRowCount)
		for i := range col.Batches {
			batch, err := readBatch(r, col, i)
			if err != nil {
				return nil, err
			}

			decoded, err := DecompressInt64Column(batch, int(col.Batches[i].RowCount))
			if err != nil {
				return nil, fmt.Errorf("column %q batch %d: %w", col.Name, i, err)
			}
			values = append(values, decoded...)
		}

		return table.Int64Data(values), nil

	case format.Varchar:
		values := make([]string, 0, col.TotalRowCount)
		for i := range col.Batches {
			batch, err := readBatch(r, col, i)
			if err != nil {
				return nil, err
			}

			decoded, err := DecompressVarcharColumn(batch, int(col.Batches[i].RowCount))
			if err != nil {
				return nil, fmt.Errorf("column %q batch %d: %w", col.Name, i, err)
			}
			values = append(values, decoded...)
		}

		return table.VarcharData(values), nil

	default:
		return nil, fmt.Errorf("%w: unknown column type 0x%x", errs.ErrInvalidHeader, uint8(col.Type))
	}
}

// readBatch reads exactly the i-th batch's compressed bytes.
func readBatch(r io.Reader, col *ColumnMeta, i int) ([]byte, error) {
	size := col.Batches[i].CompressedSize

	batch := make([]byte, size)
	if _, err := io.ReadFull(r, batch); err != nil {
		return nil, fmt.Errorf("%w: column %q batch %d: %v", errs.ErrTruncatedPayload, col.Name, i, err)
	}

	return batch, nil
}
