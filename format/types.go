// Package format defines the column types and on-disk constants of the
// MIMDB002 data file format.
package format

import (
	"fmt"

	"github.com/arloliu/mimdb/errs"
)

// ColumnType identifies the value type of a column. The set is closed:
// mimdb stores signed 64-bit integers and UTF-8 strings, nothing else.
type ColumnType uint8

const (
	Int64   ColumnType = 0x1 // Int64 is a non-nullable signed 64-bit integer column.
	Varchar ColumnType = 0x2 // Varchar is a non-nullable UTF-8 string column.
)

// File format constants. MagicBytes opens every data file; readers reject any
// other version than FormatVersion.
const (
	MagicBytes    = "MIMDB002"
	FormatVersion = 2
)

// Batch sizing policy for the chunked writer. Batch boundaries bound the
// peak uncompressed memory a reader must hold per column.
const (
	DefaultBatchSize = 100_000
	MinBatchSize     = 1_000
	MaxBatchSize     = 1_000_000
)

// ClampBatchSize clamps size into [MinBatchSize, MaxBatchSize].
func ClampBatchSize(size int) int {
	return min(max(size, MinBatchSize), MaxBatchSize)
}

func (t ColumnType) String() string {
	switch t {
	case Int64:
		return "INT64"
	case Varchar:
		return "VARCHAR"
	default:
		return "Unknown"
	}
}

// Valid reports whether t is a known column type.
func (t ColumnType) Valid() bool {
	return t == Int64 || t == Varchar
}

// ParseColumnType parses the textual form used by the catalog and the API.
func ParseColumnType(s string) (ColumnType, error) {
	switch s {
	case "INT64":
		return Int64, nil
	case "VARCHAR":
		return Varchar, nil
	default:
		return 0, fmt.Errorf("%w: unknown column type %q", errs.ErrInvalidQuery, s)
	}
}

// MarshalJSON encodes the type as its textual form.
func (t ColumnType) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid column type 0x%x", uint8(t))
	}

	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON decodes the textual form.
func (t *ColumnType) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("%w: column type must be a string", errs.ErrInvalidQuery)
	}

	parsed, err := ParseColumnType(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*t = parsed

	return nil
}
