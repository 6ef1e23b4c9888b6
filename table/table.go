// Package table provides the in-memory columnar container used between CSV
// ingest and the file format, plus the analytics helpers computed over it.
package table

import (
	"fmt"

	"github.com/arloliu/mimdb/errs"
	"github.com/arloliu/mimdb/format"
)

// ColumnData is an ordered sequence of values of a single column type. Row i
// of a table is the i-th element of every column.
type ColumnData interface {
	// Len returns the number of rows in the column.
	Len() int
	// Type returns the value type of the column.
	Type() format.ColumnType
}

// Int64Data is an int64 column.
type Int64Data []int64

// VarcharData is a UTF-8 string column.
type VarcharData []string

func (d Int64Data) Len() int                { return len(d) }
func (d Int64Data) Type() format.ColumnType { return format.Int64 }

func (d VarcharData) Len() int                { return len(d) }
func (d VarcharData) Type() format.ColumnType { return format.Varchar }

// Table is an in-memory columnar container. Column names are unique; every
// column has exactly RowCount rows. Columns iterate in insertion order so
// that serialization is deterministic for a given schema.
//
// Table is not safe for concurrent mutation.
type Table struct {
	columns map[string]ColumnData
	order   []string
	rowNum  int
}

// New creates an empty table with row count 0.
func New() *Table {
	return &Table{
		columns: make(map[string]ColumnData),
	}
}

// AddColumn adds a named column. The first column added fixes the table's
// row count; every later column must match it.
//
// Parameters:
//   - name: Column name, unique within the table
//   - data: Column values
//
// Returns:
//   - error: errs.ErrDuplicateColumn if name is already present,
//     errs.ErrColumnLength if data length differs from the fixed row count
func (t *Table) AddColumn(name string, data ColumnData) error {
	if _, exists := t.columns[name]; exists {
		return fmt.Errorf("%w: %q", errs.ErrDuplicateColumn, name)
	}

	if len(t.columns) > 0 && data.Len() != t.rowNum {
		return fmt.Errorf("%w: expected %d rows, got %d", errs.ErrColumnLength, t.rowNum, data.Len())
	}

	if len(t.columns) == 0 {
		t.rowNum = data.Len()
	}

	t.columns[name] = data
	t.order = append(t.order, name)

	return nil
}

// GetColumn looks up a column by name.
func (t *Table) GetColumn(name string) (ColumnData, bool) {
	data, ok := t.columns[name]
	return data, ok
}

// RowCount returns the number of rows, fixed by the first column added.
func (t *Table) RowCount() int {
	return t.rowNum
}

// ColumnCount returns the number of columns.
func (t *Table) ColumnCount() int {
	return len(t.columns)
}

// ColumnNames returns the column names in insertion order. The returned
// slice is shared; callers must not modify it.
func (t *Table) ColumnNames() []string {
	return t.order
}
