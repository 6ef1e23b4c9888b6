package query

import (
	"github.com/arloliu/mimdb/table"
)

// ResultColumn is one output column of a SELECT, in schema order.
type ResultColumn struct {
	Name string
	Data table.ColumnData
}

// Result is the stored outcome of a completed SELECT: one column per schema
// column, each of RowCount rows.
type Result struct {
	RowCount int
	Columns  []ResultColumn
}

// truncated returns a copy of the result limited to its first limit rows.
// A limit at or above RowCount returns the result unchanged.
func (r *Result) truncated(limit int) *Result {
	if limit >= r.RowCount {
		return r
	}

	out := &Result{
		RowCount: limit,
		Columns:  make([]ResultColumn, 0, len(r.Columns)),
	}
	for _, col := range r.Columns {
		switch data := col.Data.(type) {
		case table.Int64Data:
			out.Columns = append(out.Columns, ResultColumn{Name: col.Name, Data: data[:limit]})
		case table.VarcharData:
			out.Columns = append(out.Columns, ResultColumn{Name: col.Name, Data: data[:limit]})
		}
	}

	return out
}
