package query

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/arloliu/mimdb/errs"
	"github.com/arloliu/mimdb/format"
	"github.com/arloliu/mimdb/table"
)

// asciiWhitespace is what gets trimmed off int64 fields before parsing.
// Varchar fields are taken verbatim.
const asciiWhitespace = " \t\n\v\f\r"

// ingestCSV stream-parses the plan's source file into an in-memory table
// with one column per target column, in target order.
//
// Field count is checked per record: a record must supply at least as many
// fields as there are target columns; extra fields are ignored. Any record
// failure fails the whole ingest with a row-qualified message. Row numbers
// are 1-based and count the header row when present.
func ingestCSV(plan *CopyPlan) (*table.Table, error) {
	f, err := os.Open(plan.SourceFilepath)
	if err != nil {
		return nil, fmt.Errorf("open CSV file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	// Record length is validated here with row-qualified errors, not by the
	// parser's uniform-length rule.
	reader.FieldsPerRecord = -1

	builders := make([]columnBuilder, len(plan.TargetColumns))
	for i, col := range plan.TargetColumns {
		builders[i] = newColumnBuilder(col.Type)
	}

	headerRows := 0
	if plan.HasHeader {
		if _, err := reader.Read(); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %v", errs.ErrInvalidCSVRecord, err)
		}
		headerRows = 1
	}

	for recordIdx := 0; ; recordIdx++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrInvalidCSVRecord, err)
		}

		rowNum := recordIdx + 1 + headerRows

		if len(record) < len(plan.TargetColumns) {
			return nil, fmt.Errorf("%w: Row %d: expected %d columns, but found %d columns",
				errs.ErrInvalidCSVRecord, rowNum, len(plan.TargetColumns), len(record))
		}

		for i, col := range plan.TargetColumns {
			if err := builders[i].append(record[i], rowNum, col.Name); err != nil {
				return nil, err
			}
		}
	}

	tbl := table.New()
	for i, col := range plan.TargetColumns {
		if err := tbl.AddColumn(col.Name, builders[i].data()); err != nil {
			return nil, err
		}
	}

	return tbl, nil
}

// columnBuilder accumulates one typed column during ingest.
type columnBuilder interface {
	append(raw string, rowNum int, columnName string) error
	data() table.ColumnData
}

func newColumnBuilder(t format.ColumnType) columnBuilder {
	if t == format.Int64 {
		return &int64Builder{}
	}

	return &varcharBuilder{}
}

type int64Builder struct {
	values []int64
}

func (b *int64Builder) append(raw string, rowNum int, columnName string) error {
	trimmed := strings.Trim(raw, asciiWhitespace)
	if trimmed == "" {
		return fmt.Errorf("%w: Row %d, column '%s': empty value cannot be parsed as INT64",
			errs.ErrInvalidFieldValue, rowNum, columnName)
	}

	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: Row %d, column '%s': failed to parse '%s' as INT64",
			errs.ErrInvalidFieldValue, rowNum, columnName, raw)
	}
	b.values = append(b.values, parsed)

	return nil
}

func (b *int64Builder) data() table.ColumnData {
	return table.Int64Data(b.values)
}

type varcharBuilder struct {
	values []string
}

func (b *varcharBuilder) append(raw string, _ int, _ string) error {
	b.values = append(b.values, raw)
	return nil
}

func (b *varcharBuilder) data() table.ColumnData {
	return table.VarcharData(b.values)
}
