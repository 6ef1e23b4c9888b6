// Package api exposes the executor and metastore as a JSON HTTP service.
package api

import (
	"time"

	"github.com/arloliu/mimdb/format"
	"github.com/arloliu/mimdb/metastore"
	"github.com/arloliu/mimdb/query"
	"github.com/arloliu/mimdb/table"
)

// ColumnDef is the wire form of one schema column.
type ColumnDef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// CreateTableRequest is the body of POST /tables.
type CreateTableRequest struct {
	Name    string      `json:"name"`
	Columns []ColumnDef `json:"columns"`
}

// CreateTableResponse carries the new table's id.
type CreateTableResponse struct {
	TableID string `json:"table_id"`
}

// TableSummary is one entry of GET /tables.
type TableSummary struct {
	TableID string `json:"table_id"`
	Name    string `json:"name"`
}

// TableResponse is the full table view of GET /tables/{id}.
type TableResponse struct {
	TableID   string      `json:"table_id"`
	Name      string      `json:"name"`
	Columns   []ColumnDef `json:"columns"`
	DataFiles int         `json:"data_file_count"`
	CreatedAt time.Time   `json:"created_at"`
}

// CopyQueryRequest is the COPY variant of a submission.
type CopyQueryRequest struct {
	SourceFilepath       string   `json:"source_filepath"`
	DestinationTableName string   `json:"destination_table_name"`
	DestinationColumns   []string `json:"destination_columns,omitempty"`
	HasHeader            bool     `json:"has_header"`
}

// SelectQueryRequest is the SELECT variant of a submission.
type SelectQueryRequest struct {
	TableName string `json:"table_name"`
}

// SubmitQueryRequest is the body of POST /queries; exactly one variant must
// be set.
type SubmitQueryRequest struct {
	Copy   *CopyQueryRequest   `json:"copy,omitempty"`
	Select *SelectQueryRequest `json:"select,omitempty"`
}

// SubmitQueryResponse carries the new query's id.
type SubmitQueryResponse struct {
	QueryID string `json:"query_id"`
}

// QuerySummary is one entry of GET /queries.
type QuerySummary struct {
	QueryID string `json:"query_id"`
	Status  string `json:"status"`
}

// QueryResponse is the full query view of GET /queries/{id}.
type QueryResponse struct {
	QueryID string `json:"query_id"`
	Type    string `json:"type"`
	Status  string `json:"status"`
}

// ResultColumn is the wire form of one result column; exactly one value
// slice is populated, matching Type.
type ResultColumn struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	Int64Values   []int64  `json:"int64_values,omitempty"`
	VarcharValues []string `json:"varchar_values,omitempty"`
}

// QueryResultResponse is the body of GET /queries/{id}/result.
type QueryResultResponse struct {
	RowCount int            `json:"row_count"`
	Columns  []ResultColumn `json:"columns"`
}

// QueryErrorResponse is the body of GET /queries/{id}/error.
type QueryErrorResponse struct {
	Problems []string `json:"problems"`
}

// SystemInfoResponse is the body of GET /system/info.
type SystemInfoResponse struct {
	InterfaceVersion string `json:"interface_version"`
	Version          string `json:"version"`
	Author           string `json:"author"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// toColumnDefs converts catalog columns to their wire form.
func toColumnDefs(columns []metastore.ColumnMetadata) []ColumnDef {
	defs := make([]ColumnDef, 0, len(columns))
	for _, col := range columns {
		defs = append(defs, ColumnDef{Name: col.Name, Type: col.Type.String()})
	}

	return defs
}

// toResultColumns converts an executor result to its wire form.
func toResultColumns(result *query.Result) []ResultColumn {
	columns := make([]ResultColumn, 0, len(result.Columns))
	for _, col := range result.Columns {
		wire := ResultColumn{Name: col.Name, Type: col.Data.Type().String()}
		switch data := col.Data.(type) {
		case table.Int64Data:
			wire.Int64Values = data
		case table.VarcharData:
			wire.VarcharValues = data
		}
		columns = append(columns, wire)
	}

	return columns
}

// parseColumnDefs converts wire columns to catalog columns.
func parseColumnDefs(defs []ColumnDef) ([]metastore.ColumnMetadata, error) {
	columns := make([]metastore.ColumnMetadata, 0, len(defs))
	for _, def := range defs {
		colType, err := format.ParseColumnType(def.Type)
		if err != nil {
			return nil, err
		}
		columns = append(columns, metastore.ColumnMetadata{Name: def.Name, Type: colType})
	}

	return columns, nil
}
