package metastore

import (
	"time"

	"github.com/arloliu/mimdb/format"
)

// ColumnMetadata describes a single column of a table schema.
type ColumnMetadata struct {
	Name string            `json:"name"`
	Type format.ColumnType `json:"column_type"`
}

// TableMetadata is the catalog entry for one table. Column order is
// schema-significant and preserved on reads; DataFiles is the append order
// of successful COPY operations.
type TableMetadata struct {
	TableID   string           `json:"table_id"`
	Name      string           `json:"name"`
	Columns   []ColumnMetadata `json:"columns"`
	DataFiles []string         `json:"data_files"`
	CreatedAt time.Time        `json:"created_at"`
}

// clone returns a deep copy so callers can hold snapshots without aliasing
// catalog state.
func (t *TableMetadata) clone() TableMetadata {
	out := *t
	out.Columns = append([]ColumnMetadata(nil), t.Columns...)
	out.DataFiles = append([]string(nil), t.DataFiles...)

	return out
}

// Column looks up a schema column by name.
func (t *TableMetadata) Column(name string) (ColumnMetadata, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}

	return ColumnMetadata{}, false
}

// PendingDeletion is the tombstone for a table that has been logically
// dropped while in-flight queries may still be reading its files.
type PendingDeletion struct {
	TableID   string   `json:"table_id"`
	DataFiles []string `json:"data_files"`
	TableDir  string   `json:"table_dir"`
}

// metastoreState is the persisted catalog. Invariants: NameToID is exactly
// the inverse of {id -> t.Name}; no name appears both in Tables and in a
// pending deletion.
type metastoreState struct {
	Tables           map[string]TableMetadata `json:"tables"`
	NameToID         map[string]string        `json:"name_to_id"`
	PendingDeletions []PendingDeletion        `json:"pending_deletions"`
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func newMetastoreState() metastoreState {
	return metastoreState{
		Tables:   make(map[string]TableMetadata),
		NameToID: make(map[string]string),
	}
}
