package query

import (
	"fmt"
	"os"

	"github.com/arloliu/mimdb/errs"
	"github.com/arloliu/mimdb/metastore"
)

// CopyPlan is a fully resolved COPY: the destination table snapshot, the
// projected columns in target order, and the source.
type CopyPlan struct {
	TableMeta      metastore.TableMetadata
	TargetColumns  []metastore.ColumnMetadata
	SourceFilepath string
	HasHeader      bool
}

// SelectPlan is a fully resolved SELECT: the table snapshot and the data
// files that existed on disk at planning time.
type SelectPlan struct {
	TableMeta metastore.TableMetadata
	DataFiles []string
}

// Plan is a tagged plan variant mirroring Definition.
type Plan struct {
	Copy   *CopyPlan
	Select *SelectPlan
}

// BuildPlan validates and resolves a definition into an executable plan.
// Planning touches only the catalog and file paths, never data file
// contents.
func BuildPlan(ms *metastore.Metastore, def *Definition) (*Plan, error) {
	switch {
	case def.Copy != nil:
		plan, err := planCopy(ms, def.Copy)
		if err != nil {
			return nil, err
		}

		return &Plan{Copy: plan}, nil
	case def.Select != nil:
		plan, err := planSelect(ms, def.Select)
		if err != nil {
			return nil, err
		}

		return &Plan{Select: plan}, nil
	default:
		return nil, fmt.Errorf("%w: empty definition", errs.ErrInvalidQuery)
	}
}

// planCopy resolves the destination table and the projected column list.
func planCopy(ms *metastore.Metastore, q *CopyQuery) (*CopyPlan, error) {
	tableMeta, ok := ms.GetTableByName(q.DestinationTableName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errs.ErrTableNotFound, q.DestinationTableName)
	}

	var targetColumns []metastore.ColumnMetadata
	if q.DestinationColumns != nil {
		targetColumns = make([]metastore.ColumnMetadata, 0, len(q.DestinationColumns))
		for _, name := range q.DestinationColumns {
			col, found := tableMeta.Column(name)
			if !found {
				return nil, fmt.Errorf("%w: column %q not in table %q",
					errs.ErrColumnNotFound, name, q.DestinationTableName)
			}
			targetColumns = append(targetColumns, col)
		}
	} else {
		targetColumns = append(targetColumns, tableMeta.Columns...)
	}

	if _, err := os.Stat(q.SourceFilepath); err != nil {
		return nil, fmt.Errorf("%w: %q", errs.ErrSourceNotFound, q.SourceFilepath)
	}

	return &CopyPlan{
		TableMeta:      tableMeta,
		TargetColumns:  targetColumns,
		SourceFilepath: q.SourceFilepath,
		HasHeader:      q.HasHeader,
	}, nil
}

// planSelect resolves the table and snapshots the data files that currently
// exist. Files missing from disk are silently skipped: a path can linger in
// the catalog only transiently, and the access contract guarantees nothing
// in the snapshot vanishes mid-read.
func planSelect(ms *metastore.Metastore, q *SelectQuery) (*SelectPlan, error) {
	tableMeta, ok := ms.GetTableByName(q.TableName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errs.ErrTableNotFound, q.TableName)
	}

	dataFiles := make([]string, 0, len(tableMeta.DataFiles))
	for _, path := range tableMeta.DataFiles {
		if _, err := os.Stat(path); err == nil {
			dataFiles = append(dataFiles, path)
		}
	}

	return &SelectPlan{
		TableMeta: tableMeta,
		DataFiles: dataFiles,
	}, nil
}
