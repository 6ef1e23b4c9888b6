// Package query implements the asynchronous query engine: the planner that
// resolves query definitions against the catalog, the CSV ingest path of
// COPY, and the executor that tracks per-query status and runs blocking work
// off the submission path.
package query

import (
	"fmt"

	"github.com/arloliu/mimdb/errs"
)

// CopyQuery ingests a CSV file into a table, producing one new immutable
// data file.
type CopyQuery struct {
	// SourceFilepath is the CSV file to ingest.
	SourceFilepath string
	// DestinationTableName names the target table.
	DestinationTableName string
	// DestinationColumns optionally projects a subset of the schema, in
	// target order. Nil means all schema columns in schema order.
	DestinationColumns []string
	// HasHeader instructs the CSV parser to skip the first record.
	HasHeader bool
}

// SelectQuery reads all data files of a table and returns their row-wise
// concatenation in schema column order.
type SelectQuery struct {
	TableName string
}

// Definition is a tagged query variant: exactly one of Copy or Select is
// set.
type Definition struct {
	Copy   *CopyQuery
	Select *SelectQuery
}

// Validate checks the definition's shape.
func (d *Definition) Validate() error {
	switch {
	case d.Copy != nil && d.Select != nil:
		return fmt.Errorf("%w: both copy and select set", errs.ErrInvalidQuery)
	case d.Copy != nil:
		if d.Copy.DestinationTableName == "" {
			return fmt.Errorf("%w: copy destination table name is empty", errs.ErrInvalidQuery)
		}
		if d.Copy.SourceFilepath == "" {
			return fmt.Errorf("%w: copy source filepath is empty", errs.ErrInvalidQuery)
		}

		return nil
	case d.Select != nil:
		if d.Select.TableName == "" {
			return fmt.Errorf("%w: select table name is empty", errs.ErrInvalidQuery)
		}

		return nil
	default:
		return fmt.Errorf("%w: neither copy nor select set", errs.ErrInvalidQuery)
	}
}

// TableName returns the table the definition refers to.
func (d *Definition) TableName() string {
	if d.Copy != nil {
		return d.Copy.DestinationTableName
	}
	if d.Select != nil {
		return d.Select.TableName
	}

	return ""
}

// Type returns "COPY" or "SELECT" for logging and metrics labels.
func (d *Definition) Type() string {
	if d.Copy != nil {
		return "COPY"
	}

	return "SELECT"
}

// Status is the lifecycle state of a submitted query. Transitions are
// monotonic: Created -> Planning -> Running -> {Completed | Failed}, and
// terminal states never transition.
type Status uint8

const (
	StatusCreated Status = iota
	StatusPlanning
	StatusRunning
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "CREATED"
	case StatusPlanning:
		return "PLANNING"
	case StatusRunning:
		return "RUNNING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the status is Completed or Failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
