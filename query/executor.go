package query

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/arloliu/mimdb/blob"
	"github.com/arloliu/mimdb/errs"
	"github.com/arloliu/mimdb/format"
	"github.com/arloliu/mimdb/metastore"
	"github.com/arloliu/mimdb/table"
)

// queryRecord is the executor's bookkeeping for one submitted query.
type queryRecord struct {
	queryID    string
	definition Definition
	status     Status
	result     *Result
	problems   []string
	submitted  time.Time
}

// Ref is the shallow (id, status) listing entry.
type Ref struct {
	QueryID string
	Status  Status
}

// Record is a point-in-time snapshot of a query's state.
type Record struct {
	QueryID    string
	Definition Definition
	Status     Status
	HasResult  bool
	Problems   []string
}

// Executor accepts COPY and SELECT queries, plans them, runs the blocking
// work off the submission path, tracks per-query status, and guarantees that
// every table file referenced by a running query remains on disk until the
// query finishes.
//
// Submission is synchronous only up to validate + access acquisition +
// record insertion; everything else runs on a background goroutine whose
// CPU-bound phases are admitted through a weighted semaphore sized to the
// host parallelism, so a single heavy query cannot monopolize the scheduler.
type Executor struct {
	ms *metastore.Metastore

	mu      sync.RWMutex
	queries map[string]*queryRecord

	workers *semaphore.Weighted
	logger  *zap.Logger
	metrics *Metrics
}

// NewExecutor creates an executor over the given metastore.
//
// Parameters:
//   - ms: Catalog the executor plans and executes against
//   - logger: Structured logger (nil for no logging)
//   - metrics: Executor collectors (nil to disable)
func NewExecutor(ms *metastore.Metastore, logger *zap.Logger, metrics *Metrics) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Executor{
		ms:      ms,
		queries: make(map[string]*queryRecord),
		workers: semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		logger:  logger,
		metrics: metrics,
	}
}

// Submit validates a query, acquires table access, records it in state
// Created, and spawns the background task. The synchronous prefix is bounded
// and independent of the query's work.
//
// Access is acquired before any background work starts: a DROP racing with
// Submit is resolved by whichever wins, and if the DROP wins, Submit fails
// and no task is spawned.
//
// Parameters:
//   - def: Query definition
//
// Returns:
//   - string: The new query's UUID
//   - error: BadRequest-kind for an invalid shape, NotFound-kind when the
//     table or source file is missing
func (e *Executor) Submit(def Definition) (string, error) {
	if err := def.Validate(); err != nil {
		return "", err
	}
	if err := e.validate(&def); err != nil {
		return "", err
	}

	queryID := uuid.NewString()

	tableID, err := e.acquireAccess(&def, queryID)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.queries[queryID] = &queryRecord{
		queryID:    queryID,
		definition: def,
		status:     StatusCreated,
		submitted:  time.Now(),
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.QueriesSubmitted.WithLabelValues(def.Type()).Inc()
	}
	e.logger.Info("query submitted",
		zap.String("query_id", queryID),
		zap.String("type", def.Type()),
		zap.String("table", def.TableName()))

	go e.run(queryID, def, tableID)

	return queryID, nil
}

// validate performs the cheap synchronous checks: referenced table and, for
// COPY, source file must exist.
func (e *Executor) validate(def *Definition) error {
	switch {
	case def.Copy != nil:
		if !e.ms.TableExists(def.Copy.DestinationTableName) {
			return fmt.Errorf("%w: %q", errs.ErrTableNotFound, def.Copy.DestinationTableName)
		}
		if _, err := os.Stat(def.Copy.SourceFilepath); err != nil {
			return fmt.Errorf("%w: %q", errs.ErrSourceNotFound, def.Copy.SourceFilepath)
		}
	case def.Select != nil:
		if !e.ms.TableExists(def.Select.TableName) {
			return fmt.Errorf("%w: %q", errs.ErrTableNotFound, def.Select.TableName)
		}
	}

	return nil
}

// acquireAccess resolves the definition's table and registers the query as a
// reader. A table that vanished between validate and here fails the
// submission with errs.ErrTableNotFound, the same as a failed acquire.
func (e *Executor) acquireAccess(def *Definition, queryID string) (string, error) {
	tbl, ok := e.ms.GetTableByName(def.TableName())
	if !ok {
		return "", fmt.Errorf("%w: %q", errs.ErrTableNotFound, def.TableName())
	}

	if err := e.ms.AcquireTableAccess(tbl.TableID, queryID); err != nil {
		return "", err
	}

	return tbl.TableID, nil
}

// run is the background task: plan, execute, record the outcome. Table
// access is released on every exit path, including panics.
func (e *Executor) run(queryID string, def Definition, tableID string) {
	// Registered first so it fires last: the release must happen after a
	// panic has been recorded.
	defer func() {
		if tableID != "" {
			e.ms.ReleaseTableAccess(tableID, queryID)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			e.finish(queryID, StatusFailed, nil, fmt.Sprintf("Execution task panicked: %v", r))
		}
	}()

	e.setStatus(queryID, StatusPlanning)

	var plan *Plan
	var err error
	e.onWorker(func() {
		plan, err = BuildPlan(e.ms, &def)
	})
	if err != nil {
		e.finish(queryID, StatusFailed, nil, fmt.Sprintf("Planning failed: %v", err))
		return
	}

	e.setStatus(queryID, StatusRunning)

	var result *Result
	e.onWorker(func() {
		result, err = e.executePlan(plan)
	})
	if err != nil {
		e.finish(queryID, StatusFailed, nil, fmt.Sprintf("Execution failed: %v", err))
		return
	}

	e.finish(queryID, StatusCompleted, result, "")
}

// onWorker runs fn with a blocking-worker slot held.
func (e *Executor) onWorker(fn func()) {
	// The background context never cancels, so Acquire only fails on a
	// cancelled context and the error is unreachable here.
	_ = e.workers.Acquire(context.Background(), 1)
	defer e.workers.Release(1)

	fn()
}

// executePlan dispatches to the plan variant. COPY produces no result.
func (e *Executor) executePlan(plan *Plan) (*Result, error) {
	switch {
	case plan.Copy != nil:
		return nil, e.executeCopy(plan.Copy)
	case plan.Select != nil:
		return e.executeSelect(plan.Select)
	default:
		return nil, fmt.Errorf("%w: empty plan", errs.ErrInvalidQuery)
	}
}

// executeCopy ingests the CSV, serializes the table to a fresh data file,
// and only then registers the file with the metastore: the file is complete
// on disk before any future query can see it. A failed ingest registers
// nothing, so a partially written file stays invisible garbage.
func (e *Executor) executeCopy(plan *CopyPlan) error {
	tbl, err := ingestCSV(plan)
	if err != nil {
		return err
	}

	dataFilePath := e.ms.GenerateDataFilePath(plan.TableMeta.TableID)
	if err := os.MkdirAll(filepath.Dir(dataFilePath), 0o755); err != nil {
		return fmt.Errorf("create table directory: %w", err)
	}

	if err := blob.WriteFile(dataFilePath, tbl); err != nil {
		return err
	}

	return e.ms.AddDataFile(plan.TableMeta.TableID, dataFilePath)
}

// executeSelect reads every file in the plan's snapshot in order and appends
// its columns to the output, which is ordered by the table schema regardless
// of per-file layout.
func (e *Executor) executeSelect(plan *SelectPlan) (*Result, error) {
	merged := make(map[string]table.ColumnData, len(plan.TableMeta.Columns))
	for _, col := range plan.TableMeta.Columns {
		merged[col.Name] = newEmptyColumn(col.Type)
	}

	totalRows := 0
	for _, path := range plan.DataFiles {
		tbl, err := blob.ReadFile(path)
		if err != nil {
			return nil, err
		}

		for _, name := range tbl.ColumnNames() {
			data, _ := tbl.GetColumn(name)
			dest, ok := merged[name]
			if !ok {
				continue
			}
			merged[name] = appendColumn(dest, data)
		}

		totalRows += tbl.RowCount()
	}

	result := &Result{RowCount: totalRows}
	for _, col := range plan.TableMeta.Columns {
		result.Columns = append(result.Columns, ResultColumn{
			Name: col.Name,
			Data: merged[col.Name],
		})
	}

	return result, nil
}

// ListQueries returns (id, status) pairs for all known queries.
func (e *Executor) ListQueries() []Ref {
	e.mu.RLock()
	defer e.mu.RUnlock()

	refs := make([]Ref, 0, len(e.queries))
	for _, q := range e.queries {
		refs = append(refs, Ref{QueryID: q.queryID, Status: q.status})
	}

	return refs
}

// GetQuery returns a snapshot of one query's state.
func (e *Executor) GetQuery(queryID string) (Record, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	q, ok := e.queries[queryID]
	if !ok {
		return Record{}, false
	}

	return Record{
		QueryID:    q.queryID,
		Definition: q.definition,
		Status:     q.status,
		HasResult:  q.result != nil,
		Problems:   append([]string(nil), q.problems...),
	}, true
}

// GetResult returns a completed SELECT's result, optionally truncated.
//
// Parameters:
//   - queryID: Query to fetch
//   - rowLimit: Negative for no limit; a limit below the stored row count
//     truncates every column and overwrites the row count
//
// Returns:
//   - *Result: Stored (possibly truncated) result
//   - error: errs.ErrQueryNotFound; errs.ErrQueryNotCompleted while
//     non-terminal or failed; errs.ErrNoResult for COPY;
//     errs.ErrResultNotAvailable after ClearResult
func (e *Executor) GetResult(queryID string, rowLimit int) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	q, ok := e.queries[queryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrQueryNotFound, queryID)
	}

	if q.status != StatusCompleted {
		return nil, fmt.Errorf("%w: status is %s", errs.ErrQueryNotCompleted, q.status)
	}
	if q.definition.Copy != nil {
		return nil, fmt.Errorf("%w: COPY queries produce no result", errs.ErrNoResult)
	}
	if q.result == nil {
		return nil, errs.ErrResultNotAvailable
	}

	if rowLimit >= 0 {
		return q.result.truncated(rowLimit), nil
	}

	return q.result, nil
}

// ClearResult drops a query's stored result from memory. The record itself
// remains, still Completed; later GetResult calls report the result as
// unavailable.
func (e *Executor) ClearResult(queryID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	q, ok := e.queries[queryID]
	if !ok {
		return fmt.Errorf("%w: %s", errs.ErrQueryNotFound, queryID)
	}

	q.result = nil

	return nil
}

// GetError returns the problem list of a failed query.
func (e *Executor) GetError(queryID string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	q, ok := e.queries[queryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrQueryNotFound, queryID)
	}

	if q.status != StatusFailed {
		return nil, fmt.Errorf("%w: status is %s", errs.ErrQueryNotFailed, q.status)
	}

	return append([]string(nil), q.problems...), nil
}

// WaitForCompletion polls until the query reaches a terminal state or ctx is
// done. Intended for tests and synchronous callers.
func (e *Executor) WaitForCompletion(ctx context.Context, queryID string) (Status, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		e.mu.RLock()
		q, ok := e.queries[queryID]
		var status Status
		if ok {
			status = q.status
		}
		e.mu.RUnlock()

		if !ok {
			return 0, fmt.Errorf("%w: %s", errs.ErrQueryNotFound, queryID)
		}
		if status.Terminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

// setStatus advances a query's non-terminal status.
func (e *Executor) setStatus(queryID string, status Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if q, ok := e.queries[queryID]; ok && !q.status.Terminal() {
		q.status = status
	}
}

// finish records a terminal transition with its result or problem message.
func (e *Executor) finish(queryID string, status Status, result *Result, problem string) {
	e.mu.Lock()
	q, ok := e.queries[queryID]
	if ok && !q.status.Terminal() {
		q.status = status
		q.result = result
		if problem != "" {
			q.problems = append(q.problems, problem)
		}
	}
	e.mu.Unlock()

	if !ok {
		return
	}

	if e.metrics != nil {
		outcome := "completed"
		if status == StatusFailed {
			outcome = "failed"
		}
		e.metrics.QueriesFinished.WithLabelValues(q.definition.Type(), outcome).Inc()
		e.metrics.QueryDuration.WithLabelValues(q.definition.Type()).
			Observe(time.Since(q.submitted).Seconds())
	}

	if status == StatusFailed {
		e.logger.Warn("query failed",
			zap.String("query_id", queryID), zap.String("problem", problem))
	} else {
		e.logger.Info("query completed", zap.String("query_id", queryID))
	}
}

// newEmptyColumn creates the zero-length column for a schema type.
func newEmptyColumn(t format.ColumnType) table.ColumnData {
	if t == format.Int64 {
		return table.Int64Data(nil)
	}

	return table.VarcharData(nil)
}

// appendColumn concatenates two columns of the same type. Mismatched types
// leave dest unchanged; the file reader has already type-checked the data.
func appendColumn(dest, src table.ColumnData) table.ColumnData {
	switch d := dest.(type) {
	case table.Int64Data:
		if s, ok := src.(table.Int64Data); ok {
			return append(d, s...)
		}
	case table.VarcharData:
		if s, ok := src.(table.VarcharData); ok {
			return append(d, s...)
		}
	}

	return dest
}
