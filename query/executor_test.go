package query

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/mimdb/errs"
	"github.com/arloliu/mimdb/format"
	"github.com/arloliu/mimdb/metastore"
	"github.com/arloliu/mimdb/table"
)

func newTestEngine(t *testing.T) (*metastore.Metastore, *Executor, string) {
	t.Helper()

	dir := t.TempDir()
	ms, err := metastore.Open(dir, nil)
	require.NoError(t, err)

	return ms, NewExecutor(ms, nil, nil), dir
}

func createUsersTable(t *testing.T, ms *metastore.Metastore) metastore.TableMetadata {
	t.Helper()

	tbl, err := ms.CreateTable("users", []metastore.ColumnMetadata{
		{Name: "id", Type: format.Int64},
		{Name: "name", Type: format.Varchar},
	})
	require.NoError(t, err)

	return tbl
}

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func waitDone(t *testing.T, e *Executor, queryID string) Status {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, err := e.WaitForCompletion(ctx, queryID)
	require.NoError(t, err)

	return status
}

func TestCopyAndSelect(t *testing.T) {
	// S4: COPY three rows, then SELECT them back in schema order.
	ms, e, dir := newTestEngine(t)
	createUsersTable(t, ms)

	csvPath := writeCSV(t, dir, "users.csv", "1,Alice\n2,Bob\n3,Charlie\n")

	copyID, err := e.Submit(Definition{Copy: &CopyQuery{
		SourceFilepath:       csvPath,
		DestinationTableName: "users",
	}})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitDone(t, e, copyID))

	selectID, err := e.Submit(Definition{Select: &SelectQuery{TableName: "users"}})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitDone(t, e, selectID))

	result, err := e.GetResult(selectID, -1)
	require.NoError(t, err)
	require.Equal(t, 3, result.RowCount)
	require.Len(t, result.Columns, 2)

	require.Equal(t, "id", result.Columns[0].Name)
	require.Equal(t, table.Int64Data{1, 2, 3}, result.Columns[0].Data)
	require.Equal(t, "name", result.Columns[1].Name)
	require.Equal(t, table.VarcharData{"Alice", "Bob", "Charlie"}, result.Columns[1].Data)
}

func TestTwoCopiesAppend(t *testing.T) {
	// S5: two COPYs append; SELECT sees the union and the catalog lists two
	// data files.
	ms, e, dir := newTestEngine(t)
	tbl := createUsersTable(t, ms)

	pathA := writeCSV(t, dir, "a.csv", "1,Alice\n2,Bob\n")
	pathB := writeCSV(t, dir, "b.csv", "3,Charlie\n4,Dora\n5,Eve\n")

	copyA, err := e.Submit(Definition{Copy: &CopyQuery{SourceFilepath: pathA, DestinationTableName: "users"}})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitDone(t, e, copyA))

	copyB, err := e.Submit(Definition{Copy: &CopyQuery{SourceFilepath: pathB, DestinationTableName: "users"}})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitDone(t, e, copyB))

	selectID, err := e.Submit(Definition{Select: &SelectQuery{TableName: "users"}})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitDone(t, e, selectID))

	result, err := e.GetResult(selectID, -1)
	require.NoError(t, err)
	require.Equal(t, 5, result.RowCount)

	updated, ok := ms.GetTable(tbl.TableID)
	require.True(t, ok)
	require.Len(t, updated.DataFiles, 2)
}

func TestCopyWithHeader(t *testing.T) {
	ms, e, dir := newTestEngine(t)
	createUsersTable(t, ms)

	csvPath := writeCSV(t, dir, "users.csv", "id,name\n100,John\n200,Jane\n")

	copyID, err := e.Submit(Definition{Copy: &CopyQuery{
		SourceFilepath:       csvPath,
		DestinationTableName: "users",
		HasHeader:            true,
	}})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitDone(t, e, copyID))

	selectID, err := e.Submit(Definition{Select: &SelectQuery{TableName: "users"}})
	require.NoError(t, err)
	waitDone(t, e, selectID)

	result, err := e.GetResult(selectID, -1)
	require.NoError(t, err)
	require.Equal(t, 2, result.RowCount)
}

func TestCopyWithSpecificColumns(t *testing.T) {
	ms, e, dir := newTestEngine(t)
	_, err := ms.CreateTable("persons", []metastore.ColumnMetadata{
		{Name: "id", Type: format.Int64},
		{Name: "name", Type: format.Varchar},
		{Name: "age", Type: format.Int64},
	})
	require.NoError(t, err)

	csvPath := writeCSV(t, dir, "persons.csv", "1,Alice\n2,Bob\n")

	copyID, err := e.Submit(Definition{Copy: &CopyQuery{
		SourceFilepath:       csvPath,
		DestinationTableName: "persons",
		DestinationColumns:   []string{"id", "name"},
	}})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitDone(t, e, copyID))
}

func TestSelectEmptyTable(t *testing.T) {
	ms, e, _ := newTestEngine(t)
	createUsersTable(t, ms)

	selectID, err := e.Submit(Definition{Select: &SelectQuery{TableName: "users"}})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitDone(t, e, selectID))

	result, err := e.GetResult(selectID, -1)
	require.NoError(t, err)
	require.Equal(t, 0, result.RowCount)
	require.Len(t, result.Columns, 2)
}

func TestSubmit_NonexistentTable(t *testing.T) {
	_, e, _ := newTestEngine(t)

	_, err := e.Submit(Definition{Select: &SelectQuery{TableName: "nonexistent"}})
	require.Error(t, err)
	require.Equal(t, errs.KindNotFound, errs.Classify(err))
}

func TestSubmit_MissingSourceFile(t *testing.T) {
	ms, e, _ := newTestEngine(t)
	createUsersTable(t, ms)

	_, err := e.Submit(Definition{Copy: &CopyQuery{
		SourceFilepath:       "/nonexistent/path/file.csv",
		DestinationTableName: "users",
	}})
	require.Error(t, err)
	require.Equal(t, errs.KindNotFound, errs.Classify(err))
}

func TestSubmit_InvalidShape(t *testing.T) {
	_, e, _ := newTestEngine(t)

	_, err := e.Submit(Definition{})
	require.Error(t, err)
	require.Equal(t, errs.KindBadRequest, errs.Classify(err))

	_, err = e.Submit(Definition{Select: &SelectQuery{}})
	require.Error(t, err)
	require.Equal(t, errs.KindBadRequest, errs.Classify(err))
}

func TestGetResult_RowLimit(t *testing.T) {
	ms, e, dir := newTestEngine(t)
	_, err := ms.CreateTable("data", []metastore.ColumnMetadata{{Name: "id", Type: format.Int64}})
	require.NoError(t, err)

	csvPath := writeCSV(t, dir, "data.csv", "1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n")

	copyID, err := e.Submit(Definition{Copy: &CopyQuery{SourceFilepath: csvPath, DestinationTableName: "data"}})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitDone(t, e, copyID))

	selectID, err := e.Submit(Definition{Select: &SelectQuery{TableName: "data"}})
	require.NoError(t, err)
	waitDone(t, e, selectID)

	// Limit below the count truncates every column and the count.
	limited, err := e.GetResult(selectID, 3)
	require.NoError(t, err)
	require.Equal(t, 3, limited.RowCount)
	require.Equal(t, table.Int64Data{1, 2, 3}, limited.Columns[0].Data)

	// No limit returns everything.
	full, err := e.GetResult(selectID, -1)
	require.NoError(t, err)
	require.Equal(t, 10, full.RowCount)

	// A limit at or above the count returns the full result.
	high, err := e.GetResult(selectID, 100)
	require.NoError(t, err)
	require.Equal(t, 10, high.RowCount)

	exact, err := e.GetResult(selectID, 10)
	require.NoError(t, err)
	require.Equal(t, 10, exact.RowCount)
}

func TestGetResult_Errors(t *testing.T) {
	ms, e, dir := newTestEngine(t)
	createUsersTable(t, ms)

	_, err := e.GetResult("nonexistent-query-id", -1)
	require.Error(t, err)
	require.Equal(t, errs.KindNotFound, errs.Classify(err))

	// COPY completes but has no result.
	csvPath := writeCSV(t, dir, "u.csv", "1,Alice\n")
	copyID, err := e.Submit(Definition{Copy: &CopyQuery{SourceFilepath: csvPath, DestinationTableName: "users"}})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitDone(t, e, copyID))

	_, err = e.GetResult(copyID, -1)
	require.Error(t, err)
	require.Equal(t, errs.KindBadRequest, errs.Classify(err))
}

func TestClearResult(t *testing.T) {
	ms, e, dir := newTestEngine(t)
	createUsersTable(t, ms)

	csvPath := writeCSV(t, dir, "u.csv", "1,Alice\n")
	copyID, err := e.Submit(Definition{Copy: &CopyQuery{SourceFilepath: csvPath, DestinationTableName: "users"}})
	require.NoError(t, err)
	waitDone(t, e, copyID)

	selectID, err := e.Submit(Definition{Select: &SelectQuery{TableName: "users"}})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitDone(t, e, selectID))

	_, err = e.GetResult(selectID, -1)
	require.NoError(t, err)

	require.NoError(t, e.ClearResult(selectID))

	// The record survives, still Completed, but the result is gone.
	record, ok := e.GetQuery(selectID)
	require.True(t, ok)
	require.Equal(t, StatusCompleted, record.Status)
	require.False(t, record.HasResult)

	_, err = e.GetResult(selectID, -1)
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrResultNotAvailable)
}

func TestCopy_EmptyInt64Cell(t *testing.T) {
	// S7: an empty int cell fails the whole COPY with a row-qualified
	// message and registers no file.
	ms, e, dir := newTestEngine(t)
	tbl, err := ms.CreateTable("test", []metastore.ColumnMetadata{
		{Name: "id", Type: format.Int64},
		{Name: "value", Type: format.Int64},
	})
	require.NoError(t, err)

	csvPath := writeCSV(t, dir, "empty_int.csv", "1,100\n2,\n3,300\n")

	queryID, err := e.Submit(Definition{Copy: &CopyQuery{SourceFilepath: csvPath, DestinationTableName: "test"}})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, waitDone(t, e, queryID))

	problems, err := e.GetError(queryID)
	require.NoError(t, err)
	require.Len(t, problems, 1)
	require.Contains(t, problems[0], "Row 2")
	require.Contains(t, problems[0], "empty value")
	require.Contains(t, problems[0], "INT64")

	updated, ok := ms.GetTable(tbl.TableID)
	require.True(t, ok)
	require.Empty(t, updated.DataFiles)
}

func TestCopy_InvalidInt64Value(t *testing.T) {
	ms, e, dir := newTestEngine(t)
	_, err := ms.CreateTable("test", []metastore.ColumnMetadata{{Name: "id", Type: format.Int64}})
	require.NoError(t, err)

	csvPath := writeCSV(t, dir, "invalid.csv", "1\nabc\n3\n")

	queryID, err := e.Submit(Definition{Copy: &CopyQuery{SourceFilepath: csvPath, DestinationTableName: "test"}})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, waitDone(t, e, queryID))

	problems, err := e.GetError(queryID)
	require.NoError(t, err)
	require.Contains(t, problems[0], "failed to parse")
	require.Contains(t, problems[0], "abc")
}

func TestCopy_MissingFields(t *testing.T) {
	ms, e, dir := newTestEngine(t)
	_, err := ms.CreateTable("test", []metastore.ColumnMetadata{
		{Name: "id", Type: format.Int64},
		{Name: "name", Type: format.Varchar},
		{Name: "value", Type: format.Int64},
	})
	require.NoError(t, err)

	csvPath := writeCSV(t, dir, "missing.csv", "1,Alice,100\n2,Bob\n3,Charlie,300\n")

	queryID, err := e.Submit(Definition{Copy: &CopyQuery{SourceFilepath: csvPath, DestinationTableName: "test"}})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, waitDone(t, e, queryID))

	problems, err := e.GetError(queryID)
	require.NoError(t, err)
	require.NotEmpty(t, problems)
}

func TestCopy_ExtraFieldsIgnored(t *testing.T) {
	ms, e, dir := newTestEngine(t)
	createUsersTable(t, ms)

	csvPath := writeCSV(t, dir, "extra.csv", "1,Alice,extra1,extra2\n2,Bob,extra3,extra4\n")

	queryID, err := e.Submit(Definition{Copy: &CopyQuery{SourceFilepath: csvPath, DestinationTableName: "users"}})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitDone(t, e, queryID))

	selectID, err := e.Submit(Definition{Select: &SelectQuery{TableName: "users"}})
	require.NoError(t, err)
	waitDone(t, e, selectID)

	result, err := e.GetResult(selectID, -1)
	require.NoError(t, err)
	require.Equal(t, 2, result.RowCount)
	require.Equal(t, table.VarcharData{"Alice", "Bob"}, result.Columns[1].Data)
}

func TestVarcharVerbatim(t *testing.T) {
	// Varchar fields keep surrounding whitespace and empty values.
	ms, e, dir := newTestEngine(t)
	createUsersTable(t, ms)

	csvPath := writeCSV(t, dir, "strings.csv", "1, padded \n2,\n")

	queryID, err := e.Submit(Definition{Copy: &CopyQuery{SourceFilepath: csvPath, DestinationTableName: "users"}})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitDone(t, e, queryID))

	selectID, err := e.Submit(Definition{Select: &SelectQuery{TableName: "users"}})
	require.NoError(t, err)
	waitDone(t, e, selectID)

	result, err := e.GetResult(selectID, -1)
	require.NoError(t, err)
	require.Equal(t, table.VarcharData{" padded ", ""}, result.Columns[1].Data)
}

func TestInt64FieldTrimmed(t *testing.T) {
	ms, e, dir := newTestEngine(t)
	_, err := ms.CreateTable("nums", []metastore.ColumnMetadata{{Name: "v", Type: format.Int64}})
	require.NoError(t, err)

	csvPath := writeCSV(t, dir, "nums.csv", " 42 \n\t-7\n")

	queryID, err := e.Submit(Definition{Copy: &CopyQuery{SourceFilepath: csvPath, DestinationTableName: "nums"}})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitDone(t, e, queryID))

	selectID, err := e.Submit(Definition{Select: &SelectQuery{TableName: "nums"}})
	require.NoError(t, err)
	waitDone(t, e, selectID)

	result, err := e.GetResult(selectID, -1)
	require.NoError(t, err)
	require.Equal(t, table.Int64Data{42, -7}, result.Columns[0].Data)
}

func TestGetError_Preconditions(t *testing.T) {
	ms, e, _ := newTestEngine(t)
	createUsersTable(t, ms)

	_, err := e.GetError("nonexistent")
	require.Error(t, err)
	require.Equal(t, errs.KindNotFound, errs.Classify(err))

	selectID, err := e.Submit(Definition{Select: &SelectQuery{TableName: "users"}})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitDone(t, e, selectID))

	_, err = e.GetError(selectID)
	require.Error(t, err)
	require.Equal(t, errs.KindPrecondition, errs.Classify(err))
}

func TestListQueries(t *testing.T) {
	ms, e, _ := newTestEngine(t)
	createUsersTable(t, ms)

	id1, err := e.Submit(Definition{Select: &SelectQuery{TableName: "users"}})
	require.NoError(t, err)
	id2, err := e.Submit(Definition{Select: &SelectQuery{TableName: "users"}})
	require.NoError(t, err)

	waitDone(t, e, id1)
	waitDone(t, e, id2)

	refs := e.ListQueries()
	require.Len(t, refs, 2)
	for _, ref := range refs {
		require.Equal(t, StatusCompleted, ref.Status)
	}
}

func TestGetQuery_Missing(t *testing.T) {
	_, e, _ := newTestEngine(t)

	_, ok := e.GetQuery("nonexistent-query-id")
	require.False(t, ok)
}

func TestQueryStatusTracking(t *testing.T) {
	ms, e, _ := newTestEngine(t)
	createUsersTable(t, ms)

	selectID, err := e.Submit(Definition{Select: &SelectQuery{TableName: "users"}})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitDone(t, e, selectID))

	record, ok := e.GetQuery(selectID)
	require.True(t, ok)
	require.Equal(t, StatusCompleted, record.Status)
	require.Empty(t, record.Problems)
	require.True(t, record.HasResult)
}

func TestDropWithInFlightSelect_ReleasesFiles(t *testing.T) {
	// The executor's release guard drives the metastore's deferred deletion:
	// once the SELECT finishes, the dropped table's files are reclaimed.
	ms, e, dir := newTestEngine(t)
	tbl := createUsersTable(t, ms)

	csvPath := writeCSV(t, dir, "u.csv", "1,Alice\n2,Bob\n")
	copyID, err := e.Submit(Definition{Copy: &CopyQuery{SourceFilepath: csvPath, DestinationTableName: "users"}})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, waitDone(t, e, copyID))

	updated, ok := ms.GetTable(tbl.TableID)
	require.True(t, ok)
	require.Len(t, updated.DataFiles, 1)
	dataFile := updated.DataFiles[0]

	selectID, err := e.Submit(Definition{Select: &SelectQuery{TableName: "users"}})
	require.NoError(t, err)

	_, err = ms.DeleteTable(tbl.TableID)
	require.NoError(t, err)

	status := waitDone(t, e, selectID)

	// Whatever the interleaving, the guard releases right after the terminal
	// status is recorded; once it has, the file must be gone and no tombstone
	// may remain.
	require.Eventually(t, func() bool {
		return !ms.IsPendingDeletion(tbl.TableID)
	}, 5*time.Second, 10*time.Millisecond)
	require.NoFileExists(t, dataFile)

	// A select that planned before the drop read its whole snapshot: the
	// deferred deletion kept the file on disk until the guard released.
	if status == StatusCompleted {
		result, err := e.GetResult(selectID, -1)
		require.NoError(t, err)
		require.Equal(t, 2, result.RowCount)
	}
}
