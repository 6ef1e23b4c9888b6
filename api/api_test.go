package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/mimdb/metastore"
	"github.com/arloliu/mimdb/query"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	dir := t.TempDir()
	ms, err := metastore.Open(dir, nil)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	executor := query.NewExecutor(ms, nil, query.NewMetrics(registry))
	server := NewServer(ms, executor, nil, registry)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return ts, dir
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(encoded)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequest(method, url, reqBody)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

func createUsersTable(t *testing.T, baseURL string) string {
	t.Helper()

	var created CreateTableResponse
	code := doJSON(t, http.MethodPost, baseURL+"/tables", CreateTableRequest{
		Name: "users",
		Columns: []ColumnDef{
			{Name: "id", Type: "INT64"},
			{Name: "name", Type: "VARCHAR"},
		},
	}, &created)
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, created.TableID)

	return created.TableID
}

func waitForStatus(t *testing.T, baseURL, queryID string) string {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var q QueryResponse
		code := doJSON(t, http.MethodGet, baseURL+"/queries/"+queryID, nil, &q)
		require.Equal(t, http.StatusOK, code)

		if q.Status == "COMPLETED" || q.Status == "FAILED" {
			return q.Status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("query did not reach a terminal state")

	return ""
}

func TestTablesLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)

	tableID := createUsersTable(t, ts.URL)

	var listed []TableSummary
	code := doJSON(t, http.MethodGet, ts.URL+"/tables", nil, &listed)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, listed, 1)
	require.Equal(t, "users", listed[0].Name)

	var tbl TableResponse
	code = doJSON(t, http.MethodGet, ts.URL+"/tables/"+tableID, nil, &tbl)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "users", tbl.Name)
	require.Len(t, tbl.Columns, 2)
	require.Equal(t, "INT64", tbl.Columns[0].Type)

	code = doJSON(t, http.MethodDelete, ts.URL+"/tables/"+tableID, nil, nil)
	require.Equal(t, http.StatusNoContent, code)

	code = doJSON(t, http.MethodGet, ts.URL+"/tables/"+tableID, nil, nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestCreateTable_Validation(t *testing.T) {
	ts, _ := newTestServer(t)

	// Empty name.
	code := doJSON(t, http.MethodPost, ts.URL+"/tables", CreateTableRequest{
		Columns: []ColumnDef{{Name: "id", Type: "INT64"}},
	}, nil)
	require.Equal(t, http.StatusBadRequest, code)

	// No columns.
	code = doJSON(t, http.MethodPost, ts.URL+"/tables", CreateTableRequest{Name: "t"}, nil)
	require.Equal(t, http.StatusBadRequest, code)

	// Unknown column type.
	code = doJSON(t, http.MethodPost, ts.URL+"/tables", CreateTableRequest{
		Name:    "t",
		Columns: []ColumnDef{{Name: "id", Type: "FLOAT"}},
	}, nil)
	require.Equal(t, http.StatusBadRequest, code)

	// Duplicate table name.
	createUsersTable(t, ts.URL)
	code = doJSON(t, http.MethodPost, ts.URL+"/tables", CreateTableRequest{
		Name:    "users",
		Columns: []ColumnDef{{Name: "id", Type: "INT64"}},
	}, nil)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestQueryFlow(t *testing.T) {
	ts, dir := newTestServer(t)
	createUsersTable(t, ts.URL)

	csvPath := filepath.Join(dir, "users.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("1,Alice\n2,Bob\n3,Charlie\n"), 0o644))

	// COPY.
	var submitted SubmitQueryResponse
	code := doJSON(t, http.MethodPost, ts.URL+"/queries", SubmitQueryRequest{
		Copy: &CopyQueryRequest{
			SourceFilepath:       csvPath,
			DestinationTableName: "users",
		},
	}, &submitted)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "COMPLETED", waitForStatus(t, ts.URL, submitted.QueryID))

	// A COPY has no result.
	code = doJSON(t, http.MethodGet, ts.URL+"/queries/"+submitted.QueryID+"/result", nil, nil)
	require.Equal(t, http.StatusBadRequest, code)

	// SELECT.
	code = doJSON(t, http.MethodPost, ts.URL+"/queries", SubmitQueryRequest{
		Select: &SelectQueryRequest{TableName: "users"},
	}, &submitted)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "COMPLETED", waitForStatus(t, ts.URL, submitted.QueryID))

	var result QueryResultResponse
	code = doJSON(t, http.MethodGet, ts.URL+"/queries/"+submitted.QueryID+"/result", nil, &result)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 3, result.RowCount)
	require.Len(t, result.Columns, 2)
	require.Equal(t, []int64{1, 2, 3}, result.Columns[0].Int64Values)
	require.Equal(t, []string{"Alice", "Bob", "Charlie"}, result.Columns[1].VarcharValues)

	// Row limit truncates.
	code = doJSON(t, http.MethodGet,
		ts.URL+"/queries/"+submitted.QueryID+"/result?row_limit=2", nil, &result)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 2, result.RowCount)
	require.Equal(t, []int64{1, 2}, result.Columns[0].Int64Values)

	// Flush drops the stored result.
	code = doJSON(t, http.MethodGet,
		ts.URL+"/queries/"+submitted.QueryID+"/result?flush=true", nil, &result)
	require.Equal(t, http.StatusOK, code)

	code = doJSON(t, http.MethodGet, ts.URL+"/queries/"+submitted.QueryID+"/result", nil, nil)
	require.Equal(t, http.StatusBadRequest, code)

	// The query list has both entries.
	var queries []QuerySummary
	code = doJSON(t, http.MethodGet, ts.URL+"/queries", nil, &queries)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, queries, 2)
}

func TestSubmitQuery_Errors(t *testing.T) {
	ts, _ := newTestServer(t)

	// Unknown table on submission maps to 400, not 404.
	code := doJSON(t, http.MethodPost, ts.URL+"/queries", SubmitQueryRequest{
		Select: &SelectQueryRequest{TableName: "nonexistent"},
	}, nil)
	require.Equal(t, http.StatusBadRequest, code)

	// Empty body shape.
	code = doJSON(t, http.MethodPost, ts.URL+"/queries", SubmitQueryRequest{}, nil)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestQueryError_Flow(t *testing.T) {
	ts, dir := newTestServer(t)
	createUsersTable(t, ts.URL)

	csvPath := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("abc,Alice\n"), 0o644))

	var submitted SubmitQueryResponse
	code := doJSON(t, http.MethodPost, ts.URL+"/queries", SubmitQueryRequest{
		Copy: &CopyQueryRequest{SourceFilepath: csvPath, DestinationTableName: "users"},
	}, &submitted)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "FAILED", waitForStatus(t, ts.URL, submitted.QueryID))

	var problems QueryErrorResponse
	code = doJSON(t, http.MethodGet, ts.URL+"/queries/"+submitted.QueryID+"/error", nil, &problems)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, problems.Problems)
	require.Contains(t, problems.Problems[0], "failed to parse")

	// Result of a failed query is a precondition failure.
	code = doJSON(t, http.MethodGet, ts.URL+"/queries/"+submitted.QueryID+"/result", nil, nil)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestGetQuery_NotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	code := doJSON(t, http.MethodGet, ts.URL+"/queries/nonexistent-id", nil, nil)
	require.Equal(t, http.StatusNotFound, code)

	code = doJSON(t, http.MethodGet, ts.URL+"/queries/nonexistent-id/error", nil, nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestSystemInfo(t *testing.T) {
	ts, _ := newTestServer(t)

	var info SystemInfoResponse
	code := doJSON(t, http.MethodGet, ts.URL+"/system/info", nil, &info)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, InterfaceVersion, info.InterfaceVersion)
	require.Equal(t, Version, info.Version)
	require.NotEmpty(t, info.Author)
	require.GreaterOrEqual(t, info.UptimeSeconds, int64(0))
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(fmt.Sprintf("%s/metrics", ts.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInvalidRowLimit(t *testing.T) {
	ts, _ := newTestServer(t)
	createUsersTable(t, ts.URL)

	var submitted SubmitQueryResponse
	code := doJSON(t, http.MethodPost, ts.URL+"/queries", SubmitQueryRequest{
		Select: &SelectQueryRequest{TableName: "users"},
	}, &submitted)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "COMPLETED", waitForStatus(t, ts.URL, submitted.QueryID))

	code = doJSON(t, http.MethodGet,
		ts.URL+"/queries/"+submitted.QueryID+"/result?row_limit=abc", nil, nil)
	require.Equal(t, http.StatusBadRequest, code)

	code = doJSON(t, http.MethodGet,
		ts.URL+"/queries/"+submitted.QueryID+"/result?row_limit=-1", nil, nil)
	require.Equal(t, http.StatusBadRequest, code)
}
