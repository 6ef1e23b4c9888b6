package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/arloliu/mimdb/errs"
	"github.com/arloliu/mimdb/query"
)

func (s *Server) handleListTables(w http.ResponseWriter, _ *http.Request) {
	refs := s.ms.ListTables()

	summaries := make([]TableSummary, 0, len(refs))
	for _, ref := range refs {
		summaries = append(summaries, TableSummary{TableID: ref.TableID, Name: ref.Name})
	}

	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	var req CreateTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", errs.ErrInvalidQuery, err))
		return
	}

	if req.Name == "" {
		writeError(w, errs.ErrEmptyTableName)
		return
	}
	if len(req.Columns) == 0 {
		writeError(w, errs.ErrNoColumns)
		return
	}

	columns, err := parseColumnDefs(req.Columns)
	if err != nil {
		writeError(w, err)
		return
	}

	tbl, err := s.ms.CreateTable(req.Name, columns)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateTableResponse{TableID: tbl.TableID})
}

func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	tbl, ok := s.ms.GetTable(r.PathValue("id"))
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", errs.ErrTableNotFound, r.PathValue("id")))
		return
	}

	writeJSON(w, http.StatusOK, TableResponse{
		TableID:   tbl.TableID,
		Name:      tbl.Name,
		Columns:   toColumnDefs(tbl.Columns),
		DataFiles: len(tbl.DataFiles),
		CreatedAt: tbl.CreatedAt,
	})
}

func (s *Server) handleDeleteTable(w http.ResponseWriter, r *http.Request) {
	if _, err := s.ms.DeleteTable(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListQueries(w http.ResponseWriter, _ *http.Request) {
	refs := s.executor.ListQueries()

	summaries := make([]QuerySummary, 0, len(refs))
	for _, ref := range refs {
		summaries = append(summaries, QuerySummary{QueryID: ref.QueryID, Status: ref.Status.String()})
	}

	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleSubmitQuery(w http.ResponseWriter, r *http.Request) {
	var req SubmitQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", errs.ErrInvalidQuery, err))
		return
	}

	def := query.Definition{}
	if req.Copy != nil {
		def.Copy = &query.CopyQuery{
			SourceFilepath:       req.Copy.SourceFilepath,
			DestinationTableName: req.Copy.DestinationTableName,
			DestinationColumns:   req.Copy.DestinationColumns,
			HasHeader:            req.Copy.HasHeader,
		}
	}
	if req.Select != nil {
		def.Select = &query.SelectQuery{TableName: req.Select.TableName}
	}

	queryID, err := s.executor.Submit(def)
	if err != nil {
		// NotFound at submission is a request problem, not a missing
		// resource: the submitted entity never existed.
		if errs.Is(err, errs.KindNotFound) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, SubmitQueryResponse{QueryID: queryID})
}

func (s *Server) handleGetQuery(w http.ResponseWriter, r *http.Request) {
	record, ok := s.executor.GetQuery(r.PathValue("id"))
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", errs.ErrQueryNotFound, r.PathValue("id")))
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		QueryID: record.QueryID,
		Type:    record.Definition.Type(),
		Status:  record.Status.String(),
	})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	queryID := r.PathValue("id")

	rowLimit := -1
	if raw := r.URL.Query().Get("row_limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, fmt.Errorf("%w: %q", errs.ErrInvalidRowLimit, raw))
			return
		}
		rowLimit = parsed
	}

	result, err := s.executor.GetResult(queryID, rowLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("flush") == "true" {
		if err := s.executor.ClearResult(queryID); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, QueryResultResponse{
		RowCount: result.RowCount,
		Columns:  toResultColumns(result),
	})
}

func (s *Server) handleGetError(w http.ResponseWriter, r *http.Request) {
	problems, err := s.executor.GetError(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, QueryErrorResponse{Problems: problems})
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, SystemInfoResponse{
		InterfaceVersion: InterfaceVersion,
		Version:          Version,
		Author:           Author,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
	})
}
