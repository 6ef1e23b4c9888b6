package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arloliu/mimdb/errs"
	"github.com/arloliu/mimdb/metastore"
	"github.com/arloliu/mimdb/query"
)

// Interface and build identification reported by GET /system/info.
const (
	InterfaceVersion = "1.0"
	Version          = "0.2.0"
	Author           = "mimdb contributors"
)

// Server wires the metastore and executor into an HTTP handler.
type Server struct {
	ms        *metastore.Metastore
	executor  *query.Executor
	logger    *zap.Logger
	registry  *prometheus.Registry
	startTime time.Time

	httpRequests *prometheus.CounterVec
}

// NewServer creates the HTTP facade.
//
// Parameters:
//   - ms: Catalog
//   - executor: Query executor
//   - logger: Structured logger (nil for no logging)
//   - registry: Prometheus registry backing /metrics (nil creates one)
func NewServer(ms *metastore.Metastore, executor *query.Executor, logger *zap.Logger, registry *prometheus.Registry) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		ms:        ms,
		executor:  executor,
		logger:    logger,
		registry:  registry,
		startTime: time.Now(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mimdb",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
	registry.MustRegister(s.httpRequests)

	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /tables", s.route("list_tables", s.handleListTables))
	mux.HandleFunc("POST /tables", s.route("create_table", s.handleCreateTable))
	mux.HandleFunc("GET /tables/{id}", s.route("get_table", s.handleGetTable))
	mux.HandleFunc("DELETE /tables/{id}", s.route("delete_table", s.handleDeleteTable))

	mux.HandleFunc("GET /queries", s.route("list_queries", s.handleListQueries))
	mux.HandleFunc("POST /queries", s.route("submit_query", s.handleSubmitQuery))
	mux.HandleFunc("GET /queries/{id}", s.route("get_query", s.handleGetQuery))
	mux.HandleFunc("GET /queries/{id}/result", s.route("get_result", s.handleGetResult))
	mux.HandleFunc("GET /queries/{id}/error", s.route("get_error", s.handleGetError))

	mux.HandleFunc("GET /system/info", s.route("system_info", s.handleSystemInfo))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return mux
}

// route wraps a handler with request logging and the per-route counter.
func (s *Server) route(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()

		h(rec, r)

		s.httpRequests.WithLabelValues(name, strconv.Itoa(rec.code)).Inc()
		s.logger.Debug("http request",
			zap.String("route", name),
			zap.String("method", r.Method),
			zap.Int("status", rec.code),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps an error's kind to an HTTP status and writes the uniform
// error body.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), ErrorResponse{Error: err.Error()})
}

// statusForError maps error kinds to status codes: NotFound -> 404;
// Conflict, SchemaMismatch, BadRequest, and Precondition -> 400; everything
// else (Corrupt, Io, unclassified) -> 500.
func statusForError(err error) int {
	switch errs.Classify(err) {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict, errs.KindSchemaMismatch, errs.KindBadRequest, errs.KindPrecondition:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
