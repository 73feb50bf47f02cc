package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	gochi "github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	logpkg "github.com/kailas-cloud/peerquery/internal/logger"
	"github.com/kailas-cloud/peerquery/internal/metrics"
	healthuc "github.com/kailas-cloud/peerquery/internal/usecase/health"
	"github.com/kailas-cloud/peerquery/internal/usecase/scatter"
)

// maxBodyBytes bounds the query request body (64K of text plus JSON framing).
const maxBodyBytes = 1 << 20

// ErrorCode is the machine-readable code in error responses.
type ErrorCode string

const (
	ErrorCodeBadRequest        ErrorCode = "bad_request"
	ErrorCodeValidationFailed  ErrorCode = "validation_failed"
	ErrorCodeUnauthorized      ErrorCode = "unauthorized"
	ErrorCodeForbidden         ErrorCode = "forbidden"
	ErrorCodeTransportError    ErrorCode = "transport_error"
	ErrorCodeLocalExecution    ErrorCode = "local_execution_failed"
	ErrorCodeQueryInterrupted  ErrorCode = "query_interrupted"
	ErrorCodeInternalError     ErrorCode = "internal_error"
	ErrorCodeMethodNotAllowed  ErrorCode = "method_not_allowed"
	ErrorCodeRouteNotFound     ErrorCode = "not_found"
	ErrorCodeUnsupportedFormat ErrorCode = "unsupported_media_type"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// QueryRequest is the JSON form of a query submission.
type QueryRequest struct {
	Query   *string `json:"query"`
	Timeout string  `json:"timeout,omitempty"`
}

// QueryResponse carries the merged results of a query.
type QueryResponse struct {
	ID      string   `json:"id"`
	Results []string `json:"results"`
}

// HealthResponse reports node health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Querier runs scatter-gather queries.
type Querier interface {
	Scatter(ctx context.Context, text string, timeout time.Duration) (scatter.Result, error)
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Options configures request handling.
type Options struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	APIKeys        []string
	ClientCert     ClientCertPolicy
}

// Server serves the query API.
type Server struct {
	querier       Querier
	health        *healthuc.Service
	opts          Options
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(querier Querier, health *healthuc.Service, opts Options, logger *zap.Logger) *Server {
	s := &Server{
		querier: querier,
		health:  health,
		opts:    opts,
		logger:  logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(scatter.ErrInvalidQuery, http.StatusBadRequest, ErrorCodeValidationFailed),
		sentinelHandler(scatter.ErrInterrupted, http.StatusServiceUnavailable, ErrorCodeQueryInterrupted),
		sentinelHandler(scatter.ErrTransport, http.StatusBadGateway, ErrorCodeTransportError),
		sentinelHandler(scatter.ErrLocalExecution, http.StatusInternalServerError, ErrorCodeLocalExecution),
	}
	return s
}

// Handler builds the router with the full middleware stack.
func (s *Server) Handler() http.Handler {
	r := gochi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(ClientCertMiddleware(s.opts.ClientCert))
	r.Use(BearerAuthMiddleware(s.opts.APIKeys))
	r.Use(metrics.Middleware())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrorCodeRouteNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrorCodeMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Post("/api/v1/query/process", s.ProcessQuery)
	return r
}

// ProcessQuery handles POST /api/v1/query/process.
func (s *Server) ProcessQuery(w http.ResponseWriter, r *http.Request) {
	text, bodyTimeout, err := readQuery(w, r)
	if err != nil {
		var he *httpError
		if errors.As(err, &he) {
			writeError(w, he.status, he.code, he.Error())
			return
		}
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, err.Error())
		return
	}

	raw := r.URL.Query().Get("timeout")
	if raw == "" {
		raw = bodyTimeout
	}
	timeout, err := s.parseTimeout(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, err.Error())
		return
	}

	res, err := s.querier.Scatter(r.Context(), text, timeout)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{ID: res.ID, Results: res.Lines()})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

type httpError struct {
	status int
	code   ErrorCode
	msg    string
}

func (e *httpError) Error() string { return e.msg }

// readQuery extracts query text and an optional timeout from a raw text or JSON body.
func readQuery(w http.ResponseWriter, r *http.Request) (string, string, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return "", "", &httpError{http.StatusRequestEntityTooLarge, ErrorCodeBadRequest, "request body too large"}
	}

	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return string(body), "", nil
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return "", "", &httpError{http.StatusUnsupportedMediaType, ErrorCodeUnsupportedFormat, "invalid content type"}
	}

	switch {
	case mediaType == "application/json":
		var req QueryRequest
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return "", "", fmt.Errorf("invalid request body: %w", err)
		}
		if req.Query == nil {
			return "", "", &httpError{http.StatusBadRequest, ErrorCodeValidationFailed, "query is required"}
		}
		return *req.Query, req.Timeout, nil
	case strings.HasPrefix(mediaType, "text/"):
		return string(body), "", nil
	default:
		return "", "", &httpError{
			http.StatusUnsupportedMediaType, ErrorCodeUnsupportedFormat,
			fmt.Sprintf("unsupported content type %q", mediaType),
		}
	}
}

func (s *Server) parseTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return s.opts.DefaultTimeout, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("timeout %q is not a duration", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("timeout must not be negative, got %s", d)
	}
	if s.opts.MaxTimeout > 0 && d > s.opts.MaxTimeout {
		return 0, fmt.Errorf("timeout %s exceeds maximum %s", d, s.opts.MaxTimeout)
	}
	return d, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		scatter.ErrInvalidQuery,
		scatter.ErrInterrupted,
		scatter.ErrTransport,
		scatter.ErrLocalExecution,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context(), s.logger)
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
}
