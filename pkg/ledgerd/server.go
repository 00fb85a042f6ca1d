package ledgerd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/herbionyx/traceability/pkg/ledger"
	"github.com/herbionyx/traceability/pkg/observability"
)

const maxRequestBytes = 1 << 20

// Error codes carried in the response envelope.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeConflict        = "CONFLICT"
	CodeInternal        = "INTERNAL"
)

// Server serves a Contract over the ledger REST contract.
type Server struct {
	contract *Contract
	mux      *http.ServeMux
	gatherer prometheus.Gatherer
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRegistry registers the server metrics on reg and serves reg on
// /metrics.
func WithRegistry(reg *prometheus.Registry) ServerOption {
	return func(s *Server) {
		s.gatherer = reg
		s.metrics = observability.NewMetrics(reg)
	}
}

// WithServerLogger sets the request logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer builds the HTTP handler for contract.
func NewServer(contract *Contract, opts ...ServerOption) *Server {
	s := &Server{
		contract: contract,
		mux:      http.NewServeMux(),
		gatherer: prometheus.DefaultGatherer,
		logger:   observability.Logger("ledgerd-http"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("POST /api/fabric/invoke", s.handleInvoke)
	s.mux.HandleFunc("POST /api/fabric/query", s.handleQuery)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	s.mux.ServeHTTP(rec, r)
	s.metrics.LedgerRequest(r.URL.Path, rec.status)
	s.logger.DebugContext(r.Context(), "request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readRequest(w, r)
	if !ok {
		return
	}
	res, err := s.contract.Invoke(r.Context(), req.Function, req.Args)
	if err != nil {
		s.writeError(w, r, req.Function, err)
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		s.writeError(w, r, req.Function, err)
		return
	}
	writeEnvelope(w, http.StatusOK, ledger.Response{Success: true, Data: data})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readRequest(w, r)
	if !ok {
		return
	}
	data, err := s.contract.Query(r.Context(), req.Function, req.Args)
	if err != nil {
		s.writeError(w, r, req.Function, err)
		return
	}
	writeEnvelope(w, http.StatusOK, ledger.Response{Success: true, Data: data})
}

func (s *Server) readRequest(w http.ResponseWriter, r *http.Request) (ledger.Request, bool) {
	var req ledger.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, ledger.Response{Error: "invalid request body: " + err.Error(), Code: CodeInvalidArgument})
		return req, false
	}
	if req.Function == "" {
		writeEnvelope(w, http.StatusBadRequest, ledger.Response{Error: "function is required", Code: CodeInvalidArgument})
		return req, false
	}
	return req, true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, function string, err error) {
	status, code := http.StatusInternalServerError, CodeInternal
	switch {
	case errors.Is(err, ErrNotFound):
		status, code = http.StatusNotFound, ledger.CodeNotFound
	case errors.Is(err, ErrExists):
		status, code = http.StatusConflict, CodeConflict
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrUnknownFunction):
		status, code = http.StatusBadRequest, CodeInvalidArgument
	default:
		s.logger.ErrorContext(r.Context(), "contract call failed", "function", function, "error", err)
	}
	writeEnvelope(w, status, ledger.Response{Error: err.Error(), Code: code})
}

func writeEnvelope(w http.ResponseWriter, status int, resp ledger.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// ListenAndServe serves s on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, s *Server) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ledgerd: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
