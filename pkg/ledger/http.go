package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/herbionyx/traceability/pkg/observability"
)

const (
	invokePath = "/api/fabric/invoke"
	queryPath  = "/api/fabric/query"

	maxResponseBytes = 4 << 20
)

var tracer = observability.Tracer("ledger")

// HTTPGateway talks to a ledger REST endpoint (a Fabric gateway proxy or
// ledgerd) using the {function, args} / {success, data, error} contract.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	clock   func() time.Time
	newTxID func() string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// HTTPOption configures an HTTPGateway.
type HTTPOption func(*HTTPGateway)

// WithHTTPClient replaces the default client (10 s timeout).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(g *HTTPGateway) { g.client = c }
}

// WithRateLimit caps outgoing calls at rps with the given burst.
func WithRateLimit(rps float64, burst int) HTTPOption {
	return func(g *HTTPGateway) {
		if rps <= 0 {
			g.limiter = nil
			return
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the gateway logger.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(g *HTTPGateway) { g.logger = l }
}

// WithMetrics records call outcomes on m.
func WithMetrics(m *observability.Metrics) HTTPOption {
	return func(g *HTTPGateway) { g.metrics = m }
}

// NewHTTPGateway creates a gateway for the endpoint at baseURL.
func NewHTTPGateway(baseURL string, opts ...HTTPOption) *HTTPGateway {
	g := &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		clock:   time.Now,
		newTxID: func() string { return "tx_" + uuid.NewString() },
		logger:  observability.Logger("ledger-gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Invoke submits function(args) to the ledger.
func (g *HTTPGateway) Invoke(ctx context.Context, function string, args []string) (*Receipt, error) {
	ctx, span := tracer.Start(ctx, "ledger.invoke", trace.WithAttributes(attribute.String("ledger.function", function)))
	defer span.End()

	resp, status, _, err := g.post(ctx, invokePath, function, args)
	if err != nil {
		g.record(span, "invoke", function, "transport", err)
		return nil, &TransactionError{Function: function, Reason: err.Error(), Transport: true, Err: err}
	}
	if !resp.Success || status >= 300 {
		reason := failureReason(resp, status)
		transport := status >= 500 && !IsNotFoundMessage(reason)
		outcome := "rejected"
		if transport {
			outcome = "transport"
		}
		g.record(span, "invoke", function, outcome, fmt.Errorf("%s", reason))
		return nil, &TransactionError{Function: function, Reason: reason, Transport: transport}
	}

	var result InvokeResult
	if len(resp.Data) > 0 {
		// Endpoints that return a bare value instead of an InvokeResult
		// still yield a receipt, just without ledger-assigned ids.
		if err := json.Unmarshal(resp.Data, &result); err != nil {
			result = InvokeResult{Result: resp.Data}
		}
	}
	receipt := &Receipt{
		TxID:        result.TxID,
		Function:    function,
		Args:        append([]string(nil), args...),
		Timestamp:   g.clock().UTC(),
		Status:      StatusSuccess,
		BlockNumber: result.BlockNumber,
		Data:        result.Result,
	}
	if receipt.TxID == "" {
		receipt.TxID = g.newTxID()
	}
	span.SetAttributes(attribute.String("ledger.tx_id", receipt.TxID))
	g.record(span, "invoke", function, "success", nil)
	g.logger.DebugContext(ctx, "transaction submitted", "function", function, "tx_id", receipt.TxID, "block", receipt.BlockNumber)
	return receipt, nil
}

// Query evaluates function(args) on the ledger.
func (g *HTTPGateway) Query(ctx context.Context, function string, args []string) (*QueryResult, error) {
	ctx, span := tracer.Start(ctx, "ledger.query", trace.WithAttributes(attribute.String("ledger.function", function)))
	defer span.End()

	resp, status, enveloped, err := g.post(ctx, queryPath, function, args)
	if err != nil {
		g.record(span, "query", function, "transport", err)
		return nil, &QueryError{Function: function, Reason: err.Error(), Transport: true, Err: err}
	}

	// A bare 404 is a wrong URL or proxy route, not an absent batch.
	reason := failureReason(resp, status)
	switch {
	case status >= 500:
		g.record(span, "query", function, "transport", fmt.Errorf("%s", reason))
		return nil, &QueryError{Function: function, Reason: reason, Transport: true}
	case resp.Code == CodeNotFound,
		enveloped && status == http.StatusNotFound,
		enveloped && !resp.Success && IsNotFoundMessage(resp.Error):
		g.record(span, "query", function, "not_found", nil)
		return nil, &NotFoundError{Function: function, Args: append([]string(nil), args...), Reason: resp.Error}
	case !resp.Success || status >= 300:
		g.record(span, "query", function, "rejected", fmt.Errorf("%s", reason))
		return nil, &QueryError{Function: function, Reason: reason}
	}

	g.record(span, "query", function, "success", nil)
	return &QueryResult{
		Function: function,
		Args:     append([]string(nil), args...),
		Data:     resp.Data,
	}, nil
}

// post sends one request. A non-nil error means the exchange itself
// failed; ledger-level failures come back in the Response. enveloped is
// false when the body was not a ledger envelope.
func (g *HTTPGateway) post(ctx context.Context, path, function string, args []string) (*Response, int, bool, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, 0, false, fmt.Errorf("rate limiter: %w", err)
		}
	}
	if args == nil {
		args = []string{}
	}
	body, err := json.Marshal(Request{Function: function, Args: args})
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	httpResp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, false, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to read response: %w", err)
	}

	var envelope Response
	if err := json.Unmarshal(raw, &envelope); err != nil {
		envelope = Response{Error: fmt.Sprintf("unreadable ledger response (HTTP %d)", httpResp.StatusCode)}
		return &envelope, httpResp.StatusCode, false, nil
	}
	return &envelope, httpResp.StatusCode, true, nil
}

func (g *HTTPGateway) record(span trace.Span, kind, function, outcome string, err error) {
	g.metrics.GatewayCall(kind, function, outcome)
	span.SetAttributes(attribute.String("ledger.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func failureReason(resp *Response, status int) string {
	if resp.Error != "" {
		return resp.Error
	}
	if status >= 300 {
		return fmt.Sprintf("ledger returned HTTP %d %s", status, http.StatusText(status))
	}
	return "ledger reported failure"
}
