package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herbionyx/traceability/pkg/observability"
)

func ledgerServer(t *testing.T, handle func(path string, req Request) (int, any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		status, body := handle(r.URL.Path, req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if s, ok := body.(string); ok {
			_, _ = w.Write([]byte(s))
			return
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPGatewayQuerySuccess(t *testing.T) {
	srv := ledgerServer(t, func(path string, req Request) (int, any) {
		assert.Equal(t, queryPath, path)
		assert.Equal(t, FnGetBatch, req.Function)
		assert.Equal(t, []string{"BATCH_001"}, req.Args)
		return http.StatusOK, Response{Success: true, Data: json.RawMessage(`{"batchId":"BATCH_001","productName":"Premium Ashwagandha Powder"}`)}
	})

	gw := NewHTTPGateway(srv.URL + "/")
	res, err := gw.Query(context.Background(), FnGetBatch, []string{"BATCH_001"})
	require.NoError(t, err)

	var rec BatchRecord
	require.NoError(t, res.Decode(&rec))
	assert.Equal(t, "Premium Ashwagandha Powder", rec.ProductName)
}

func TestHTTPGatewayQueryNotFound(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
	}{
		{"http 404", http.StatusNotFound, Response{Success: false, Error: "no such batch"}},
		{"code", http.StatusOK, Response{Success: false, Code: CodeNotFound}},
		{"chaincode message", http.StatusOK, Response{Success: false, Error: "transaction returned with failure: batch BATCH_DOES_NOT_EXIST does not exist"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := ledgerServer(t, func(string, Request) (int, any) { return tt.status, tt.body })
			_, err := NewHTTPGateway(srv.URL).Query(context.Background(), FnGetBatch, []string{"BATCH_DOES_NOT_EXIST"})

			var nf *NotFoundError
			require.ErrorAs(t, err, &nf)
			assert.True(t, errors.Is(err, ErrNotFound))
			assert.Equal(t, []string{"BATCH_DOES_NOT_EXIST"}, nf.Args)
		})
	}
}

func TestHTTPGatewayQueryFailures(t *testing.T) {
	t.Run("server error is transport", func(t *testing.T) {
		srv := ledgerServer(t, func(string, Request) (int, any) {
			return http.StatusBadGateway, Response{Success: false, Error: "peer unavailable"}
		})
		_, err := NewHTTPGateway(srv.URL).Query(context.Background(), FnGetBatch, []string{"B"})
		var qe *QueryError
		require.ErrorAs(t, err, &qe)
		assert.True(t, qe.Transport)
		assert.Equal(t, "peer unavailable", qe.Reason)
	})

	t.Run("application rejection", func(t *testing.T) {
		srv := ledgerServer(t, func(string, Request) (int, any) {
			return http.StatusOK, Response{Success: false, Error: "access denied"}
		})
		_, err := NewHTTPGateway(srv.URL).Query(context.Background(), FnGetBatch, []string{"B"})
		var qe *QueryError
		require.ErrorAs(t, err, &qe)
		assert.False(t, qe.Transport)
	})

	t.Run("bare 404 is a routing failure", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		t.Cleanup(srv.Close)

		_, err := NewHTTPGateway(srv.URL).Query(context.Background(), FnGetBatch, []string{"BATCH_001"})
		var qe *QueryError
		require.ErrorAs(t, err, &qe)
		assert.False(t, errors.Is(err, ErrNotFound))
		assert.Contains(t, qe.Reason, "unreadable ledger response (HTTP 404)")
	})

	t.Run("fabric failures are not absent batches", func(t *testing.T) {
		for _, msg := range []string{
			"make sure the chaincode herbionyx has been successfully defined on channel mychannel: chaincode herbionyx not found",
			"channel mychannel does not exist",
		} {
			srv := ledgerServer(t, func(string, Request) (int, any) {
				return http.StatusInternalServerError, Response{Success: false, Error: msg}
			})
			_, err := NewHTTPGateway(srv.URL).Query(context.Background(), FnGetBatch, []string{"BATCH_001"})
			var qe *QueryError
			require.ErrorAs(t, err, &qe, msg)
			assert.True(t, qe.Transport, msg)
			assert.False(t, errors.Is(err, ErrNotFound), msg)
		}
	})

	t.Run("server error wins over batch wording", func(t *testing.T) {
		srv := ledgerServer(t, func(string, Request) (int, any) {
			return http.StatusInternalServerError, Response{Success: false, Error: "batch BATCH_001 not found"}
		})
		_, err := NewHTTPGateway(srv.URL).Query(context.Background(), FnGetBatch, []string{"BATCH_001"})
		assert.True(t, IsTransport(err))
		assert.False(t, errors.Is(err, ErrNotFound))
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := NewHTTPGateway(url).Query(context.Background(), FnGetBatch, []string{"B"})
		var qe *QueryError
		require.ErrorAs(t, err, &qe)
		assert.True(t, qe.Transport)
		assert.False(t, errors.Is(err, ErrNotFound))
	})
}

func TestHTTPGatewayInvoke(t *testing.T) {
	srv := ledgerServer(t, func(path string, req Request) (int, any) {
		assert.Equal(t, invokePath, path)
		return http.StatusOK, Response{Success: true, Data: json.RawMessage(`{"txId":"tx_ledger","blockNumber":1042}`)}
	})

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	gw := NewHTTPGateway(srv.URL, WithMetrics(metrics), WithRateLimit(100, 1))

	receipt, err := gw.Invoke(context.Background(), FnRecordStage, []string{"BATCH_001", "{}"})
	require.NoError(t, err)
	assert.Equal(t, "tx_ledger", receipt.TxID)
	assert.Equal(t, uint64(1042), receipt.BlockNumber)
	assert.Equal(t, StatusSuccess, receipt.Status)
	assert.Equal(t, []string{"BATCH_001", "{}"}, receipt.Args)
	assert.False(t, receipt.Timestamp.IsZero())

	count, err := testutil.GatherAndCount(reg, "herbionyx_gateway_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHTTPGatewayInvokeGeneratesTxID(t *testing.T) {
	srv := ledgerServer(t, func(string, Request) (int, any) {
		return http.StatusOK, Response{Success: true, Data: json.RawMessage(`"ok"`)}
	})
	receipt, err := NewHTTPGateway(srv.URL).Invoke(context.Background(), FnCreateBatch, []string{"B"})
	require.NoError(t, err)
	assert.Regexp(t, `^tx_[0-9a-f-]{36}$`, receipt.TxID)
	assert.JSONEq(t, `"ok"`, string(receipt.Data))
}

func TestHTTPGatewayInvokeRejected(t *testing.T) {
	srv := ledgerServer(t, func(string, Request) (int, any) {
		return http.StatusBadRequest, Response{Success: false, Error: "batch B already exists"}
	})
	_, err := NewHTTPGateway(srv.URL).Invoke(context.Background(), FnCreateBatch, []string{"B"})
	var te *TransactionError
	require.ErrorAs(t, err, &te)
	assert.False(t, te.Transport)
	assert.Equal(t, "batch B already exists", te.Reason)
}

func TestHTTPGatewayInvokeTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPGateway(url).Invoke(context.Background(), FnCreateBatch, []string{"B"})
	var te *TransactionError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Transport)
}
