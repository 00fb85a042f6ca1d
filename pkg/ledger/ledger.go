// Package ledger defines how the verification core talks to the external
// ledger: a two-call invoke/query contract, its wire envelope, the record
// shapes the ledger returns, and decorators a caller may stack on top
// (session recording, retry, caching).
//
// A Gateway makes exactly one attempt per call. Retrying is a caller
// policy, see Retrying.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Ledger function names understood by the HERBIONYX chaincode.
const (
	FnCreateBatch        = "CreateBatch"
	FnRecordStage        = "RecordStage"
	FnRecordQualityTests = "RecordQualityTests"
	FnSetFarmerStory     = "SetFarmerStory"
	FnGetBatch           = "GetBatch"
	FnGetStagesByBatch   = "GetStagesByBatch"
	FnGetProvenance      = "GetProvenance"
)

// Gateway is the invoke/query contract with the ledger.
type Gateway interface {
	// Invoke submits a transaction. Failures are *TransactionError.
	Invoke(ctx context.Context, function string, args []string) (*Receipt, error)

	// Query evaluates a read-only function. An absent record is
	// *NotFoundError; every other failure is *QueryError.
	Query(ctx context.Context, function string, args []string) (*QueryResult, error)
}

// Status is the outcome recorded on a receipt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Receipt describes a submitted transaction.
type Receipt struct {
	TxID        string          `json:"id"`
	Function    string          `json:"function"`
	Args        []string        `json:"args"`
	Timestamp   time.Time       `json:"timestamp"`
	Status      Status          `json:"status"`
	BlockNumber uint64          `json:"blockNumber"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// QueryResult is the raw answer to a query.
type QueryResult struct {
	Function string          `json:"function"`
	Args     []string        `json:"args"`
	Data     json.RawMessage `json:"data"`
}

// Decode unmarshals the result data into v. Chaincode functions that
// return their JSON as a string arrive double-encoded; Decode unwraps
// that form too.
func (r *QueryResult) Decode(v any) error {
	data := r.Data
	var inner string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &inner); err != nil {
			return fmt.Errorf("failed to unwrap %s result: %w", r.Function, err)
		}
		data = []byte(inner)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", r.Function, err)
	}
	return nil
}

// Request is the wire body of both invoke and query calls.
type Request struct {
	Function string   `json:"function"`
	Args     []string `json:"args"`
}

// Response is the wire envelope returned by the ledger endpoint.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// CodeNotFound marks a response about an absent record.
const CodeNotFound = "NOT_FOUND"

// InvokeResult is the data a ledger endpoint returns for a submitted
// transaction.
type InvokeResult struct {
	TxID        string          `json:"txId,omitempty"`
	BlockNumber uint64          `json:"blockNumber,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}
