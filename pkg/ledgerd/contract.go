package ledgerd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/herbionyx/traceability/pkg/ledger"
	"github.com/herbionyx/traceability/pkg/observability"
)

// Contract dispatches chaincode function calls onto a Store. Arguments
// and results follow the chaincode: string args in, JSON out.
type Contract struct {
	store  Store
	clock  func() time.Time
	newID  func() string
	logger *slog.Logger
}

// ContractOption configures a Contract.
type ContractOption func(*Contract)

// WithClock overrides the transaction clock.
func WithClock(clock func() time.Time) ContractOption {
	return func(c *Contract) { c.clock = clock }
}

// WithContractLogger sets the contract logger.
func WithContractLogger(l *slog.Logger) ContractOption {
	return func(c *Contract) { c.logger = l }
}

// NewContract creates a contract over store.
func NewContract(store Store, opts ...ContractOption) *Contract {
	c := &Contract{
		store:  store,
		clock:  time.Now,
		newID:  uuid.NewString,
		logger: observability.Logger("ledgerd"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke applies a state-changing function and logs it as a transaction.
// The state change and its log entry commit together.
func (c *Contract) Invoke(ctx context.Context, function string, args []string) (*ledger.InvokeResult, error) {
	var apply func(context.Context, Store, []string) (any, error)
	switch function {
	case ledger.FnCreateBatch:
		apply = c.createBatch
	case ledger.FnRecordStage:
		apply = c.recordStage
	case ledger.FnRecordQualityTests:
		apply = c.recordQualityTests
	case ledger.FnSetFarmerStory:
		apply = c.setFarmerStory
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownFunction, function)
	}

	var (
		raw   json.RawMessage
		txID  string
		block uint64
	)
	err := c.store.WithTx(ctx, func(st Store) error {
		result, err := apply(ctx, st, args)
		if err != nil {
			return err
		}
		if raw, err = json.Marshal(result); err != nil {
			return fmt.Errorf("failed to marshal %s result: %w", function, err)
		}
		txID = "tx_" + c.newID()
		block, err = st.AppendTransaction(ctx, Transaction{
			TxID:      txID,
			Function:  function,
			Args:      args,
			Timestamp: c.clock(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "transaction committed", "function", function, "tx_id", txID, "block", block)
	return &ledger.InvokeResult{TxID: txID, BlockNumber: block, Result: raw}, nil
}

// Query evaluates a read-only function.
func (c *Contract) Query(ctx context.Context, function string, args []string) (json.RawMessage, error) {
	var (
		result any
		err    error
	)
	switch function {
	case ledger.FnGetBatch:
		if err = wantArgs(function, args, 1); err == nil {
			result, err = c.store.GetBatch(ctx, args[0])
		}
	case ledger.FnGetStagesByBatch:
		if err = wantArgs(function, args, 1); err == nil {
			result, err = c.store.StagesByBatch(ctx, args[0])
		}
	case ledger.FnGetProvenance:
		if err = wantArgs(function, args, 1); err == nil {
			result, err = c.provenance(ctx, args[0])
		}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownFunction, function)
	}
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s result: %w", function, err)
	}
	return raw, nil
}

func (c *Contract) createBatch(ctx context.Context, st Store, args []string) (any, error) {
	if err := wantArgs(ledger.FnCreateBatch, args, 5); err != nil {
		return nil, err
	}
	rec := ledger.BatchRecord{
		BatchID:           strings.TrimSpace(args[0]),
		ProductName:       args[1],
		Species:           args[2],
		ManufacturingDate: args[3],
		ExpiryDate:        args[4],
	}
	if rec.BatchID == "" {
		return nil, fmt.Errorf("%w: batchId is required", ErrInvalidArgument)
	}
	if err := st.CreateBatch(ctx, rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Contract) recordStage(ctx context.Context, store Store, args []string) (any, error) {
	if err := wantArgs(ledger.FnRecordStage, args, 2); err != nil {
		return nil, err
	}
	if _, err := store.GetBatch(ctx, args[0]); err != nil {
		return nil, err
	}

	var st ledger.StageRecord
	if err := json.Unmarshal([]byte(args[1]), &st); err != nil {
		return nil, fmt.Errorf("%w: stage: %v", ErrInvalidArgument, err)
	}
	if strings.TrimSpace(st.Organization) == "" {
		return nil, fmt.Errorf("%w: stage organization is required", ErrInvalidArgument)
	}
	st.BatchID = args[0]
	if st.StageID == "" {
		st.StageID = "STAGE_" + c.newID()
	}
	if st.Timestamp == "" {
		st.Timestamp = c.clock().UTC().Format("2006-01-02T15:04:05.000Z")
	}
	if err := store.RecordStage(ctx, st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Contract) recordQualityTests(ctx context.Context, st Store, args []string) (any, error) {
	if err := wantArgs(ledger.FnRecordQualityTests, args, 2); err != nil {
		return nil, err
	}
	var tests map[string]float64
	if err := json.Unmarshal([]byte(args[1]), &tests); err != nil {
		return nil, fmt.Errorf("%w: quality tests: %v", ErrInvalidArgument, err)
	}
	rec, err := st.GetBatch(ctx, args[0])
	if err != nil {
		return nil, err
	}
	if rec.QualityTests == nil {
		rec.QualityTests = map[string]float64{}
	}
	for k, v := range tests {
		rec.QualityTests[k] = v
	}
	if err := st.UpdateBatch(ctx, *rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *Contract) setFarmerStory(ctx context.Context, st Store, args []string) (any, error) {
	if err := wantArgs(ledger.FnSetFarmerStory, args, 2); err != nil {
		return nil, err
	}
	var story ledger.FarmerStory
	if err := json.Unmarshal([]byte(args[1]), &story); err != nil {
		return nil, fmt.Errorf("%w: farmer story: %v", ErrInvalidArgument, err)
	}
	rec, err := st.GetBatch(ctx, args[0])
	if err != nil {
		return nil, err
	}
	rec.FarmerStory = &story
	if err := st.UpdateBatch(ctx, *rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *Contract) provenance(ctx context.Context, batchID string) (*ledger.Provenance, error) {
	rec, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	stages, err := c.store.StagesByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return &ledger.Provenance{Batch: *rec, Stages: stages}, nil
}

func wantArgs(function string, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%w: %s expects %d arguments, got %d", ErrInvalidArgument, function, n, len(args))
	}
	return nil
}
