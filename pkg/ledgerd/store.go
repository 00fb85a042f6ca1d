// Package ledgerd is a development stand-in for the Fabric network: it
// exposes the same chaincode functions over the same REST contract the
// verifier speaks, backed by SQL (SQLite or PostgreSQL) instead of world state.
package ledgerd

import (
	"context"
	"errors"
	"time"

	"github.com/herbionyx/traceability/pkg/ledger"
)

var (
	// ErrNotFound is returned for absent batches.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when creating a batch id twice.
	ErrExists = errors.New("already exists")
	// ErrInvalidArgument is returned for malformed call arguments.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownFunction is returned for function names the contract
	// does not define.
	ErrUnknownFunction = errors.New("unknown function")
)

// Transaction is one entry of the ledger's transaction log.
type Transaction struct {
	Block     uint64
	TxID      string
	Function  string
	Args      []string
	Timestamp time.Time
}

// Store persists batches, stages and the transaction log.
type Store interface {
	CreateBatch(ctx context.Context, rec ledger.BatchRecord) error
	GetBatch(ctx context.Context, batchID string) (*ledger.BatchRecord, error)
	UpdateBatch(ctx context.Context, rec ledger.BatchRecord) error
	RecordStage(ctx context.Context, stage ledger.StageRecord) error
	StagesByBatch(ctx context.Context, batchID string) ([]ledger.StageRecord, error)

	// AppendTransaction logs tx and returns the block number assigned to
	// it.
	AppendTransaction(ctx context.Context, tx Transaction) (uint64, error)
	Transactions(ctx context.Context, limit int) ([]Transaction, error)

	// WithTx runs fn atomically: every write fn makes through the Store it
	// is given commits together or not at all.
	WithTx(ctx context.Context, fn func(Store) error) error

	Close() error
}
