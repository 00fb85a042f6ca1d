package ledgerd

import (
	"context"
	"errors"
	"time"

	"github.com/herbionyx/traceability/pkg/ledger"
)

// LocalGateway is an in-process ledger.Gateway over a Contract, for tests
// and single-binary demos. It maps errors exactly as the HTTP gateway
// maps ledgerd's responses.
type LocalGateway struct {
	contract *Contract
	clock    func() time.Time
}

// NewLocalGateway returns a gateway calling c directly.
func NewLocalGateway(c *Contract) *LocalGateway {
	return &LocalGateway{contract: c, clock: time.Now}
}

func (g *LocalGateway) Invoke(ctx context.Context, function string, args []string) (*ledger.Receipt, error) {
	res, err := g.contract.Invoke(ctx, function, args)
	if err != nil {
		return nil, &ledger.TransactionError{Function: function, Reason: err.Error(), Err: err}
	}
	return &ledger.Receipt{
		TxID:        res.TxID,
		Function:    function,
		Args:        append([]string(nil), args...),
		Timestamp:   g.clock().UTC(),
		Status:      ledger.StatusSuccess,
		BlockNumber: res.BlockNumber,
		Data:        res.Result,
	}, nil
}

func (g *LocalGateway) Query(ctx context.Context, function string, args []string) (*ledger.QueryResult, error) {
	data, err := g.contract.Query(ctx, function, args)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, &ledger.NotFoundError{Function: function, Args: append([]string(nil), args...), Reason: err.Error()}
	case err != nil:
		return nil, &ledger.QueryError{Function: function, Reason: err.Error(), Err: err}
	}
	return &ledger.QueryResult{Function: function, Args: append([]string(nil), args...), Data: data}, nil
}
