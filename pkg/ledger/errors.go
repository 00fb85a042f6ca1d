package ledger

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound matches every *NotFoundError through errors.Is.
var ErrNotFound = errors.New("not found")

// NotFoundError reports that the ledger holds no record for the request.
// It is distinct from a transport failure: callers fall back on it rather
// than fail hard.
type NotFoundError struct {
	Function string
	Args     []string
	Reason   string
}

func (e *NotFoundError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %v: %s", e.Function, e.Args, e.Reason)
	}
	return fmt.Sprintf("%s %v: record not found", e.Function, e.Args)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// QueryError reports a failed read. Transport is true when the ledger
// could not be reached or answered with a server failure; false when the
// ledger rejected the query itself.
type QueryError struct {
	Function  string
	Reason    string
	Transport bool
	Err       error
}

func (e *QueryError) Error() string {
	if e.Transport {
		return fmt.Sprintf("query %s failed (transport): %s", e.Function, e.Reason)
	}
	return fmt.Sprintf("query %s failed: %s", e.Function, e.Reason)
}

func (e *QueryError) Unwrap() error { return e.Err }

// TransactionError reports a failed write, either because the ledger
// could not be reached (Transport) or because it rejected the
// transaction.
type TransactionError struct {
	Function  string
	Reason    string
	Transport bool
	Err       error
}

func (e *TransactionError) Error() string {
	if e.Transport {
		return fmt.Sprintf("transaction %s failed (transport): %s", e.Function, e.Reason)
	}
	return fmt.Sprintf("transaction %s rejected: %s", e.Function, e.Reason)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a transport-level gateway failure.
func IsTransport(err error) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Transport
	}
	var te *TransactionError
	if errors.As(err, &te) {
		return te.Transport
	}
	return false
}

// notFoundMessage is the chaincode's wording for an absent batch, possibly
// wrapped by the peer ("... failure: batch BATCH_9 does not exist").
var notFoundMessage = regexp.MustCompile(`(?i)\bbatch \S+ (does not exist|not found)`)

// IsNotFoundMessage recognises the chaincode's wording for absent
// records ("batch X does not exist", "batch X not found"). Fabric's own
// failures, such as a missing chaincode or channel, do not match.
func IsNotFoundMessage(msg string) bool {
	return notFoundMessage.MatchString(msg)
}
