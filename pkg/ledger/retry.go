package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/herbionyx/traceability/pkg/observability"
)

// RetryPolicy is a caller-level retry policy for queries.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	MaxJitter   time.Duration
}

// DefaultRetryPolicy returns three attempts, 100ms base, 2s cap, 50ms
// jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Base:        100 * time.Millisecond,
		Max:         2 * time.Second,
		MaxJitter:   50 * time.Millisecond,
	}
}

// Backoff returns the delay before retry number attempt (1-based) of
// function. Jitter is derived from the inputs, so the same call always
// waits the same time.
func (p RetryPolicy) Backoff(function string, attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 30 {
		shift = 30
	}
	delay := p.Base * time.Duration(int64(1)<<shift)
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}
	return delay + p.jitter(function, attempt)
}

func (p RetryPolicy) jitter(function string, attempt int) time.Duration {
	if p.MaxJitter <= 0 {
		return 0
	}
	seed := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", function, attempt)))
	basis := binary.BigEndian.Uint64(seed[:8])
	return time.Duration(basis % uint64(p.MaxJitter)) //nolint:gosec // MaxJitter is positive here
}

// Retrying wraps gw so that queries failing at the transport level are
// retried under p. Not-found answers, ledger rejections and invokes are
// never retried: a write may have been applied even when its reply was
// lost.
func Retrying(gw Gateway, p RetryPolicy) Gateway {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return &retryingGateway{
		next:   gw,
		policy: p,
		sleep:  sleepContext,
		logger: observability.Logger("ledger-retry"),
	}
}

type retryingGateway struct {
	next   Gateway
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

func (r *retryingGateway) Invoke(ctx context.Context, function string, args []string) (*Receipt, error) {
	return r.next.Invoke(ctx, function, args)
}

func (r *retryingGateway) Query(ctx context.Context, function string, args []string) (*QueryResult, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		res, err := r.next.Query(ctx, function, args)
		if err == nil || !IsTransport(err) {
			return res, err
		}
		lastErr = err
		if attempt == r.policy.MaxAttempts {
			break
		}
		delay := r.policy.Backoff(function, attempt)
		r.logger.WarnContext(ctx, "ledger query failed, retrying",
			"function", function, "attempt", attempt, "delay", delay, "error", err)
		if err := r.sleep(ctx, delay); err != nil {
			return nil, &QueryError{Function: function, Reason: err.Error(), Transport: true, Err: err}
		}
	}
	return nil, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
