// Package verify drives one verifier through scan, decode, query and
// present.
//
// The Orchestrator runs at most one live attempt. StartScan always wins:
// it bumps a generation counter, and results of older generations are
// dropped when they arrive. In-flight ledger calls are left to finish on
// their own rather than aborted.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/herbionyx/traceability/pkg/ledger"
	"github.com/herbionyx/traceability/pkg/observability"
	"github.com/herbionyx/traceability/pkg/provenance"
	"github.com/herbionyx/traceability/pkg/qr"
)

// DefaultQueryTimeout bounds the Querying state.
const DefaultQueryTimeout = 10 * time.Second

const provisionalNotice = "No ledger record found for this batch. Showing provisional demo data, not verified."

var tracer = observability.Tracer("verify")

// Assembler is the provenance lookup the orchestrator queries.
type Assembler interface {
	Assemble(ctx context.Context, batchID string) (*provenance.Batch, error)
}

// Observer receives a snapshot after every applied transition. Observers
// are called with the orchestrator locked and must not call back into it.
type Observer func(Snapshot)

// Orchestrator is the verification state machine.
type Orchestrator struct {
	assembler   Assembler
	timeout     time.Duration
	provisional bool
	clock       func() time.Time
	session     *ledger.Session
	logger      *slog.Logger
	metrics     *observability.Metrics

	mu        sync.Mutex
	gen       uint64
	snap      Snapshot
	current   *Attempt
	observers []Observer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithQueryTimeout sets the Querying ceiling.
func WithQueryTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithProvisional turns the provisional presentation of unknown batches
// on or off. It is on by default.
func WithProvisional(enabled bool) Option {
	return func(o *Orchestrator) { o.provisional = enabled }
}

// WithClock overrides the clock used to date placeholder data.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithSession records every finished verification in s.
func WithSession(s *ledger.Session) Option {
	return func(o *Orchestrator) { o.session = s }
}

// WithObserver registers an observer.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, fn) }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics counts verification outcomes on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an idle orchestrator.
func New(a Assembler, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		assembler:   a,
		timeout:     DefaultQueryTimeout,
		provisional: true,
		clock:       time.Now,
		logger:      observability.Logger("verify"),
		snap:        Snapshot{State: StateIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Snapshot returns the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

// State returns the current state name.
func (o *Orchestrator) State() State {
	return o.Snapshot().State
}

// StartScan begins a new attempt reading from src, superseding any
// attempt in flight. From Presenting or Error it implies a Reset.
func (o *Orchestrator) StartScan(ctx context.Context, src Source) *Attempt {
	o.mu.Lock()
	o.gen++
	gen := o.gen
	if o.current != nil {
		o.current.finish(Snapshot{}, ErrSuperseded)
		o.metrics.Verification("superseded")
	}
	attempt := newAttempt(gen)
	o.current = attempt
	o.apply(Snapshot{State: StateScanning, Generation: gen})
	o.mu.Unlock()

	go o.run(ctx, gen, src, attempt)
	return attempt
}

// Reset returns to Idle from any state, dropping any attempt in flight.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gen++
	if o.current != nil {
		o.current.finish(Snapshot{}, ErrSuperseded)
		o.current = nil
	}
	o.apply(Snapshot{State: StateIdle, Generation: o.gen})
}

func (o *Orchestrator) run(ctx context.Context, gen uint64, src Source, attempt *Attempt) {
	ctx, span := tracer.Start(ctx, "verify.attempt", trace.WithAttributes(attribute.Int64("verify.generation", int64(gen)))) //nolint:gosec // generations stay small
	defer span.End()

	raw, err := src.Scan(ctx)
	if err != nil {
		o.fail(ctx, gen, attempt, nil, "scan failed: "+err.Error(), err)
		return
	}
	if !o.advance(gen, Snapshot{State: StateDecoding}) {
		return
	}

	payload, err := qr.Decode(strings.TrimSpace(raw))
	if err != nil {
		o.fail(ctx, gen, attempt, nil, "invalid QR code: "+err.Error(), err)
		return
	}
	if strings.TrimSpace(payload.BatchID) == "" {
		o.fail(ctx, gen, attempt, &payload, "QR code carries no batch id", errors.New("empty batch id"))
		return
	}
	span.SetAttributes(attribute.String("batch.id", payload.BatchID), attribute.String("qr.id", payload.ID))
	if !o.advance(gen, Snapshot{State: StateQuerying, Payload: &payload}) {
		return
	}

	batch, err := o.query(ctx, payload.BatchID)
	switch {
	case err == nil:
		o.finishAttempt(ctx, gen, attempt, Snapshot{State: StatePresenting, Payload: &payload, Batch: batch}, "verified")
	case errors.Is(err, errQueryTimeout):
		o.fail(ctx, gen, attempt, &payload, ReasonTimeout, err)
	case errors.Is(err, ledger.ErrNotFound) && o.provisional:
		o.logger.InfoContext(ctx, "batch not on ledger, presenting provisional data", "batch_id", payload.BatchID)
		placeholder := provenance.Placeholder(payload.BatchID, o.clock())
		o.finishAttempt(ctx, gen, attempt, Snapshot{
			State:   StatePresenting,
			Payload: &payload,
			Batch:   placeholder,
			Notice:  provisionalNotice,
		}, "provisional")
	default:
		o.fail(ctx, gen, attempt, &payload, reasonFor(err), err)
	}
}

var errQueryTimeout = errors.New("ledger query timed out")

// query runs the assembler under the querying ceiling.
func (o *Orchestrator) query(ctx context.Context, batchID string) (*provenance.Batch, error) {
	qctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	type result struct {
		batch *provenance.Batch
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := o.assembler.Assemble(qctx, batchID)
		ch <- result{b, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && ctx.Err() == nil && errors.Is(qctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %w", errQueryTimeout, o.timeout, r.err)
		}
		return r.batch, r.err
	case <-qctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", errQueryTimeout, o.timeout)
	}
}

func reasonFor(err error) string {
	var (
		nf *ledger.NotFoundError
		qe *ledger.QueryError
		me *provenance.MalformedRecordError
	)
	switch {
	case errors.As(err, &nf):
		return "batch not found on ledger"
	case errors.As(err, &qe) && qe.Transport:
		return "ledger unavailable: " + qe.Reason
	case errors.As(err, &qe):
		return "ledger query failed: " + qe.Reason
	case errors.As(err, &me):
		return "ledger record invalid: " + me.Error()
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return err.Error()
}

// advance applies s if gen is still current.
func (o *Orchestrator) advance(gen uint64, s Snapshot) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return false
	}
	s.Generation = gen
	o.apply(s)
	return true
}

func (o *Orchestrator) fail(ctx context.Context, gen uint64, attempt *Attempt, payload *qr.Payload, reason string, err error) {
	o.logger.WarnContext(ctx, "verification failed", "generation", gen, "reason", reason, "error", err)
	outcome := "error"
	if reason == ReasonTimeout {
		outcome = "timeout"
	}
	o.finishAttempt(ctx, gen, attempt, Snapshot{State: StateError, Payload: payload, Reason: reason, Err: err}, outcome)
}

func (o *Orchestrator) finishAttempt(ctx context.Context, gen uint64, attempt *Attempt, s Snapshot, outcome string) {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return
	}
	s.Generation = gen
	o.apply(s)
	o.current = nil
	o.mu.Unlock()

	o.metrics.Verification(outcome)
	o.record(ctx, s, outcome)
	attempt.finish(s, nil)
}

// record appends the verification outcome to the session, if any.
func (o *Orchestrator) record(ctx context.Context, s Snapshot, outcome string) {
	if o.session == nil {
		return
	}
	e := ledger.Entry{Kind: ledger.EntryVerification, Function: "Verify", Status: outcome, Detail: s.Reason}
	if s.Payload != nil {
		e.Args = []string{s.Payload.BatchID, s.Payload.ID}
	}
	if s.Batch != nil {
		e.Detail = s.Batch.Digest
	}
	if _, err := o.session.Append(e); err != nil {
		o.logger.WarnContext(ctx, "failed to record verification", "error", err)
	}
}

// apply sets the snapshot and notifies observers. Callers hold o.mu.
func (o *Orchestrator) apply(s Snapshot) {
	o.snap = s
	for _, fn := range o.observers {
		fn(s)
	}
}
