package verify

import (
	"context"
	"errors"
	"sync"

	"github.com/herbionyx/traceability/pkg/provenance"
	"github.com/herbionyx/traceability/pkg/qr"
)

// State is an orchestrator state.
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateDecoding   State = "decoding"
	StateQuerying   State = "querying"
	StatePresenting State = "presenting"
	StateError      State = "error"
)

// Busy reports whether an attempt is in flight in state s.
func (s State) Busy() bool {
	return s == StateScanning || s == StateDecoding || s == StateQuerying
}

// ReasonTimeout is the error reason when querying exceeds its ceiling.
const ReasonTimeout = "timeout"

// Snapshot is the observable orchestrator state after a transition.
type Snapshot struct {
	State      State             `json:"state"`
	Generation uint64            `json:"generation"`
	Payload    *qr.Payload       `json:"payload,omitempty"`
	Batch      *provenance.Batch `json:"batch,omitempty"`
	// Notice labels a provisional presentation.
	Notice string `json:"notice,omitempty"`
	// Reason is the human-readable cause of StateError.
	Reason string `json:"reason,omitempty"`
	Err    error  `json:"-"`
}

// ErrSuperseded is returned by Attempt.Wait when a later StartScan or a
// Reset replaced the attempt.
var ErrSuperseded = errors.New("verification attempt superseded")

// Attempt is the pending result of one StartScan.
type Attempt struct {
	gen    uint64
	done   chan struct{}
	once   sync.Once
	result Snapshot
	err    error
}

func newAttempt(gen uint64) *Attempt {
	return &Attempt{gen: gen, done: make(chan struct{})}
}

// Generation is the generation number StartScan assigned.
func (a *Attempt) Generation() uint64 { return a.gen }

// Done is closed once the attempt reaches Presenting or Error, or is
// superseded.
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Wait blocks until the attempt finishes or ctx ends. A finished attempt
// returns its final Snapshot, whose State is StatePresenting or
// StateError; a replaced one returns ErrSuperseded.
func (a *Attempt) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-a.done:
		return a.result, a.err
	}
}

func (a *Attempt) finish(s Snapshot, err error) {
	a.once.Do(func() {
		a.result, a.err = s, err
		close(a.done)
	})
}

// Source yields the raw text of one scanned QR code.
type Source interface {
	Scan(ctx context.Context) (string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (string, error)

func (f SourceFunc) Scan(ctx context.Context) (string, error) { return f(ctx) }

// Text is a Source that has already been scanned.
type Text string

func (t Text) Scan(context.Context) (string, error) { return string(t), nil }
