package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

const genesisHash = "genesis"

// Entry kinds recorded in a Session.
const (
	EntryInvoke       = "invoke"
	EntryQuery        = "query"
	EntryVerification = "verification"
)

// Entry is one hash-chained record in a Session log.
type Entry struct {
	Sequence  uint64    `json:"sequence"`
	Kind      string    `json:"kind"`
	Function  string    `json:"function"`
	Args      []string  `json:"args,omitempty"`
	Status    string    `json:"status"`
	TxID      string    `json:"txId,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	PrevHash  string    `json:"prevHash"`
	Hash      string    `json:"hash"`
}

// Session is a caller-owned, append-only log of one verification
// session's ledger traffic. Each entry is chained to its predecessor by
// SHA-256, so any later edit breaks Verify. Sessions share nothing with
// each other.
type Session struct {
	id    string
	mu    sync.RWMutex
	log   []Entry
	head  string
	clock func() time.Time
}

// NewSession starts an empty session with a fresh id.
func NewSession() *Session {
	return &Session{
		id:    uuid.NewString(),
		head:  genesisHash,
		clock: time.Now,
	}
}

// WithClock overrides the clock for testing.
func (s *Session) WithClock(clock func() time.Time) *Session {
	s.clock = clock
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Append adds e to the log and returns its sequence number. Sequence,
// Timestamp and the hashes are assigned here.
func (s *Session) Append(e Entry) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.Sequence = uint64(len(s.log)) + 1
	e.Timestamp = s.clock().UTC()
	e.Args = append([]string(nil), e.Args...)
	e.PrevHash = s.head

	h, err := entryHash(e)
	if err != nil {
		return 0, err
	}
	e.Hash = h

	s.log = append(s.log, e)
	s.head = h
	return e.Sequence, nil
}

// Entries returns a copy of the log.
func (s *Session) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.log))
	copy(out, s.log)
	return out
}

// Transactions returns the invoke entries, newest first.
func (s *Session) Transactions() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for i := len(s.log) - 1; i >= 0; i-- {
		if s.log[i].Kind == EntryInvoke {
			out = append(out, s.log[i])
		}
	}
	return out
}

// Head returns the hash of the latest entry.
func (s *Session) Head() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head
}

// Len returns the number of entries.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.log)
}

// ErrChainBroken is wrapped by Verify failures.
var ErrChainBroken = errors.New("session chain broken")

// Verify recomputes the chain and reports the first inconsistency.
func (s *Session) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prev := genesisHash
	for i, e := range s.log {
		if e.PrevHash != prev {
			return fmt.Errorf("%w at entry %d: expected prev %s, got %s", ErrChainBroken, i+1, prev, e.PrevHash)
		}
		h, err := entryHash(e)
		if err != nil {
			return err
		}
		if h != e.Hash {
			return fmt.Errorf("%w at entry %d: hash mismatch", ErrChainBroken, i+1)
		}
		prev = e.Hash
	}
	return nil
}

func entryHash(e Entry) (string, error) {
	input := struct {
		Seq       uint64   `json:"seq"`
		Kind      string   `json:"kind"`
		Function  string   `json:"function"`
		Args      []string `json:"args"`
		Status    string   `json:"status"`
		TxID      string   `json:"tx"`
		Detail    string   `json:"detail"`
		Timestamp string   `json:"ts"`
		PrevHash  string   `json:"prev"`
	}{e.Sequence, e.Kind, e.Function, e.Args, e.Status, e.TxID, e.Detail, e.Timestamp.UTC().Format(time.RFC3339Nano), e.PrevHash}

	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize session entry: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Wrap returns a Gateway that forwards to next and records every call in
// the session.
func (s *Session) Wrap(next Gateway) Gateway {
	return &recordingGateway{next: next, session: s}
}

type recordingGateway struct {
	next    Gateway
	session *Session
}

func (r *recordingGateway) Invoke(ctx context.Context, function string, args []string) (*Receipt, error) {
	receipt, err := r.next.Invoke(ctx, function, args)
	e := Entry{Kind: EntryInvoke, Function: function, Args: args, Status: string(StatusSuccess)}
	if err != nil {
		e.Status = string(StatusFailed)
		e.Detail = err.Error()
	} else {
		e.TxID = receipt.TxID
		e.Detail = fmt.Sprintf("block %d", receipt.BlockNumber)
	}
	if _, appendErr := r.session.Append(e); appendErr != nil && err == nil {
		return receipt, appendErr
	}
	return receipt, err
}

func (r *recordingGateway) Query(ctx context.Context, function string, args []string) (*QueryResult, error) {
	res, err := r.next.Query(ctx, function, args)
	e := Entry{Kind: EntryQuery, Function: function, Args: args, Status: "ok"}
	switch {
	case errors.Is(err, ErrNotFound):
		e.Status = "not_found"
	case err != nil:
		e.Status = "error"
		e.Detail = err.Error()
	}
	if _, appendErr := r.session.Append(e); appendErr != nil && err == nil {
		return res, appendErr
	}
	return res, err
}
