package qr

import (
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"time"
)

const (
	idPrefix     = "QR_"
	suffixLength = 9
	base36       = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// Source is what a payload is minted from. BatchID, EventID and ID are
// tried in that order; the first non-empty one becomes the payload's
// batch identifier.
type Source struct {
	Type    Type
	BatchID string
	EventID string
	ID      string
}

func (s Source) batchID() string {
	switch {
	case s.BatchID != "":
		return s.BatchID
	case s.EventID != "":
		return s.EventID
	}
	return s.ID
}

// Minted is the result of minting: the payload, its transport string and,
// when the minter has a renderer, the rendered code.
type Minted struct {
	Payload Payload `json:"payload"`
	Data    string  `json:"data"`
	PNG     []byte  `json:"-"`
	DataURL string  `json:"qrCodeUrl,omitempty"`
}

// Minter creates payloads. The zero value is not usable; use NewMinter.
type Minter struct {
	clock    func() time.Time
	random   io.Reader
	renderer *Renderer
}

// MintOption configures a Minter.
type MintOption func(*Minter)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MintOption {
	return func(m *Minter) { m.clock = clock }
}

// WithRandom overrides the randomness used for id suffixes.
func WithRandom(r io.Reader) MintOption {
	return func(m *Minter) { m.random = r }
}

// WithRenderer makes Mint also produce a PNG of the transport string.
func WithRenderer(r *Renderer) MintOption {
	return func(m *Minter) { m.renderer = r }
}

// NewMinter creates a Minter reading the wall clock and crypto/rand.
func NewMinter(opts ...MintOption) *Minter {
	m := &Minter{
		clock:  time.Now,
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var defaultMinter = NewMinter()

// Mint creates a payload with the default minter (no rendering).
func Mint(src Source) (*Minted, error) {
	return defaultMinter.Mint(src)
}

// Mint creates a fresh payload for src.
func (m *Minter) Mint(src Source) (*Minted, error) {
	typ := src.Type
	if typ == "" {
		typ = TypeUnknown
	}
	if !typ.Valid() {
		return nil, &StructureError{Reason: fmt.Sprintf("unknown payload type %q", typ)}
	}

	now := m.clock().UTC()
	id, err := m.newID(now)
	if err != nil {
		return nil, err
	}

	p := Payload{
		ID:        id,
		Type:      typ,
		BatchID:   src.batchID(),
		Timestamp: now.Format(TimeLayout),
		Network:   Network,
		Version:   Version,
	}
	data, err := Encode(p)
	if err != nil {
		return nil, err
	}

	out := &Minted{Payload: p, Data: data}
	if m.renderer != nil {
		png, err := m.renderer.PNG(data)
		if err != nil {
			return nil, err
		}
		out.PNG = png
		out.DataURL = DataURL(png)
	}
	return out, nil
}

// newID returns QR_<unix millis>_<9 base-36 chars>.
func (m *Minter) newID(now time.Time) (string, error) {
	suffix, err := randomBase36(m.random, suffixLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate qr id: %w", err)
	}
	return idPrefix + strconv.FormatInt(now.UnixMilli(), 10) + "_" + suffix, nil
}

// randomBase36 draws n uniformly distributed base-36 characters from r.
func randomBase36(r io.Reader, n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			// 252 is the largest multiple of 36 below 256.
			if b >= 252 {
				continue
			}
			out = append(out, base36[b%36])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
