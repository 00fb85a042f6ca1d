// Package qr implements the HERBIONYX QR identity protocol.
//
// A payload is minted once, at collection time or when a product is
// packaged, and is immutable afterwards. Its canonical JSON form is the
// string embedded in the printed code; Decode turns a scanned string back
// into a Payload or a typed validation error.
package qr

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

const (
	// Network is the tag every accepted payload must carry.
	Network = "herbionyx"
	// Version is the payload version written by Mint.
	Version = "1.0"
	// TimeLayout is the millisecond UTC layout used for payload timestamps.
	TimeLayout = "2006-01-02T15:04:05.000Z"
)

// Type names what a QR code was minted for.
type Type string

const (
	TypeCollection    Type = "collection"
	TypeQualityTest   Type = "quality-test"
	TypeProcessing    Type = "processing"
	TypeManufacturing Type = "manufacturing"
	TypeFinalProduct  Type = "final-product"
	TypeUnknown       Type = "unknown"
)

var allTypes = []Type{
	TypeCollection,
	TypeQualityTest,
	TypeProcessing,
	TypeManufacturing,
	TypeFinalProduct,
	TypeUnknown,
}

// Types returns every recognised payload type.
func Types() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}

// Valid reports whether t is one of the recognised payload types.
func (t Type) Valid() bool {
	for _, known := range allTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Payload is the structured record carried inside a HERBIONYX QR code.
type Payload struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	BatchID   string `json:"batchId"`
	Timestamp string `json:"timestamp"`
	Network   string `json:"network"`
	Version   string `json:"version"`
}

// Time parses the payload timestamp.
func (p Payload) Time() (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid payload timestamp %q: %w", p.Timestamp, err)
	}
	return t, nil
}

// Encode renders p in its canonical transport form (RFC 8785 JSON).
func Encode(p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	return string(canonical), nil
}
