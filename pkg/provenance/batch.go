// Package provenance turns raw ledger records for a batch into an ordered,
// presentable journey.
//
// The assembler is the only place that decides stage order. It never
// trusts arrival order, never corrects what it finds odd (it flags it as
// an Anomaly instead) and never invents data: an absent batch is a
// *ledger.NotFoundError. Placeholder data exists for the orchestrator's
// provisional path only and is always marked as such.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/herbionyx/traceability/pkg/ledger"
)

// Stage is one event of a batch journey.
type Stage struct {
	ID           string         `json:"id,omitempty"`
	Stage        string         `json:"stage"`
	Type         Kind           `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	Organization string         `json:"organization"`
	Latitude     float64        `json:"latitude"`
	Longitude    float64        `json:"longitude"`
	Icon         string         `json:"icon"`
	Details      ledger.Details `json:"details"`
	EvidenceHash string         `json:"evidenceHash,omitempty"`
}

// Batch is an assembled batch ready for presentation.
type Batch struct {
	BatchID           string              `json:"batchId"`
	ProductName       string              `json:"productName"`
	Species           string              `json:"species"`
	ManufacturingDate time.Time           `json:"manufacturingDate"`
	ExpiryDate        time.Time           `json:"expiryDate"`
	Journey           []Stage             `json:"journey"`
	QualityTests      map[string]float64  `json:"qualityTests"`
	FarmerStory       *ledger.FarmerStory `json:"farmerStory,omitempty"`
	Provisional       bool                `json:"provisional"`
	Anomalies         []Anomaly           `json:"anomalies,omitempty"`
	Digest            string              `json:"digest"`
}

// AnomalyKind names an ordering observation.
type AnomalyKind string

const (
	// AnomalyPrecedenceInversion: a stage follows, in time, a stage that
	// belongs later in the supply chain.
	AnomalyPrecedenceInversion AnomalyKind = "precedence-inversion"
	// AnomalyAfterExpiry: a stage is timestamped after the batch expired.
	AnomalyAfterExpiry AnomalyKind = "after-expiry"
)

// Anomaly is something odd about a journey. It is reported, not fixed.
type Anomaly struct {
	Kind    AnomalyKind `json:"kind"`
	Index   int         `json:"index"`
	Stage   string      `json:"stage"`
	Message string      `json:"message"`
}

// MalformedRecordError reports a ledger record that fails its own shape
// check.
type MalformedRecordError struct {
	Record string // "batch" or "stage"
	ID     string
	Index  int
	Reason string
	Err    error
}

func (e *MalformedRecordError) Error() string {
	if e.Record == "stage" {
		return fmt.Sprintf("malformed stage record %d (%s): %s", e.Index, e.ID, e.Reason)
	}
	return fmt.Sprintf("malformed %s record %s: %s", e.Record, e.ID, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// JourneyDigest is the sha256 of the canonical (RFC 8785) JSON of
// journey. Two parties holding the same journey compute the same digest.
func JourneyDigest(journey []Stage) (string, error) {
	if journey == nil {
		journey = []Stage{}
	}
	raw, err := json.Marshal(journey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal journey: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize journey: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
