package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// BatchRecord is batch metadata as stored on the ledger.
type BatchRecord struct {
	BatchID           string             `json:"batchId"`
	ProductName       string             `json:"productName"`
	Species           string             `json:"species"`
	ManufacturingDate string             `json:"manufacturingDate"`
	ExpiryDate        string             `json:"expiryDate"`
	QualityTests      map[string]float64 `json:"qualityTests,omitempty"`
	FarmerStory       *FarmerStory       `json:"farmerStory,omitempty"`
}

// FarmerStory is the optional grower narrative attached to a batch.
type FarmerStory struct {
	Story      string `json:"story"`
	FarmerName string `json:"farmerName"`
	FarmName   string `json:"farmName"`
	Location   string `json:"location"`
}

// StageRecord is one chain-of-custody event as stored on the ledger.
type StageRecord struct {
	StageID      string  `json:"stageId,omitempty"`
	BatchID      string  `json:"batchId"`
	Type         string  `json:"type,omitempty"`
	Stage        string  `json:"stage"`
	Timestamp    string  `json:"timestamp"`
	Organization string  `json:"organization"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Icon         string  `json:"icon,omitempty"`
	Details      Details `json:"details"`
	EvidenceHash string  `json:"evidenceHash,omitempty"`
}

// Provenance is what GetProvenance returns: batch metadata and its
// stage records in ledger order.
type Provenance struct {
	Batch  BatchRecord   `json:"batch"`
	Stages []StageRecord `json:"stages"`
}

// Detail is one key/value pair of stage details.
type Detail struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Details is an ordered string mapping. It marshals as a JSON object with
// keys in insertion order, and unmarshals from either an object (order
// kept) or an array of {key, value} pairs.
type Details []Detail

// Get returns the value stored under key.
func (d Details) Get(key string) (string, bool) {
	for _, kv := range d {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Set replaces the value under key, or appends it.
func (d *Details) Set(key, value string) {
	for i := range *d {
		if (*d)[i].Key == key {
			(*d)[i].Value = value
			return
		}
	}
	*d = append(*d, Detail{Key: key, Value: value})
}

// Clone returns an independent copy.
func (d Details) Clone() Details {
	if d == nil {
		return nil
	}
	out := make(Details, len(d))
	copy(out, d)
	return out
}

func (d Details) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *Details) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*d = nil
		return nil
	case len(trimmed) > 0 && trimmed[0] == '[':
		var pairs []Detail
		if err := json.Unmarshal(trimmed, &pairs); err != nil {
			return fmt.Errorf("invalid details array: %w", err)
		}
		*d = pairs
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("invalid details: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("invalid details: expected object, got %v", tok)
	}

	out := Details{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("invalid details key: %w", err)
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("invalid details value for %q: %w", key, err)
		}
		out.Set(key, detailValue(raw))
	}
	*d = out
	return nil
}

// detailValue renders a JSON value as a detail string. Strings are
// unquoted; numbers, booleans and nested values keep their JSON text.
func detailValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
