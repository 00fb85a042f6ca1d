/*
SPDX-License-Identifier: Apache-2.0
*/

package main

import "encoding/json"

// Batch is the world-state record for a herb batch.
type Batch struct {
	BatchID           string             `json:"batchId"`
	ProductName       string             `json:"productName"`
	Species           string             `json:"species"`
	ManufacturingDate string             `json:"manufacturingDate"`
	ExpiryDate        string             `json:"expiryDate"`
	QualityTests      map[string]float64 `json:"qualityTests,omitempty"`
	FarmerStory       *FarmerStory       `json:"farmerStory,omitempty"`
}

// FarmerStory is the grower narrative shown with a batch
type FarmerStory struct {
	Story      string `json:"story"`
	FarmerName string `json:"farmerName"`
	FarmName   string `json:"farmName"`
	Location   string `json:"location"`
}

// Stage is one chain-of-custody event. Details stay raw so the key order
// the client submitted is what readers get back.
type Stage struct {
	StageID      string          `json:"stageId"`
	BatchID      string          `json:"batchId"`
	Type         string          `json:"type"`
	Stage        string          `json:"stage"`
	Timestamp    string          `json:"timestamp"`
	Organization string          `json:"organization"`
	Latitude     float64         `json:"latitude"`
	Longitude    float64         `json:"longitude"`
	Details      json.RawMessage `json:"details,omitempty"`
	EvidenceHash string          `json:"evidenceHash,omitempty"`
}

// Provenance is a batch with all of its stages
type Provenance struct {
	Batch  Batch   `json:"batch"`
	Stages []Stage `json:"stages"`
}

// HistoryEntry is one modification of a batch record
type HistoryEntry struct {
	TxID      string `json:"txId"`
	Timestamp string `json:"timestamp"`
	IsDelete  bool   `json:"isDelete"`
	Value     *Batch `json:"value,omitempty"`
}
