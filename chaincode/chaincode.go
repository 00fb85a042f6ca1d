/*
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

const (
	batchPrefix     = "BATCH_"
	stageIndex      = "stage~batch"
	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// stageRoles maps a stage type to the roles allowed to record it
var stageRoles = map[string][]string{
	"collection":    {"collector"},
	"quality-test":  {"lab"},
	"processing":    {"processor"},
	"manufacturing": {"manufacturer"},
	"final-product": {"manufacturer"},
}

// HerbContract records herb batches and their chain of custody
type HerbContract struct {
	contractapi.Contract
}

// CreateBatch registers a new batch
func (s *HerbContract) CreateBatch(ctx contractapi.TransactionContextInterface, batchId, productName, species, manufacturingDate, expiryDate string) error {
	if err := s.authorize(ctx, "manufacturer"); err != nil {
		return err
	}
	if strings.TrimSpace(batchId) == "" {
		return fmt.Errorf("batchId is required")
	}

	existing, err := ctx.GetStub().GetState(batchPrefix + batchId)
	if err != nil {
		return fmt.Errorf("failed to read batch %s: %v", batchId, err)
	}
	if existing != nil {
		return fmt.Errorf("batch %s already exists", batchId)
	}

	return s.putBatch(ctx, &Batch{
		BatchID:           batchId,
		ProductName:       productName,
		Species:           species,
		ManufacturingDate: manufacturingDate,
		ExpiryDate:        expiryDate,
	})
}

// RecordStage appends a stage to an existing batch. stageJSON is a Stage
// without batchId; stageId and timestamp are filled in when absent.
func (s *HerbContract) RecordStage(ctx contractapi.TransactionContextInterface, batchId, stageJSON string) (string, error) {
	if _, err := s.readBatch(ctx, batchId); err != nil {
		return "", err
	}

	var stage Stage
	if err := json.Unmarshal([]byte(stageJSON), &stage); err != nil {
		return "", fmt.Errorf("failed to unmarshal stage: %v", err)
	}
	if roles, ok := stageRoles[stage.Type]; ok {
		if err := s.authorize(ctx, roles...); err != nil {
			return "", err
		}
	}
	if strings.TrimSpace(stage.Organization) == "" {
		return "", fmt.Errorf("stage organization is required")
	}

	stub := ctx.GetStub()
	stage.BatchID = batchId
	if stage.StageID == "" {
		stage.StageID = "STAGE_" + stub.GetTxID()
	}
	if stage.Timestamp == "" {
		ts, err := stub.GetTxTimestamp()
		if err != nil {
			return "", fmt.Errorf("failed to read transaction timestamp: %v", err)
		}
		stage.Timestamp = ts.AsTime().UTC().Format(timestampLayout)
	}

	key, err := stub.CreateCompositeKey(stageIndex, []string{batchId, stage.StageID})
	if err != nil {
		return "", fmt.Errorf("failed to create stage key: %v", err)
	}
	existing, err := stub.GetState(key)
	if err != nil {
		return "", fmt.Errorf("failed to read stage %s: %v", stage.StageID, err)
	}
	if existing != nil {
		return "", fmt.Errorf("stage %s already exists", stage.StageID)
	}

	stageBytes, err := json.Marshal(stage)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stage: %v", err)
	}
	if err := stub.PutState(key, stageBytes); err != nil {
		return "", fmt.Errorf("failed to store stage %s: %v", stage.StageID, err)
	}
	return string(stageBytes), nil
}

// RecordQualityTests merges lab results into a batch
func (s *HerbContract) RecordQualityTests(ctx contractapi.TransactionContextInterface, batchId, testsJSON string) error {
	if err := s.authorize(ctx, "lab"); err != nil {
		return err
	}
	var tests map[string]float64
	if err := json.Unmarshal([]byte(testsJSON), &tests); err != nil {
		return fmt.Errorf("failed to unmarshal quality tests: %v", err)
	}

	batch, err := s.readBatch(ctx, batchId)
	if err != nil {
		return err
	}
	if batch.QualityTests == nil {
		batch.QualityTests = map[string]float64{}
	}
	for name, value := range tests {
		batch.QualityTests[name] = value
	}
	return s.putBatch(ctx, batch)
}

// SetFarmerStory attaches the grower narrative to a batch
func (s *HerbContract) SetFarmerStory(ctx contractapi.TransactionContextInterface, batchId, storyJSON string) error {
	if err := s.authorize(ctx, "collector", "manufacturer"); err != nil {
		return err
	}
	var story FarmerStory
	if err := json.Unmarshal([]byte(storyJSON), &story); err != nil {
		return fmt.Errorf("failed to unmarshal farmer story: %v", err)
	}

	batch, err := s.readBatch(ctx, batchId)
	if err != nil {
		return err
	}
	batch.FarmerStory = &story
	return s.putBatch(ctx, batch)
}

// GetBatch returns the batch record as JSON
func (s *HerbContract) GetBatch(ctx contractapi.TransactionContextInterface, batchId string) (string, error) {
	batchBytes, err := ctx.GetStub().GetState(batchPrefix + batchId)
	if err != nil {
		return "", fmt.Errorf("failed to get batch %s: %v", batchId, err)
	}
	if batchBytes == nil {
		return "", fmt.Errorf("batch %s does not exist", batchId)
	}
	return string(batchBytes), nil
}

// GetStagesByBatch returns every stage of a batch as a JSON array, in key
// order. An unknown batch yields an empty array.
func (s *HerbContract) GetStagesByBatch(ctx contractapi.TransactionContextInterface, batchId string) (string, error) {
	stages, err := s.stages(ctx, batchId)
	if err != nil {
		return "", err
	}
	stagesBytes, err := json.Marshal(stages)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stages: %v", err)
	}
	return string(stagesBytes), nil
}

// GetProvenance returns a batch together with its stages
func (s *HerbContract) GetProvenance(ctx contractapi.TransactionContextInterface, batchId string) (string, error) {
	batch, err := s.readBatch(ctx, batchId)
	if err != nil {
		return "", err
	}
	stages, err := s.stages(ctx, batchId)
	if err != nil {
		return "", err
	}
	provBytes, err := json.Marshal(Provenance{Batch: *batch, Stages: stages})
	if err != nil {
		return "", fmt.Errorf("failed to marshal provenance: %v", err)
	}
	return string(provBytes), nil
}

// GetBatchHistory returns every committed version of a batch record
func (s *HerbContract) GetBatchHistory(ctx contractapi.TransactionContextInterface, batchId string) (string, error) {
	resultsIterator, err := ctx.GetStub().GetHistoryForKey(batchPrefix + batchId)
	if err != nil {
		return "", fmt.Errorf("failed to get history for batch %s: %v", batchId, err)
	}
	defer resultsIterator.Close()

	history := []HistoryEntry{}
	for resultsIterator.HasNext() {
		modification, err := resultsIterator.Next()
		if err != nil {
			return "", fmt.Errorf("failed during history iteration: %v", err)
		}

		entry := HistoryEntry{TxID: modification.TxId, IsDelete: modification.IsDelete}
		if modification.Timestamp != nil {
			entry.Timestamp = modification.Timestamp.AsTime().UTC().Format(timestampLayout)
		}
		if !modification.IsDelete {
			var batch Batch
			if err := json.Unmarshal(modification.Value, &batch); err != nil {
				return "", fmt.Errorf("failed to unmarshal batch history: %v", err)
			}
			entry.Value = &batch
		}
		history = append(history, entry)
	}

	historyBytes, err := json.Marshal(history)
	if err != nil {
		return "", fmt.Errorf("failed to marshal history: %v", err)
	}
	return string(historyBytes), nil
}

func (s *HerbContract) stages(ctx contractapi.TransactionContextInterface, batchId string) ([]Stage, error) {
	resultsIterator, err := ctx.GetStub().GetStateByPartialCompositeKey(stageIndex, []string{batchId})
	if err != nil {
		return nil, fmt.Errorf("failed to get stages for batch %s: %v", batchId, err)
	}
	defer resultsIterator.Close()

	stages := []Stage{}
	for resultsIterator.HasNext() {
		queryResponse, err := resultsIterator.Next()
		if err != nil {
			return nil, fmt.Errorf("failed during results iteration: %v", err)
		}

		var stage Stage
		if err := json.Unmarshal(queryResponse.Value, &stage); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stage data: %v", err)
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

func (s *HerbContract) readBatch(ctx contractapi.TransactionContextInterface, batchId string) (*Batch, error) {
	batchBytes, err := ctx.GetStub().GetState(batchPrefix + batchId)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch %s: %v", batchId, err)
	}
	if batchBytes == nil {
		return nil, fmt.Errorf("batch %s does not exist", batchId)
	}

	var batch Batch
	if err := json.Unmarshal(batchBytes, &batch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch data: %v", err)
	}
	return &batch, nil
}

func (s *HerbContract) putBatch(ctx contractapi.TransactionContextInterface, batch *Batch) error {
	batchBytes, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch data: %v", err)
	}
	return ctx.GetStub().PutState(batchPrefix+batch.BatchID, batchBytes)
}

// authorize checks the caller's role attribute against roles. Identities
// without a role attribute are let through, which is how development
// networks enroll their users.
func (s *HerbContract) authorize(ctx contractapi.TransactionContextInterface, roles ...string) error {
	val, found, err := ctx.GetClientIdentity().GetAttributeValue("role")
	if err != nil {
		return fmt.Errorf("failed to read caller role: %v", err)
	}
	if !found {
		return nil
	}
	for _, role := range roles {
		if val == role {
			return nil
		}
	}
	return fmt.Errorf("only %s can perform this operation", strings.Join(roles, " or "))
}

func main() {
	chaincode, err := contractapi.NewChaincode(&HerbContract{})
	if err != nil {
		fmt.Printf("Error creating chaincode: %v\n", err)
		return
	}
	chaincode.Info.Title = "herbionyx"
	chaincode.Info.Version = "1.0.0"

	if err := chaincode.Start(); err != nil {
		fmt.Printf("Error starting chaincode: %v\n", err)
	}
}
