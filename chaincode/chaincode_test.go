/*
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/hyperledger/fabric-chaincode-go/shimtest"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// fakeIdentity is a client identity with fixed attributes
type fakeIdentity struct {
	attrs map[string]string
}

func (f *fakeIdentity) GetID() (string, error)    { return "x509::CN=tester", nil }
func (f *fakeIdentity) GetMSPID() (string, error) { return "Org1MSP", nil }

func (f *fakeIdentity) GetAttributeValue(name string) (string, bool, error) {
	v, ok := f.attrs[name]
	return v, ok, nil
}

func (f *fakeIdentity) AssertAttributeValue(name, value string) error {
	if f.attrs[name] != value {
		return fmt.Errorf("attribute %s is not %s", name, value)
	}
	return nil
}

func (f *fakeIdentity) GetX509Certificate() (*x509.Certificate, error) { return nil, nil }

func setupStub(t *testing.T, role string) (*shimtest.MockStub, *contractapi.TransactionContext) {
	t.Helper()
	stub := shimtest.NewMockStub("herbionyx", nil)
	stub.MockTransactionStart("tx1")

	identity := &fakeIdentity{attrs: map[string]string{}}
	if role != "" {
		identity.attrs["role"] = role
	}
	ctx := new(contractapi.TransactionContext)
	ctx.SetStub(stub)
	ctx.SetClientIdentity(identity)
	return stub, ctx
}

func createDemoBatch(t *testing.T, ctx *contractapi.TransactionContext) {
	t.Helper()
	err := (&HerbContract{}).CreateBatch(ctx, "BATCH_001", "Ashwagandha Root Powder", "Withania somnifera", "2025-01-20", "2027-01-20")
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
}

func TestCreateBatch(t *testing.T) {
	stub, ctx := setupStub(t, "")
	createDemoBatch(t, ctx)

	batchBytes, _ := stub.GetState("BATCH_BATCH_001")
	if batchBytes == nil {
		t.Fatal("Batch BATCH_001 should exist")
	}
	var batch Batch
	if err := json.Unmarshal(batchBytes, &batch); err != nil {
		t.Fatalf("stored batch is not JSON: %v", err)
	}
	if batch.Species != "Withania somnifera" || batch.ExpiryDate != "2027-01-20" {
		t.Errorf("unexpected batch %+v", batch)
	}

	// Duplicate ID
	err := (&HerbContract{}).CreateBatch(ctx, "BATCH_001", "x", "y", "2025-01-20", "2027-01-20")
	if err == nil || err.Error() != "batch BATCH_001 already exists" {
		t.Errorf("CreateBatch should fail on duplicate ID, got %v", err)
	}

	// Empty ID
	if err := (&HerbContract{}).CreateBatch(ctx, " ", "x", "y", "", ""); err == nil {
		t.Error("CreateBatch should fail without a batch id")
	}
}

func TestCreateBatchRoles(t *testing.T) {
	_, ctx := setupStub(t, "collector")
	err := (&HerbContract{}).CreateBatch(ctx, "B002", "x", "y", "2025-01-20", "2027-01-20")
	if err == nil || err.Error() != "only manufacturer can perform this operation" {
		t.Errorf("CreateBatch should fail for non-manufacturer, got %v", err)
	}

	_, ctx = setupStub(t, "manufacturer")
	if err := (&HerbContract{}).CreateBatch(ctx, "B002", "x", "y", "2025-01-20", "2027-01-20"); err != nil {
		t.Errorf("CreateBatch failed for manufacturer: %v", err)
	}
}

func TestRecordStage(t *testing.T) {
	stub, ctx := setupStub(t, "")
	createDemoBatch(t, ctx)
	contract := &HerbContract{}

	stageJSON := `{"stageId":"STAGE_001","type":"collection","stage":"Collection","timestamp":"2025-01-05T06:30:00.000Z","organization":"Green Valley Collectors","latitude":26.9124,"longitude":75.7873,"details":{"quantity":"50 kg","moisture":"12%"}}`
	result, err := contract.RecordStage(ctx, "BATCH_001", stageJSON)
	if err != nil {
		t.Fatalf("RecordStage failed: %v", err)
	}
	var stored Stage
	if err := json.Unmarshal([]byte(result), &stored); err != nil {
		t.Fatalf("RecordStage result is not JSON: %v", err)
	}
	if stored.BatchID != "BATCH_001" {
		t.Errorf("stage batch id = %q", stored.BatchID)
	}
	if string(stored.Details) != `{"quantity":"50 kg","moisture":"12%"}` {
		t.Errorf("details order not kept: %s", stored.Details)
	}

	key, _ := stub.CreateCompositeKey(stageIndex, []string{"BATCH_001", "STAGE_001"})
	if stageBytes, _ := stub.GetState(key); stageBytes == nil {
		t.Error("stage should be stored under the stage~batch index")
	}

	// Duplicate stage
	if _, err := contract.RecordStage(ctx, "BATCH_001", stageJSON); err == nil {
		t.Error("RecordStage should fail on duplicate stage id")
	}

	// Unknown batch
	_, err = contract.RecordStage(ctx, "BATCH_404", stageJSON)
	if err == nil || err.Error() != "batch BATCH_404 does not exist" {
		t.Errorf("RecordStage should fail for unknown batch, got %v", err)
	}

	// Missing organization
	if _, err := contract.RecordStage(ctx, "BATCH_001", `{"type":"processing","stage":"Drying"}`); err == nil {
		t.Error("RecordStage should require an organization")
	}

	// Invalid JSON
	if _, err := contract.RecordStage(ctx, "BATCH_001", `{`); err == nil {
		t.Error("RecordStage should reject invalid JSON")
	}
}

func TestRecordStageDefaults(t *testing.T) {
	_, ctx := setupStub(t, "")
	createDemoBatch(t, ctx)

	result, err := (&HerbContract{}).RecordStage(ctx, "BATCH_001", `{"type":"processing","stage":"Drying","organization":"Herbal Processing Unit"}`)
	if err != nil {
		t.Fatalf("RecordStage failed: %v", err)
	}
	var stored Stage
	if err := json.Unmarshal([]byte(result), &stored); err != nil {
		t.Fatalf("RecordStage result is not JSON: %v", err)
	}
	if stored.StageID != "STAGE_tx1" {
		t.Errorf("stage id = %q, want STAGE_tx1", stored.StageID)
	}
	if !strings.HasSuffix(stored.Timestamp, "Z") || len(stored.Timestamp) != len(timestampLayout) {
		t.Errorf("stage timestamp %q should default to the transaction time", stored.Timestamp)
	}
}

func TestRecordStageRoles(t *testing.T) {
	_, ctx := setupStub(t, "")
	contract := &HerbContract{}
	createDemoBatch(t, ctx)
	ctx.SetClientIdentity(&fakeIdentity{attrs: map[string]string{"role": "lab"}})

	_, err := contract.RecordStage(ctx, "BATCH_001", `{"stageId":"S1","type":"collection","stage":"Collection","organization":"Co-op"}`)
	if err == nil || err.Error() != "only collector can perform this operation" {
		t.Errorf("lab should not record collection stages, got %v", err)
	}
	if _, err := contract.RecordStage(ctx, "BATCH_001", `{"stageId":"S2","type":"quality-test","stage":"Quality Testing","organization":"AyurLab"}`); err != nil {
		t.Errorf("lab should record quality-test stages: %v", err)
	}
}

func TestQualityTestsAndFarmerStory(t *testing.T) {
	_, ctx := setupStub(t, "")
	createDemoBatch(t, ctx)
	contract := &HerbContract{}

	if err := contract.RecordQualityTests(ctx, "BATCH_001", `{"moisture":8.5}`); err != nil {
		t.Fatalf("RecordQualityTests failed: %v", err)
	}
	if err := contract.RecordQualityTests(ctx, "BATCH_001", `{"pesticides":0.005}`); err != nil {
		t.Fatalf("RecordQualityTests failed: %v", err)
	}
	story := `{"story":"Grown without chemicals","farmerName":"Rajesh Kumar","farmName":"Green Valley Organic Farm","location":"Rajasthan, India"}`
	if err := contract.SetFarmerStory(ctx, "BATCH_001", story); err != nil {
		t.Fatalf("SetFarmerStory failed: %v", err)
	}

	result, err := contract.GetBatch(ctx, "BATCH_001")
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	var batch Batch
	if err := json.Unmarshal([]byte(result), &batch); err != nil {
		t.Fatalf("GetBatch result is not JSON: %v", err)
	}
	if batch.QualityTests["moisture"] != 8.5 || batch.QualityTests["pesticides"] != 0.005 {
		t.Errorf("quality tests not merged: %v", batch.QualityTests)
	}
	if batch.FarmerStory == nil || batch.FarmerStory.FarmerName != "Rajesh Kumar" {
		t.Errorf("farmer story not stored: %+v", batch.FarmerStory)
	}

	if err := contract.RecordQualityTests(ctx, "BATCH_404", `{"moisture":1}`); err == nil {
		t.Error("RecordQualityTests should fail for unknown batch")
	}
	if err := contract.RecordQualityTests(ctx, "BATCH_001", `{"moisture":"dry"}`); err == nil {
		t.Error("RecordQualityTests should reject non-numeric results")
	}
}

func TestGetStagesByBatch(t *testing.T) {
	_, ctx := setupStub(t, "")
	contract := &HerbContract{}
	createDemoBatch(t, ctx)
	if err := contract.CreateBatch(ctx, "BATCH_002", "x", "y", "2025-01-20", "2027-01-20"); err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}

	for i, id := range []string{"STAGE_002", "STAGE_001"} {
		stage := fmt.Sprintf(`{"stageId":%q,"type":"processing","stage":"Step %d","organization":"Unit"}`, id, i)
		if _, err := contract.RecordStage(ctx, "BATCH_001", stage); err != nil {
			t.Fatalf("RecordStage failed: %v", err)
		}
	}
	if _, err := contract.RecordStage(ctx, "BATCH_002", `{"stageId":"STAGE_001","type":"processing","stage":"Other","organization":"Unit"}`); err != nil {
		t.Fatalf("RecordStage failed: %v", err)
	}

	result, err := contract.GetStagesByBatch(ctx, "BATCH_001")
	if err != nil {
		t.Fatalf("GetStagesByBatch failed: %v", err)
	}
	var stages []Stage
	if err := json.Unmarshal([]byte(result), &stages); err != nil {
		t.Fatalf("GetStagesByBatch result is not JSON: %v", err)
	}
	if len(stages) != 2 {
		t.Fatalf("got %d stages, want 2", len(stages))
	}
	for _, st := range stages {
		if st.BatchID != "BATCH_001" {
			t.Errorf("stage %s belongs to %s", st.StageID, st.BatchID)
		}
	}

	// Unknown batch
	result, err = contract.GetStagesByBatch(ctx, "BATCH_404")
	if err != nil {
		t.Fatalf("GetStagesByBatch failed: %v", err)
	}
	if result != "[]" {
		t.Errorf("unknown batch should have no stages, got %s", result)
	}
}

func TestGetProvenance(t *testing.T) {
	_, ctx := setupStub(t, "")
	contract := &HerbContract{}
	createDemoBatch(t, ctx)
	if _, err := contract.RecordStage(ctx, "BATCH_001", `{"stageId":"STAGE_001","type":"collection","stage":"Collection","organization":"Co-op"}`); err != nil {
		t.Fatalf("RecordStage failed: %v", err)
	}

	result, err := contract.GetProvenance(ctx, "BATCH_001")
	if err != nil {
		t.Fatalf("GetProvenance failed: %v", err)
	}
	var prov Provenance
	if err := json.Unmarshal([]byte(result), &prov); err != nil {
		t.Fatalf("GetProvenance result is not JSON: %v", err)
	}
	if prov.Batch.BatchID != "BATCH_001" || len(prov.Stages) != 1 {
		t.Errorf("unexpected provenance %+v", prov)
	}

	// Non-existent batch
	_, err = contract.GetProvenance(ctx, "BATCH_404")
	if err == nil || err.Error() != "batch BATCH_404 does not exist" {
		t.Errorf("GetProvenance should fail for unknown batch, got %v", err)
	}
	_, err = contract.GetBatch(ctx, "BATCH_404")
	if err == nil || err.Error() != "batch BATCH_404 does not exist" {
		t.Errorf("GetBatch should fail for unknown batch, got %v", err)
	}
}
