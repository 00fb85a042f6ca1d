package ledgerd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/herbionyx/traceability/pkg/ledger"
)

// DemoBatchID is the batch Seed loads.
const DemoBatchID = "BATCH_001"

// Seed records the demo Ashwagandha batch through c, as a sequence of
// ordinary transactions. It does nothing when the batch already exists.
func Seed(ctx context.Context, c *Contract) error {
	if _, err := c.store.GetBatch(ctx, DemoBatchID); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	calls := []struct {
		function string
		args     []string
	}{
		{ledger.FnCreateBatch, []string{DemoBatchID, "Premium Ashwagandha Powder", "Ashwagandha", "2025-01-20T00:00:00.000Z", "2027-01-20T00:00:00.000Z"}},
		{ledger.FnRecordStage, []string{DemoBatchID, mustJSON(ledger.StageRecord{
			StageID: "STAGE_001", Type: "collection", Stage: "Collection", Timestamp: "2025-01-05T06:30:00.000Z",
			Organization: "FarmersCoop", Latitude: 26.9124, Longitude: 75.7873,
			Details: ledger.Details{
				{Key: "species", Value: "Ashwagandha"},
				{Key: "weight", Value: "25.5 kg"},
				{Key: "collector", Value: "Rajesh Kumar"},
			},
		})}},
		{ledger.FnRecordStage, []string{DemoBatchID, mustJSON(ledger.StageRecord{
			StageID: "STAGE_002", Type: "quality-test", Stage: "Quality Testing", Timestamp: "2025-01-09T10:00:00.000Z",
			Organization: "QualityLabs", Latitude: 26.9200, Longitude: 75.7900,
			Details: ledger.Details{
				{Key: "moisture", Value: "8.5%"},
				{Key: "pesticides", Value: "0.005 mg/kg"},
				{Key: "heavyMetals", Value: "2.1 ppm"},
				{Key: "microbial", Value: "Negative"},
			},
			EvidenceHash: "QmYwAPJzv5CZsnAzt8auVTLpG1bG6dkprdFM5ocTyBCQb",
		})}},
		{ledger.FnRecordStage, []string{DemoBatchID, mustJSON(ledger.StageRecord{
			StageID: "STAGE_003", Type: "processing", Stage: "Processing", Timestamp: "2025-01-12T08:15:00.000Z",
			Organization: "HerbProcessors", Latitude: 26.9300, Longitude: 75.7950,
			Details: ledger.Details{
				{Key: "processType", Value: "Drying"},
				{Key: "temperature", Value: "60°C"},
				{Key: "duration", Value: "24 hours"},
				{Key: "yield", Value: "20.2 kg"},
			},
		})}},
		{ledger.FnRecordStage, []string{DemoBatchID, mustJSON(ledger.StageRecord{
			StageID: "STAGE_004", Type: "manufacturing", Stage: "Manufacturing", Timestamp: "2025-01-20T09:00:00.000Z",
			Organization: "AyurMeds", Latitude: 26.9400, Longitude: 75.8000,
			Details: ledger.Details{
				{Key: "productName", Value: "Premium Ashwagandha Powder"},
				{Key: "batchSize", Value: "100 units"},
				{Key: "formulation", Value: "Pure Ashwagandha Root Powder"},
			},
		})}},
		{ledger.FnRecordQualityTests, []string{DemoBatchID, `{"moisture":8.5,"pesticides":0.005,"heavyMetals":2.1}`}},
		{ledger.FnSetFarmerStory, []string{DemoBatchID, mustJSON(ledger.FarmerStory{
			Story:      "This premium Ashwagandha was carefully cultivated in the fertile soils of Rajasthan using traditional organic farming methods passed down through generations.",
			FarmerName: "Rajesh Kumar",
			FarmName:   "Green Valley Organic Farm",
			Location:   "Rajasthan, India",
		})}},
	}

	for _, call := range calls {
		if _, err := c.Invoke(ctx, call.function, call.args); err != nil {
			return fmt.Errorf("failed to seed %s: %w", call.function, err)
		}
	}
	return nil
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(raw)
}
