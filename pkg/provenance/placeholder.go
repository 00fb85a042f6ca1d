package provenance

import (
	"time"

	"github.com/herbionyx/traceability/pkg/ledger"
)

const day = 24 * time.Hour

// Placeholder returns the demo Ashwagandha batch under batchID, dated
// relative to now and marked provisional. It is what a verifier shows,
// clearly labelled, when the ledger has no record of a scanned batch.
func Placeholder(batchID string, now time.Time) *Batch {
	now = now.UTC()
	at := func(ago time.Duration) string { return now.Add(-ago).Format(time.RFC3339Nano) }

	rec := ledger.BatchRecord{
		BatchID:           batchID,
		ProductName:       "Premium Ashwagandha Powder",
		Species:           "Ashwagandha",
		ManufacturingDate: at(7 * day),
		ExpiryDate:        now.Add(365 * day).Format(time.RFC3339Nano),
		QualityTests: map[string]float64{
			"moisture":    8.5,
			"pesticides":  0.005,
			"heavyMetals": 2.1,
		},
		FarmerStory: &ledger.FarmerStory{
			Story:      "This premium Ashwagandha was carefully cultivated in the fertile soils of Rajasthan using traditional organic farming methods passed down through generations.",
			FarmerName: "Rajesh Kumar",
			FarmName:   "Green Valley Organic Farm",
			Location:   "Rajasthan, India",
		},
	}
	stages := []ledger.StageRecord{
		{
			Type: string(KindCollection), Stage: "Collection", Timestamp: at(14 * day),
			Organization: "FarmersCoop", Latitude: 26.9124, Longitude: 75.7873,
			Details: details("species", "Ashwagandha", "weight", "25.5 kg", "collector", "Rajesh Kumar"),
		},
		{
			Type: string(KindQualityTest), Stage: "Quality Testing", Timestamp: at(10 * day),
			Organization: "QualityLabs", Latitude: 26.9200, Longitude: 75.7900,
			Details: details("moisture", "8.5%", "pesticides", "0.005 mg/kg", "heavyMetals", "2.1 ppm", "microbial", "Negative"),
		},
		{
			Type: string(KindProcessing), Stage: "Processing", Timestamp: at(8 * day),
			Organization: "HerbProcessors", Latitude: 26.9300, Longitude: 75.7950,
			Details: details("processType", "Drying", "temperature", "60°C", "duration", "24 hours", "yield", "20.2 kg"),
		},
		{
			Type: string(KindManufacturing), Stage: "Manufacturing", Timestamp: at(7 * day),
			Organization: "AyurMeds", Latitude: 26.9400, Longitude: 75.8000,
			Details: details("productName", "Premium Ashwagandha Powder", "batchSize", "100 units", "formulation", "Pure Ashwagandha Root Powder"),
		},
	}

	b, err := assemble(rec, stages, batchID, "")
	if err != nil {
		panic("provenance: placeholder batch invalid: " + err.Error())
	}
	b.Provisional = true
	return b
}

func details(kv ...string) ledger.Details {
	out := make(ledger.Details, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, ledger.Detail{Key: kv[i], Value: kv[i+1]})
	}
	return out
}
