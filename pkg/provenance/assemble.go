package provenance

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/herbionyx/traceability/pkg/ledger"
	"github.com/herbionyx/traceability/pkg/observability"
)

var tracer = observability.Tracer("provenance")

// Assembler builds Batches from ledger queries.
type Assembler struct {
	gw              ledger.Gateway
	evidenceGateway string
	clock           func() time.Time
	logger          *slog.Logger
	metrics         *observability.Metrics
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithEvidenceGateway makes the assembler add an evidenceUrl detail,
// <url>/<hash>, next to every evidence hash. Evidence is never fetched.
func WithEvidenceGateway(url string) Option {
	return func(a *Assembler) { a.evidenceGateway = strings.TrimRight(url, "/") }
}

// WithLogger sets the assembler logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

// WithMetrics records assembly durations on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Assembler) { a.metrics = m }
}

// NewAssembler creates an assembler reading from gw.
func NewAssembler(gw ledger.Gateway, opts ...Option) *Assembler {
	a := &Assembler{
		gw:     gw,
		clock:  time.Now,
		logger: observability.Logger("assembler"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble queries the ledger for batchID and returns its ordered
// journey.
//
// Errors are returned typed: *ledger.NotFoundError when the batch or its
// stages are absent, *ledger.QueryError from the gateway as is, and
// *MalformedRecordError when a record fails validation.
func (a *Assembler) Assemble(ctx context.Context, batchID string) (*Batch, error) {
	ctx, span := tracer.Start(ctx, "provenance.assemble", trace.WithAttributes(attribute.String("batch.id", batchID)))
	defer span.End()

	start := a.clock()
	defer func() { a.metrics.AssembleSeconds(a.clock().Sub(start).Seconds()) }()

	record, stages, err := a.fetch(ctx, batchID)
	if err == nil {
		var b *Batch
		b, err = assemble(record, stages, batchID, a.evidenceGateway)
		if err == nil {
			span.SetAttributes(attribute.Int("batch.stages", len(b.Journey)), attribute.Int("batch.anomalies", len(b.Anomalies)))
			for _, an := range b.Anomalies {
				a.logger.WarnContext(ctx, "journey anomaly", "batch_id", batchID, "kind", an.Kind, "stage", an.Stage, "message", an.Message)
			}
			a.logger.DebugContext(ctx, "batch assembled", "batch_id", batchID, "stages", len(b.Journey), "digest", b.Digest)
			return b, nil
		}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

// fetch runs the batch and stage queries concurrently.
func (a *Assembler) fetch(ctx context.Context, batchID string) (ledger.BatchRecord, []ledger.StageRecord, error) {
	var (
		record   ledger.BatchRecord
		stages   []ledger.StageRecord
		batchErr error
	)
	args := []string{batchID}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := a.gw.Query(gctx, ledger.FnGetBatch, args)
		if err == nil {
			if decErr := res.Decode(&record); decErr != nil {
				err = &MalformedRecordError{Record: "batch", ID: batchID, Reason: decErr.Error(), Err: decErr}
			}
		}
		batchErr = err
		return err
	})
	g.Go(func() error {
		res, err := a.gw.Query(gctx, ledger.FnGetStagesByBatch, args)
		if err != nil {
			return err
		}
		if err := res.Decode(&stages); err != nil {
			return &MalformedRecordError{Record: "stage", ID: batchID, Index: -1, Reason: err.Error(), Err: err}
		}
		return nil
	})

	err := g.Wait()
	// The batch answer decides when both fail, unless it only failed
	// because the stage query cancelled it.
	if batchErr != nil && !errors.Is(batchErr, context.Canceled) {
		return record, nil, batchErr
	}
	if err != nil {
		return record, nil, err
	}
	return record, stages, nil
}

// assemble validates, orders and annotates raw records. It does no I/O.
func assemble(rec ledger.BatchRecord, records []ledger.StageRecord, batchID, evidenceGateway string) (*Batch, error) {
	if len(records) == 0 {
		return nil, &ledger.NotFoundError{
			Function: ledger.FnGetStagesByBatch,
			Args:     []string{batchID},
			Reason:   "batch has no stage records",
		}
	}
	if rec.BatchID == "" {
		rec.BatchID = batchID
	}

	mfg, err := parseDate(rec.ManufacturingDate)
	if err != nil {
		return nil, &MalformedRecordError{Record: "batch", ID: rec.BatchID, Reason: "manufacturingDate: " + err.Error(), Err: err}
	}
	exp, err := parseDate(rec.ExpiryDate)
	if err != nil {
		return nil, &MalformedRecordError{Record: "batch", ID: rec.BatchID, Reason: "expiryDate: " + err.Error(), Err: err}
	}
	if !exp.After(mfg) {
		return nil, &MalformedRecordError{Record: "batch", ID: rec.BatchID, Reason: "expiryDate is not after manufacturingDate"}
	}

	journey := make([]Stage, 0, len(records))
	for i, r := range records {
		s, err := stageFromRecord(i, r, evidenceGateway)
		if err != nil {
			return nil, err
		}
		journey = append(journey, s)
	}
	slices.SortFunc(journey, compareStages)

	digest, err := JourneyDigest(journey)
	if err != nil {
		return nil, err
	}

	tests := rec.QualityTests
	if tests == nil {
		tests = map[string]float64{}
	}
	return &Batch{
		BatchID:           rec.BatchID,
		ProductName:       rec.ProductName,
		Species:           rec.Species,
		ManufacturingDate: mfg,
		ExpiryDate:        exp,
		Journey:           journey,
		QualityTests:      tests,
		FarmerStory:       rec.FarmerStory,
		Anomalies:         detectAnomalies(journey, exp),
		Digest:            digest,
	}, nil
}

func stageFromRecord(index int, r ledger.StageRecord, evidenceGateway string) (Stage, error) {
	malformed := func(reason string, err error) (Stage, error) {
		return Stage{}, &MalformedRecordError{Record: "stage", ID: r.StageID, Index: index, Reason: reason, Err: err}
	}
	if strings.TrimSpace(r.Timestamp) == "" {
		return malformed("missing timestamp", nil)
	}
	if strings.TrimSpace(r.Organization) == "" {
		return malformed("missing organization", nil)
	}
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return malformed(fmt.Sprintf("invalid timestamp %q", r.Timestamp), err)
	}

	kind := ParseKind(r.Type, r.Stage)
	label := r.Stage
	if label == "" {
		label = kind.Label()
	}
	icon := r.Icon
	if icon == "" {
		icon = kind.Icon()
	}
	details := r.Details.Clone()
	if details == nil {
		details = ledger.Details{}
	}
	if r.EvidenceHash != "" {
		details.Set("evidenceHash", r.EvidenceHash)
		if evidenceGateway != "" {
			details.Set("evidenceUrl", evidenceGateway+"/"+r.EvidenceHash)
		}
	}

	return Stage{
		ID:           r.StageID,
		Stage:        label,
		Type:         kind,
		Timestamp:    ts.UTC(),
		Organization: r.Organization,
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
		Icon:         icon,
		Details:      details,
		EvidenceHash: r.EvidenceHash,
	}, nil
}

// compareStages is a total order: timestamp, kind precedence, label, id,
// then the canonical encoding so that even duplicate ids sort the same
// way regardless of arrival order.
func compareStages(a, b Stage) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Type.Precedence(), b.Type.Precedence()); c != 0 {
		return c
	}
	if c := strings.Compare(a.Stage, b.Stage); c != 0 {
		return c
	}
	if c := strings.Compare(a.ID, b.ID); c != 0 {
		return c
	}
	return bytes.Compare(canonicalStage(a), canonicalStage(b))
}

func canonicalStage(s Stage) []byte {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return raw
	}
	return out
}

func detectAnomalies(journey []Stage, expiry time.Time) []Anomaly {
	var out []Anomaly
	for i := 1; i < len(journey); i++ {
		prev, cur := journey[i-1], journey[i]
		if prev.Type.Known() && cur.Type.Known() && cur.Type.Precedence() < prev.Type.Precedence() {
			out = append(out, Anomaly{
				Kind:    AnomalyPrecedenceInversion,
				Index:   i,
				Stage:   cur.Stage,
				Message: fmt.Sprintf("%s recorded after %s", cur.Stage, prev.Stage),
			})
		}
	}
	for i, s := range journey {
		if s.Timestamp.After(expiry) {
			out = append(out, Anomaly{
				Kind:    AnomalyAfterExpiry,
				Index:   i,
				Stage:   s.Stage,
				Message: fmt.Sprintf("%s recorded after batch expiry %s", s.Stage, expiry.Format(time.DateOnly)),
			})
		}
	}
	return out
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("missing")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t, nil
}
