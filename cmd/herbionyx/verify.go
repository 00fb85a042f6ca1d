package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/herbionyx/traceability/pkg/config"
	"github.com/herbionyx/traceability/pkg/ledger"
	"github.com/herbionyx/traceability/pkg/observability"
	"github.com/herbionyx/traceability/pkg/provenance"
	"github.com/herbionyx/traceability/pkg/verify"
)

// verifyOutput is what the verify command prints.
type verifyOutput struct {
	verify.Snapshot
	Session      string `json:"session"`
	SessionHead  string `json:"sessionHead"`
	Entries      int    `json:"sessionEntries"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func verifyCmd() *cobra.Command {
	var (
		configPath string
		metricsOut string
	)

	cmd := &cobra.Command{
		Use:   "verify [PAYLOAD|-]",
		Short: "Verify a scanned QR payload against the ledger",
		Long: `verify decodes a scanned payload, looks its batch up on the configured
ledger and prints the presented journey as JSON. Unknown batches are shown
as provisional demo data unless verify.provisional is false.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			session := ledger.NewSession()
			o, closeStack := newVerifier(cfg, session, observability.NewMetrics(reg), slog.Default())
			defer closeStack()

			snap, err := o.StartScan(ctx, verify.Text(raw)).Wait(ctx)
			if err != nil {
				return err
			}

			if metricsOut != "" {
				if err := prometheus.WriteToTextfile(metricsOut, reg); err != nil {
					return fmt.Errorf("write metrics: %w", err)
				}
			}

			out := verifyOutput{
				Snapshot:    snap,
				Session:     session.ID(),
				SessionHead: session.Head(),
				Entries:     session.Len(),
			}
			if snap.Err != nil {
				out.ErrorMessage = snap.Err.Error()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			if snap.State == verify.StateError {
				return fmt.Errorf("verification failed: %s", snap.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&metricsOut, "metrics-out", "", "Write Prometheus metrics in text format to this file")
	return cmd
}

// newVerifier wires the gateway stack and the orchestrator from cfg. The
// returned func releases the cache connection, if any.
func newVerifier(cfg *config.Config, session *ledger.Session, metrics *observability.Metrics, logger *slog.Logger) (*verify.Orchestrator, func()) {
	var gw ledger.Gateway = ledger.NewHTTPGateway(cfg.Ledger.URL,
		ledger.WithRateLimit(cfg.Ledger.RateLimitRPS, cfg.Ledger.RateBurst),
		ledger.WithLogger(logger.With("component", "ledger-http")),
		ledger.WithMetrics(metrics),
	)

	base, maxDelay, jitter := cfg.Ledger.Retry.RetryDelays()
	gw = ledger.Retrying(gw, ledger.RetryPolicy{
		MaxAttempts: cfg.Ledger.Retry.MaxAttempts,
		Base:        base,
		Max:         maxDelay,
		MaxJitter:   jitter,
	})

	closeStack := func() {}
	if cfg.Cache.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		gw = ledger.Cached(gw, rdb, cfg.CacheTTL())
		closeStack = func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("failed to close redis client", "error", err)
			}
		}
	}
	gw = session.Wrap(gw)

	assembler := provenance.NewAssembler(gw,
		provenance.WithEvidenceGateway(cfg.Evidence.Gateway),
		provenance.WithLogger(logger.With("component", "provenance")),
		provenance.WithMetrics(metrics),
	)
	o := verify.New(assembler,
		verify.WithQueryTimeout(cfg.QueryTimeout()),
		verify.WithProvisional(cfg.Verify.Provisional),
		verify.WithSession(session),
		verify.WithLogger(logger.With("component", "verify")),
		verify.WithMetrics(metrics),
		verify.WithObserver(func(s verify.Snapshot) {
			logger.Debug("verification state", "state", s.State, "generation", s.Generation)
		}),
	)
	return o, closeStack
}
