package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/herbionyx/traceability/pkg/config"
	"github.com/herbionyx/traceability/pkg/ledgerd"
)

func ledgerdCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		dbPath     string
		seed       bool
	)

	cmd := &cobra.Command{
		Use:   "ledgerd",
		Short: "Run the development ledger",
		Long: `ledgerd serves the ledger gateway protocol on /api/fabric/invoke and
/api/fabric/query from a local SQLite database, or from PostgreSQL when --db
is a postgres:// URL. With --seed it loads the
demo batch ` + ledgerd.DemoBatchID + ` on start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Ledgerd.Addr
			}
			if !cmd.Flags().Changed("db") {
				dbPath = cfg.Ledgerd.DB
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := ledgerd.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			logger := slog.Default().With("component", "ledgerd")
			contract := ledgerd.NewContract(store, ledgerd.WithContractLogger(logger))
			if seed {
				if err := ledgerd.Seed(ctx, contract); err != nil {
					return fmt.Errorf("seed: %w", err)
				}
				logger.Info("demo batch ready", "batch_id", ledgerd.DemoBatchID)
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			srv := ledgerd.NewServer(contract, ledgerd.WithRegistry(reg), ledgerd.WithServerLogger(logger))

			logger.Info("ledgerd listening", "addr", addr, "backend", store.Backend(), "version", Version)
			return ledgerd.ListenAndServe(ctx, addr, srv)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&addr, "addr", ":3001", "Listen address")
	cmd.Flags().StringVar(&dbPath, "db", "herbionyx-ledger.db", "SQLite path, :memory:, or postgres:// URL")
	cmd.Flags().BoolVar(&seed, "seed", false, "Load the demo batch on start")
	return cmd
}
