// Package main provides the herbionyx binary: QR minting and decoding,
// end-to-end batch verification, and the development ledger.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/herbionyx/traceability/pkg/observability"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "herbionyx"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Ayurvedic herb provenance by QR code",
		Long: `herbionyx mints and decodes HERBIONYX QR codes and verifies a
scanned batch against the ledger.

It provides:
- mint and decode for the QR identity protocol
- verify, which walks a scanned code through to the batch journey
- ledgerd, a single-node development ledger speaking the gateway protocol`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			setupLogging(cmd.ErrOrStderr(), logLevel)
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		mintCmd(),
		decodeCmd(),
		verifyCmd(),
		ledgerdCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)
	return cmd
}

func setupLogging(w io.Writer, level string) {
	if env := os.Getenv("HERBIONYX_LOG_LEVEL"); env != "" && level == "info" {
		level = env
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: observability.ParseLevel(level)}))
	slog.SetDefault(logger)
}

// readInput returns the single positional argument, or stdin when it is
// absent or "-".
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
