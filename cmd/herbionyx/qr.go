package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/herbionyx/traceability/pkg/qr"
)

func mintCmd() *cobra.Command {
	var (
		typ     string
		batchID string
		eventID string
		pngPath string
	)

	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a QR payload for a batch or event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var opts []qr.MintOption
			if pngPath != "" {
				opts = append(opts, qr.WithRenderer(qr.DefaultRenderer()))
			}
			minted, err := qr.NewMinter(opts...).Mint(qr.Source{
				Type:    qr.Type(typ),
				BatchID: batchID,
				EventID: eventID,
			})
			if err != nil {
				return err
			}
			if pngPath != "" {
				if err := os.WriteFile(pngPath, minted.PNG, 0o644); err != nil { //nolint:gosec // printable artefact
					return fmt.Errorf("write %s: %w", pngPath, err)
				}
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), minted.Data)
			return err
		},
	}
	cmd.Flags().StringVar(&typ, "type", string(qr.TypeCollection), "Payload type (collection, quality-test, processing, manufacturing, final-product, unknown)")
	cmd.Flags().StringVar(&batchID, "batch-id", "", "Batch identifier")
	cmd.Flags().StringVar(&eventID, "event-id", "", "Event identifier, used when no batch id is given")
	cmd.Flags().StringVar(&pngPath, "png", "", "Also write the rendered code to this PNG file")
	return cmd
}

func decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode [PAYLOAD|-]",
		Short: "Decode and validate a scanned QR payload",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			p, err := qr.Decode(raw)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}
}
