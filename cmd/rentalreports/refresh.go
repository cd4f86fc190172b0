package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rpattn/rentalreports/internal/export"
	"github.com/rpattn/rentalreports/internal/rental"
)

// refreshCmd recomputes a standing view and prints the new snapshot.
var refreshCmd = &cobra.Command{
	Use:   "refresh [view]",
	Short: "Recompute a standing view",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		view := rental.TopRentedView
		if len(args) == 1 {
			view = args[0]
		}
		f, err := export.ParseFormat(format)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, slog.Default())
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.engine.Refresh(cmd.Context(), view)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), f, result)
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)

	refreshCmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, csv, xlsx")
	refreshCmd.Flags().StringVarP(&outFile, "output", "o", "", "Output file path (default: stdout)")
}
