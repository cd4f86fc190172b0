package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rpattn/rentalreports/internal/domain"
	"github.com/rpattn/rentalreports/internal/export"
)

var (
	format  string
	outFile string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [report...]",
	Short: "Run reports and print their results",
	Long: `Run the named reports, or every report in the catalog when none are named.
Dependencies are computed once per run and each table is read at most once.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := export.ParseFormat(format)
		if err != nil {
			return err
		}
		logger := slog.Default()
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		var results map[string]domain.ResultSet
		if len(args) == 0 {
			results, err = a.engine.RunAll(cmd.Context())
		} else {
			results, err = a.engine.RunMany(cmd.Context(), args...)
		}
		if err != nil {
			return err
		}

		ordered := export.SortedResults(results)
		if len(args) > 0 {
			ordered = ordered[:0]
			for _, name := range args {
				ordered = append(ordered, results[name])
			}
		}
		return writeOutput(cmd.OutOrStdout(), f, ordered...)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, csv, xlsx")
	runCmd.Flags().StringVarP(&outFile, "output", "o", "", "Output file path (default: stdout)")
}

func writeOutput(stdout io.Writer, f export.Format, results ...domain.ResultSet) error {
	if outFile == "" {
		if f == export.FormatXLSX {
			return fmt.Errorf("xlsx output needs --output")
		}
		return export.Write(stdout, f, results...)
	}
	file, err := os.Create(outFile)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := export.Write(file, f, results...); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	slog.Info("results written", "path", outFile, "reports", len(results))
	return nil
}
