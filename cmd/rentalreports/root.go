package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rpattn/rentalreports/internal/config"
)

var (
	cfgPath string
	verbose bool
	cfg     config.Config
)

// rootCmd is the application entry point.
var rootCmd = &cobra.Command{
	Use:   "rentalreports",
	Short: "Analytical reports over the film-rental schema",
	Long: `rentalreports runs a catalog of composable report definitions against a
film-rental database (Postgres, SQLite, DuckDB or CSV/XLSX files) and returns
typed, ordered result sets as tables, JSON, CSV or XLSX.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
		setupLogging(os.Stderr, cfg.Log)
		return nil
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", ".", "config file or directory holding config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func setupLogging(w io.Writer, logCfg config.LogConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(logCfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(logCfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}
