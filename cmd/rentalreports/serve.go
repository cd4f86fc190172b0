package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpattn/rentalreports/internal/export"
	"github.com/rpattn/rentalreports/internal/ingestion"
	"github.com/rpattn/rentalreports/internal/rental"
)

// serveCmd starts the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve reports over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := slog.Default()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		if _, err := a.engine.Refresh(ctx, rental.TopRentedView); err != nil {
			logger.Warn("initial view refresh failed", "view", rental.TopRentedView, "error", err)
		}

		opts := export.RouterOptions{Logger: logger, AllowedOrigins: cfg.Server.AllowedOrigins}
		if a.ingest != nil {
			upload := ingestion.NewHTTPHandler(a.ingest)
			upload.OnIngest = func(r *http.Request, summary ingestion.Summary) {
				logger.Info("table replaced", "table", summary.Table, "rows", summary.TotalRows)
				if _, err := a.engine.Refresh(r.Context(), rental.TopRentedView); err != nil {
					logger.Error("view refresh after upload failed", "view", rental.TopRentedView, "error", err)
				}
			}
			opts.Ingest = upload
		}

		server := &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      export.NewRouter(a.engine, opts),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("starting report server", "addr", cfg.Server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info("server exited")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
