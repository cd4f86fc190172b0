package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rpattn/rentalreports/internal/catalog"
	"github.com/rpattn/rentalreports/internal/config"
	"github.com/rpattn/rentalreports/internal/db"
	"github.com/rpattn/rentalreports/internal/domain"
	"github.com/rpattn/rentalreports/internal/engine"
	"github.com/rpattn/rentalreports/internal/ingestion"
	"github.com/rpattn/rentalreports/internal/rental"
	"github.com/rpattn/rentalreports/internal/repository"
)

// app is the wired engine plus whatever the data source needs to shut down.
type app struct {
	engine *engine.Engine
	// ingest is set for the files driver, whose tables can be replaced by upload.
	ingest *ingestion.Service
	close  func()
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	var extra []domain.Definition
	if cfg.Catalog.Path != "" {
		defs, err := catalog.LoadDefinitionsFile(cfg.Catalog.Path)
		if err != nil {
			return nil, err
		}
		extra = defs
	}
	cat, err := rental.NewCatalog(cfg.Database.PhysicalSchema(), extra...)
	if err != nil {
		return nil, err
	}

	a := &app{close: func() {}}
	var repo repository.TableRepository
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		conn, err := db.NewConnection(ctx, cfg.Database.Postgres())
		if err != nil {
			return nil, err
		}
		repo = repository.NewTableRepository(conn.Pool)
		a.close = conn.Close
	case config.DriverSQLite, config.DriverDuckDB:
		driver := db.DriverSQLite
		if cfg.Database.Driver == config.DriverDuckDB {
			driver = db.DriverDuckDB
		}
		conn, err := db.OpenSQL(ctx, driver, cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		repo = repository.NewSQLTableRepository(conn)
		a.close = func() { _ = conn.Close() }
	case config.DriverFiles:
		store := repository.NewMemoryTableRepository()
		a.ingest = ingestion.NewService(cat.Registry(), store, logger)
		if _, err := a.ingest.LoadDirectory(ctx, cfg.Database.Dir); err != nil {
			return nil, fmt.Errorf("load data files: %w", err)
		}
		repo = store
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	if cfg.Database.Driver != config.DriverFiles {
		policy, err := cfg.Engine.RetryPolicy()
		if err != nil {
			a.close()
			return nil, err
		}
		repo = repository.WithRetry(repo, policy, logger)
	}

	a.engine = engine.New(cat, repo,
		engine.WithConfig(cfg.Engine.Runtime()),
		engine.WithLogger(logger),
	)
	return a, nil
}
