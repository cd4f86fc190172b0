package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rpattn/rentalreports/internal/config"
	"github.com/rpattn/rentalreports/internal/db"
)

// migrateCmd creates or drops the reference rental schema in a development database.
var migrateCmd = &cobra.Command{
	Use:       "migrate up|down",
	Short:     "Apply or roll back the rental schema migrations",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(db.Up), string(db.Down)},
	RunE: func(_ *cobra.Command, args []string) error {
		direction, err := db.ParseDirection(args[0])
		if err != nil {
			return err
		}
		var url string
		switch cfg.Database.Driver {
		case config.DriverPostgres:
			url = cfg.Database.Postgres().MigrateURL()
		case config.DriverSQLite:
			url = db.SQLiteMigrateURL(cfg.Database.Path)
		default:
			return fmt.Errorf("migrations support the postgres and sqlite drivers, not %q", cfg.Database.Driver)
		}
		return db.RunMigrations(url, direction, slog.Default())
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
