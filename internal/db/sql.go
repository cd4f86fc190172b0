package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite = "sqlite3"
	DriverDuckDB = "duckdb"
)

// SQLite DSN parameters.
const (
	defaultBusyTimeout = "5000"
	defaultJournalMode = "WAL"
)

// OpenSQL opens and pings a database/sql handle for an embedded store.
// path is a SQLite file or a DuckDB file; an empty DuckDB path is in-memory.
func OpenSQL(ctx context.Context, driver, path string) (*sql.DB, error) {
	var dsn string
	switch driver {
	case DriverSQLite:
		if path == "" {
			return nil, fmt.Errorf("sqlite needs a database path")
		}
		dsn = sqliteDSN(path)
	case DriverDuckDB:
		dsn = path
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetConnMaxLifetime(time.Hour)
	if driver == DriverSQLite {
		db.SetMaxOpenConns(4)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

func sqliteDSN(path string) string {
	params := url.Values{}
	params.Set("_journal_mode", defaultJournalMode)
	params.Set("_busy_timeout", defaultBusyTimeout)
	params.Set("_foreign_keys", "on")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params.Encode()
}

// SQLiteMigrateURL returns the database URL understood by the sqlite3 migrate driver.
func SQLiteMigrateURL(path string) string {
	return "sqlite3://" + path
}
