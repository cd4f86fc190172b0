package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/rentalreports/internal/domain"
)

// pgTableRepository reads tables from Postgres through a pgx pool.
type pgTableRepository struct {
	pool *pgxpool.Pool
}

// NewTableRepository creates a Postgres backed table repository.
func NewTableRepository(pool *pgxpool.Pool) TableRepository {
	return &pgTableRepository{pool: pool}
}

func (r *pgTableRepository) LoadTable(ctx context.Context, table domain.TableDef) ([]domain.Row, error) {
	query := selectAllQuery(table, func(parts ...string) string {
		return pgx.Identifier(parts).Sanitize()
	})

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query table %s: %w", table.Name, err)
	}
	defer rows.Close()

	var result []domain.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row of table %s: %w", table.Name, err)
		}
		row, err := normalizeRow(table, values)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate table %s: %w", table.Name, err)
	}
	return result, nil
}

// sqlTableRepository reads tables through database/sql, used for SQLite and DuckDB.
type sqlTableRepository struct {
	db *sql.DB
}

// NewSQLTableRepository creates a table repository over a database/sql handle.
func NewSQLTableRepository(db *sql.DB) TableRepository {
	return &sqlTableRepository{db: db}
}

func (r *sqlTableRepository) LoadTable(ctx context.Context, table domain.TableDef) ([]domain.Row, error) {
	query := selectAllQuery(table, quoteIdentifier)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query table %s: %w", table.Name, err)
	}
	defer func() { _ = rows.Close() }()

	var result []domain.Row
	for rows.Next() {
		values := make([]any, len(table.Columns))
		targets := make([]any, len(values))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("failed to scan row of table %s: %w", table.Name, err)
		}
		row, err := normalizeRow(table, values)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate table %s: %w", table.Name, err)
	}
	return result, nil
}

func selectAllQuery(table domain.TableDef, quote func(parts ...string) string) string {
	columns := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		columns[i] = quote(col.Name)
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), quote(table.PhysicalParts()...))
}

// quoteIdentifier double-quotes identifier parts, the form SQLite and DuckDB share.
func quoteIdentifier(parts ...string) string {
	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = `"` + strings.ReplaceAll(part, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ".")
}
