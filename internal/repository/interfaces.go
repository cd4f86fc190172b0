package repository

import (
	"context"

	"github.com/rpattn/rentalreports/internal/domain"
)

// TableRepository reads logical tables from the physical store.
type TableRepository interface {
	// LoadTable returns every row of the table with all registered columns,
	// values normalized to int64, float64, string, bool, time.Time or nil.
	LoadTable(ctx context.Context, table domain.TableDef) ([]domain.Row, error)
}
