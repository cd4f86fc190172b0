package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/rpattn/rentalreports/internal/domain"
)

// MemoryTableRepository serves tables held in memory, such as file imports and test fixtures.
type MemoryTableRepository struct {
	mu     sync.RWMutex
	tables map[string][]domain.Row
}

// NewMemoryTableRepository creates an empty in-memory repository.
func NewMemoryTableRepository() *MemoryTableRepository {
	return &MemoryTableRepository{tables: make(map[string][]domain.Row)}
}

// Put replaces the rows of a table.
func (r *MemoryTableRepository) Put(table string, rows []domain.Row) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[table] = rows
}

// LoadTable returns copies of the stored rows restricted to the registered columns.
// Missing columns load as NULL.
func (r *MemoryTableRepository) LoadTable(ctx context.Context, table domain.TableDef) ([]domain.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	stored, ok := r.tables[table.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("table %s not loaded", table.Name)
	}

	rows := make([]domain.Row, len(stored))
	for i, src := range stored {
		row := make(domain.Row, len(table.Columns))
		for _, col := range table.Columns {
			value, err := NormalizeValue(col.Type, src[col.Name])
			if err != nil {
				return nil, fmt.Errorf("table %s column %s: %w", table.Name, col.Name, err)
			}
			row[col.Name] = value
		}
		rows[i] = row
	}
	return rows, nil
}
