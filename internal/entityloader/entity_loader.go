package entityloader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/rentalreports/internal/domain"
	"github.com/rpattn/rentalreports/internal/repository"
	"github.com/rpattn/rentalreports/internal/schema"
)

// TableLoader batches and caches entity table loads for the lifetime of one run.
// Concurrent requests for the same table share a single repository call.
type TableLoader struct {
	Loader *dataloader.Loader
}

// NewTableLoader creates a loader; build a fresh one per run so every run sees current data.
func NewTableLoader(repo repository.TableRepository, registry *schema.Registry) *TableLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))
		var wg sync.WaitGroup
		for i, key := range keys {
			table, err := registry.Table(key.String())
			if err != nil {
				results[i] = &dataloader.Result{Error: err}
				continue
			}
			wg.Add(1)
			go func(i int, table domain.TableDef) {
				defer wg.Done()
				rows, err := repo.LoadTable(ctx, table)
				if err != nil {
					results[i] = &dataloader.Result{Error: fmt.Errorf("load table %s: %w", table.Name, err)}
					return
				}
				results[i] = &dataloader.Result{Data: rows}
			}(i, table)
		}
		wg.Wait()
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(time.Millisecond))

	return &TableLoader{Loader: loader}
}

// Load returns the rows of the named table. The returned rows are shared and must not be mutated.
func (l *TableLoader) Load(ctx context.Context, table string) ([]domain.Row, error) {
	data, err := l.Loader.Load(ctx, dataloader.StringKey(table))()
	if err != nil {
		return nil, err
	}
	rows, ok := data.([]domain.Row)
	if !ok {
		return nil, fmt.Errorf("load table %s: unexpected result %T", table, data)
	}
	return rows, nil
}
