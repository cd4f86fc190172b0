// Package engine executes compiled reports against a table repository.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rpattn/rentalreports/internal/catalog"
	"github.com/rpattn/rentalreports/internal/domain"
	"github.com/rpattn/rentalreports/internal/entityloader"
	"github.com/rpattn/rentalreports/internal/repository"
)

// Config controls how runs execute.
type Config struct {
	// MaxConcurrency limits reports executed in parallel within one plan level (0 = no limit, 1 = sequential).
	MaxConcurrency int
	// RunTimeout bounds every Run, RunAll and Refresh call (0 = no deadline).
	RunTimeout time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrency: 4}
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the engine configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.config = cfg }
}

// WithLogger sets the structured logger used for run and report events.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Snapshot is the stored result of a standing view.
type Snapshot struct {
	Result      domain.ResultSet `json:"result"`
	RefreshedAt time.Time        `json:"refreshedAt"`
}

// Engine runs reports. Each run builds its own plan, table loader and result cache;
// only standing view snapshots persist between runs.
type Engine struct {
	catalog *catalog.Catalog
	repo    repository.TableRepository
	config  Config
	logger  *slog.Logger

	mu    sync.RWMutex
	views map[string]Snapshot
}

// New creates an engine over a populated catalog.
func New(cat *catalog.Catalog, repo repository.TableRepository, opts ...Option) *Engine {
	e := &Engine{
		catalog: cat,
		repo:    repo,
		config:  DefaultConfig(),
		logger:  slog.Default(),
		views:   make(map[string]Snapshot),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the catalog the engine runs.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// Run executes one report and the reports it depends on.
func (e *Engine) Run(ctx context.Context, name string) (domain.ResultSet, error) {
	results, err := e.execute(ctx, []string{name}, nil)
	if err != nil {
		return domain.ResultSet{}, err
	}
	return results[name], nil
}

// RunMany executes the named reports in one run and returns their results.
func (e *Engine) RunMany(ctx context.Context, names ...string) (map[string]domain.ResultSet, error) {
	results, err := e.execute(ctx, names, nil)
	if err != nil {
		return nil, err
	}
	selected := make(map[string]domain.ResultSet, len(names))
	for _, name := range names {
		selected[name] = results[name]
	}
	return selected, nil
}

// RunAll executes every registered report in one run.
func (e *Engine) RunAll(ctx context.Context) (map[string]domain.ResultSet, error) {
	return e.execute(ctx, e.catalog.Names(), nil)
}

// Refresh recomputes a standing view and stores the new snapshot. Refreshing
// against unchanged data stores an identical result.
func (e *Engine) Refresh(ctx context.Context, name string) (domain.ResultSet, error) {
	report, ok := e.catalog.Get(name)
	if !ok {
		return domain.ResultSet{}, &domain.ReportNotFoundError{Name: name}
	}
	if !report.Definition.Standing {
		return domain.ResultSet{}, domain.ErrValidation(name, "report is not a standing view")
	}

	results, err := e.execute(ctx, []string{name}, map[string]bool{name: true})
	if err != nil {
		return domain.ResultSet{}, err
	}
	result := results[name]

	e.mu.Lock()
	e.views[name] = Snapshot{Result: result, RefreshedAt: time.Now().UTC()}
	e.mu.Unlock()

	e.logger.Info("standing view refreshed", "view", name, "rows", result.Len())
	return result, nil
}

// View returns the latest snapshot of a standing view.
func (e *Engine) View(name string) (Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snapshot, ok := e.views[name]
	return snapshot, ok
}

// execute runs the plan for targets level by level. Reports listed in recompute
// ignore stored snapshots.
func (e *Engine) execute(ctx context.Context, targets []string, recompute map[string]bool) (map[string]domain.ResultSet, error) {
	plan, err := e.catalog.Plan(targets...)
	if err != nil {
		return nil, err
	}

	if e.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.RunTimeout)
		defer cancel()
	}

	logger := e.logger.With("run_id", plan.ID.String())
	start := time.Now()
	r := &run{
		engine:    e,
		cache:     newResultCache(),
		loader:    entityloader.NewTableLoader(e.repo, e.catalog.Registry()),
		recompute: recompute,
		logger:    logger,
	}
	logger.Debug("run started", "targets", targets, "levels", len(plan.Levels))

	for level, names := range plan.Levels {
		g, levelCtx := errgroup.WithContext(ctx)
		if e.config.MaxConcurrency > 0 {
			g.SetLimit(e.config.MaxConcurrency)
		}
		for _, name := range names {
			g.Go(func() error {
				result, err := r.execute(levelCtx, name)
				if err != nil {
					return e.wrapError(ctx, name, err)
				}
				return r.cache.store(name, result)
			})
		}
		if err := g.Wait(); err != nil {
			logger.Error("run failed", "level", level, "error", err)
			return nil, err
		}
	}

	results := make(map[string]domain.ResultSet, len(plan.Order))
	for _, name := range plan.Order {
		results[name], _ = r.cache.load(name)
	}
	logger.Info("run completed", "reports", len(plan.Order), "duration", time.Since(start))
	return results, nil
}

// wrapError classifies a report failure; ctx is the run context.
func (e *Engine) wrapError(ctx context.Context, name string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.TimeoutError{Report: name, Timeout: e.config.RunTimeout, Err: err}
	}
	var execErr *domain.ReportExecutionError
	if errors.As(err, &execErr) {
		return err
	}
	return &domain.ReportExecutionError{Report: name, Err: err}
}

// resultCache holds each report's result once per run.
type resultCache struct {
	mu      sync.RWMutex
	results map[string]domain.ResultSet
}

func newResultCache() *resultCache {
	return &resultCache{results: make(map[string]domain.ResultSet)}
}

func (c *resultCache) store(name string, result domain.ResultSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.results[name]; exists {
		return fmt.Errorf("report %s materialized twice in one run", name)
	}
	c.results[name] = result
	return nil
}

func (c *resultCache) load(name string) (domain.ResultSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result, ok := c.results[name]
	return result, ok
}
