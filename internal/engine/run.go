package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rpattn/rentalreports/internal/catalog"
	"github.com/rpattn/rentalreports/internal/domain"
	"github.com/rpattn/rentalreports/internal/entityloader"
	"github.com/rpattn/rentalreports/internal/formatter"
	"github.com/rpattn/rentalreports/internal/repository"
)

const keySeparator = "\x1f"

// run is the state owned by a single execution.
type run struct {
	engine    *Engine
	cache     *resultCache
	loader    *entityloader.TableLoader
	recompute map[string]bool
	logger    *slog.Logger
}

// execute materializes one report; every report input is already in the cache.
func (r *run) execute(ctx context.Context, name string) (domain.ResultSet, error) {
	report, ok := r.engine.catalog.Get(name)
	if !ok {
		return domain.ResultSet{}, &domain.ReportNotFoundError{Name: name}
	}
	if report.Definition.Standing && !r.recompute[name] {
		if snapshot, ok := r.engine.View(name); ok {
			r.logger.Debug("using standing view snapshot", "report", name, "refreshed_at", snapshot.RefreshedAt)
			return snapshot.Result, nil
		}
	}

	start := time.Now()
	inputs, err := r.loadInputs(ctx, report)
	if err != nil {
		return domain.ResultSet{}, err
	}

	var rows []domain.Row
	if report.Definition.Union != nil {
		rows = unionRows(report, inputs)
	} else {
		records, err := joinInputs(ctx, report, inputs)
		if err != nil {
			return domain.ResultSet{}, err
		}
		if records, err = filterRecords(report, records); err != nil {
			return domain.ResultSet{}, err
		}
		if report.Definition.Aggregated() {
			rows, err = aggregateRecords(report, records)
		} else {
			rows, err = projectRecords(report, records)
		}
		if err != nil {
			return domain.ResultSet{}, err
		}
	}

	if rows, err = applyHaving(report, rows); err != nil {
		return domain.ResultSet{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.ResultSet{}, err
	}

	result := formatter.Format(name, rows, formatOptions(report))
	r.logger.Info("report executed", "report", name, "rows", result.Len(), "duration", time.Since(start))
	return result, nil
}

func formatOptions(report *catalog.Report) formatter.Options {
	def := report.Definition
	orderBy := def.OrderBy
	if len(orderBy) == 0 && def.Union != nil {
		orderBy = []domain.OrderKey{{Column: def.Union.Key}}
	}
	return formatter.Options{
		Columns:       report.Output,
		Round:         report.Round,
		OrderBy:       orderBy,
		LimitPerGroup: def.LimitPerGroup,
		Limit:         def.Limit,
	}
}

// loadInputs returns the rows of every input, aligned with report.Inputs.
func (r *run) loadInputs(ctx context.Context, report *catalog.Report) ([][]domain.Row, error) {
	inputs := make([][]domain.Row, len(report.Inputs))
	for i, input := range report.Inputs {
		if input.Report {
			result, ok := r.cache.load(input.Source)
			if !ok {
				return nil, fmt.Errorf("input report %s was not materialized", input.Source)
			}
			inputs[i] = result.Maps()
			continue
		}
		rows, err := r.loader.Load(ctx, input.Source)
		if err != nil {
			return nil, err
		}
		inputs[i] = rows
	}
	return inputs, nil
}

// joinInputs binds the primary input and joins every further input in declaration order.
func joinInputs(ctx context.Context, report *catalog.Report, inputs [][]domain.Row) ([]domain.Record, error) {
	primary := report.Inputs[0]
	records := make([]domain.Record, 0, len(inputs[0]))
	for _, row := range inputs[0] {
		records = append(records, domain.NewRecord(primary.Alias, row))
	}
	for i := 1; i < len(report.Inputs); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records = joinInput(records, report.Inputs[i], inputs[i])
	}
	return records, nil
}

// joinInput hash-joins rows onto records. NULL keys never match. Unmatched records
// survive an OPTIONAL join bound to an all-NULL row.
func joinInput(records []domain.Record, input catalog.ResolvedInput, rows []domain.Row) []domain.Record {
	index := make(map[string][]domain.Row, len(rows))
	for _, row := range rows {
		key, ok := compositeKey(len(input.Keys), func(i int) any { return row[input.Keys[i].RightColumn] })
		if !ok {
			continue
		}
		index[key] = append(index[key], row)
	}

	var nullRow domain.Row
	joined := make([]domain.Record, 0, len(records))
	for _, record := range records {
		var matches []domain.Row
		key, ok := compositeKey(len(input.Keys), func(i int) any {
			value, _ := record.Value(input.Keys[i].LeftAlias, input.Keys[i].LeftColumn)
			return value
		})
		if ok {
			matches = index[key]
		}
		if len(matches) == 0 {
			if input.Join == domain.JoinOptional {
				if nullRow == nil {
					nullRow = domain.NullRow(input.Columns)
				}
				joined = append(joined, record.With(input.Alias, nullRow))
			}
			continue
		}
		for _, match := range matches {
			joined = append(joined, record.With(input.Alias, match))
		}
	}
	return joined
}

func compositeKey(n int, value func(i int) any) (string, bool) {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		v := value(i)
		if v == nil {
			return "", false
		}
		parts[i] = domain.KeyString(v)
	}
	return strings.Join(parts, keySeparator), true
}

// recordEnv exposes a record to expressions; single-input reports may also use bare column names.
func recordEnv(report *catalog.Report, record domain.Record) map[string]any {
	env := record.Env()
	if len(report.Inputs) == 1 {
		for column, value := range record.Rows[report.Inputs[0].Alias] {
			if _, clash := env[column]; !clash {
				env[column] = value
			}
		}
	}
	return env
}

func filterRecords(report *catalog.Report, records []domain.Record) ([]domain.Record, error) {
	if report.Where == nil {
		return records, nil
	}
	kept := make([]domain.Record, 0, len(records))
	for _, record := range records {
		ok, err := catalog.EvalBool(report.Where, recordEnv(report, record))
		if err != nil {
			return nil, fmt.Errorf("evaluate where %q: %w", report.Definition.Where, err)
		}
		if ok {
			kept = append(kept, record)
		}
	}
	return kept, nil
}

func projectionValue(p catalog.CompiledProjection, record domain.Record, env func() map[string]any) (any, error) {
	var value any
	if p.Program != nil {
		v, err := catalog.EvalValue(p.Program, env())
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", p.Output.Name, err)
		}
		value = v
	} else {
		value, _ = record.Value(p.Alias, p.Column)
	}
	normalized, err := repository.NormalizeValue(p.Output.Type, value)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", p.Output.Name, err)
	}
	return normalized, nil
}

// lazyEnv builds the expression environment on first use.
func lazyEnv(report *catalog.Report, record domain.Record) func() map[string]any {
	var env map[string]any
	return func() map[string]any {
		if env == nil {
			env = recordEnv(report, record)
		}
		return env
	}
}

func projectRecords(report *catalog.Report, records []domain.Record) ([]domain.Row, error) {
	rows := make([]domain.Row, 0, len(records))
	for _, record := range records {
		env := lazyEnv(report, record)
		row := make(domain.Row, len(report.Projections))
		for _, p := range report.Projections {
			value, err := projectionValue(p, record, env)
			if err != nil {
				return nil, err
			}
			row[p.Output.Name] = value
		}
		rows = append(rows, row)
	}
	return rows, nil
}

type group struct {
	row          domain.Row
	accumulators []*accumulator
}

// aggregateRecords groups records by the projected keys in first-appearance order.
// Without grouping keys, a single group is produced even for empty input.
func aggregateRecords(report *catalog.Report, records []domain.Record) ([]domain.Row, error) {
	groups := make(map[string]*group)
	var order []string

	newGroup := func(row domain.Row) *group {
		g := &group{row: row, accumulators: make([]*accumulator, len(report.Aggregates))}
		for i, agg := range report.Aggregates {
			g.accumulators[i] = newAccumulator(agg.Func, agg.Output.Type)
		}
		return g
	}

	for _, record := range records {
		env := lazyEnv(report, record)
		keyRow := make(domain.Row, len(report.Projections))
		parts := make([]string, len(report.Projections))
		for i, p := range report.Projections {
			value, err := projectionValue(p, record, env)
			if err != nil {
				return nil, err
			}
			keyRow[p.Output.Name] = value
			parts[i] = domain.KeyString(value)
		}
		key := strings.Join(parts, keySeparator)
		g, ok := groups[key]
		if !ok {
			g = newGroup(keyRow)
			groups[key] = g
			order = append(order, key)
		}

		for i, agg := range report.Aggregates {
			if agg.Star() {
				g.accumulators[i].addRow()
				continue
			}
			var value any
			if agg.Program != nil {
				v, err := catalog.EvalValue(agg.Program, env())
				if err != nil {
					return nil, fmt.Errorf("evaluate %s: %w", agg.As, err)
				}
				value = v
			} else {
				value, _ = record.Value(agg.Alias, agg.Column)
			}
			if err := g.accumulators[i].add(value); err != nil {
				return nil, fmt.Errorf("aggregate %s: %w", agg.As, err)
			}
		}
	}

	if len(report.Projections) == 0 && len(order) == 0 {
		groups[""] = newGroup(domain.Row{})
		order = append(order, "")
	}

	rows := make([]domain.Row, 0, len(order))
	for _, key := range order {
		g := groups[key]
		row := g.row
		for i, agg := range report.Aggregates {
			row[agg.Output.Name] = g.accumulators[i].result()
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// applyHaving computes summaries once over the unrounded rows and filters with them as constants.
func applyHaving(report *catalog.Report, rows []domain.Row) ([]domain.Row, error) {
	if report.Having == nil {
		return rows, nil
	}
	summaries, err := computeSummaries(report, rows)
	if err != nil {
		return nil, err
	}
	kept := make([]domain.Row, 0, len(rows))
	for _, row := range rows {
		env := make(map[string]any, len(row)+len(summaries))
		for column, value := range row {
			env[column] = value
		}
		for name, value := range summaries {
			env[name] = value
		}
		ok, err := catalog.EvalBool(report.Having, env)
		if err != nil {
			return nil, fmt.Errorf("evaluate having %q: %w", report.Definition.Having, err)
		}
		if ok {
			kept = append(kept, row)
		}
	}
	return kept, nil
}

func computeSummaries(report *catalog.Report, rows []domain.Row) (map[string]any, error) {
	summaries := make(map[string]any, len(report.Definition.Summaries))
	for _, summary := range report.Definition.Summaries {
		colType := domain.ColumnTypeFloat
		for _, col := range report.Output {
			if col.Name == summary.Column {
				colType = col.Type
			}
		}
		acc := newAccumulator(summary.Func, colType)
		for _, row := range rows {
			if err := acc.add(row[summary.Column]); err != nil {
				return nil, fmt.Errorf("summary %s: %w", summary.Name, err)
			}
		}
		summaries[summary.Name] = acc.result()
	}
	return summaries, nil
}

// unionRows merges the series over the union of their keys; a missing or NULL value
// becomes zero. The first row per key wins within a series.
func unionRows(report *catalog.Report, inputs [][]domain.Row) []domain.Row {
	u := report.Definition.Union
	positions := make(map[string]int, len(report.Inputs))
	for i, input := range report.Inputs {
		positions[input.Alias] = i
	}

	var keys []any
	var values [][]any
	var present [][]bool
	seen := make(map[string]int)
	for s, series := range u.Series {
		for _, row := range inputs[positions[series.Input]] {
			keyValue := row[u.Key]
			k := domain.KeyString(keyValue)
			idx, ok := seen[k]
			if !ok {
				idx = len(keys)
				seen[k] = idx
				keys = append(keys, keyValue)
				values = append(values, make([]any, len(u.Series)))
				present = append(present, make([]bool, len(u.Series)))
			}
			if present[idx][s] {
				continue
			}
			values[idx][s] = row[series.Value]
			present[idx][s] = true
		}
	}

	rows := make([]domain.Row, len(keys))
	for i, keyValue := range keys {
		row := domain.Row{u.Key: keyValue}
		for s, series := range u.Series {
			value := values[i][s]
			if value == nil {
				value = zeroValue(report.Output[s+1].Type)
			}
			row[series.OutputName()] = value
		}
		rows[i] = row
	}
	return rows
}

func zeroValue(colType domain.ColumnType) any {
	if colType == domain.ColumnTypeInteger {
		return int64(0)
	}
	return 0.0
}
