package catalog

import (
	"strings"

	"github.com/rpattn/rentalreports/internal/domain"
)

// inputLookup resolves a source name to its schema; ok is false when the source is unknown.
type inputLookup func(source string) (columns []domain.Column, table domain.TableDef, isReport bool, ok bool)

// compile validates a definition against its inputs and produces a Report.
func compile(def domain.Definition, lookup inputLookup) (*Report, error) {
	name := def.Name
	if len(def.Inputs) == 0 {
		return nil, domain.ErrValidation(name, "at least one input is required")
	}

	report := &Report{Definition: def, Round: make(map[string]bool)}
	bound := make(map[string]ResolvedInput, len(def.Inputs))
	seenDeps := make(map[string]struct{})

	for i, input := range def.Inputs {
		columns, table, isReport, ok := lookup(input.Source)
		if !ok {
			return nil, &domain.UnknownInputError{Report: name, Input: input.Source}
		}
		resolved := ResolvedInput{Input: input, Report: isReport, Table: table, Columns: columns}
		resolved.Alias = input.Name()
		if _, dup := bound[resolved.Alias]; dup {
			return nil, domain.ErrValidation(name, "input alias %q used twice", resolved.Alias)
		}
		if i > 0 && def.Union == nil {
			if resolved.Join == "" {
				resolved.Join = domain.JoinRequired
			}
			if resolved.Join != domain.JoinRequired && resolved.Join != domain.JoinOptional {
				return nil, domain.ErrValidation(name, "input %q has unknown join kind %q", resolved.Alias, resolved.Join)
			}
			if len(input.On) == 0 {
				return nil, domain.ErrValidation(name, "input %q needs at least one join key", resolved.Alias)
			}
			for _, key := range input.On {
				leftAlias, leftColumn := domain.SplitFieldPath(key.Left)
				left, ok := bound[leftAlias]
				if !ok {
					return nil, domain.ErrValidation(name, "join key %q must reference an earlier input", key.Left)
				}
				if !hasColumn(left.Columns, leftColumn) {
					return nil, &domain.UnknownFieldError{Table: left.Source, Column: leftColumn}
				}
				rightColumn := key.Right
				if a, c := domain.SplitFieldPath(key.Right); a != "" {
					if a != resolved.Alias {
						return nil, domain.ErrValidation(name, "join key %q must reference input %q", key.Right, resolved.Alias)
					}
					rightColumn = c
				}
				if !hasColumn(columns, rightColumn) {
					return nil, &domain.UnknownFieldError{Table: input.Source, Column: rightColumn}
				}
				resolved.Keys = append(resolved.Keys, ResolvedKey{LeftAlias: leftAlias, LeftColumn: leftColumn, RightColumn: rightColumn})
			}
		}
		bound[resolved.Alias] = resolved
		report.Inputs = append(report.Inputs, resolved)
		if isReport {
			if _, seen := seenDeps[input.Source]; !seen {
				seenDeps[input.Source] = struct{}{}
				report.Dependencies = append(report.Dependencies, input.Source)
			}
		}
	}

	fields := fieldResolver{report: name, inputs: report.Inputs, bound: bound}

	var err error
	switch {
	case def.Union != nil:
		err = compileUnion(report, bound)
	case def.Aggregated():
		err = compileAggregation(report, fields)
	default:
		err = compileSelect(report, fields)
	}
	if err != nil {
		return nil, err
	}

	outputs := make(map[string]domain.Column, len(report.Output))
	for _, col := range report.Output {
		if col.Name == "" {
			return nil, domain.ErrValidation(name, "output column without a name")
		}
		if _, dup := outputs[col.Name]; dup {
			return nil, domain.ErrValidation(name, "output column %q declared twice", col.Name)
		}
		outputs[col.Name] = col
	}

	if def.Where != "" {
		if def.Union != nil {
			return nil, domain.ErrValidation(name, "union reports do not take a where clause")
		}
		if report.Where, err = compilePredicate(fields.scope(), "where", def.Where); err != nil {
			return nil, err
		}
	}

	summaryNames := make(map[string]struct{}, len(def.Summaries))
	for _, summary := range def.Summaries {
		if summary.Name == "" {
			return nil, domain.ErrValidation(name, "summary name is required")
		}
		if _, clash := outputs[summary.Name]; clash {
			return nil, domain.ErrValidation(name, "summary %q shadows an output column", summary.Name)
		}
		if _, dup := summaryNames[summary.Name]; dup {
			return nil, domain.ErrValidation(name, "summary %q declared twice", summary.Name)
		}
		if !summary.Func.Valid() {
			return nil, domain.ErrValidation(name, "summary %q has unknown function %q", summary.Name, summary.Func)
		}
		if _, ok := outputs[summary.Column]; !ok {
			return nil, &domain.UnknownFieldError{Table: name, Column: summary.Column}
		}
		summaryNames[summary.Name] = struct{}{}
	}
	having := scope{report: name, names: make(map[string]struct{}, len(outputs)+len(summaryNames))}
	for column := range outputs {
		having.names[column] = struct{}{}
	}
	for summary := range summaryNames {
		having.names[summary] = struct{}{}
	}
	if report.Having, err = compilePredicate(having, "having", def.Having); err != nil {
		return nil, err
	}

	for _, key := range def.OrderBy {
		if _, ok := outputs[key.Column]; !ok {
			return nil, &domain.UnknownFieldError{Table: name, Column: key.Column}
		}
	}
	if limit := def.LimitPerGroup; limit != nil {
		if limit.N <= 0 {
			return nil, domain.ErrValidation(name, "limitPerGroup.n must be positive")
		}
		if len(limit.PartitionBy) == 0 {
			return nil, domain.ErrValidation(name, "limitPerGroup needs a partition key")
		}
		for _, col := range limit.PartitionBy {
			if _, ok := outputs[col]; !ok {
				return nil, &domain.UnknownFieldError{Table: name, Column: col}
			}
		}
		for _, key := range limit.OrderBy {
			if _, ok := outputs[key.Column]; !ok {
				return nil, &domain.UnknownFieldError{Table: name, Column: key.Column}
			}
		}
	}
	if def.Limit < 0 {
		return nil, domain.ErrValidation(name, "limit must not be negative")
	}

	return report, nil
}

func compileSelect(report *Report, fields fieldResolver) error {
	selects := report.Definition.Select
	if len(selects) == 0 {
		primary := report.Inputs[0]
		for _, col := range primary.Columns {
			selects = append(selects, domain.Projection{Field: primary.Alias + "." + col.Name})
		}
	}
	for _, projection := range selects {
		compiled, err := fields.projection(projection)
		if err != nil {
			return err
		}
		report.Projections = append(report.Projections, compiled)
		report.Output = append(report.Output, compiled.Output)
		if projection.Round {
			report.Round[compiled.Output.Name] = true
		}
	}
	return nil
}

func compileAggregation(report *Report, fields fieldResolver) error {
	def := report.Definition
	name := def.Name
	if len(def.Select) > 0 {
		return domain.ErrValidation(name, "aggregating reports declare their keys in groupBy, not select")
	}
	for _, projection := range def.GroupBy {
		compiled, err := fields.projection(projection)
		if err != nil {
			return err
		}
		report.Projections = append(report.Projections, compiled)
		report.Output = append(report.Output, compiled.Output)
		if projection.Round {
			report.Round[compiled.Output.Name] = true
		}
	}
	for _, aggregate := range def.Aggregates {
		if !aggregate.Func.Valid() {
			return domain.ErrValidation(name, "unknown aggregate function %q", aggregate.Func)
		}
		if aggregate.As == "" {
			return domain.ErrValidation(name, "aggregate %s needs an output name", aggregate.Func)
		}
		compiled := CompiledAggregate{Aggregate: aggregate}
		argType := domain.ColumnTypeFloat
		switch {
		case aggregate.Field != "" && aggregate.Expr != "":
			return domain.ErrValidation(name, "aggregate %q takes a field or an expression, not both", aggregate.As)
		case aggregate.Field != "":
			alias, col, err := fields.field(aggregate.Field)
			if err != nil {
				return err
			}
			compiled.Alias, compiled.Column = alias.Alias, col.Name
			argType = col.Type
		case aggregate.Expr != "":
			program, err := compileValue(fields.scope(), aggregate.Expr)
			if err != nil {
				return err
			}
			compiled.Program = program
		default:
			if aggregate.Func != domain.AggregateCount {
				return domain.ErrValidation(name, "aggregate %q needs a field or an expression", aggregate.As)
			}
		}

		switch aggregate.Func {
		case domain.AggregateCount, domain.AggregateCountDistinct:
			compiled.Output = domain.Column{Name: aggregate.As, Type: domain.ColumnTypeInteger}
		case domain.AggregateSum:
			if aggregate.Field != "" && !argType.Numeric() {
				return domain.ErrValidation(name, "SUM over non-numeric field %s", aggregate.Field)
			}
			outType := domain.ColumnTypeFloat
			if argType == domain.ColumnTypeInteger && !aggregate.Round {
				outType = domain.ColumnTypeInteger
			}
			compiled.Output = domain.Column{Name: aggregate.As, Type: outType}
			if aggregate.Round {
				report.Round[aggregate.As] = true
			}
		case domain.AggregateAvg:
			if aggregate.Field != "" && !argType.Numeric() {
				return domain.ErrValidation(name, "AVG over non-numeric field %s", aggregate.Field)
			}
			compiled.Output = domain.Column{Name: aggregate.As, Type: domain.ColumnTypeFloat}
			report.Round[aggregate.As] = true
		}
		report.Aggregates = append(report.Aggregates, compiled)
		report.Output = append(report.Output, compiled.Output)
	}
	return nil
}

func compileUnion(report *Report, bound map[string]ResolvedInput) error {
	def := report.Definition
	name := def.Name
	u := def.Union
	if def.Aggregated() || len(def.Select) > 0 {
		return domain.ErrValidation(name, "union reports cannot also select or aggregate")
	}
	if u.Key == "" {
		return domain.ErrValidation(name, "union key is required")
	}
	if len(u.Series) == 0 {
		return domain.ErrValidation(name, "union needs at least one series")
	}
	var keyType domain.ColumnType
	for _, series := range u.Series {
		input, ok := bound[series.Input]
		if !ok {
			return domain.ErrValidation(name, "union series references unknown input %q", series.Input)
		}
		if !input.Report {
			return domain.ErrValidation(name, "union series input %q must be a report", series.Input)
		}
		keyCol, ok := columnByName(input.Columns, u.Key)
		if !ok {
			return &domain.UnknownFieldError{Table: input.Source, Column: u.Key}
		}
		if keyType == "" {
			keyType = keyCol.Type
		} else if keyType != keyCol.Type {
			return domain.ErrValidation(name, "union key %q has type %s in %q but %s elsewhere", u.Key, keyCol.Type, series.Input, keyType)
		}
		valueCol, ok := columnByName(input.Columns, series.Value)
		if !ok {
			return &domain.UnknownFieldError{Table: input.Source, Column: series.Value}
		}
		if !valueCol.Type.Numeric() {
			return domain.ErrValidation(name, "union series %q must be numeric to gap-fill with zero", series.Value)
		}
		report.Output = append(report.Output, domain.Column{Name: series.OutputName(), Type: valueCol.Type})
	}
	report.Output = append([]domain.Column{{Name: u.Key, Type: keyType}}, report.Output...)
	return nil
}

// fieldResolver resolves alias.column paths against the bound inputs of one report.
type fieldResolver struct {
	report string
	inputs []ResolvedInput
	bound  map[string]ResolvedInput
}

func (f fieldResolver) field(path string) (ResolvedInput, domain.Column, error) {
	alias, column := domain.SplitFieldPath(path)
	if alias == "" {
		if len(f.inputs) != 1 {
			return ResolvedInput{}, domain.Column{}, domain.ErrValidation(f.report, "field %q must be qualified with an input alias", path)
		}
		alias = f.inputs[0].Alias
	}
	input, ok := f.bound[alias]
	if !ok {
		return ResolvedInput{}, domain.Column{}, domain.ErrValidation(f.report, "field %q references unknown alias %q", path, alias)
	}
	col, ok := columnByName(input.Columns, column)
	if !ok {
		return ResolvedInput{}, domain.Column{}, &domain.UnknownFieldError{Table: input.Source, Column: column}
	}
	return input, col, nil
}

// scope exposes every bound alias, plus bare column names when the report has one input.
func (f fieldResolver) scope() scope {
	sc := scope{report: f.report, inputs: f.bound, names: map[string]struct{}{}}
	if len(f.inputs) == 1 {
		for _, col := range f.inputs[0].Columns {
			sc.names[col.Name] = struct{}{}
		}
	}
	return sc
}

func (f fieldResolver) projection(p domain.Projection) (CompiledProjection, error) {
	switch {
	case p.Field != "" && p.Expr != "":
		return CompiledProjection{}, domain.ErrValidation(f.report, "projection %q takes a field or an expression, not both", p.OutputName())
	case p.Field != "":
		input, col, err := f.field(p.Field)
		if err != nil {
			return CompiledProjection{}, err
		}
		outType := col.Type
		if p.Type != "" {
			outType = p.Type
		}
		return CompiledProjection{
			Output: domain.Column{Name: p.OutputName(), Type: outType},
			Alias:  input.Alias,
			Column: col.Name,
		}, nil
	case p.Expr != "":
		if strings.TrimSpace(p.As) == "" {
			return CompiledProjection{}, domain.ErrValidation(f.report, "expression %q needs an output name", p.Expr)
		}
		outType := p.Type
		if outType == "" {
			outType = domain.ColumnTypeString
		}
		if !outType.Valid() {
			return CompiledProjection{}, domain.ErrValidation(f.report, "projection %q has unsupported type %q", p.As, outType)
		}
		program, err := compileValue(f.scope(), p.Expr)
		if err != nil {
			return CompiledProjection{}, err
		}
		return CompiledProjection{Output: domain.Column{Name: p.As, Type: outType}, Program: program}, nil
	default:
		return CompiledProjection{}, domain.ErrValidation(f.report, "projection needs a field or an expression")
	}
}

func hasColumn(columns []domain.Column, name string) bool {
	_, ok := columnByName(columns, name)
	return ok
}

func columnByName(columns []domain.Column, name string) (domain.Column, bool) {
	for _, col := range columns {
		if col.Name == name {
			return col, true
		}
	}
	return domain.Column{}, false
}
