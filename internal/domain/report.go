package domain

import (
	"encoding/json"
	"reflect"
	"strings"
)

type JoinKind string

const (
	// JoinRequired drops primary rows without a match (inner join).
	JoinRequired JoinKind = "REQUIRED"
	// JoinOptional keeps primary rows without a match and binds the input to NULLs (outer join).
	JoinOptional JoinKind = "OPTIONAL"
)

type AggregateFunc string

const (
	AggregateCount         AggregateFunc = "COUNT"
	AggregateCountDistinct AggregateFunc = "COUNT_DISTINCT"
	AggregateSum           AggregateFunc = "SUM"
	AggregateAvg           AggregateFunc = "AVG"
)

// Valid reports whether f is a supported aggregate function.
func (f AggregateFunc) Valid() bool {
	switch f {
	case AggregateCount, AggregateCountDistinct, AggregateSum, AggregateAvg:
		return true
	}
	return false
}

// RoundingPrecision is the number of decimals kept by rounded aggregates, as ROUND(x, 2).
const RoundingPrecision = 2

// Definition declares one named analytical report.
type Definition struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Inputs []Input `json:"inputs" yaml:"inputs"`

	Where      string       `json:"where,omitempty" yaml:"where,omitempty"`
	Select     []Projection `json:"select,omitempty" yaml:"select,omitempty"`
	GroupBy    []Projection `json:"groupBy,omitempty" yaml:"groupBy,omitempty"`
	Aggregates []Aggregate  `json:"aggregates,omitempty" yaml:"aggregates,omitempty"`
	Summaries  []Summary    `json:"summaries,omitempty" yaml:"summaries,omitempty"`
	Having     string       `json:"having,omitempty" yaml:"having,omitempty"`

	OrderBy       []OrderKey  `json:"orderBy,omitempty" yaml:"orderBy,omitempty"`
	LimitPerGroup *GroupLimit `json:"limitPerGroup,omitempty" yaml:"limitPerGroup,omitempty"`
	Limit         int         `json:"limit,omitempty" yaml:"limit,omitempty"`

	Union *UnionSpec `json:"union,omitempty" yaml:"union,omitempty"`

	// Standing marks a view whose result is kept between runs and refreshed on demand.
	Standing bool `json:"standing,omitempty" yaml:"standing,omitempty"`
}

// Input references an entity source or another report.
type Input struct {
	Source string    `json:"source" yaml:"source"`
	Alias  string    `json:"alias,omitempty" yaml:"alias,omitempty"`
	Join   JoinKind  `json:"join,omitempty" yaml:"join,omitempty"`
	On     []JoinKey `json:"on,omitempty" yaml:"on,omitempty"`
}

// Name returns the alias the input is bound to inside the report.
func (i Input) Name() string {
	if i.Alias != "" {
		return i.Alias
	}
	return i.Source
}

// JoinKey equates an already bound field (alias.column) with a column of the joined input.
type JoinKey struct {
	Left  string `json:"left" yaml:"left"`
	Right string `json:"right" yaml:"right"`
}

// Projection is one output column taken from a field or computed by an expression.
type Projection struct {
	Field string     `json:"field,omitempty" yaml:"field,omitempty"`
	Expr  string     `json:"expr,omitempty" yaml:"expr,omitempty"`
	As    string     `json:"as,omitempty" yaml:"as,omitempty"`
	Type  ColumnType `json:"type,omitempty" yaml:"type,omitempty"`
	Round bool       `json:"round,omitempty" yaml:"round,omitempty"`
}

// OutputName returns the output column name of the projection.
func (p Projection) OutputName() string {
	if p.As != "" {
		return p.As
	}
	if idx := strings.LastIndex(p.Field, "."); idx >= 0 {
		return p.Field[idx+1:]
	}
	return p.Field
}

// Aggregate computes one aggregate column per group. An empty Field and Expr means COUNT(*).
type Aggregate struct {
	Func  AggregateFunc `json:"func" yaml:"func"`
	Field string        `json:"field,omitempty" yaml:"field,omitempty"`
	Expr  string        `json:"expr,omitempty" yaml:"expr,omitempty"`
	As    string        `json:"as" yaml:"as"`
	Round bool          `json:"round,omitempty" yaml:"round,omitempty"`
}

// Summary is a scalar aggregate over the report's own output rows, usable in Having.
type Summary struct {
	Name   string        `json:"name" yaml:"name"`
	Func   AggregateFunc `json:"func" yaml:"func"`
	Column string        `json:"column" yaml:"column"`
}

type OrderKey struct {
	Column string `json:"column" yaml:"column"`
	Desc   bool   `json:"desc,omitempty" yaml:"desc,omitempty"`
}

// GroupLimit keeps the first N rows of every partition ranked by OrderBy.
type GroupLimit struct {
	N           int        `json:"n" yaml:"n"`
	PartitionBy []string   `json:"partitionBy" yaml:"partitionBy"`
	OrderBy     []OrderKey `json:"orderBy" yaml:"orderBy"`
}

// UnionSpec combines independently grouped series over the union of their keys.
type UnionSpec struct {
	Key    string        `json:"key" yaml:"key"`
	Series []UnionSeries `json:"series" yaml:"series"`
}

type UnionSeries struct {
	Input string `json:"input" yaml:"input"`
	Value string `json:"value" yaml:"value"`
	As    string `json:"as,omitempty" yaml:"as,omitempty"`
}

// OutputName returns the output column name of the series.
func (s UnionSeries) OutputName() string {
	if s.As != "" {
		return s.As
	}
	return s.Value
}

// Aggregated reports whether the definition groups its rows.
func (d Definition) Aggregated() bool {
	return len(d.GroupBy) > 0 || len(d.Aggregates) > 0
}

// Sources returns the distinct input sources in declaration order.
func (d Definition) Sources() []string {
	seen := make(map[string]struct{}, len(d.Inputs))
	sources := make([]string, 0, len(d.Inputs))
	for _, input := range d.Inputs {
		if _, ok := seen[input.Source]; ok {
			continue
		}
		seen[input.Source] = struct{}{}
		sources = append(sources, input.Source)
	}
	return sources
}

// Equal reports whether two definitions declare the same report.
func (d Definition) Equal(other Definition) bool {
	return reflect.DeepEqual(normalizeDefinition(d), normalizeDefinition(other))
}

func normalizeDefinition(d Definition) Definition {
	// Round trip through JSON so nil and empty slices compare equal.
	data, err := json.Marshal(d)
	if err != nil {
		return d
	}
	var normalized Definition
	if err := json.Unmarshal(data, &normalized); err != nil {
		return d
	}
	return normalized
}

// SplitFieldPath splits "alias.column" into its parts; a bare column has an empty alias.
func SplitFieldPath(path string) (alias string, column string) {
	if idx := strings.Index(path, "."); idx >= 0 {
		return path[:idx], path[idx+1:]
	}
	return "", path
}
