package catalog

import (
	"github.com/expr-lang/expr/vm"

	"github.com/rpattn/rentalreports/internal/domain"
)

// Report is a registered definition with its inputs resolved, expressions
// compiled and output schema known.
type Report struct {
	Definition domain.Definition
	Inputs     []ResolvedInput
	Output     []domain.Column
	// Dependencies lists the distinct report inputs in declaration order.
	Dependencies []string

	Where       *vm.Program
	Having      *vm.Program
	Projections []CompiledProjection
	Aggregates  []CompiledAggregate
	// Round lists output columns rounded to domain.RoundingPrecision.
	Round map[string]bool

	index int
}

// Name returns the report name.
func (r *Report) Name() string {
	return r.Definition.Name
}

// ResolvedInput is an input bound to its source schema.
type ResolvedInput struct {
	domain.Input
	// Report is true when the input reads another report instead of an entity table.
	Report  bool
	Table   domain.TableDef
	Columns []domain.Column
	Keys    []ResolvedKey
}

// ResolvedKey is a join key split into the bound left field and the joined column.
type ResolvedKey struct {
	LeftAlias   string
	LeftColumn  string
	RightColumn string
}

// CompiledProjection is an output column read from a field or computed by a program.
type CompiledProjection struct {
	Output  domain.Column
	Alias   string
	Column  string
	Program *vm.Program
}

// CompiledAggregate is one aggregate with its argument resolved.
type CompiledAggregate struct {
	domain.Aggregate
	Output  domain.Column
	Alias   string
	Column  string
	Program *vm.Program
}

// Star reports whether the aggregate counts rows rather than values.
func (a CompiledAggregate) Star() bool {
	return a.Program == nil && a.Column == ""
}
