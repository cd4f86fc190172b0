// Package catalog registers report definitions, resolves their composition
// graph and produces execution plans.
package catalog

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/rentalreports/internal/domain"
	"github.com/rpattn/rentalreports/internal/schema"
)

// Catalog holds compiled reports. It is populated at startup and read-only
// afterwards; Define is not safe to call concurrently with runs.
type Catalog struct {
	registry *schema.Registry
	reports  map[string]*Report
	order    []string
}

// New creates an empty catalog over the given schema.
func New(registry *schema.Registry) *Catalog {
	return &Catalog{registry: registry, reports: make(map[string]*Report)}
}

// Registry returns the schema the catalog resolves entity inputs against.
func (c *Catalog) Registry() *schema.Registry {
	return c.registry
}

// Define registers a single report. Every report input must already be defined.
func (c *Catalog) Define(def domain.Definition) error {
	if err := c.checkName(def); err != nil {
		return err
	}
	for _, input := range def.Inputs {
		if input.Source == def.Name {
			return &domain.CyclicDependencyError{Cycle: []string{def.Name, def.Name}}
		}
	}
	report, err := compile(def, c.lookup(nil))
	if err != nil {
		return err
	}
	c.add(report)
	return nil
}

// DefineView registers a standing view. Re-defining an identical view is a no-op.
func (c *Catalog) DefineView(def domain.Definition) error {
	def.Standing = true
	if existing, ok := c.reports[def.Name]; ok {
		if existing.Definition.Standing && existing.Definition.Equal(def) {
			return nil
		}
		return &domain.DuplicateNameError{Name: def.Name}
	}
	return c.Define(def)
}

// DefineAll registers a batch of definitions declared in any order. Either
// every definition is registered or none is.
func (c *Catalog) DefineAll(defs []domain.Definition) error {
	batch := make(map[string]domain.Definition, len(defs))
	position := make(map[string]int, len(defs))
	for i, def := range defs {
		if err := c.checkName(def); err != nil {
			if dup, ok := err.(*domain.DuplicateNameError); ok && def.Standing {
				if existing := c.reports[dup.Name]; existing != nil && existing.Definition.Standing && existing.Definition.Equal(def) {
					continue
				}
			}
			return err
		}
		if _, dup := batch[def.Name]; dup {
			return &domain.DuplicateNameError{Name: def.Name}
		}
		batch[def.Name] = def
		position[def.Name] = i
	}

	dependents := make(map[string][]string)
	inDegree := make(map[string]int, len(batch))
	for _, def := range defs {
		name := def.Name
		if _, inBatch := batch[name]; !inBatch {
			continue
		}
		inDegree[name] += 0
		for _, source := range def.Sources() {
			if _, inBatch := batch[source]; inBatch {
				dependents[source] = append(dependents[source], name)
				inDegree[name]++
				continue
			}
			if c.registry.Has(source) {
				continue
			}
			if _, defined := c.reports[source]; defined {
				continue
			}
			return &domain.UnknownInputError{Report: name, Input: source}
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	byPosition := func(names []string) {
		sort.Slice(names, func(i, j int) bool { return position[names[i]] < position[names[j]] })
	}
	byPosition(queue)

	var sorted []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		sorted = append(sorted, current)
		next := dependents[current]
		byPosition(next)
		for _, dep := range next {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if len(sorted) != len(batch) {
		remaining := make(map[string]bool)
		for name, degree := range inDegree {
			if degree > 0 {
				remaining[name] = true
			}
		}
		return &domain.CyclicDependencyError{Cycle: findCycle(batch, remaining, position)}
	}

	compiled := make(map[string]*Report, len(sorted))
	lookup := c.lookup(compiled)
	for _, name := range sorted {
		report, err := compile(batch[name], lookup)
		if err != nil {
			return err
		}
		compiled[name] = report
	}

	// Commit in declaration order so Names stays stable.
	ordered := make([]string, 0, len(compiled))
	for name := range compiled {
		ordered = append(ordered, name)
	}
	byPosition(ordered)
	for _, name := range ordered {
		c.add(compiled[name])
	}
	return nil
}

// Get returns the compiled report with the given name.
func (c *Catalog) Get(name string) (*Report, bool) {
	report, ok := c.reports[name]
	return report, ok
}

// Names returns every report name in registration order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// Plan computes the execution plan for the targets and their transitive report inputs.
func (c *Catalog) Plan(targets ...string) (domain.ExecutionPlan, error) {
	needed := make(map[string]bool)
	var visit func(name string) error
	visit = func(name string) error {
		if needed[name] {
			return nil
		}
		report, ok := c.reports[name]
		if !ok {
			return &domain.ReportNotFoundError{Name: name}
		}
		needed[name] = true
		for _, dep := range report.Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, target := range targets {
		if err := visit(target); err != nil {
			return domain.ExecutionPlan{}, err
		}
	}

	inDegree := make(map[string]int, len(needed))
	dependents := make(map[string][]string)
	for name := range needed {
		for _, dep := range c.reports[name].Dependencies {
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for name := range needed {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	plan := domain.ExecutionPlan{ID: uuid.New(), Targets: append([]string(nil), targets...)}
	for len(queue) > 0 {
		c.sortByRegistration(queue)
		plan.Levels = append(plan.Levels, queue)
		plan.Order = append(plan.Order, queue...)
		var next []string
		for _, name := range queue {
			for _, dep := range dependents[name] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}
	if len(plan.Order) != len(needed) {
		// Unreachable while registration rejects cycles.
		return domain.ExecutionPlan{}, &domain.CyclicDependencyError{Cycle: targets}
	}
	return plan, nil
}

func (c *Catalog) sortByRegistration(names []string) {
	sort.Slice(names, func(i, j int) bool {
		return c.reports[names[i]].index < c.reports[names[j]].index
	})
}

func (c *Catalog) checkName(def domain.Definition) error {
	if strings.TrimSpace(def.Name) == "" {
		return domain.ErrValidation("", "report name is required")
	}
	if _, exists := c.reports[def.Name]; exists {
		return &domain.DuplicateNameError{Name: def.Name}
	}
	if c.registry.Has(def.Name) {
		return &domain.DuplicateNameError{Name: def.Name}
	}
	return nil
}

func (c *Catalog) add(report *Report) {
	report.index = len(c.order)
	c.reports[report.Name()] = report
	c.order = append(c.order, report.Name())
}

// lookup resolves a source against the registry, the catalog and an optional pending batch.
func (c *Catalog) lookup(pending map[string]*Report) inputLookup {
	return func(source string) ([]domain.Column, domain.TableDef, bool, bool) {
		if report, ok := c.reports[source]; ok {
			return report.Output, domain.TableDef{}, true, true
		}
		if report, ok := pending[source]; ok {
			return report.Output, domain.TableDef{}, true, true
		}
		table, err := c.registry.Table(source)
		if err != nil {
			return nil, domain.TableDef{}, false, false
		}
		return table.Columns, table, false, true
	}
}

// findCycle walks the unresolved part of the batch graph and returns one cycle, closed on its first node.
func findCycle(batch map[string]domain.Definition, remaining map[string]bool, position map[string]int) []string {
	starts := make([]string, 0, len(remaining))
	for name := range remaining {
		starts = append(starts, name)
	}
	sort.Slice(starts, func(i, j int) bool { return position[starts[i]] < position[starts[j]] })

	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(remaining))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		state[name] = onStack
		stack = append(stack, name)
		for _, source := range batch[name].Sources() {
			if !remaining[source] {
				continue
			}
			switch state[source] {
			case onStack:
				for i, entry := range stack {
					if entry == source {
						cycle = append(append([]string(nil), stack[i:]...), source)
						return true
					}
				}
			case unvisited:
				if visit(source) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return false
	}

	for _, start := range starts {
		if state[start] == unvisited && visit(start) {
			return cycle
		}
	}
	return starts
}
