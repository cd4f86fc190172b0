package domain

import "github.com/google/uuid"

// ExecutionPlan is the per-run ordering of the reports needed for a set of targets.
type ExecutionPlan struct {
	ID      uuid.UUID
	Targets []string
	// Order is a topological order of every report in the plan.
	Order []string
	// Levels groups Order so that each report only depends on earlier levels.
	Levels [][]string
}

// Contains reports whether name is part of the plan.
func (p ExecutionPlan) Contains(name string) bool {
	for _, candidate := range p.Order {
		if candidate == name {
			return true
		}
	}
	return false
}
