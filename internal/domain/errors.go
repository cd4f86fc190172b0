package domain

import (
	"fmt"
	"strings"
	"time"
)

// UnknownFieldError indicates a table or column that the schema does not register.
type UnknownFieldError struct {
	Table  string
	Column string
}

func (e *UnknownFieldError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("unknown table %q", e.Table)
	}
	return fmt.Sprintf("unknown field %s.%s", e.Table, e.Column)
}

// DuplicateNameError indicates a report name that is already taken.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("report %q is already defined", e.Name)
}

// ReportNotFoundError indicates a run request for a report that is not in the catalog.
type ReportNotFoundError struct {
	Name string
}

func (e *ReportNotFoundError) Error() string {
	return fmt.Sprintf("report %q not found", e.Name)
}

// UnknownInputError indicates an input that is neither an entity source nor a defined report.
type UnknownInputError struct {
	Report string
	Input  string
}

func (e *UnknownInputError) Error() string {
	return fmt.Sprintf("report %q references unknown input %q", e.Report, e.Input)
}

// CyclicDependencyError names the reports forming a dependency cycle.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Cycle, " -> "))
}

// ValidationError indicates a malformed report definition.
type ValidationError struct {
	Report  string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Report == "" {
		return e.Message
	}
	return fmt.Sprintf("report %q: %s", e.Report, e.Message)
}

// ReportExecutionError carries the failing report and the underlying cause.
type ReportExecutionError struct {
	Report string
	Err    error
}

func (e *ReportExecutionError) Error() string {
	return fmt.Sprintf("execute report %q: %v", e.Report, e.Err)
}

func (e *ReportExecutionError) Unwrap() error { return e.Err }

// TimeoutError indicates a run that exceeded its deadline.
type TimeoutError struct {
	Report  string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	limit := "its deadline"
	if e.Timeout > 0 {
		limit = e.Timeout.String()
	}
	if e.Report == "" {
		return fmt.Sprintf("run timed out after %s", limit)
	}
	return fmt.Sprintf("report %q timed out after %s", e.Report, limit)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(report string, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Report: report, Message: fmt.Sprintf(format, args...)}
}
