package domain

import "fmt"

// Row is a single table or report row keyed by column name.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	cloned := make(Row, len(r))
	for key, value := range r {
		cloned[key] = value
	}
	return cloned
}

// NullRow builds a row with every column bound to nil, the shape an unmatched
// optional input takes after an outer join.
func NullRow(columns []Column) Row {
	row := make(Row, len(columns))
	for _, col := range columns {
		row[col.Name] = nil
	}
	return row
}

// Record binds each joined input alias to the row that input contributed.
type Record struct {
	Rows map[string]Row
}

// NewRecord creates a record holding a single aliased row.
func NewRecord(alias string, row Row) Record {
	return Record{Rows: map[string]Row{alias: row}}
}

// Clone copies the alias map; rows are shared since they are never mutated after load.
func (r Record) Clone() Record {
	cloned := make(map[string]Row, len(r.Rows)+1)
	for alias, row := range r.Rows {
		cloned[alias] = row
	}
	return Record{Rows: cloned}
}

// With returns a copy of the record with alias bound to row.
func (r Record) With(alias string, row Row) Record {
	cloned := r.Clone()
	cloned.Rows[alias] = row
	return cloned
}

// Value resolves alias.column inside the record.
func (r Record) Value(alias, column string) (any, bool) {
	row, ok := r.Rows[alias]
	if !ok {
		return nil, false
	}
	value, ok := row[column]
	return value, ok
}

// Env exposes the record to expression evaluation as alias -> column -> value.
func (r Record) Env() map[string]any {
	env := make(map[string]any, len(r.Rows))
	for alias, row := range r.Rows {
		env[alias] = map[string]any(row)
	}
	return env
}

// ResultSet is the ordered, typed output of one report.
type ResultSet struct {
	Report  string   `json:"report"`
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Len returns the number of rows.
func (r ResultSet) Len() int {
	return len(r.Rows)
}

// ColumnIndex returns the position of the named column or -1.
func (r ResultSet) ColumnIndex(name string) int {
	for i, col := range r.Columns {
		if col.Name == name {
			return i
		}
	}
	return -1
}

// Value returns the value of column in row i.
func (r ResultSet) Value(i int, column string) (any, error) {
	if i < 0 || i >= len(r.Rows) {
		return nil, fmt.Errorf("row %d out of range for report %s", i, r.Report)
	}
	idx := r.ColumnIndex(column)
	if idx < 0 {
		return nil, &UnknownFieldError{Table: r.Report, Column: column}
	}
	return r.Rows[i][idx], nil
}

// Maps converts the result set into column-keyed rows, the form dependents consume.
func (r ResultSet) Maps() []Row {
	rows := make([]Row, len(r.Rows))
	for i, values := range r.Rows {
		row := make(Row, len(r.Columns))
		for j, col := range r.Columns {
			if j < len(values) {
				row[col.Name] = values[j]
			} else {
				row[col.Name] = nil
			}
		}
		rows[i] = row
	}
	return rows
}
