package domain

import "strings"

// ColumnType represents the type of a column in a table or report output
type ColumnType string

const (
	ColumnTypeInteger   ColumnType = "integer"
	ColumnTypeFloat     ColumnType = "float"
	ColumnTypeString    ColumnType = "string"
	ColumnTypeBoolean   ColumnType = "boolean"
	ColumnTypeTimestamp ColumnType = "timestamp"
)

// Valid reports whether t is one of the known column types.
func (t ColumnType) Valid() bool {
	switch t {
	case ColumnTypeInteger, ColumnTypeFloat, ColumnTypeString, ColumnTypeBoolean, ColumnTypeTimestamp:
		return true
	}
	return false
}

// Numeric reports whether values of the type take part in SUM/AVG.
func (t ColumnType) Numeric() bool {
	return t == ColumnTypeInteger || t == ColumnTypeFloat
}

// Column is a named, typed column
type Column struct {
	Name string     `json:"name" yaml:"name"`
	Type ColumnType `json:"type" yaml:"type"`
}

// TableDef describes a logical table of the external schema and where it lives physically.
type TableDef struct {
	Name string `json:"name"`
	// Physical is the store-side name, optionally schema qualified ("public.film").
	Physical string   `json:"physical"`
	Columns  []Column `json:"columns"`
}

// Column returns the column definition with the given name.
func (t TableDef) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the declared column names in declaration order.
func (t TableDef) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

// PhysicalParts splits the physical name into its dotted identifier parts.
func (t TableDef) PhysicalParts() []string {
	physical := t.Physical
	if physical == "" {
		physical = t.Name
	}
	return strings.Split(physical, ".")
}

// FieldRef is a resolved reference to one column of a logical table.
type FieldRef struct {
	Table    string     `json:"table"`
	Column   string     `json:"column"`
	Physical string     `json:"physical"`
	Type     ColumnType `json:"type"`
}
