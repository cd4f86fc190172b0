// Package schema maps the logical tables of the external store to typed field references.
package schema

import (
	"fmt"
	"strings"

	"github.com/rpattn/rentalreports/internal/domain"
)

// Registry holds the logical tables reports may read. It is built once and only read afterwards.
type Registry struct {
	tables map[string]domain.TableDef
	order  []string
}

// NewRegistry validates and registers the given tables.
func NewRegistry(tables ...domain.TableDef) (*Registry, error) {
	r := &Registry{tables: make(map[string]domain.TableDef, len(tables))}
	for _, table := range tables {
		name := strings.TrimSpace(table.Name)
		if name == "" {
			return nil, fmt.Errorf("table name is required")
		}
		if _, exists := r.tables[name]; exists {
			return nil, fmt.Errorf("table %s registered twice", name)
		}
		if len(table.Columns) == 0 {
			return nil, fmt.Errorf("table %s has no columns", name)
		}
		seen := make(map[string]struct{}, len(table.Columns))
		for _, col := range table.Columns {
			if _, dup := seen[col.Name]; dup {
				return nil, fmt.Errorf("table %s declares column %s twice", name, col.Name)
			}
			if !col.Type.Valid() {
				return nil, fmt.Errorf("table %s column %s has unsupported type %q", name, col.Name, col.Type)
			}
			seen[col.Name] = struct{}{}
		}
		if table.Physical == "" {
			table.Physical = name
		}
		table.Name = name
		r.tables[name] = table
		r.order = append(r.order, name)
	}
	return r, nil
}

// Has reports whether name is a registered table.
func (r *Registry) Has(name string) bool {
	_, ok := r.tables[name]
	return ok
}

// Table returns the table definition or an UnknownFieldError.
func (r *Registry) Table(name string) (domain.TableDef, error) {
	table, ok := r.tables[name]
	if !ok {
		return domain.TableDef{}, &domain.UnknownFieldError{Table: name}
	}
	return table, nil
}

// Field resolves table.column into a typed field reference.
func (r *Registry) Field(table, column string) (domain.FieldRef, error) {
	def, err := r.Table(table)
	if err != nil {
		return domain.FieldRef{}, err
	}
	col, ok := def.Column(column)
	if !ok {
		return domain.FieldRef{}, &domain.UnknownFieldError{Table: table, Column: column}
	}
	return domain.FieldRef{
		Table:    def.Name,
		Column:   col.Name,
		Physical: def.Physical,
		Type:     col.Type,
	}, nil
}

// Tables returns every table in registration order.
func (r *Registry) Tables() []domain.TableDef {
	tables := make([]domain.TableDef, 0, len(r.order))
	for _, name := range r.order {
		tables = append(tables, r.tables[name])
	}
	return tables
}
