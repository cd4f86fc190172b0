package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/rentalreports/internal/domain"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(
		domain.TableDef{Name: "film", Physical: "public.film", Columns: []domain.Column{
			{Name: "film_id", Type: domain.ColumnTypeInteger},
			{Name: "title", Type: domain.ColumnTypeString},
		}},
		domain.TableDef{Name: "category", Columns: []domain.Column{
			{Name: "category_id", Type: domain.ColumnTypeInteger},
			{Name: "name", Type: domain.ColumnTypeString},
		}},
	)
	require.NoError(t, err)
	return reg
}

func TestRegistry_Field(t *testing.T) {
	reg := testRegistry(t)

	ref, err := reg.Field("film", "title")
	require.NoError(t, err)
	assert.Equal(t, domain.FieldRef{Table: "film", Column: "title", Physical: "public.film", Type: domain.ColumnTypeString}, ref)

	ref, err = reg.Field("category", "name")
	require.NoError(t, err)
	assert.Equal(t, "category", ref.Physical)
}

func TestRegistry_UnknownField(t *testing.T) {
	reg := testRegistry(t)

	tests := []struct {
		name   string
		table  string
		column string
		want   domain.UnknownFieldError
	}{
		{name: "unknown table", table: "staff", column: "staff_id", want: domain.UnknownFieldError{Table: "staff"}},
		{name: "unknown column", table: "film", column: "rating", want: domain.UnknownFieldError{Table: "film", Column: "rating"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Field(tt.table, tt.column)
			var fieldErr *domain.UnknownFieldError
			require.True(t, errors.As(err, &fieldErr))
			assert.Equal(t, tt.want, *fieldErr)
		})
	}
}

func TestNewRegistry_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		tables  []domain.TableDef
		wantErr string
	}{
		{
			name:    "empty name",
			tables:  []domain.TableDef{{Columns: []domain.Column{{Name: "a", Type: domain.ColumnTypeString}}}},
			wantErr: "table name is required",
		},
		{
			name: "duplicate table",
			tables: []domain.TableDef{
				{Name: "a", Columns: []domain.Column{{Name: "x", Type: domain.ColumnTypeString}}},
				{Name: "a", Columns: []domain.Column{{Name: "x", Type: domain.ColumnTypeString}}},
			},
			wantErr: "registered twice",
		},
		{
			name:    "bad type",
			tables:  []domain.TableDef{{Name: "a", Columns: []domain.Column{{Name: "x", Type: "decimal"}}}},
			wantErr: "unsupported type",
		},
		{
			name:    "no columns",
			tables:  []domain.TableDef{{Name: "a"}},
			wantErr: "has no columns",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.tables...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegistry_TablesKeepsOrder(t *testing.T) {
	reg := testRegistry(t)
	tables := reg.Tables()
	require.Len(t, tables, 2)
	assert.Equal(t, "film", tables[0].Name)
	assert.Equal(t, "category", tables[1].Name)
	assert.True(t, reg.Has("film"))
	assert.False(t, reg.Has("store"))
}
