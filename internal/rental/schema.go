// Package rental declares the film-rental schema and the report catalog built on it.
package rental

import (
	"github.com/rpattn/rentalreports/internal/domain"
	"github.com/rpattn/rentalreports/internal/schema"
)

func col(name string, t domain.ColumnType) domain.Column {
	return domain.Column{Name: name, Type: t}
}

const (
	integer   = domain.ColumnTypeInteger
	float     = domain.ColumnTypeFloat
	text      = domain.ColumnTypeString
	boolean   = domain.ColumnTypeBoolean
	timestamp = domain.ColumnTypeTimestamp
)

// Tables returns the rental tables. physicalSchema qualifies the store-side
// names ("public" gives public.film); empty leaves them bare.
func Tables(physicalSchema string) []domain.TableDef {
	tables := []domain.TableDef{
		{Name: "customer", Columns: []domain.Column{
			col("customer_id", integer),
			col("store_id", integer),
			col("first_name", text),
			col("last_name", text),
			col("email", text),
			col("address_id", integer),
			col("active", boolean),
			col("create_date", timestamp),
		}},
		{Name: "rental", Columns: []domain.Column{
			col("rental_id", integer),
			col("rental_date", timestamp),
			col("inventory_id", integer),
			col("customer_id", integer),
			col("return_date", timestamp),
			col("staff_id", integer),
		}},
		{Name: "payment", Columns: []domain.Column{
			col("payment_id", integer),
			col("customer_id", integer),
			col("staff_id", integer),
			col("rental_id", integer),
			col("amount", float),
			col("payment_date", timestamp),
		}},
		{Name: "inventory", Columns: []domain.Column{
			col("inventory_id", integer),
			col("film_id", integer),
			col("store_id", integer),
		}},
		{Name: "film", Columns: []domain.Column{
			col("film_id", integer),
			col("title", text),
			col("description", text),
			col("release_year", integer),
			col("rental_duration", integer),
			col("rental_rate", float),
			col("length", integer),
			col("replacement_cost", float),
			col("rating", text),
		}},
		{Name: "film_category", Columns: []domain.Column{
			col("film_id", integer),
			col("category_id", integer),
		}},
		{Name: "category", Columns: []domain.Column{
			col("category_id", integer),
			col("name", text),
		}},
		{Name: "address", Columns: []domain.Column{
			col("address_id", integer),
			col("address", text),
			col("district", text),
			col("city_id", integer),
			col("postal_code", text),
			col("phone", text),
		}},
		{Name: "city", Columns: []domain.Column{
			col("city_id", integer),
			col("city", text),
			col("country_id", integer),
		}},
		{Name: "store", Columns: []domain.Column{
			col("store_id", integer),
			col("manager_staff_id", integer),
			col("address_id", integer),
		}},
	}
	if physicalSchema != "" {
		for i := range tables {
			tables[i].Physical = physicalSchema + "." + tables[i].Name
		}
	}
	return tables
}

// NewRegistry registers the rental tables.
func NewRegistry(physicalSchema string) (*schema.Registry, error) {
	return schema.NewRegistry(Tables(physicalSchema)...)
}
