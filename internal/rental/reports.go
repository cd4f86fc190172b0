package rental

import (
	"fmt"

	"github.com/rpattn/rentalreports/internal/catalog"
	"github.com/rpattn/rentalreports/internal/domain"
)

// TopRentedView is the standing view refreshed on demand.
const TopRentedView = "top_10_most_rented"

func join(source, left, right string) domain.Input {
	return domain.Input{Source: source, On: []domain.JoinKey{{Left: left, Right: right}}}
}

func optional(source, left, right string) domain.Input {
	in := join(source, left, right)
	in.Join = domain.JoinOptional
	return in
}

func field(path string) domain.Projection {
	return domain.Projection{Field: path}
}

func fieldAs(path, as string) domain.Projection {
	return domain.Projection{Field: path, As: as}
}

func monthOf(path string) domain.Projection {
	return domain.Projection{Expr: fmt.Sprintf("yearMonth(%s)", path), As: "month"}
}

func count(as string) domain.Aggregate {
	return domain.Aggregate{Func: domain.AggregateCount, As: as}
}

func sum(path, as string) domain.Aggregate {
	return domain.Aggregate{Func: domain.AggregateSum, Field: path, As: as, Round: true}
}

func asc(column string) domain.OrderKey  { return domain.OrderKey{Column: column} }
func desc(column string) domain.OrderKey { return domain.OrderKey{Column: column, Desc: true} }

// Definitions returns the rental report catalog, base reports included.
func Definitions() []domain.Definition {
	return []domain.Definition{
		{
			Name:        "customers_paid_never_rented",
			Description: "Customers with at least one payment and no rentals.",
			Inputs: []domain.Input{
				{Source: "customer"},
				join("payment", "customer.customer_id", "customer_id"),
				optional("rental", "customer.customer_id", "customer_id"),
			},
			Where: "rental.rental_id == nil",
			GroupBy: []domain.Projection{
				field("customer.customer_id"),
				field("customer.first_name"),
				field("customer.last_name"),
				field("customer.email"),
			},
			OrderBy: []domain.OrderKey{asc("customer_id")},
		},
		{
			Name:        "avg_payment_by_city",
			Description: "Average payment amount per customer city.",
			Inputs: []domain.Input{
				{Source: "payment"},
				join("customer", "payment.customer_id", "customer_id"),
				join("address", "customer.address_id", "address_id"),
				join("city", "address.city_id", "city_id"),
			},
			GroupBy:    []domain.Projection{field("city.city")},
			Aggregates: []domain.Aggregate{{Func: domain.AggregateAvg, Field: "payment.amount", As: "average_payment"}},
			OrderBy:    []domain.OrderKey{desc("average_payment"), asc("city")},
		},
		{
			Name:       "customer_rental_totals",
			Inputs:     []domain.Input{{Source: "rental"}},
			GroupBy:    []domain.Projection{field("rental.customer_id")},
			Aggregates: []domain.Aggregate{count("total_rentals")},
		},
		{
			Name:        "customers_above_average_rentals",
			Description: "Customers who rented more than the average customer.",
			Inputs: []domain.Input{
				{Source: "customer_rental_totals", Alias: "totals"},
				join("customer", "totals.customer_id", "customer_id"),
			},
			Select: []domain.Projection{
				field("totals.customer_id"),
				field("customer.first_name"),
				field("customer.last_name"),
				field("totals.total_rentals"),
			},
			Summaries: []domain.Summary{{Name: "average_rentals", Func: domain.AggregateAvg, Column: "total_rentals"}},
			Having:    "total_rentals > average_rentals",
			OrderBy:   []domain.OrderKey{desc("total_rentals"), asc("customer_id")},
		},
		{
			Name:        "store_1_customer_payments",
			Description: "Total payments of every store 1 customer.",
			Inputs: []domain.Input{
				{Source: "customer"},
				join("payment", "customer.customer_id", "customer_id"),
			},
			Where: "customer.store_id == 1",
			GroupBy: []domain.Projection{
				field("customer.customer_id"),
				field("customer.first_name"),
				field("customer.last_name"),
			},
			Aggregates: []domain.Aggregate{sum("payment.amount", "total_payments")},
			OrderBy:    []domain.OrderKey{desc("total_payments"), asc("customer_id")},
		},
		{
			Name: "film_rental_counts_by_category",
			Inputs: []domain.Input{
				{Source: "film"},
				join("film_category", "film.film_id", "film_id"),
				join("category", "film_category.category_id", "category_id"),
				join("inventory", "film.film_id", "film_id"),
				join("rental", "inventory.inventory_id", "inventory_id"),
			},
			GroupBy: []domain.Projection{
				fieldAs("category.name", "category"),
				field("film.film_id"),
				field("film.title"),
			},
			Aggregates: []domain.Aggregate{count("rental_count")},
		},
		{
			Name:        "top_5_films_per_category",
			Description: "The five most rented films of every category.",
			Inputs:      []domain.Input{{Source: "film_rental_counts_by_category"}},
			OrderBy:     []domain.OrderKey{asc("category"), desc("rental_count"), asc("film_id")},
			LimitPerGroup: &domain.GroupLimit{
				N:           5,
				PartitionBy: []string{"category"},
				OrderBy:     []domain.OrderKey{desc("rental_count")},
			},
		},
		{
			Name:        TopRentedView,
			Description: "The ten most rented films.",
			Inputs: []domain.Input{
				{Source: "film"},
				join("inventory", "film.film_id", "film_id"),
				join("rental", "inventory.inventory_id", "inventory_id"),
			},
			GroupBy:    []domain.Projection{field("film.film_id"), field("film.title")},
			Aggregates: []domain.Aggregate{{Func: domain.AggregateCount, Field: "rental.rental_id", As: "rental_count"}},
			OrderBy:    []domain.OrderKey{desc("rental_count"), asc("film_id")},
			Limit:      10,
			Standing:   true,
		},
		{
			Name: "store_rental_counts",
			Inputs: []domain.Input{
				{Source: "rental"},
				join("inventory", "rental.inventory_id", "inventory_id"),
			},
			GroupBy:    []domain.Projection{field("inventory.store_id")},
			Aggregates: []domain.Aggregate{count("total_rentals")},
		},
		{
			Name: "store_payment_totals",
			Inputs: []domain.Input{
				{Source: "payment"},
				join("rental", "payment.rental_id", "rental_id"),
				join("inventory", "rental.inventory_id", "inventory_id"),
			},
			GroupBy:    []domain.Projection{field("inventory.store_id")},
			Aggregates: []domain.Aggregate{sum("payment.amount", "total_payments")},
		},
		{
			Name:        "store_rentals_vs_payments",
			Description: "Rental count and payment total side by side for every store.",
			Inputs: []domain.Input{
				{Source: "store"},
				optional("store_rental_counts", "store.store_id", "store_id"),
				optional("store_payment_totals", "store.store_id", "store_id"),
			},
			Select: []domain.Projection{
				field("store.store_id"),
				{Expr: "coalesce(store_rental_counts.total_rentals, 0)", As: "total_rentals", Type: domain.ColumnTypeInteger},
				{Expr: "coalesce(store_payment_totals.total_payments, 0.0)", As: "total_payments", Type: domain.ColumnTypeFloat, Round: true},
			},
			OrderBy: []domain.OrderKey{asc("store_id")},
		},
		{
			Name:        "category_rental_duration_and_revenue",
			Description: "Average rental duration in days and total revenue per category.",
			Inputs: []domain.Input{
				{Source: "category"},
				join("film_category", "category.category_id", "category_id"),
				join("inventory", "film_category.film_id", "film_id"),
				join("rental", "inventory.inventory_id", "inventory_id"),
				join("payment", "rental.rental_id", "rental_id"),
			},
			GroupBy: []domain.Projection{fieldAs("category.name", "category")},
			Aggregates: []domain.Aggregate{
				{Func: domain.AggregateAvg, Expr: "daysBetween(rental.rental_date, rental.return_date)", As: "avg_rental_duration"},
				sum("payment.amount", "total_revenue"),
			},
			OrderBy: []domain.OrderKey{desc("total_revenue"), asc("category")},
		},
		{
			Name:       "monthly_rentals",
			Inputs:     []domain.Input{{Source: "rental"}},
			GroupBy:    []domain.Projection{monthOf("rental.rental_date")},
			Aggregates: []domain.Aggregate{count("total_rentals")},
		},
		{
			Name:       "monthly_payments",
			Inputs:     []domain.Input{{Source: "payment"}},
			GroupBy:    []domain.Projection{monthOf("payment.payment_date")},
			Aggregates: []domain.Aggregate{sum("payment.amount", "total_payments")},
		},
		{
			Name:        "seasonal_rental_payment_trends",
			Description: "Monthly rentals and payments over every month either side saw activity.",
			Inputs:      []domain.Input{{Source: "monthly_rentals"}, {Source: "monthly_payments"}},
			Union: &domain.UnionSpec{Key: "month", Series: []domain.UnionSeries{
				{Input: "monthly_rentals", Value: "total_rentals"},
				{Input: "monthly_payments", Value: "total_payments"},
			}},
		},
		{
			Name:        "films_without_inventory",
			Description: "Films with no copy in any store.",
			Inputs: []domain.Input{
				{Source: "film"},
				optional("inventory", "film.film_id", "film_id"),
			},
			Where:   "inventory.inventory_id == nil",
			Select:  []domain.Projection{field("film.film_id"), field("film.title")},
			OrderBy: []domain.OrderKey{asc("film_id")},
		},
	}
}

// NewCatalog registers the rental reports followed by any extra definitions,
// for example ones read from a YAML catalog file.
func NewCatalog(physicalSchema string, extra ...domain.Definition) (*catalog.Catalog, error) {
	registry, err := NewRegistry(physicalSchema)
	if err != nil {
		return nil, fmt.Errorf("rental schema: %w", err)
	}
	cat := catalog.New(registry)
	if err := cat.DefineAll(Definitions()); err != nil {
		return nil, fmt.Errorf("rental reports: %w", err)
	}
	if len(extra) > 0 {
		if err := cat.DefineAll(extra); err != nil {
			return nil, fmt.Errorf("extra reports: %w", err)
		}
	}
	return cat, nil
}
