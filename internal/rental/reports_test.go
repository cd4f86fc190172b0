package rental

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/rentalreports/internal/domain"
	"github.com/rpattn/rentalreports/internal/engine"
	"github.com/rpattn/rentalreports/internal/ingestion"
)

func newSakilaEngine(t *testing.T) *engine.Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cat, err := NewCatalog("")
	require.NoError(t, err)
	repo, err := ingestion.LoadDirectory(context.Background(), "testdata/sakila", cat.Registry(), logger)
	require.NoError(t, err)
	return engine.New(cat, repo, engine.WithLogger(logger))
}

func TestTablesQualifyPhysicalNames(t *testing.T) {
	tables := Tables("public")
	require.Len(t, tables, 10)
	for _, table := range tables {
		assert.Equal(t, "public."+table.Name, table.Physical)
	}

	bare, err := NewRegistry("")
	require.NoError(t, err)
	film, err := bare.Table("film")
	require.NoError(t, err)
	assert.Equal(t, []string{"film"}, film.PhysicalParts())
}

func TestNewCatalogRegistersEveryReport(t *testing.T) {
	cat, err := NewCatalog("public")
	require.NoError(t, err)

	for _, def := range Definitions() {
		report, ok := cat.Get(def.Name)
		require.True(t, ok, def.Name)
		assert.NotEmpty(t, report.Output, def.Name)
	}

	view, _ := cat.Get(TopRentedView)
	assert.True(t, view.Definition.Standing)
	for _, def := range Definitions() {
		if def.Name == TopRentedView {
			assert.NoError(t, cat.DefineView(def), "re-defining the unchanged view is a no-op")
		}
	}
}

func TestNewCatalogAcceptsExtraReports(t *testing.T) {
	extra := domain.Definition{
		Name:    "busy_months",
		Inputs:  []domain.Input{{Source: "seasonal_rental_payment_trends"}},
		Having:  "total_rentals >= 3",
		OrderBy: []domain.OrderKey{{Column: "month"}},
	}
	cat, err := NewCatalog("", extra)
	require.NoError(t, err)
	_, ok := cat.Get("busy_months")
	assert.True(t, ok)

	_, err = NewCatalog("", domain.Definition{Name: "film", Inputs: []domain.Input{{Source: "rental"}}})
	var dup *domain.DuplicateNameError
	assert.ErrorAs(t, err, &dup)
}

func TestSakilaReports(t *testing.T) {
	e := newSakilaEngine(t)
	results, err := e.RunAll(context.Background())
	require.NoError(t, err)

	tests := []struct {
		report string
		want   [][]any
	}{
		{
			report: "customers_paid_never_rented",
			want:   [][]any{{int64(4), "BARBARA", "JONES", "BARBARA.JONES@sakilacustomer.org"}},
		},
		{
			report: "avg_payment_by_city",
			want:   [][]any{{"Woodridge", 3.49}, {"Lethbridge", 3.24}},
		},
		{
			report: "customers_above_average_rentals",
			want:   [][]any{{int64(1), "MARY", "SMITH", int64(3)}},
		},
		{
			report: "store_1_customer_payments",
			want:   [][]any{{int64(1), "MARY", "SMITH", 8.97}, {int64(2), "PATRICIA", "JOHNSON", 0.99}},
		},
		{
			report: "top_5_films_per_category",
			want: [][]any{
				{"Action", int64(1), "ACADEMY DINOSAUR", int64(3)},
				{"Action", int64(2), "ACE GOLDFINGER", int64(1)},
				{"Comedy", int64(3), "ADAPTATION HOLES", int64(1)},
			},
		},
		{
			report: TopRentedView,
			want: [][]any{
				{int64(1), "ACADEMY DINOSAUR", int64(3)},
				{int64(2), "ACE GOLDFINGER", int64(1)},
				{int64(3), "ADAPTATION HOLES", int64(1)},
			},
		},
		{
			report: "store_rentals_vs_payments",
			want:   [][]any{{int64(1), int64(3), 8.97}, {int64(2), int64(2), 6.98}},
		},
		{
			report: "category_rental_duration_and_revenue",
			want:   [][]any{{"Action", 2.5, 9.96}, {"Comedy", nil, 5.99}},
		},
		{
			report: "seasonal_rental_payment_trends",
			want: [][]any{
				{"2005-05", int64(2), 3.98},
				{"2005-06", int64(3), 11.97},
				{"2005-07", int64(0), 3.99},
			},
		},
		{
			report: "films_without_inventory",
			want:   [][]any{{int64(4), "AFFAIR PREJUDICE"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.report, func(t *testing.T) {
			result, ok := results[tt.report]
			require.True(t, ok)
			assert.Equal(t, tt.want, result.Rows)
		})
	}
}

func TestSakilaTopRentedViewRefresh(t *testing.T) {
	e := newSakilaEngine(t)
	ctx := context.Background()

	result, err := e.Refresh(ctx, TopRentedView)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Len())

	snapshot, ok := e.View(TopRentedView)
	require.True(t, ok)
	assert.Equal(t, result, snapshot.Result)

	again, err := e.Refresh(ctx, TopRentedView)
	require.NoError(t, err)
	assert.Equal(t, result, again)
}
