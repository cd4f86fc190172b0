package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/rentalreports/internal/catalog"
	"github.com/rpattn/rentalreports/internal/domain"
	"github.com/rpattn/rentalreports/internal/repository"
	"github.com/rpattn/rentalreports/internal/schema"
)

type mockTableRepository struct {
	mu     sync.Mutex
	tables map[string][]domain.Row
	calls  map[string]int
	fail   map[string]error
	block  bool
}

func newMockRepository() *mockTableRepository {
	return &mockTableRepository{
		tables: make(map[string][]domain.Row),
		calls:  make(map[string]int),
		fail:   make(map[string]error),
	}
}

func (m *mockTableRepository) LoadTable(ctx context.Context, table domain.TableDef) ([]domain.Row, error) {
	m.mu.Lock()
	m.calls[table.Name]++
	rows := m.tables[table.Name]
	err := m.fail[table.Name]
	block := m.block
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (m *mockTableRepository) set(table string, rows []domain.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = rows
}

func (m *mockTableRepository) callCount(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[table]
}

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(
		domain.TableDef{Name: "customer", Columns: []domain.Column{
			{Name: "customer_id", Type: domain.ColumnTypeInteger},
			{Name: "store_id", Type: domain.ColumnTypeInteger},
			{Name: "first_name", Type: domain.ColumnTypeString},
		}},
		domain.TableDef{Name: "payment", Columns: []domain.Column{
			{Name: "payment_id", Type: domain.ColumnTypeInteger},
			{Name: "customer_id", Type: domain.ColumnTypeInteger},
			{Name: "amount", Type: domain.ColumnTypeFloat},
			{Name: "payment_date", Type: domain.ColumnTypeTimestamp},
		}},
		domain.TableDef{Name: "rental", Columns: []domain.Column{
			{Name: "rental_id", Type: domain.ColumnTypeInteger},
			{Name: "customer_id", Type: domain.ColumnTypeInteger},
			{Name: "film_id", Type: domain.ColumnTypeInteger},
			{Name: "rental_date", Type: domain.ColumnTypeTimestamp},
		}},
		domain.TableDef{Name: "film", Columns: []domain.Column{
			{Name: "film_id", Type: domain.ColumnTypeInteger},
			{Name: "title", Type: domain.ColumnTypeString},
			{Name: "category", Type: domain.ColumnTypeString},
		}},
	)
	require.NoError(t, err)
	return reg
}

func day(month time.Month, d int) time.Time {
	return time.Date(2005, month, d, 10, 0, 0, 0, time.UTC)
}

// fixtureRepository holds four customers, Drama films A:3 B:3 C:2 and Comedy D:5 rentals.
func fixtureRepository() *mockTableRepository {
	repo := newMockRepository()
	repo.set("customer", []domain.Row{
		{"customer_id": int64(1), "store_id": int64(1), "first_name": "Ann"},
		{"customer_id": int64(2), "store_id": int64(1), "first_name": "Bob"},
		{"customer_id": int64(3), "store_id": int64(2), "first_name": "Cat"},
		{"customer_id": int64(4), "store_id": int64(2), "first_name": "Dee"},
	})
	repo.set("payment", []domain.Row{
		{"payment_id": int64(1), "customer_id": int64(1), "amount": 2.99, "payment_date": day(time.June, 11)},
		{"payment_id": int64(2), "customer_id": int64(1), "amount": 4.99, "payment_date": day(time.July, 1)},
		{"payment_id": int64(3), "customer_id": int64(2), "amount": 0.99, "payment_date": day(time.June, 15)},
		{"payment_id": int64(4), "customer_id": int64(4), "amount": 1.99, "payment_date": day(time.July, 2)},
	})
	repo.set("film", []domain.Row{
		{"film_id": int64(1), "title": "A", "category": "Drama"},
		{"film_id": int64(2), "title": "B", "category": "Drama"},
		{"film_id": int64(3), "title": "C", "category": "Drama"},
		{"film_id": int64(4), "title": "D", "category": "Comedy"},
		{"film_id": int64(5), "title": "E", "category": "Comedy"},
	})

	var rentals []domain.Row
	id := int64(1)
	for i, count := range []int{3, 3, 2, 5} {
		filmID := int64(i + 1)
		for j := 0; j < count; j++ {
			rentals = append(rentals, domain.Row{
				"rental_id":   id,
				"customer_id": int64(2 + id%2),
				"film_id":     filmID,
				"rental_date": day(time.May, 20+int(id%5)),
			})
			id++
		}
	}
	rentals[len(rentals)-1]["rental_date"] = day(time.June, 1)
	repo.set("rental", rentals)
	return repo
}

func fixtureDefinitions() []domain.Definition {
	return []domain.Definition{
		{
			Name: "customers_paid_never_rented",
			Inputs: []domain.Input{
				{Source: "customer"},
				{Source: "payment", On: []domain.JoinKey{{Left: "customer.customer_id", Right: "customer_id"}}},
				{Source: "rental", Join: domain.JoinOptional, On: []domain.JoinKey{{Left: "customer.customer_id", Right: "customer_id"}}},
			},
			Where:   "rental.rental_id == nil",
			GroupBy: []domain.Projection{{Field: "customer.customer_id"}, {Field: "customer.first_name"}},
			OrderBy: []domain.OrderKey{{Column: "customer_id"}},
		},
		{
			Name: "film_rental_counts",
			Inputs: []domain.Input{
				{Source: "film"},
				{Source: "rental", On: []domain.JoinKey{{Left: "film.film_id", Right: "film_id"}}},
			},
			GroupBy:    []domain.Projection{{Field: "film.category"}, {Field: "film.title"}},
			Aggregates: []domain.Aggregate{{Func: domain.AggregateCount, As: "rentals"}},
		},
		{
			Name:    "top_2_films_per_category",
			Inputs:  []domain.Input{{Source: "film_rental_counts"}},
			OrderBy: []domain.OrderKey{{Column: "category"}, {Column: "rentals", Desc: true}},
			LimitPerGroup: &domain.GroupLimit{
				N:           2,
				PartitionBy: []string{"category"},
				OrderBy:     []domain.OrderKey{{Column: "rentals", Desc: true}},
			},
		},
		{
			Name:       "monthly_rentals",
			Inputs:     []domain.Input{{Source: "rental"}},
			GroupBy:    []domain.Projection{{Expr: "yearMonth(rental.rental_date)", As: "month"}},
			Aggregates: []domain.Aggregate{{Func: domain.AggregateCount, As: "total_rentals"}},
		},
		{
			Name:       "monthly_payments",
			Inputs:     []domain.Input{{Source: "payment"}},
			GroupBy:    []domain.Projection{{Expr: "yearMonth(payment.payment_date)", As: "month"}},
			Aggregates: []domain.Aggregate{{Func: domain.AggregateSum, Field: "payment.amount", As: "total_payments", Round: true}},
		},
		{
			Name:   "seasonal_trends",
			Inputs: []domain.Input{{Source: "monthly_rentals"}, {Source: "monthly_payments"}},
			Union: &domain.UnionSpec{Key: "month", Series: []domain.UnionSeries{
				{Input: "monthly_rentals", Value: "total_rentals"},
				{Input: "monthly_payments", Value: "total_payments"},
			}},
		},
		{
			Name:     "most_rented_film",
			Inputs:   []domain.Input{{Source: "film_rental_counts"}},
			OrderBy:  []domain.OrderKey{{Column: "rentals", Desc: true}},
			Limit:    1,
			Standing: true,
		},
	}
}

func newTestEngine(t *testing.T, repo repository.TableRepository, defs []domain.Definition, opts ...Option) *Engine {
	t.Helper()
	cat := catalog.New(testRegistry(t))
	require.NoError(t, cat.DefineAll(defs))
	return New(cat, repo, opts...)
}

func TestRun_AntiJoinIncludesEachCustomerOnce(t *testing.T) {
	e := newTestEngine(t, fixtureRepository(), fixtureDefinitions())

	result, err := e.Run(context.Background(), "customers_paid_never_rented")
	require.NoError(t, err)

	// Ann paid twice and Dee once; neither rented. Bob rented, Cat never paid.
	assert.Equal(t, [][]any{{int64(1), "Ann"}, {int64(4), "Dee"}}, result.Rows)
	assert.Equal(t, []domain.Column{
		{Name: "customer_id", Type: domain.ColumnTypeInteger},
		{Name: "first_name", Type: domain.ColumnTypeString},
	}, result.Columns)
}

func TestRun_TopTwoPerCategory(t *testing.T) {
	e := newTestEngine(t, fixtureRepository(), fixtureDefinitions())

	result, err := e.Run(context.Background(), "top_2_films_per_category")
	require.NoError(t, err)

	assert.Equal(t, [][]any{
		{"Comedy", "D", int64(5)},
		{"Drama", "A", int64(3)},
		{"Drama", "B", int64(3)},
	}, result.Rows)
}

func TestRun_GapFillingUnion(t *testing.T) {
	e := newTestEngine(t, fixtureRepository(), fixtureDefinitions())

	result, err := e.Run(context.Background(), "seasonal_trends")
	require.NoError(t, err)

	assert.Equal(t, []string{"month", "total_rentals", "total_payments"}, columnNames(result))
	assert.Equal(t, [][]any{
		{"2005-05", int64(12), 0.0},
		{"2005-06", int64(1), 3.98},
		{"2005-07", int64(0), 6.98},
	}, result.Rows)
}

func TestRun_HavingAgainstAverageSummary(t *testing.T) {
	repo := newMockRepository()
	var rentals []domain.Row
	id := int64(1)
	for customer, count := range []int{1, 2, 3, 4, 10} {
		for i := 0; i < count; i++ {
			rentals = append(rentals, domain.Row{"rental_id": id, "customer_id": int64(customer + 1), "film_id": int64(1), "rental_date": day(time.May, 1)})
			id++
		}
	}
	repo.set("rental", rentals)

	defs := []domain.Definition{
		{
			Name:       "customer_rental_totals",
			Inputs:     []domain.Input{{Source: "rental"}},
			GroupBy:    []domain.Projection{{Field: "rental.customer_id"}},
			Aggregates: []domain.Aggregate{{Func: domain.AggregateCount, As: "total_rentals"}},
		},
		{
			Name:      "customers_above_average_rentals",
			Inputs:    []domain.Input{{Source: "customer_rental_totals"}},
			Summaries: []domain.Summary{{Name: "average_rentals", Func: domain.AggregateAvg, Column: "total_rentals"}},
			Having:    "total_rentals > average_rentals",
		},
	}
	e := newTestEngine(t, repo, defs)

	result, err := e.Run(context.Background(), "customers_above_average_rentals")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(5), int64(10)}}, result.Rows)
}

func TestRun_NullComparisonsDropRows(t *testing.T) {
	paymentTotals := func(name, where, having string) domain.Definition {
		return domain.Definition{
			Name: name,
			Inputs: []domain.Input{
				{Source: "customer"},
				{Source: "payment", Join: domain.JoinOptional, On: []domain.JoinKey{{Left: "customer.customer_id", Right: "customer_id"}}},
			},
			Where:      where,
			GroupBy:    []domain.Projection{{Field: "customer.customer_id"}},
			Aggregates: []domain.Aggregate{{Func: domain.AggregateSum, Field: "payment.amount", As: "total", Round: true}},
			Summaries:  []domain.Summary{{Name: "average_total", Func: domain.AggregateAvg, Column: "total"}},
			Having:     having,
			OrderBy:    []domain.OrderKey{{Column: "customer_id"}},
		}
	}
	defs := []domain.Definition{
		paymentTotals("above_average_spenders", "", "total >= average_total"),
		paymentTotals("non_payer_against_null_average", "customer.customer_id == 3", "total >= average_total"),
		paymentTotals("small_payments", "payment.amount < 1", ""),
	}
	e := newTestEngine(t, fixtureRepository(), defs)

	above, err := e.Run(context.Background(), "above_average_spenders")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(1), 7.98}}, above.Rows)

	none, err := e.Run(context.Background(), "non_payer_against_null_average")
	require.NoError(t, err)
	assert.Empty(t, none.Rows)

	small, err := e.Run(context.Background(), "small_payments")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(2), 0.99}}, small.Rows)
}

func TestRun_OptionalJoinAggregates(t *testing.T) {
	defs := []domain.Definition{
		{
			Name: "film_counts_with_zero",
			Inputs: []domain.Input{
				{Source: "film"},
				{Source: "rental", Join: domain.JoinOptional, On: []domain.JoinKey{{Left: "film.film_id", Right: "film_id"}}},
			},
			GroupBy: []domain.Projection{{Field: "film.title"}},
			Aggregates: []domain.Aggregate{
				{Func: domain.AggregateCount, Field: "rental.rental_id", As: "rentals"},
				{Func: domain.AggregateCountDistinct, Field: "rental.customer_id", As: "customers"},
			},
			Where: `film.category == "Comedy"`,
		},
		{
			Name:   "large_payments",
			Inputs: []domain.Input{{Source: "payment"}},
			Where:  "amount > 100",
			Aggregates: []domain.Aggregate{
				{Func: domain.AggregateCount, As: "payments"},
				{Func: domain.AggregateSum, Field: "amount", As: "total"},
				{Func: domain.AggregateAvg, Field: "amount", As: "average"},
			},
		},
	}
	e := newTestEngine(t, fixtureRepository(), defs)

	counts, err := e.Run(context.Background(), "film_counts_with_zero")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"D", int64(5), int64(2)}, {"E", int64(0), int64(0)}}, counts.Rows)

	empty, err := e.Run(context.Background(), "large_payments")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(0), nil, nil}}, empty.Rows)
}

func TestRunAll_IsDeterministic(t *testing.T) {
	repo := fixtureRepository()
	e := newTestEngine(t, repo, fixtureDefinitions(), WithConfig(Config{MaxConcurrency: 8}))

	first, err := e.RunAll(context.Background())
	require.NoError(t, err)
	second, err := e.RunAll(context.Background())
	require.NoError(t, err)

	assert.Len(t, first, len(fixtureDefinitions()))
	assert.Equal(t, first, second)
}

func TestRunAll_LoadsEachTableOncePerRun(t *testing.T) {
	repo := fixtureRepository()
	e := newTestEngine(t, repo, fixtureDefinitions())

	_, err := e.RunAll(context.Background())
	require.NoError(t, err)
	for _, table := range []string{"customer", "payment", "rental", "film"} {
		assert.Equal(t, 1, repo.callCount(table), "table %s", table)
	}

	_, err = e.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, repo.callCount("rental"), "each run loads fresh data")
}

func TestRun_SequentialExecution(t *testing.T) {
	e := newTestEngine(t, fixtureRepository(), fixtureDefinitions(), WithConfig(Config{MaxConcurrency: 1}))

	result, err := e.Run(context.Background(), "seasonal_trends")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Len())
}

func TestRun_WrapsSourceFailure(t *testing.T) {
	repo := fixtureRepository()
	boom := errors.New("connection lost")
	repo.fail["payment"] = boom
	e := newTestEngine(t, repo, fixtureDefinitions())

	_, err := e.Run(context.Background(), "seasonal_trends")
	var execErr *domain.ReportExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "monthly_payments", execErr.Report)
	assert.ErrorIs(t, err, boom)

	results, err := e.RunAll(context.Background())
	assert.Error(t, err)
	assert.Nil(t, results)
}

func TestRun_UnknownReport(t *testing.T) {
	e := newTestEngine(t, fixtureRepository(), fixtureDefinitions())

	_, err := e.Run(context.Background(), "missing")
	var notFound *domain.ReportNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestRun_Timeout(t *testing.T) {
	repo := fixtureRepository()
	repo.block = true
	e := newTestEngine(t, repo, fixtureDefinitions(), WithConfig(Config{RunTimeout: 20 * time.Millisecond}))

	result, err := e.Run(context.Background(), "top_2_films_per_category")
	var timeoutErr *domain.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "film_rental_counts", timeoutErr.Report)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, result.Len())
}

func TestStandingView_RefreshAndReuse(t *testing.T) {
	repo := fixtureRepository()
	e := newTestEngine(t, repo, fixtureDefinitions())
	ctx := context.Background()

	_, ok := e.View("most_rented_film")
	assert.False(t, ok)

	computed, err := e.Run(ctx, "most_rented_film")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"Comedy", "D", int64(5)}}, computed.Rows)
	_, ok = e.View("most_rented_film")
	assert.False(t, ok, "runs do not store snapshots")

	refreshed, err := e.Refresh(ctx, "most_rented_film")
	require.NoError(t, err)
	assert.Equal(t, computed, refreshed)

	// Film A becomes the most rented; runs keep serving the snapshot until the next refresh.
	rentals, _ := repo.LoadTable(ctx, domain.TableDef{Name: "rental"})
	for i := 0; i < 5; i++ {
		rentals = append(rentals, domain.Row{"rental_id": int64(100 + i), "customer_id": int64(3), "film_id": int64(1), "rental_date": day(time.June, 2)})
	}
	repo.set("rental", rentals)

	stale, err := e.Run(ctx, "most_rented_film")
	require.NoError(t, err)
	assert.Equal(t, computed.Rows, stale.Rows)

	updated, err := e.Refresh(ctx, "most_rented_film")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"Drama", "A", int64(8)}}, updated.Rows)

	again, err := e.Refresh(ctx, "most_rented_film")
	require.NoError(t, err)
	assert.Equal(t, updated, again)
}

func TestRefresh_RejectsOrdinaryReports(t *testing.T) {
	e := newTestEngine(t, fixtureRepository(), fixtureDefinitions())

	_, err := e.Refresh(context.Background(), "film_rental_counts")
	var validation *domain.ValidationError
	assert.ErrorAs(t, err, &validation)

	_, err = e.Refresh(context.Background(), "missing")
	var notFound *domain.ReportNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestRunMany_ReturnsOnlyTargets(t *testing.T) {
	e := newTestEngine(t, fixtureRepository(), fixtureDefinitions())

	results, err := e.RunMany(context.Background(), "monthly_rentals", "customers_paid_never_rented")
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Contains(t, results, "monthly_rentals")
}

func columnNames(result domain.ResultSet) []string {
	names := make([]string, len(result.Columns))
	for i, col := range result.Columns {
		names[i] = col.Name
	}
	return names
}
