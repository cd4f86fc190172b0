// Package formatter turns raw report rows into ordered, typed result sets.
package formatter

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rpattn/rentalreports/internal/domain"
)

// Options describes the final shape of a report.
type Options struct {
	Columns []domain.Column
	// Round lists columns rounded to domain.RoundingPrecision decimals.
	Round         map[string]bool
	OrderBy       []domain.OrderKey
	LimitPerGroup *domain.GroupLimit
	Limit         int
}

// Format applies rounding, ordering, per-group and global limits, then lays the
// rows out in the declared column order.
func Format(report string, rows []domain.Row, opts Options) domain.ResultSet {
	working := make([]domain.Row, len(rows))
	for i, row := range rows {
		working[i] = row
		if len(opts.Round) == 0 {
			continue
		}
		rounded := row.Clone()
		for col := range opts.Round {
			if value, ok := rounded[col]; ok {
				rounded[col] = Round(value, domain.RoundingPrecision)
			}
		}
		working[i] = rounded
	}

	// Ranking sees rows in input order; the final ordering applies to the survivors.
	if opts.LimitPerGroup != nil {
		working = LimitPerGroup(working, *opts.LimitPerGroup)
	}
	if len(opts.OrderBy) > 0 {
		SortRows(working, opts.OrderBy)
	}
	if opts.Limit > 0 && len(working) > opts.Limit {
		working = working[:opts.Limit]
	}

	result := domain.ResultSet{
		Report:  report,
		Columns: append([]domain.Column(nil), opts.Columns...),
		Rows:    make([][]any, len(working)),
	}
	for i, row := range working {
		values := make([]any, len(opts.Columns))
		for j, col := range opts.Columns {
			values[j] = row[col.Name]
		}
		result.Rows[i] = values
	}
	return result
}

// Round rounds numeric values half away from zero; other values pass through.
func Round(value any, places int) any {
	switch v := value.(type) {
	case nil:
		return nil
	case float64:
		return roundFloat(v, places)
	case float32:
		return roundFloat(float64(v), places)
	default:
		return value
	}
}

const roundingULPs = 4

func roundFloat(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	scale := math.Pow(10, float64(places))
	// A few ULPs away from zero so 2.675 rounds like the decimal it was written as.
	scaled := v * scale
	away := math.Copysign(math.Inf(1), scaled)
	for i := 0; i < roundingULPs; i++ {
		scaled = math.Nextafter(scaled, away)
	}
	return math.Round(scaled) / scale
}

// SortRows stably orders rows by the keys; ties keep their input order.
func SortRows(rows []domain.Row, keys []domain.OrderKey) {
	sort.SliceStable(rows, func(i, j int) bool {
		return compareRows(rows[i], rows[j], keys) < 0
	})
}

func compareRows(left, right domain.Row, keys []domain.OrderKey) int {
	for _, key := range keys {
		c := Compare(left[key.Column], right[key.Column])
		if key.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// LimitPerGroup keeps the first N rows of each partition ranked by limit.OrderBy.
// Surviving rows keep their relative input order.
func LimitPerGroup(rows []domain.Row, limit domain.GroupLimit) []domain.Row {
	if limit.N <= 0 {
		return []domain.Row{}
	}
	partitions := make(map[string][]int)
	var partitionOrder []string
	for i, row := range rows {
		key := partitionKey(row, limit.PartitionBy)
		if _, seen := partitions[key]; !seen {
			partitionOrder = append(partitionOrder, key)
		}
		partitions[key] = append(partitions[key], i)
	}

	keep := make([]bool, len(rows))
	for _, key := range partitionOrder {
		members := partitions[key]
		sort.SliceStable(members, func(a, b int) bool {
			return compareRows(rows[members[a]], rows[members[b]], limit.OrderBy) < 0
		})
		for rank, idx := range members {
			if rank >= limit.N {
				break
			}
			keep[idx] = true
		}
	}

	kept := make([]domain.Row, 0, len(rows))
	for i, row := range rows {
		if keep[i] {
			kept = append(kept, row)
		}
	}
	return kept
}

func partitionKey(row domain.Row, columns []string) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = domain.KeyString(row[col])
	}
	return strings.Join(parts, "\x1f")
}

// Compare orders two values. NULL sorts after every other value so ascending
// order puts NULLs last and descending order puts them first. Values of
// different kinds order by kind: bool, number, string, time.
func Compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return 1
		default:
			return -1
		}
	}
	ka, kb := kind(a), kind(b)
	if ka != kb {
		return cmpInt(ka, kb)
	}
	switch ka {
	case kindBool:
		return cmpBool(a.(bool), b.(bool))
	case kindNumber:
		fa, _ := domain.ToFloat(a)
		fb, _ := domain.ToFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case kindString:
		return strings.Compare(a.(string), b.(string))
	case kindTime:
		return a.(time.Time).Compare(b.(time.Time))
	default:
		return strings.Compare(domain.KeyString(a), domain.KeyString(b))
	}
}

const (
	kindBool = iota
	kindNumber
	kindString
	kindTime
	kindOther
)

func kind(v any) int {
	switch v.(type) {
	case bool:
		return kindBool
	case string:
		return kindString
	case time.Time:
		return kindTime
	}
	if _, ok := domain.ToFloat(v); ok {
		return kindNumber
	}
	return kindOther
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}
