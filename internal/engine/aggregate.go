package engine

import (
	"fmt"

	"github.com/rpattn/rentalreports/internal/domain"
)

// accumulator folds the values of one aggregate. NULLs are ignored; COUNT over no
// values is 0 while SUM and AVG over no values are NULL.
type accumulator struct {
	fn      domain.AggregateFunc
	outType domain.ColumnType

	count    int64
	intSum   int64
	floatSum float64
	allInt   bool
	distinct map[string]struct{}
}

func newAccumulator(fn domain.AggregateFunc, outType domain.ColumnType) *accumulator {
	acc := &accumulator{fn: fn, outType: outType, allInt: true}
	if fn == domain.AggregateCountDistinct {
		acc.distinct = make(map[string]struct{})
	}
	return acc
}

// addRow counts a row for COUNT(*).
func (a *accumulator) addRow() {
	a.count++
}

func (a *accumulator) add(value any) error {
	if value == nil {
		return nil
	}
	switch a.fn {
	case domain.AggregateCount:
		a.count++
	case domain.AggregateCountDistinct:
		a.distinct[domain.KeyString(value)] = struct{}{}
	case domain.AggregateSum, domain.AggregateAvg:
		f, ok := domain.ToFloat(value)
		if !ok {
			return fmt.Errorf("%s over non-numeric value %T", a.fn, value)
		}
		a.count++
		a.floatSum += f
		if i, ok := integerValue(value); ok {
			a.intSum += i
		} else {
			a.allInt = false
		}
	default:
		return fmt.Errorf("unknown aggregate function %q", a.fn)
	}
	return nil
}

func (a *accumulator) result() any {
	switch a.fn {
	case domain.AggregateCount:
		return a.count
	case domain.AggregateCountDistinct:
		return int64(len(a.distinct))
	case domain.AggregateSum:
		if a.count == 0 {
			return nil
		}
		if a.outType == domain.ColumnTypeInteger && a.allInt {
			return a.intSum
		}
		return a.floatSum
	case domain.AggregateAvg:
		if a.count == 0 {
			return nil
		}
		return a.floatSum / float64(a.count)
	}
	return nil
}

// integerValue accepts integer kinds only; whole floats stay floats.
func integerValue(value any) (int64, bool) {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return domain.ToInt64(value)
	}
	return 0, false
}
