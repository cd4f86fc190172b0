package repository

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rpattn/rentalreports/internal/domain"
)

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05.000000000",
	"2006-01-02 15:04:05-07:00",
	"2006/01/02",
	"01/02/2006",
}

// ParseTimestamp parses the timestamp layouts produced by the supported stores and file exports.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format %q", raw)
}

// floater matches driver decimal types such as duckdb.Decimal.
type floater interface {
	Float64() float64
}

// NormalizeValue converts a driver value into the representation of the column type.
func NormalizeValue(colType domain.ColumnType, value any) (any, error) {
	value = unwrapDriverValue(value)
	if value == nil {
		return nil, nil
	}

	switch colType {
	case domain.ColumnTypeInteger:
		if i, ok := domain.ToInt64(value); ok {
			return i, nil
		}
		if s, ok := value.(string); ok {
			if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				return i, nil
			}
		}
		if b, ok := value.(bool); ok {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case domain.ColumnTypeFloat:
		if f, ok := domain.ToFloat(value); ok {
			return f, nil
		}
		if s, ok := value.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f, nil
			}
		}
	case domain.ColumnTypeString:
		switch v := value.(type) {
		case string:
			return v, nil
		case time.Time:
			return v.Format(time.RFC3339), nil
		default:
			return fmt.Sprint(v), nil
		}
	case domain.ColumnTypeBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err == nil {
				return b, nil
			}
		default:
			if i, ok := domain.ToInt64(v); ok {
				return i != 0, nil
			}
		}
	case domain.ColumnTypeTimestamp:
		switch v := value.(type) {
		case time.Time:
			return v, nil
		case string:
			return ParseTimestamp(v)
		}
	default:
		return nil, fmt.Errorf("unsupported column type %q", colType)
	}
	return nil, fmt.Errorf("cannot convert %T value %v to %s", value, value, colType)
}

// unwrapDriverValue flattens driver specific wrappers into plain Go values.
func unwrapDriverValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return string(v)
	case pgtype.Numeric:
		if !v.Valid || v.NaN {
			return nil
		}
		f, err := v.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		if v.Exp >= 0 && v.InfinityModifier == pgtype.Finite {
			if i, err := v.Int64Value(); err == nil && i.Valid {
				return i.Int64
			}
		}
		return f.Float64
	case pgtype.Text:
		if !v.Valid {
			return nil
		}
		return v.String
	case pgtype.Timestamp:
		if !v.Valid {
			return nil
		}
		return v.Time
	case pgtype.Timestamptz:
		if !v.Valid {
			return nil
		}
		return v.Time
	case pgtype.Date:
		if !v.Valid {
			return nil
		}
		return v.Time
	case *big.Int:
		if v == nil {
			return nil
		}
		if v.IsInt64() {
			return v.Int64()
		}
		f, _ := new(big.Float).SetInt(v).Float64()
		return f
	case floater:
		return v.Float64()
	default:
		return value
	}
}

// normalizeRow maps scanned values onto the table's columns.
func normalizeRow(table domain.TableDef, values []any) (domain.Row, error) {
	if len(values) != len(table.Columns) {
		return nil, fmt.Errorf("table %s: expected %d values, got %d", table.Name, len(table.Columns), len(values))
	}
	row := make(domain.Row, len(table.Columns))
	for i, col := range table.Columns {
		normalized, err := NormalizeValue(col.Type, values[i])
		if err != nil {
			return nil, fmt.Errorf("table %s column %s: %w", table.Name, col.Name, err)
		}
		row[col.Name] = normalized
	}
	return row, nil
}
