package domain

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// ToFloat converts any numeric value to float64.
func ToFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// ToInt64 converts integral values to int64; floats convert only when whole.
func ToInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case uint:
		return int64(v), true
	case float64:
		if math.Mod(v, 1) == 0 {
			return int64(v), true
		}
	case float32:
		if math.Mod(float64(v), 1) == 0 {
			return int64(v), true
		}
	}
	return 0, false
}

// KeyString renders a value for grouping and join indexes; numerically equal
// integers and whole floats share a key.
func KeyString(value any) string {
	switch v := value.(type) {
	case nil:
		return "\x00"
	case string:
		return "s:" + v
	case bool:
		return "b:" + strconv.FormatBool(v)
	case time.Time:
		return "t:" + v.UTC().Format(time.RFC3339Nano)
	}
	if i, ok := ToInt64(value); ok {
		return "n:" + strconv.FormatInt(i, 10)
	}
	if f, ok := ToFloat(value); ok {
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	}
	return fmt.Sprintf("v:%v", value)
}
