package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrKeyIndexMissing  = errors.New("key index is required")
	ErrKeyIndexInvalid  = errors.New("key index must be an integer")
	ErrKeyIndexNegative = errors.New("key index must not be negative")
)

// NormalizeKeyIndex coerces the representations a key index arrives in
// (Go integers, integral floats, json.Number, decimal strings) to an int.
func NormalizeKeyIndex(v any) (int, error) {
	var n int64
	switch x := v.(type) {
	case nil:
		return 0, ErrKeyIndexMissing
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint:
		if uint64(x) > math.MaxInt32 {
			return 0, fmt.Errorf("%w: %d out of range", ErrKeyIndexInvalid, x)
		}
		n = int64(x)
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint64:
		if x > math.MaxInt32 {
			return 0, fmt.Errorf("%w: %d out of range", ErrKeyIndexInvalid, x)
		}
		n = int64(x)
	case float32:
		return fromFloat(float64(x))
	case float64:
		return fromFloat(x)
	case json.Number:
		return fromString(string(x))
	case string:
		return fromString(x)
	case []byte:
		return fromString(string(x))
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrKeyIndexInvalid, v)
	}
	return fromInt64(n)
}

func fromInt64(n int64) (int, error) {
	if n < 0 {
		return 0, ErrKeyIndexNegative
	}
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d out of range", ErrKeyIndexInvalid, n)
	}
	return int(n), nil
}

func fromFloat(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %v", ErrKeyIndexInvalid, f)
	}
	if f < 0 {
		return 0, ErrKeyIndexNegative
	}
	if f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %v out of range", ErrKeyIndexInvalid, f)
	}
	return int(f), nil
}

func fromString(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrKeyIndexMissing
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromInt64(n)
	}
	// JSON numbers such as "2.0" still name an integral key.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrKeyIndexInvalid, s)
	}
	return fromFloat(f)
}
