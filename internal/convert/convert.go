// Package convert coerces loosely typed values, such as scheduler job config
// decoded from YAML or environment variables, into concrete types.
package convert

import (
	"strconv"
	"strings"
)

// ToInt converts integer, float and numeric string values to int.
func ToInt(v any, fallback int) int {
	switch val := v.(type) {
	case int:
		return val
	case int32:
		return int(val)
	case int64:
		return int(val)
	case uint:
		return int(val)
	case uint64:
		return int(val)
	case float32:
		return int(val)
	case float64:
		return int(val)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n
		}
	}
	return fallback
}

// ToBool converts bools, boolean strings ("true", "0", "F", ...) and numbers
// (non-zero is true) to bool.
func ToBool(v any, fallback bool) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b
		}
		return fallback
	case nil:
		return fallback
	}
	const sentinel = -1 << 31
	if n := ToInt(v, sentinel); n != sentinel {
		return n != 0
	}
	return fallback
}

// LookupBool returns ToBool of cfg[key], or fallback when the key is missing.
func LookupBool(cfg map[string]any, key string, fallback bool) bool {
	if cfg == nil {
		return fallback
	}
	return ToBool(cfg[key], fallback)
}
