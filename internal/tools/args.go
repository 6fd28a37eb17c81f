package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

// intArg reads an optional integer. Models send numbers as float64 after JSON
// decoding and occasionally as strings.
func intArg(args map[string]any, key string) (*int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	var n int
	switch x := v.(type) {
	case int:
		n = x
	case int32:
		n = int(x)
	case int64:
		n = int(x)
	case float32:
		return floatArg(key, float64(x))
	case float64:
		return floatArg(key, x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer, got %q", key, x.String())
		}
		n = int(i)
	case string:
		if strings.TrimSpace(x) == "" {
			return nil, nil
		}
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer, got %q", key, x)
		}
		n = i
	default:
		return nil, fmt.Errorf("%s must be an integer, got %T", key, v)
	}
	return &n, nil
}

func floatArg(key string, f float64) (*int, error) {
	if f != math.Trunc(f) {
		return nil, fmt.Errorf("%s must be an integer, got %v", key, f)
	}
	n := int(f)
	return &n, nil
}
