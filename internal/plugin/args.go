package plugin

import (
	"fmt"
	"math"
)

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing %q: %w", key, ErrInvalidArgument)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%q must be a string, got %T: %w", key, v, ErrInvalidArgument)
	}
	return s, nil
}

func optionalString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// intArg accepts the number types a JSON decoder produces.
func intArg(args map[string]any, key string) (int, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing %q: %w", key, ErrInvalidArgument)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(math.Round(n)), nil
	default:
		return 0, fmt.Errorf("%q must be a number, got %T: %w", key, v, ErrInvalidArgument)
	}
}

func optionalInt(args map[string]any, key string, def int) int {
	if _, ok := args[key]; !ok {
		return def
	}
	n, err := intArg(args, key)
	if err != nil {
		return def
	}
	return n
}
