package template

import (
	"encoding/json"
	"fmt"
	"strings"
)

// filterFunc implements one entry of the fixed filter set. The set is
// closed and enumerated; no plugin mechanism.
type filterFunc func(in interface{}, args []interface{}) (interface{}, error)

var filters = map[string]filterFunc{
	"default":  filterDefault,
	"upper":    filterUpper,
	"lower":    filterLower,
	"trim":     filterTrim,
	"length":   filterLength,
	"join":     filterJoin,
	"tojson":   filterToJSON,
	"truncate": filterTruncate,
	"string":   filterString,
}

func filterDefault(in interface{}, args []interface{}) (interface{}, error) {
	if in == nil || in == "" {
		if len(args) > 0 {
			return args[0], nil
		}
		return "", nil
	}
	return in, nil
}

func filterUpper(in interface{}, _ []interface{}) (interface{}, error) {
	s, err := asString(in)
	if err != nil {
		return nil, fmt.Errorf("upper: %w", err)
	}
	return strings.ToUpper(s), nil
}

func filterLower(in interface{}, _ []interface{}) (interface{}, error) {
	s, err := asString(in)
	if err != nil {
		return nil, fmt.Errorf("lower: %w", err)
	}
	return strings.ToLower(s), nil
}

func filterTrim(in interface{}, _ []interface{}) (interface{}, error) {
	s, err := asString(in)
	if err != nil {
		return nil, fmt.Errorf("trim: %w", err)
	}
	return strings.TrimSpace(s), nil
}

func filterLength(in interface{}, _ []interface{}) (interface{}, error) {
	n, ok := ctyLength(toCty(in))
	if !ok {
		return nil, fmt.Errorf("length: unsupported value type")
	}
	return float64(n), nil
}

func filterJoin(in interface{}, args []interface{}) (interface{}, error) {
	sep := ","
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			sep = s
		}
	}
	list, ok := in.([]interface{})
	if !ok {
		return nil, fmt.Errorf("join: expected a list")
	}
	parts := make([]string, len(list))
	for i, item := range list {
		s, err := asString(item)
		if err != nil {
			return nil, fmt.Errorf("join: %w", err)
		}
		parts[i] = s
	}
	return strings.Join(parts, sep), nil
}

func filterToJSON(in interface{}, _ []interface{}) (interface{}, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("tojson: %w", err)
	}
	return string(b), nil
}

func filterTruncate(in interface{}, args []interface{}) (interface{}, error) {
	s, err := asString(in)
	if err != nil {
		return nil, fmt.Errorf("truncate: %w", err)
	}
	length := 255
	if len(args) > 0 {
		if f, ok := toFloat(args[0]); ok {
			length = int(f)
		}
	}
	if len(s) <= length {
		return s, nil
	}
	if length < 3 {
		return s[:length], nil
	}
	return s[:length-3] + "...", nil
}

func filterString(in interface{}, _ []interface{}) (interface{}, error) {
	return fmt.Sprintf("%v", in), nil
}

func asString(v interface{}) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("expected a string, got %T", v)
	}
}
