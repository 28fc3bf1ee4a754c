package template

import (
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// toCty converts an arbitrary Go value produced by expression evaluation
// (string, float64, bool, nil, []interface{}, map[string]interface{})
// into a cty.Value, the same recursive switch-on-Go-type idiom the
// pkg/workflow/engine.go uses in convertInterfaceToCtyValue,
// adapted here to back the length filter with a typed value model
// instead of ad-hoc reflection (tojson uses encoding/json directly).
func toCty(v interface{}) cty.Value {
	switch val := v.(type) {
	case nil:
		return cty.NilVal
	case string:
		return cty.StringVal(val)
	case bool:
		return cty.BoolVal(val)
	case int:
		return cty.NumberFloatVal(float64(val))
	case int64:
		return cty.NumberFloatVal(float64(val))
	case float64:
		return cty.NumberFloatVal(val)
	case []interface{}:
		if len(val) == 0 {
			return cty.EmptyTupleVal
		}
		vals := make([]cty.Value, len(val))
		for i, item := range val {
			vals[i] = toCty(item)
		}
		return cty.TupleVal(vals)
	case map[string]interface{}:
		if len(val) == 0 {
			return cty.EmptyObjectVal
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		attrs := make(map[string]cty.Value, len(val))
		for _, k := range keys {
			attrs[k] = toCty(val[k])
		}
		return cty.ObjectVal(attrs)
	default:
		return cty.NilVal
	}
}

// ctyLength returns len(v) for a string, list/tuple, or object value,
// backing the "length" filter over any of those shapes.
func ctyLength(v cty.Value) (int, bool) {
	if v.IsNull() {
		return 0, false
	}
	t := v.Type()
	switch {
	case t == cty.String:
		return len(v.AsString()), true
	case t.IsTupleType(), t.IsListType(), t.IsSetType():
		return v.LengthInt(), true
	case t.IsObjectType(), t.IsMapType():
		return v.LengthInt(), true
	default:
		return 0, false
	}
}
