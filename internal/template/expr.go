package template

import (
	"fmt"

	"github.com/flowforge/flowforge/internal/ferrors"
)

// expr is the evaluable expression AST. Expressions never perform I/O
// and, except for the timestamp global (which reads the wall clock at
// each lookup), evaluating the same expr against the same evalEnv
// produces the same value.
type expr interface {
	eval(env *evalEnv) (interface{}, error)
}

type litExpr struct{ val interface{} }

func (e *litExpr) eval(*evalEnv) (interface{}, error) { return e.val, nil }

// pathExpr resolves a dotted/indexed identifier chain, e.g.
// steps.a.result.result or args.name.
type pathExpr struct {
	root  string
	parts []pathPart
}

type pathPart struct {
	key   string // set when this part is a literal .field
	index expr   // set when this part is a [expr] index
}

func (e *pathExpr) eval(env *evalEnv) (interface{}, error) {
	val, found := env.resolveRoot(e.root)
	if !found {
		return nil, env.undefinedErr(e.root)
	}
	cur := val
	full := e.root
	for _, p := range e.parts {
		if p.index != nil {
			idx, err := p.index.eval(env)
			if err != nil {
				return nil, err
			}
			v, ok := indexInto(cur, idx)
			if !ok {
				return nil, env.undefinedErr(fmt.Sprintf("%s[%v]", full, idx))
			}
			cur = v
			full = fmt.Sprintf("%s[%v]", full, idx)
		} else {
			v, ok := fieldOf(cur, p.key)
			if !ok {
				return nil, env.undefinedErr(full + "." + p.key)
			}
			cur = v
			full = full + "." + p.key
		}
	}
	return cur, nil
}

func indexInto(v interface{}, idx interface{}) (interface{}, bool) {
	switch container := v.(type) {
	case []interface{}:
		i, ok := asInt(idx)
		if !ok || i < 0 || i >= len(container) {
			return nil, false
		}
		return container[i], true
	case map[string]interface{}:
		k, ok := idx.(string)
		if !ok {
			return nil, false
		}
		v, ok := container[k]
		return v, ok
	default:
		return nil, false
	}
}

func fieldOf(v interface{}, key string) (interface{}, bool) {
	switch container := v.(type) {
	case map[string]interface{}:
		val, ok := container[key]
		return val, ok
	default:
		return nil, false
	}
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// filterExpr applies a named filter with arguments to an input expr.
type filterExpr struct {
	input expr
	name  string
	args  []expr
}

func (e *filterExpr) eval(env *evalEnv) (interface{}, error) {
	in, err := e.input.eval(env)
	if err != nil {
		// default also covers an undefined input, as in Jinja.
		if _, undefined := err.(*ferrors.TemplateError); !undefined || e.name != "default" {
			return nil, err
		}
		in = nil
	}
	fn, ok := filters[e.name]
	if !ok {
		return nil, fmt.Errorf("unknown filter %q", e.name)
	}
	args := make([]interface{}, 0, len(e.args))
	for _, a := range e.args {
		v, err := a.eval(env)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return fn(in, args)
}

type binExpr struct {
	op          tokenKind
	left, right expr
}

func (e *binExpr) eval(env *evalEnv) (interface{}, error) {
	switch e.op {
	case tokAnd:
		l, err := e.left.eval(env)
		if err != nil {
			return nil, err
		}
		if !truthy(l) {
			return false, nil
		}
		r, err := e.right.eval(env)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	case tokOr:
		l, err := e.left.eval(env)
		if err != nil {
			return nil, err
		}
		if truthy(l) {
			return true, nil
		}
		r, err := e.right.eval(env)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	}
	l, err := e.left.eval(env)
	if err != nil {
		return nil, err
	}
	r, err := e.right.eval(env)
	if err != nil {
		return nil, err
	}
	switch e.op {
	case tokEq:
		return valuesEqual(l, r), nil
	case tokNeq:
		return !valuesEqual(l, r), nil
	case tokLt, tokLte, tokGt, tokGte:
		return compareNumbers(e.op, l, r)
	default:
		return nil, fmt.Errorf("unsupported operator")
	}
}

type notExpr struct{ inner expr }

func (e *notExpr) eval(env *evalEnv) (interface{}, error) {
	v, err := e.inner.eval(env)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	case []interface{}:
		return len(val) > 0
	case map[string]interface{}:
		return len(val) > 0
	default:
		return true
	}
}

func valuesEqual(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func compareNumbers(op tokenKind, a, b interface{}) (interface{}, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return nil, fmt.Errorf("cannot compare non-numeric values %v and %v", a, b)
	}
	switch op {
	case tokLt:
		return af < bf, nil
	case tokLte:
		return af <= bf, nil
	case tokGt:
		return af > bf, nil
	case tokGte:
		return af >= bf, nil
	}
	return nil, fmt.Errorf("unsupported comparison")
}
