// Package template implements the Jinja2-style template engine: {{ }}
// substitution, {% if/for/set %} control flow, and the fixed filter
// set, evaluated over the engine's namespaced Context.
//
// No Go library available to this project provides Jinja2-compatible
// templating (pongo2, expr-lang, sprig and cel-go do not appear
// anywhere in its dependency graph, direct or indirect), so this is
// hand-rolled in the spirit of Corynth's own text/template-based
// resolver, generalized to true block directives.
package template

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/flowforge/flowforge/internal/context"
	"github.com/flowforge/flowforge/internal/ferrors"
)

// node is one piece of a parsed template: literal text, a substitution,
// or a control-flow block.
type node interface {
	render(env *evalEnv, out *strings.Builder) error
}

type textNode struct{ text string }

func (n *textNode) render(_ *evalEnv, out *strings.Builder) error {
	out.WriteString(n.text)
	return nil
}

type subNode struct{ e expr }

func (n *subNode) render(env *evalEnv, out *strings.Builder) error {
	v, err := n.e.eval(env)
	if err != nil {
		return err
	}
	out.WriteString(stringify(v))
	return nil
}

type ifBranch struct {
	cond expr // nil for the final else branch
	body []node
}

type ifNode struct{ branches []ifBranch }

func (n *ifNode) render(env *evalEnv, out *strings.Builder) error {
	for _, b := range n.branches {
		if b.cond == nil {
			return renderNodes(b.body, env, out)
		}
		v, err := b.cond.eval(env)
		if err != nil {
			return err
		}
		if truthy(v) {
			return renderNodes(b.body, env, out)
		}
	}
	return nil
}

type forNode struct {
	varName string
	list    expr
	body    []node
}

func (n *forNode) render(env *evalEnv, out *strings.Builder) error {
	v, err := n.list.eval(env)
	if err != nil {
		return err
	}
	items, ok := v.([]interface{})
	if !ok {
		return fmt.Errorf("for loop over non-list value")
	}
	for _, item := range items {
		child := env.child()
		child.locals[n.varName] = item
		if err := renderNodes(n.body, child, out); err != nil {
			return err
		}
	}
	return nil
}

type setNode struct {
	name string
	e    expr
}

func (n *setNode) render(env *evalEnv, _ *strings.Builder) error {
	v, err := n.e.eval(env)
	if err != nil {
		return err
	}
	env.locals[n.name] = v
	return nil
}

func renderNodes(nodes []node, env *evalEnv, out *strings.Builder) error {
	for _, n := range nodes {
		if err := n.render(env, out); err != nil {
			return err
		}
	}
	return nil
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// evalEnv binds a Context plus the local variables introduced by
// {% set %} and {% for %} during one render.
type evalEnv struct {
	ctx    *context.Context
	locals map[string]interface{}
}

func newEvalEnv(ctx *context.Context) *evalEnv {
	return &evalEnv{ctx: ctx, locals: map[string]interface{}{}}
}

// child returns a new env sharing ctx but with an independent locals
// map seeded from the parent's, so a for-loop body's {% set %} does
// not leak into the next iteration's sibling scope... it leaks into
// the same iteration only, matching Jinja's loop-scoped set semantics
// closely enough for this engine's needs.
func (e *evalEnv) child() *evalEnv {
	locals := make(map[string]interface{}, len(e.locals))
	for k, v := range e.locals {
		locals[k] = v
	}
	return &evalEnv{ctx: e.ctx, locals: locals}
}

var namespaceNames = map[string]bool{
	"args": true, "env": true, "steps": true, "batch": true, "error": true,
}

var globalNames = map[string]bool{
	"workflow_name": true, "workspace": true, "run_number": true,
	"timestamp": true, "workflow_file": true,
}

// resolveRoot resolves the first identifier of a path expression
// against, in order: locals, namespaces (args/env/steps/batch/error),
// then globals.
func (e *evalEnv) resolveRoot(name string) (interface{}, bool) {
	if v, ok := e.locals[name]; ok {
		return v, true
	}
	if namespaceNames[name] {
		// A bare namespace reference with no sub-key is only valid for
		// maps like args/env as a whole; individual lookups go through
		// pathExpr's remaining parts, so here we materialize the full
		// namespace as a map for inspection.
		return e.ctx.NamespaceMap(name), true
	}
	if globalNames[name] {
		v, _ := e.ctx.GetGlobal(name)
		return v, true
	}
	return nil, false
}

// undefinedErr builds an enriched TemplateError: it
// enumerates the keys available in each namespace.
func (e *evalEnv) undefinedErr(name string) error {
	return &ferrors.TemplateError{
		Message:   fmt.Sprintf("undefined variable %q. Available: %s", name, e.ctx.AvailableString()),
		Available: e.ctx.Available(),
	}
}

// HasMarkers reports whether s contains a template marker, the exact
// short-circuit Corynth's resolveTemplate performs before invoking
// text/template. A string with no markers is returned unchanged
// without ever touching the parser.
func HasMarkers(s string) bool {
	return strings.Contains(s, "{{") || strings.Contains(s, "{%")
}

// Render resolves a single template string against ctx, producing its
// rendered text. If s has no template markers it is returned unchanged.
func Render(s string, ctx *context.Context) (string, error) {
	if !HasMarkers(s) {
		return s, nil
	}
	nodes, err := parseTemplate(s)
	if err != nil {
		return "", &ferrors.TemplateError{Message: fmt.Sprintf("parse error: %v", err), Err: err}
	}
	env := newEvalEnv(ctx)
	var out strings.Builder
	if err := renderNodes(nodes, env, &out); err != nil {
		if te, ok := err.(*ferrors.TemplateError); ok {
			return "", te
		}
		return "", &ferrors.TemplateError{Message: err.Error(), Available: ctx.Available(), Err: err}
	}
	return out.String(), nil
}

// RenderValue implements the structural process-value walk: strings
// containing a marker are rendered (and, if the whole string is a
// single {{ expr }} with nothing else around it, the expression's
// native type is preserved rather than stringified); other scalars
// pass through unchanged; maps and slices are recursed.
func RenderValue(v interface{}, ctx *context.Context) (interface{}, error) {
	switch val := v.(type) {
	case string:
		if !HasMarkers(val) {
			return val, nil
		}
		if native, ok, err := tryRenderSoleExpr(val, ctx); ok || err != nil {
			return native, err
		}
		return Render(val, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			rv, err := RenderValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			rv, err := RenderValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// tryRenderSoleExpr detects a string that is exactly one {{ expr }}
// substitution with no surrounding text, and evaluates it directly so
// its native type (number, bool, map, list) survives instead of being
// stringified, needed for inputs like `count: "{{ args.n }}"` to flow
// through as a number to handlers that expect one.
func tryRenderSoleExpr(s string, ctx *context.Context) (interface{}, bool, error) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{{") || !strings.HasSuffix(trimmed, "}}") {
		return nil, false, nil
	}
	inner := trimmed[2 : len(trimmed)-2]
	if strings.Contains(inner, "{{") || strings.Contains(inner, "}}") {
		return nil, false, nil
	}
	e, err := parseExprString(inner)
	if err != nil {
		return nil, false, nil
	}
	env := newEvalEnv(ctx)
	v, err := e.eval(env)
	if err != nil {
		if te, ok := err.(*ferrors.TemplateError); ok {
			return nil, true, te
		}
		return nil, true, &ferrors.TemplateError{Message: err.Error(), Available: ctx.Available(), Err: err}
	}
	return v, true, nil
}
