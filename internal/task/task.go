// Package task implements the task registry and TaskConfig contract: a
// process-wide-shaped but explicitly-constructed name→handler map, and
// the per-invocation object handed to every handler.
//
// Grounded on Corynth's pkg/plugin.Plugin/Manager shape, collapsed from
// its four-method Plugin interface (Metadata/Execute/Validate/Actions)
// to a single-method capability ("a tagged-union of built-in handler
// kinds plus a trait/interface for user-contributed ones is
// sufficient"), and constructed explicitly rather than held as
// package-level global state (passing the registry explicitly into the
// engine constructor for testability).
package task

import (
	"context"
	"fmt"

	fctx "github.com/flowforge/flowforge/internal/context"
	"github.com/flowforge/flowforge/internal/ferrors"
	"github.com/flowforge/flowforge/internal/template"
)

// Result is the normalized shape stored in a StepResult: always a
// JSON-serializable mapping.
type Result = map[string]interface{}

// Handler is the single-method capability every task type implements.
// It may return a mapping (stored as-is) or any other JSON-serializable
// value (wrapped by Normalize as {"result": value}).
type Handler interface {
	Execute(ctx context.Context, cfg *Config) (interface{}, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, cfg *Config) (interface{}, error)

func (f HandlerFunc) Execute(ctx context.Context, cfg *Config) (interface{}, error) {
	return f(ctx, cfg)
}

// Registry is a name→Handler map. Name collisions are rejected at
// registration time.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register adds a handler under name, failing on a collision.
func (r *Registry) Register(name string, h Handler) error {
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("task type %q is already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// MustRegister panics on a collision; used for building a registry's
// fixed built-in set at startup where a collision is a programming
// error, not a runtime condition.
func (r *Registry) MustRegister(name string, h Handler) {
	if err := r.Register(name, h); err != nil {
		panic(err)
	}
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered task-type names, for diagnostics.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		out = append(out, n)
	}
	return out
}

// Config is the TaskConfig object handed to every handler invocation.
type Config struct {
	Name      string
	Type      string
	Step      map[string]interface{}
	Workspace string
	ctx       *fctx.Context

	inputs     Result
	inputsDone bool
}

// NewConfig builds a Config for one step dispatch.
func NewConfig(name, taskType string, step map[string]interface{}, workspace string, ctx *fctx.Context) *Config {
	return &Config{Name: name, Type: taskType, Step: step, Workspace: workspace, ctx: ctx}
}

// ProcessInputs runs the template engine over the step's raw inputs,
// memoized per Config instance.
func (c *Config) ProcessInputs(rawInputs map[string]interface{}) (Result, error) {
	if c.inputsDone {
		return c.inputs, nil
	}
	rendered, err := template.RenderValue(map[string]interface{}(rawInputs), c.ctx)
	if err != nil {
		return nil, err
	}
	m, ok := rendered.(map[string]interface{})
	if !ok {
		return nil, &ferrors.TemplateError{Message: "step inputs did not resolve to a mapping"}
	}
	c.inputs = m
	c.inputsDone = true
	return c.inputs, nil
}

// GetVariable resolves a single namespaced variable (namespace defaults
// to "args" when empty).
func (c *Config) GetVariable(name, namespace string) (interface{}, error) {
	if namespace == "" {
		namespace = "args"
	}
	v, ok := c.ctx.Get(namespace, name)
	if !ok {
		return nil, &ferrors.TemplateError{
			Message:   fmt.Sprintf("undefined variable %s.%s", namespace, name),
			Available: c.ctx.Available(),
		}
	}
	return v, nil
}

// GetAvailableVariables exposes the context's enriched key listing.
func (c *Config) GetAvailableVariables() map[string][]string {
	return c.ctx.Available()
}

// Context returns the read-only context view, for handlers that need
// more than GetVariable (e.g. the batch processor dispatching through
// the registry itself).
func (c *Config) Context() *fctx.Context {
	return c.ctx
}

// Normalize implements its StepResult.result normalization: a
// mapping return is stored as-is; any other JSON-serializable value is
// wrapped as {"result": value}.
func Normalize(v interface{}, err error) (Result, error) {
	if err != nil {
		return nil, err
	}
	if m, ok := v.(map[string]interface{}); ok {
		return m, nil
	}
	return Result{"result": v}, nil
}
