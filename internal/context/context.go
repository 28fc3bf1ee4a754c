// Package context implements the engine's namespaced, copy-on-write
// execution context: the read-only view handed to templates and task
// handlers, shared safely across concurrent batch workers.
package context

import (
	"fmt"
	"sort"
	"time"
)

// StepStatus is the lifecycle state of a step's recorded result.
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusRunning   StepStatus = "running"
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
	StatusSkipped   StepStatus = "skipped"
)

// StepResult is the record stored under steps.<name>.
type StepResult struct {
	Status       StepStatus             `json:"status"`
	Result       map[string]interface{} `json:"result"`
	Error        string                 `json:"error,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Retries      int                    `json:"retries"`
	Timestamp    time.Time              `json:"timestamp"`
	Duration     float64                `json:"duration"`
}

// Batch is the shadowed namespace visible inside a batch sub-task.
type Batch struct {
	Item  interface{}
	Index int
	Total int
	Name  string
}

// Globals holds the fixed, workflow-run-wide values.
type Globals struct {
	WorkflowName string
	Workspace    string
	RunNumber    int
	WorkflowFile string
}

// Context is an immutable snapshot of the four namespaces a template
// or task handler may read: args, env, steps, and globals, plus an
// optional batch shadow namespace. Every mutator returns a new value;
// nothing here is ever mutated in place, which is what makes a single
// Context value safe to hand, unsynchronized, to concurrent batch
// workers. Only the engine's main step loop ever produces a new one.
type Context struct {
	Args    map[string]interface{}
	Env     map[string]string
	Steps   map[string]StepResult
	Globals Globals
	Batch   *Batch
	Error   *ErrorInfo
}

// ErrorInfo is the namespace exposed while resolving an on_error.message
// template : error.step, error.message, error.retry_count,
// error.task_type, error.original.
type ErrorInfo struct {
	Step       string
	Message    string
	RetryCount int
	TaskType   string
	Original   string
}

// New builds the initial context for a run.
func New(args map[string]interface{}, env map[string]string, globals Globals) *Context {
	return &Context{
		Args:    args,
		Env:     env,
		Steps:   map[string]StepResult{},
		Globals: globals,
	}
}

// clone returns a shallow copy of c with independent top-level maps,
// so callers can add one entry without the parent observing it.
func (c *Context) clone() *Context {
	steps := make(map[string]StepResult, len(c.Steps))
	for k, v := range c.Steps {
		steps[k] = v
	}
	return &Context{
		Args:    c.Args,
		Env:     c.Env,
		Steps:   steps,
		Globals: c.Globals,
		Batch:   c.Batch,
		Error:   c.Error,
	}
}

// WithStepResult returns a new Context with steps.<name> set to result.
// The receiver is left untouched.
func (c *Context) WithStepResult(name string, result StepResult) *Context {
	n := c.clone()
	n.Steps[name] = result
	return n
}

// WithBatch returns a new Context shadowing the batch namespace for one
// worker's invocation of the batch sub-task. Each worker calls this on
// the same shared parent Context, so the results never interact.
func (c *Context) WithBatch(item interface{}, index, total int, name string) *Context {
	n := c.clone()
	n.Batch = &Batch{Item: item, Index: index, Total: total, Name: name}
	return n
}

// WithError returns a new Context exposing the error namespace for
// on_error.message resolution.
func (c *Context) WithError(info ErrorInfo) *Context {
	n := c.clone()
	n.Error = &info
	return n
}

// Get resolves namespace.name. An unknown namespace or key is reported
// via the boolean return so callers can build an enriched TemplateError.
func (c *Context) Get(namespace, name string) (interface{}, bool) {
	switch namespace {
	case "args":
		v, ok := c.Args[name]
		return v, ok
	case "env":
		v, ok := c.Env[name]
		return v, ok
	case "steps":
		v, ok := c.Steps[name]
		return v, ok
	case "batch":
		if c.Batch == nil {
			return nil, false
		}
		switch name {
		case "item":
			return c.Batch.Item, true
		case "index":
			return c.Batch.Index, true
		case "total":
			return c.Batch.Total, true
		case "name":
			return c.Batch.Name, true
		}
		return nil, false
	case "error":
		if c.Error == nil {
			return nil, false
		}
		switch name {
		case "step":
			return c.Error.Step, true
		case "message":
			return c.Error.Message, true
		case "retry_count":
			return c.Error.RetryCount, true
		case "task_type":
			return c.Error.TaskType, true
		case "original":
			return c.Error.Original, true
		}
		return nil, false
	default:
		return nil, false
	}
}

// GetGlobal resolves one of the top-level globals (workflow_name,
// workspace, run_number, timestamp, workflow_file).
func (c *Context) GetGlobal(name string) (interface{}, bool) {
	switch name {
	case "workflow_name":
		return c.Globals.WorkflowName, true
	case "workspace":
		return c.Globals.Workspace, true
	case "run_number":
		return c.Globals.RunNumber, true
	case "workflow_file":
		return c.Globals.WorkflowFile, true
	case "timestamp":
		return time.Now().Format(time.RFC3339), true
	default:
		return nil, false
	}
}

// StepResultToMap renders a StepResult as the map templates walk when
// addressing steps.<name>.status / .result.* / .error_message etc.
func StepResultToMap(sr StepResult) map[string]interface{} {
	m := map[string]interface{}{
		"status":   string(sr.Status),
		"retries":  sr.Retries,
		"duration": sr.Duration,
	}
	if sr.Result != nil {
		result := make(map[string]interface{}, len(sr.Result))
		for k, v := range sr.Result {
			result[k] = v
		}
		m["result"] = result
	} else {
		m["result"] = nil
	}
	if sr.Error != "" {
		m["error"] = sr.Error
	}
	if sr.ErrorMessage != "" {
		m["error_message"] = sr.ErrorMessage
	}
	return m
}

// NamespaceMap materializes an entire namespace as a map, used when a
// template references the namespace root directly (e.g. iterating
// `args` as a whole, or as the starting point of a path lookup).
func (c *Context) NamespaceMap(namespace string) map[string]interface{} {
	switch namespace {
	case "args":
		return c.Args
	case "env":
		out := make(map[string]interface{}, len(c.Env))
		for k, v := range c.Env {
			out[k] = v
		}
		return out
	case "steps":
		out := make(map[string]interface{}, len(c.Steps))
		for k, v := range c.Steps {
			out[k] = StepResultToMap(v)
		}
		return out
	case "batch":
		if c.Batch == nil {
			return map[string]interface{}{}
		}
		return map[string]interface{}{
			"item": c.Batch.Item, "index": c.Batch.Index,
			"total": c.Batch.Total, "name": c.Batch.Name,
		}
	case "error":
		if c.Error == nil {
			return map[string]interface{}{}
		}
		return map[string]interface{}{
			"step": c.Error.Step, "message": c.Error.Message,
			"retry_count": c.Error.RetryCount, "task_type": c.Error.TaskType,
			"original": c.Error.Original,
		}
	default:
		return map[string]interface{}{}
	}
}

// Available returns the keys reachable in each top-level namespace, for
// enriched TemplateError messages.
func (c *Context) Available() map[string][]string {
	out := map[string][]string{
		"args":  keysOf(c.Args),
		"env":   keysOfString(c.Env),
		"steps": keysOfStepResults(c.Steps),
	}
	globals := []string{"workflow_name", "workspace", "run_number", "timestamp", "workflow_file"}
	sort.Strings(globals)
	out["globals"] = globals
	if c.Batch != nil {
		out["batch"] = []string{"item", "index", "total", "name"}
	}
	if c.Error != nil {
		out["error"] = []string{"step", "message", "retry_count", "task_type", "original"}
	}
	return out
}

func keysOf(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func keysOfString(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func keysOfStepResults(m map[string]StepResult) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AvailableString renders Available() as a human-readable summary,
// used directly in TemplateError messages.
func (c *Context) AvailableString() string {
	avail := c.Available()
	s := ""
	names := make([]string, 0, len(avail))
	for ns := range avail {
		names = append(names, ns)
	}
	sort.Strings(names)
	for _, ns := range names {
		s += fmt.Sprintf("%s: [%s] ", ns, joinComma(avail[ns]))
	}
	return s
}

func joinComma(items []string) string {
	s := ""
	for i, it := range items {
		if i > 0 {
			s += ", "
		}
		s += it
	}
	return s
}
