package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/flowforge/flowforge/internal/logging"
	"github.com/flowforge/flowforge/internal/parser"
	"github.com/flowforge/flowforge/internal/statestore"
	"github.com/flowforge/flowforge/internal/task"
	"github.com/flowforge/flowforge/internal/tasks"
)

func newTestEngine(t *testing.T, wf *parser.Workflow, registry *task.Registry) (*Engine, statestore.Backend) {
	t.Helper()
	if registry == nil {
		registry = task.NewRegistry()
		tasks.Register(registry)
	}
	backend := statestore.NewLocal(t.TempDir())
	logger := logging.NewDefault("test")
	logger.SetLevel(logging.ERROR)
	return New(wf, registry, backend, logger, t.TempDir()), backend
}

func TestExecuteRunsStepsInOrderAndCompletes(t *testing.T) {
	wf := &parser.Workflow{
		Name: "linear",
		Steps: []parser.Step{
			{Name: "first", Task: "echo", Inputs: map[string]interface{}{"msg": "one"}},
			{Name: "second", Task: "echo", Inputs: map[string]interface{}{"msg": "{{ steps.first.result.result }}-two"}},
		},
	}
	e, _ := newTestEngine(t, wf, nil)
	state, err := e.Execute(RunOptions{})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if state.Status != statestore.StatusCompleted {
		t.Fatalf("Status = %v", state.Status)
	}
	if state.StepResults["second"].Result["result"] != "one-two" {
		t.Errorf("second result = %+v", state.StepResults["second"].Result)
	}
}

func TestExecuteMissingRequiredParamFails(t *testing.T) {
	wf := &parser.Workflow{
		Name:   "needs-param",
		Params: map[string]parser.ParamSpec{"env": {Required: true}},
		Steps:  []parser.Step{{Name: "a", Task: "echo", Inputs: map[string]interface{}{"msg": "x"}}},
	}
	e, _ := newTestEngine(t, wf, nil)
	if _, err := e.Execute(RunOptions{}); err == nil {
		t.Fatal("expected an error for a missing required param")
	}
}

func TestExecuteSkipsStepWhenConditionFalse(t *testing.T) {
	wf := &parser.Workflow{
		Name: "conditional",
		Steps: []parser.Step{
			{Name: "maybe", Task: "echo", Condition: "{{ args.run }}", Inputs: map[string]interface{}{"msg": "ran"}},
		},
		Params: map[string]parser.ParamSpec{"run": {Default: false}},
	}
	e, _ := newTestEngine(t, wf, nil)
	state, err := e.Execute(RunOptions{})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if state.StepResults["maybe"].Status != "skipped" {
		t.Errorf("status = %v, want skipped", state.StepResults["maybe"].Status)
	}
}

func TestExecuteOnErrorContinueAdvancesPastFailure(t *testing.T) {
	wf := &parser.Workflow{
		Name: "continue-on-error",
		Steps: []parser.Step{
			{Name: "bad", Task: "shell", OnError: &parser.ErrorPolicy{Action: "continue"},
				Inputs: map[string]interface{}{"command": "exit 1"}},
			{Name: "after", Task: "echo", Inputs: map[string]interface{}{"msg": "still ran"}},
		},
	}
	// shell reports non-zero exit via success=false, not a Go error, so
	// register a handler that actually fails to exercise on_error here.
	registry := task.NewRegistry()
	tasks.Register(registry)
	registry.MustRegister("fail_always", task.HandlerFunc(func(ctx context.Context, cfg *task.Config) (interface{}, error) {
		return nil, errors.New("boom")
	}))
	wf.Steps[0].Task = "fail_always"

	e, _ := newTestEngine(t, wf, registry)
	state, err := e.Execute(RunOptions{})
	if err != nil {
		t.Fatalf("Execute should not fail the run when on_error=continue: %v", err)
	}
	if state.StepResults["bad"].Status != "failed" {
		t.Errorf("bad status = %v", state.StepResults["bad"].Status)
	}
	if state.StepResults["after"].Status != "completed" {
		t.Errorf("after status = %v", state.StepResults["after"].Status)
	}
}

func TestExecuteOnErrorRetryEventuallySucceeds(t *testing.T) {
	attempts := 0
	registry := task.NewRegistry()
	registry.MustRegister("flaky", task.HandlerFunc(func(ctx context.Context, cfg *task.Config) (interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("not yet")
		}
		return "ok", nil
	}))

	wf := &parser.Workflow{
		Name: "retry-flow",
		Steps: []parser.Step{
			{Name: "flaky", Task: "flaky", OnError: &parser.ErrorPolicy{Action: "retry", Retry: 5}},
		},
	}
	e, _ := newTestEngine(t, wf, registry)
	state, err := e.Execute(RunOptions{})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if state.StepResults["flaky"].Status != "completed" {
		t.Errorf("status = %v", state.StepResults["flaky"].Status)
	}
}

func TestExecuteOnErrorRetryExhaustedFails(t *testing.T) {
	registry := task.NewRegistry()
	registry.MustRegister("always_fails", task.HandlerFunc(func(ctx context.Context, cfg *task.Config) (interface{}, error) {
		return nil, errors.New("permanent")
	}))
	wf := &parser.Workflow{
		Name: "retry-exhausted",
		Steps: []parser.Step{
			{Name: "a", Task: "always_fails", OnError: &parser.ErrorPolicy{Action: "retry", Retry: 1}},
		},
	}
	e, _ := newTestEngine(t, wf, registry)
	state, err := e.Execute(RunOptions{})
	if err == nil {
		t.Fatal("expected the run to fail once retries are exhausted")
	}
	if state.Status != statestore.StatusFailed {
		t.Errorf("Status = %v", state.Status)
	}
}

func TestExecuteOnErrorNextJumpsToTargetStep(t *testing.T) {
	registry := task.NewRegistry()
	tasks.Register(registry)
	registry.MustRegister("always_fails", task.HandlerFunc(func(ctx context.Context, cfg *task.Config) (interface{}, error) {
		return nil, errors.New("boom")
	}))
	wf := &parser.Workflow{
		Name: "jump-flow",
		Steps: []parser.Step{
			{Name: "a", Task: "always_fails", OnError: &parser.ErrorPolicy{Action: "next", Next: "cleanup"}},
			{Name: "skipped", Task: "echo", Inputs: map[string]interface{}{"msg": "should not run"}},
			{Name: "cleanup", Task: "echo", Inputs: map[string]interface{}{"msg": "cleaned"}},
		},
	}
	e, _ := newTestEngine(t, wf, registry)
	state, err := e.Execute(RunOptions{})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if _, ran := state.StepResults["skipped"]; ran {
		t.Error("expected the skipped step to never be dispatched")
	}
	if state.StepResults["cleanup"].Status != "completed" {
		t.Errorf("cleanup status = %v", state.StepResults["cleanup"].Status)
	}
}

func TestExecuteUsesNamedFlow(t *testing.T) {
	wf := &parser.Workflow{
		Name: "flows",
		Steps: []parser.Step{
			{Name: "a", Task: "echo", Inputs: map[string]interface{}{"msg": "a"}},
			{Name: "b", Task: "echo", Inputs: map[string]interface{}{"msg": "b"}},
		},
		Flows: &parser.FlowsBlock{
			Definitions: map[string][]string{"only_b": {"b"}},
		},
	}
	e, _ := newTestEngine(t, wf, nil)
	state, err := e.Execute(RunOptions{Flow: "only_b"})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if _, ran := state.StepResults["a"]; ran {
		t.Error("expected step a to be excluded from the only_b flow")
	}
	if state.StepResults["b"].Status != "completed" {
		t.Errorf("b status = %v", state.StepResults["b"].Status)
	}
}

func TestExecuteBatchStepFansOutOverItems(t *testing.T) {
	wf := &parser.Workflow{
		Name: "batch-flow",
		Steps: []parser.Step{
			{
				Name: "fan_out",
				Task: "batch",
				Inputs: map[string]interface{}{
					"items": []interface{}{"x", "y", "z"},
					"task": map[string]interface{}{
						"task":   "echo",
						"inputs": map[string]interface{}{"msg": "{{ batch.item }}"},
					},
					"max_workers": 2,
				},
			},
		},
	}
	e, _ := newTestEngine(t, wf, nil)
	state, err := e.Execute(RunOptions{})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	result := state.StepResults["fan_out"].Result
	stats := result["stats"].(map[string]interface{})
	if stats["total"] != 3 || stats["processed"] != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestExecuteBatchStepResumesWithoutRedispatchingCompletedIndices(t *testing.T) {
	dispatched := map[string]int{}
	shouldFailOnC := true
	registry := task.NewRegistry()
	tasks.Register(registry)
	registry.MustRegister("flaky_item", task.HandlerFunc(func(ctx context.Context, cfg *task.Config) (interface{}, error) {
		inputs, _ := cfg.Step["inputs"].(map[string]interface{})
		msg, _ := inputs["msg"].(string)
		dispatched[msg]++
		if msg == "c" && shouldFailOnC {
			return nil, errors.New("c always fails the first time")
		}
		return msg, nil
	}))

	wf := &parser.Workflow{
		Name: "batch-resume",
		Steps: []parser.Step{
			{
				Name: "fan_out",
				Task: "batch",
				Inputs: map[string]interface{}{
					"items": []interface{}{"a", "b", "c", "d"},
					"task": map[string]interface{}{
						"task":   "flaky_item",
						"inputs": map[string]interface{}{"msg": "{{ batch.item }}"},
					},
					"chunk_size":        2,
					"max_workers":       1,
					"continue_on_error": false,
				},
			},
		},
	}
	e, _ := newTestEngine(t, wf, registry)

	if _, err := e.Execute(RunOptions{}); err == nil {
		t.Fatal("expected the first run to fail on item c")
	}
	if dispatched["a"] != 1 || dispatched["b"] != 1 {
		t.Errorf("expected a and b dispatched exactly once in the first run, got %+v", dispatched)
	}

	shouldFailOnC = false
	state, err := e.Execute(RunOptions{})
	if err != nil {
		t.Fatalf("expected the resumed run to succeed: %v", err)
	}
	if dispatched["a"] != 1 || dispatched["b"] != 1 {
		t.Errorf("expected a and b to not be re-dispatched on resume, got %+v", dispatched)
	}
	// c was dispatched once in the failed first run and once more on
	// resume; d was never reached in the first run.
	if dispatched["c"] != 2 || dispatched["d"] != 1 {
		t.Errorf("expected c and d dispatched once on resume, got %+v", dispatched)
	}
	result := state.StepResults["fan_out"].Result
	stats := result["stats"].(map[string]interface{})
	if stats["total"] != 4 || stats["processed"] != 4 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestExecuteResumesFromPriorFailedRun(t *testing.T) {
	registry := task.NewRegistry()
	tasks.Register(registry)
	shouldFail := true
	registry.MustRegister("conditional_fail", task.HandlerFunc(func(ctx context.Context, cfg *task.Config) (interface{}, error) {
		if shouldFail {
			return nil, errors.New("first run fails")
		}
		return "recovered", nil
	}))
	wf := &parser.Workflow{
		Name: "resumable",
		Steps: []parser.Step{
			{Name: "setup", Task: "echo", Inputs: map[string]interface{}{"msg": "setup done"}},
			{Name: "risky", Task: "conditional_fail"},
		},
	}
	e, _ := newTestEngine(t, wf, registry)

	_, err := e.Execute(RunOptions{})
	if err == nil {
		t.Fatal("expected the first run to fail")
	}

	shouldFail = false
	state, err := e.Execute(RunOptions{})
	if err != nil {
		t.Fatalf("expected the resumed run to succeed: %v", err)
	}
	if state.Status != statestore.StatusCompleted {
		t.Errorf("Status = %v", state.Status)
	}
	if state.RunNumber != 1 {
		t.Errorf("expected the resume to reuse run 1, got %d", state.RunNumber)
	}
}
