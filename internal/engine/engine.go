// Package engine implements the step-loop scheduler: argument
// composition, flow resolution, the single-threaded cooperative step
// loop, template resolution of inputs/condition, task dispatch, and
// the on_error state machine (fail/retry/continue/next).
//
// Grounded on pkg/workflow/engine.go (ExecutionState snapshot-per-step
// style, Execute/ExecuteFlow entrypoints) generalized from Corynth's
// flow/plugin/step shape to a task/inputs/on_error shape, with
// internal/context's copy-on-write Context standing in for a mutable
// ExecutionState.Variables map.
package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	fctx "github.com/flowforge/flowforge/internal/context"
	"github.com/flowforge/flowforge/internal/ferrors"
	"github.com/flowforge/flowforge/internal/logging"
	"github.com/flowforge/flowforge/internal/parser"
	"github.com/flowforge/flowforge/internal/statestore"
	"github.com/flowforge/flowforge/internal/task"
	"github.com/flowforge/flowforge/internal/template"
)

// maxJumps bounds on_error.next relocations per run.
const maxJumps = 1024

// Engine ties a parsed workflow to a task registry, a state backend and
// a logger, and runs its step loop.
type Engine struct {
	Workflow  *parser.Workflow
	Registry  *task.Registry
	State     statestore.Backend
	Logger    *logging.Logger
	Workspace string
}

// New builds an Engine.
func New(wf *parser.Workflow, registry *task.Registry, state statestore.Backend, logger *logging.Logger, workspace string) *Engine {
	if logger == nil {
		logger = logging.NewDefault("engine")
	}
	return &Engine{Workflow: wf, Registry: registry, State: state, Logger: logger, Workspace: workspace}
}

// RunOptions configures one Execute call.
type RunOptions struct {
	Flow string
	Args map[string]interface{}
	// RunNumber selects a specific run to resume; 0 resumes the latest
	// recorded run if it has not completed, and otherwise starts a fresh
	// run numbered one past it.
	RunNumber int
	MaxBatchWorkers int
	// OnStepComplete, if set, is called once a step's dispatch has been
	// recorded (completed, failed, or skipped), letting a caller (the
	// run command's progress bar) track progress through the flow
	// without polling state itself.
	OnStepComplete func(stepName string, status fctx.StepStatus)
}

// Execute runs the workflow's step loop to completion or failure,
// returning the final persisted state.
func (e *Engine) Execute(opts RunOptions) (*statestore.State, error) {
	args, err := e.composeArgs(opts.Args)
	if err != nil {
		return nil, err
	}
	env := e.composeEnv(args)

	flowName := opts.Flow
	stepNames, err := e.Workflow.ResolveFlow(flowName)
	if err != nil {
		return nil, &ferrors.WorkflowValidationError{Message: err.Error()}
	}
	if resolved := flowName; resolved == "" {
		if e.Workflow.Flows != nil {
			resolved = e.Workflow.Flows.Default
		}
		if resolved == "" {
			resolved = "all"
		}
		flowName = resolved
	}

	state, err := e.loadOrCreateState(opts.RunNumber, flowName, args)
	if err != nil {
		return nil, err
	}
	if state.Status == statestore.StatusFailed && state.Flow != flowName {
		return nil, &ferrors.WorkflowValidationError{
			Message: fmt.Sprintf("run %d previously failed under flow %q; resume must supply the same flow, got %q", state.RunNumber, state.Flow, flowName),
		}
	}
	if state.RunID == "" {
		state.RunID = newRunID()
	}
	e.Logger = e.Logger.Child(state.RunID)
	e.Logger.Info("starting run %d of workflow %q (flow=%q)", state.RunNumber, e.Workflow.Name, flowName)

	globals := fctx.Globals{
		WorkflowName: e.Workflow.Name,
		Workspace:    e.Workspace,
		RunNumber:    state.RunNumber,
		WorkflowFile: e.Workflow.SourcePath,
	}
	ctx := fctx.New(args, env, globals)
	for name, sr := range state.StepResults {
		ctx = ctx.WithStepResult(name, sr)
	}

	state.Status = statestore.StatusInProgress
	if err := e.State.Save(state); err != nil {
		return state, err
	}

	maxBatchWorkers := opts.MaxBatchWorkers
	if maxBatchWorkers <= 0 {
		maxBatchWorkers = 4
	}

	jumps := 0
	idx := 0
	for idx < len(stepNames) {
		name := stepNames[idx]
		step, ok := e.Workflow.StepByName(name)
		if !ok {
			return state, &ferrors.WorkflowValidationError{Message: fmt.Sprintf("flow %q references unknown step %q", flowName, name)}
		}

		if contains(state.CompletedSteps, name) {
			e.Logger.Debug("skipping already-completed step %q", name)
			idx++
			continue
		}

		skip, skipErr := e.shouldSkip(step, ctx)
		if skipErr != nil {
			return e.finishOnTemplateError(state, step, skipErr, ctx)
		}
		if skip {
			sr := fctx.StepResult{Status: fctx.StatusSkipped, Timestamp: time.Now()}
			state.StepResults[name] = sr
			ctx = ctx.WithStepResult(name, sr)
			e.Logger.Info("step %q skipped (condition false)", name)
			if err := e.State.Save(state); err != nil {
				return state, err
			}
			if opts.OnStepComplete != nil {
				opts.OnStepComplete(name, sr.Status)
			}
			idx++
			continue
		}

		result, execErr, duration := e.dispatchStep(state, step, ctx, maxBatchWorkers)
		if execErr == nil {
			normalized, nerr := task.Normalize(result, nil)
			if nerr != nil {
				execErr = nerr
			} else {
				sr := fctx.StepResult{
					Status:    fctx.StatusCompleted,
					Result:    normalized,
					Timestamp: time.Now(),
					Duration:  duration.Seconds(),
				}
				state.RecordCompleted(name, sr)
				ctx = ctx.WithStepResult(name, sr)
				if err := e.State.Save(state); err != nil {
					return state, err
				}
				if opts.OnStepComplete != nil {
					opts.OnStepComplete(name, sr.Status)
				}
				idx++
				continue
			}
		}

		// execErr != nil: consult the error policy.
		action, nextIdx, jumpedErr := e.applyErrorPolicy(state, step, ctx, execErr, stepNames, idx, &jumps)
		if jumpedErr != nil {
			return state, jumpedErr
		}
		switch action {
		case actionRetryLoop:
			// applyErrorPolicy already slept and left idx unchanged; loop
			// back and re-dispatch the same step.
			continue
		case actionContinue:
			ctx = ctx.WithStepResult(name, state.StepResults[name])
			if opts.OnStepComplete != nil {
				opts.OnStepComplete(name, fctx.StatusFailed)
			}
			idx++
			continue
		case actionJump:
			ctx = ctx.WithStepResult(name, state.StepResults[name])
			if opts.OnStepComplete != nil {
				opts.OnStepComplete(name, fctx.StatusFailed)
			}
			idx = nextIdx
			continue
		case actionFail:
			state.Status = statestore.StatusFailed
			_ = e.State.Save(state)
			if opts.OnStepComplete != nil {
				opts.OnStepComplete(name, fctx.StatusFailed)
			}
			return state, &ferrors.WorkflowError{StepName: name, Err: execErr}
		}
	}

	state.Status = statestore.StatusCompleted
	if err := e.State.Save(state); err != nil {
		return state, err
	}
	return state, nil
}

type errorAction int

const (
	actionFail errorAction = iota
	actionRetryLoop
	actionContinue
	actionJump
)

// applyErrorPolicy implements the on_error fail/retry/continue/next
// state machine for one failed step dispatch. On retry it sleeps
// in-line and returns actionRetryLoop so Execute's loop re-dispatches
// the same step without advancing idx.
func (e *Engine) applyErrorPolicy(state *statestore.State, step *parser.Step, ctx *fctx.Context, execErr error, stepNames []string, idx int, jumps *int) (errorAction, int, error) {
	name := step.Name
	taskErr := toTaskExecutionError(name, step.Task, execErr)

	policy := step.OnError
	action := "fail"
	if policy != nil && policy.Action != "" {
		action = policy.Action
	}

	retryState := state.RetryState[name]
	errMsg := e.resolveErrorMessage(step, ctx, taskErr, retryState.Attempt)

	sr := fctx.StepResult{
		Status:       fctx.StatusFailed,
		Error:        taskErr.OriginalErr.Error(),
		ErrorMessage: errMsg,
		Retries:      retryState.Attempt,
		Timestamp:    time.Now(),
	}

	switch action {
	case "retry":
		maxAttempts := 0
		if policy != nil {
			maxAttempts = policy.Retry
		}
		if retryState.Attempt < maxAttempts {
			state.RecordRetry(name)
			state.StepResults[name] = sr
			if err := e.State.Save(state); err != nil {
				return actionFail, 0, err
			}
			delay := errorPolicyDelay(policy)
			e.Logger.Warn("step %q failed (attempt %d/%d), retrying in %s", name, retryState.Attempt+1, maxAttempts, delay)
			time.Sleep(delay)
			return actionRetryLoop, idx, nil
		}
		if policy != nil && policy.Next != "" {
			return e.jumpTo(state, step, sr, policy.Next, stepNames, jumps)
		}
		state.RecordFailed(name, sr)
		_ = e.State.Save(state)
		return actionFail, 0, nil

	case "continue":
		state.RecordFailed(name, sr)
		if err := e.State.Save(state); err != nil {
			return actionFail, 0, err
		}
		e.Logger.Warn("step %q failed, continuing: %s", name, errMsg)
		return actionContinue, idx + 1, nil

	case "next":
		if policy == nil || policy.Next == "" {
			state.RecordFailed(name, sr)
			_ = e.State.Save(state)
			return actionFail, 0, nil
		}
		return e.jumpTo(state, step, sr, policy.Next, stepNames, jumps)

	default: // "fail"
		state.RecordFailed(name, sr)
		_ = e.State.Save(state)
		return actionFail, 0, nil
	}
}

func (e *Engine) jumpTo(state *statestore.State, step *parser.Step, sr fctx.StepResult, target string, stepNames []string, jumps *int) (errorAction, int, error) {
	*jumps++
	if *jumps > maxJumps {
		return actionFail, 0, &ferrors.WorkflowError{StepName: step.Name, Err: fmt.Errorf("exceeded maximum on_error jump count (%d)", maxJumps)}
	}
	state.RecordFailed(step.Name, sr)
	if err := e.State.Save(state); err != nil {
		return actionFail, 0, err
	}
	for i, n := range stepNames {
		if n == target {
			e.Logger.Warn("step %q failed, jumping to %q", step.Name, target)
			return actionJump, i, nil
		}
	}
	return actionFail, 0, &ferrors.WorkflowValidationError{Message: fmt.Sprintf("on_error.next references unknown step %q", target)}
}

func errorPolicyDelay(policy *parser.ErrorPolicy) time.Duration {
	if policy == nil || policy.Delay <= 0 {
		return 0
	}
	return time.Duration(policy.Delay * float64(time.Second))
}

func (e *Engine) resolveErrorMessage(step *parser.Step, ctx *fctx.Context, taskErr *ferrors.TaskExecutionError, retryCount int) string {
	policy := step.OnError
	if policy == nil || policy.Message == "" {
		return taskErr.OriginalErr.Error()
	}
	errCtx := ctx.WithError(fctx.ErrorInfo{
		Step:       step.Name,
		Message:    taskErr.OriginalErr.Error(),
		RetryCount: retryCount,
		TaskType:   step.Task,
		Original:   taskErr.OriginalErr.Error(),
	})
	rendered, err := template.Render(policy.Message, errCtx)
	if err != nil {
		return taskErr.OriginalErr.Error()
	}
	return rendered
}

func toTaskExecutionError(stepName, taskType string, err error) *ferrors.TaskExecutionError {
	if te, ok := err.(*ferrors.TaskExecutionError); ok {
		return te
	}
	return &ferrors.TaskExecutionError{StepName: stepName, TaskType: taskType, OriginalErr: err}
}

// shouldSkip evaluates a step's condition, returning true if it is
// present and resolves falsy.
func (e *Engine) shouldSkip(step *parser.Step, ctx *fctx.Context) (bool, error) {
	if strings.TrimSpace(step.Condition) == "" {
		return false, nil
	}
	rendered, err := template.Render(step.Condition, ctx)
	if err != nil {
		return false, err
	}
	rendered = strings.TrimSpace(rendered)
	return rendered == "" || rendered == "false" || rendered == "False" || rendered == "0", nil
}

func (e *Engine) finishOnTemplateError(state *statestore.State, step *parser.Step, err error, ctx *fctx.Context) (*statestore.State, error) {
	sr := fctx.StepResult{Status: fctx.StatusFailed, Error: err.Error(), Timestamp: time.Now()}
	state.RecordFailed(step.Name, sr)
	state.Status = statestore.StatusFailed
	_ = e.State.Save(state)
	return state, &ferrors.WorkflowError{StepName: step.Name, Err: err}
}

// dispatchStep renders inputs and calls either the batch processor or
// the registered handler.
func (e *Engine) dispatchStep(state *statestore.State, step *parser.Step, ctx *fctx.Context, maxBatchWorkers int) (interface{}, error, time.Duration) {
	start := time.Now()
	cfg := task.NewConfig(step.Name, step.Task, map[string]interface{}{"inputs": toInterfaceMap(step.Inputs)}, e.Workspace, ctx)

	if step.Task == "batch" {
		result, err := e.runBatchStep(state, step, cfg, ctx, maxBatchWorkers)
		return result, err, time.Since(start)
	}

	handler, ok := e.Registry.Lookup(step.Task)
	if !ok {
		return nil, fmt.Errorf("unknown task type %q", step.Task), time.Since(start)
	}
	result, err := handler.Execute(context.Background(), cfg)
	return result, err, time.Since(start)
}

func toInterfaceMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// composeArgs merges params.*.default with cliArgs (CLI overrides win),
// raising WorkflowValidationError on a missing required param.
func (e *Engine) composeArgs(cliArgs map[string]interface{}) (map[string]interface{}, error) {
	args := map[string]interface{}{}
	for name, spec := range e.Workflow.Params {
		if spec.Default != nil {
			args[name] = spec.Default
		}
	}
	for k, v := range cliArgs {
		args[k] = v
	}
	var missing []string
	for name, spec := range e.Workflow.Params {
		if spec.Required {
			if _, ok := args[name]; !ok {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		return nil, &ferrors.WorkflowValidationError{
			Message: fmt.Sprintf("missing required param(s): %s", strings.Join(missing, ", ")),
		}
	}
	return args, nil
}

// composeEnv merges process env with the workflow's env block, the
// latter rendered against a context holding args, the process env and
// workflow_name, and winning on collision.
func (e *Engine) composeEnv(args map[string]interface{}) map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	if len(e.Workflow.Env) == 0 {
		return env
	}
	seedCtx := fctx.New(args, env, fctx.Globals{WorkflowName: e.Workflow.Name})
	for k, v := range e.Workflow.Env {
		rendered, err := template.Render(v, seedCtx)
		if err != nil {
			rendered = v
		}
		env[k] = rendered
	}
	return env
}

// loadOrCreateState resolves run numbering and either rehydrates a
// prior run's state or starts a fresh one.
func (e *Engine) loadOrCreateState(requestedRun int, flowName string, args map[string]interface{}) (*statestore.State, error) {
	if requestedRun > 0 {
		s, err := e.State.Load(e.Workflow.Name, requestedRun)
		if err != nil {
			return nil, fmt.Errorf("loading run %d: %w", requestedRun, err)
		}
		return s, nil
	}
	latest, err := e.State.LatestRunNumber(e.Workflow.Name)
	if err != nil {
		return nil, err
	}
	if latest > 0 {
		prior, err := e.State.Load(e.Workflow.Name, latest)
		if err == nil && prior.Status != statestore.StatusCompleted {
			return prior, nil
		}
	}
	return statestore.NewState(e.Workflow.Name, latest+1, flowName, args), nil
}

// newRunID generates an internal execution identifier, stored in the
// state as run_id and used for log correlation.
func newRunID() string {
	return uuid.NewString()
}
