package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowforge/flowforge/internal/batch"
	fctx "github.com/flowforge/flowforge/internal/context"
	"github.com/flowforge/flowforge/internal/parser"
	"github.com/flowforge/flowforge/internal/statestore"
	"github.com/flowforge/flowforge/internal/task"
)

// subTaskSpec is the step-like mapping a batch step's inputs.task
// carries: the same shape as a normal step, but name is optional.
type subTaskSpec struct {
	Task   string
	Inputs map[string]interface{}
}

// runBatchStep implements the batch task type: it renders
// inputs.items and the other batch settings, then fans each item out to
// internal/batch.Run, with each dispatch routed back through the normal
// task registry so any handler is usable inside a batch.
func (e *Engine) runBatchStep(state *statestore.State, step *parser.Step, cfg *task.Config, ctx *fctx.Context, defaultMaxWorkers int) (interface{}, error) {
	rawInputs, _ := cfg.Step["inputs"].(map[string]interface{})
	// inputs.task stays unrendered here: its inputs are rendered per
	// item, against a context that carries the batch namespace.
	stepInputs := make(map[string]interface{}, len(rawInputs))
	for k, v := range rawInputs {
		if k != "task" {
			stepInputs[k] = v
		}
	}
	inputs, err := cfg.ProcessInputs(stepInputs)
	if err != nil {
		return nil, err
	}

	itemsRaw, ok := inputs["items"]
	if !ok {
		return nil, fmt.Errorf("batch step %q requires inputs.items", step.Name)
	}
	items, err := toItemSlice(itemsRaw)
	if err != nil {
		return nil, fmt.Errorf("batch step %q: %w", step.Name, err)
	}

	sub, err := parseSubTask(rawInputs["task"])
	if err != nil {
		return nil, fmt.Errorf("batch step %q: %w", step.Name, err)
	}

	chunkSize := intFromInput(inputs["chunk_size"], len(items))
	maxWorkers := intFromInput(inputs["max_workers"], defaultMaxWorkers)
	if parallelFlag, ok := inputs["parallel"].(bool); ok && !parallelFlag {
		maxWorkers = 1
	}
	continueOnError := true
	if v, ok := inputs["continue_on_error"].(bool); ok {
		continueOnError = v
	}

	var retryMax int
	var retryDelay time.Duration
	if r, ok := inputs["retry"].(map[string]interface{}); ok {
		retryMax = intFromInput(r["max_attempts"], 0)
		retryDelay = time.Duration(floatFromInput(r["delay"], 0) * float64(time.Second))
	}

	untypedItems := make([]interface{}, len(items))
	copy(untypedItems, items)

	var resultsMu sync.Mutex
	itemOutcomes := map[int]batch.ProcessedItem{}

	dispatch := func(dctx context.Context, item interface{}, index int) (interface{}, error) {
		itemCtx := ctx.WithBatch(item, index, len(items), step.Name)
		handler, ok := e.Registry.Lookup(sub.Task)
		if !ok {
			return nil, fmt.Errorf("unknown task type %q", sub.Task)
		}
		itemName := fmt.Sprintf("%s[%d]", step.Name, index)
		itemInputs, derr := task.NewConfig(itemName, sub.Task, nil, e.Workspace, itemCtx).ProcessInputs(sub.Inputs)
		var res interface{}
		if derr == nil {
			res, derr = handler.Execute(dctx, task.NewConfig(itemName, sub.Task, map[string]interface{}{"inputs": itemInputs}, e.Workspace, itemCtx))
		}
		resultsMu.Lock()
		if derr != nil {
			itemOutcomes[index] = batch.ProcessedItem{Index: index, Item: item, Error: derr.Error()}
		} else {
			itemOutcomes[index] = batch.ProcessedItem{Index: index, Item: item, Result: res}
		}
		resultsMu.Unlock()
		return res, derr
	}

	alreadyCompleted := map[int]batch.ProcessedItem{}
	for _, prior := range state.BatchProgress[step.Name] {
		pi := batch.ProcessedItem{Index: prior.Index, Item: prior.Item, Result: prior.Result, Error: prior.Error}
		alreadyCompleted[prior.Index] = pi
		itemOutcomes[prior.Index] = pi
	}

	onChunkDone := func(completedIndices []int) {
		resultsMu.Lock()
		progress := state.BatchProgress[step.Name]
		seen := map[int]bool{}
		for _, p := range progress {
			seen[p.Index] = true
		}
		for _, idx := range completedIndices {
			if seen[idx] {
				continue
			}
			outcome := itemOutcomes[idx]
			progress = append(progress, statestore.BatchProgressItem{
				Index: outcome.Index, Item: outcome.Item, Result: outcome.Result, Error: outcome.Error,
			})
		}
		resultsMu.Unlock()
		if state.BatchProgress == nil {
			state.BatchProgress = map[string][]statestore.BatchProgressItem{}
		}
		state.BatchProgress[step.Name] = progress
		_ = e.State.Save(state)
	}

	result, err := batch.Run(context.Background(), batch.Options{
		Items:            untypedItems,
		ChunkSize:        chunkSize,
		MaxWorkers:       maxWorkers,
		ContinueOnError:  continueOnError,
		RetryMaxAttempts: retryMax,
		RetryDelay:       retryDelay,
		AlreadyCompleted: alreadyCompleted,
		OnChunkDone:      onChunkDone,
	}, dispatch)
	if err != nil {
		return nil, err
	}
	delete(state.BatchProgress, step.Name)
	return batchResultToMap(result), nil
}

func batchResultToMap(r *batch.Result) map[string]interface{} {
	items := make([]interface{}, len(r.ProcessedItems))
	for i, pi := range r.ProcessedItems {
		m := map[string]interface{}{"index": pi.Index, "item": pi.Item}
		if pi.Error != "" {
			m["error"] = pi.Error
		} else {
			m["result"] = pi.Result
		}
		items[i] = m
	}
	failed := make([]interface{}, len(r.Failed))
	for i, f := range r.Failed {
		failed[i] = map[string]interface{}{"index": f.Index, "item": f.Item, "error": f.Error}
	}
	return map[string]interface{}{
		"processed_items": items,
		"stats": map[string]interface{}{
			"total":     r.Stats.Total,
			"processed": r.Stats.Processed,
			"failed":    r.Stats.Failed,
			"retried":   r.Stats.Retried,
		},
		"failed": failed,
	}
}

func parseSubTask(v interface{}) (subTaskSpec, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return subTaskSpec{}, fmt.Errorf("inputs.task must be a step-like mapping")
	}
	taskType, _ := m["task"].(string)
	if taskType == "" {
		return subTaskSpec{}, fmt.Errorf("inputs.task.task is required")
	}
	inputs, _ := m["inputs"].(map[string]interface{})
	return subTaskSpec{Task: taskType, Inputs: inputs}, nil
}

func toItemSlice(v interface{}) ([]interface{}, error) {
	switch t := v.(type) {
	case []interface{}:
		return t, nil
	default:
		return nil, fmt.Errorf("inputs.items must resolve to a sequence")
	}
}

func intFromInput(v interface{}, fallback int) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		if fallback <= 0 {
			return 1
		}
		return fallback
	}
}

func floatFromInput(v interface{}, fallback float64) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	default:
		return fallback
	}
}
