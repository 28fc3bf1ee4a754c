// Package batch implements the batch processor: chunked,
// bounded-worker-pool fan-out of a sub-task over a collection, with
// per-item retry and index-ordered result aggregation.
//
// Grounded on _examples/AbdelazizMoustafa10m-Raven/internal/prd/
// worker.go's ScatterOrchestrator: golang.org/x/sync/errgroup with
// SetLimit for the bounded pool, a sync.Mutex-guarded accumulator, and
// the `attempt := 1; attempt <= maxAttempts+1` retry-loop convention
// giving "1+max_attempts dispatches" in total.
// Diverges from Raven in one respect: results are written directly to
// a pre-allocated slice by index rather than collected then sorted by
// a string key, since batch items carry a numeric index from the
// start.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowforge/flowforge/internal/engineretry"
	"github.com/flowforge/flowforge/internal/ferrors"
)

// Dispatch executes one item's sub-task. index is the item's position
// in the original items slice; the implementation is expected to
// construct a per-item context via Context.WithBatch itself (the
// engine supplies the closure).
type Dispatch func(ctx context.Context, item interface{}, index int) (interface{}, error)

// Options configures one batch execution.
type Options struct {
	Items           []interface{}
	ChunkSize       int
	MaxWorkers      int
	ContinueOnError bool
	RetryMaxAttempts int
	RetryDelay      time.Duration
	// AlreadyCompleted carries indices to skip on resume (
	// resume semantics): their ProcessedItem is not re-dispatched.
	AlreadyCompleted map[int]ProcessedItem
	// OnChunkDone is called after each chunk completes, with the set of
	// indices now known complete, so the caller can persist
	// state.step_results[step_name].progress.completed_indices.
	OnChunkDone func(completedIndices []int)
}

// ProcessedItem is one entry of the result's processed_items list.
type ProcessedItem struct {
	Index  int         `json:"index"`
	Item   interface{} `json:"item"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
	failed bool
}

// Stats summarizes a batch run.
type Stats struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
}

// FailedItem is one entry of the result's failed list.
type FailedItem struct {
	Index int         `json:"index"`
	Item  interface{} `json:"item"`
	Error string      `json:"error"`
}

// Result is the batch step's normalized result.
type Result struct {
	ProcessedItems []ProcessedItem `json:"processed_items"`
	Stats          Stats           `json:"stats"`
	Failed         []FailedItem    `json:"failed"`
}

// Run executes opts.Items through dispatch with a bounded worker pool.
func Run(ctx context.Context, opts Options, dispatch Dispatch) (*Result, error) {
	total := len(opts.Items)
	if total == 0 {
		return &Result{ProcessedItems: []ProcessedItem{}, Stats: Stats{Total: 0}}, nil
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = total
	}
	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	results := make([]ProcessedItem, total)
	var mu sync.Mutex
	var retriedCount int
	aborted := false

	for start := 0; start < total && !aborted; start += chunkSize {
		end := start + chunkSize
		if end > total {
			end = total
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxWorkers)

		for i := start; i < end; i++ {
			i := i
			if prior, ok := opts.AlreadyCompleted[i]; ok {
				results[i] = prior
				continue
			}
			item := opts.Items[i]
			g.Go(func() error {
				attempts, err := engineretry.Run(gctx, engineretry.Config{
					MaxAttempts: opts.RetryMaxAttempts,
					Delay:       opts.RetryDelay,
				}, func(attemptNum int) error {
					res, derr := dispatch(gctx, item, i)
					if derr != nil {
						return derr
					}
					mu.Lock()
					results[i] = ProcessedItem{Index: i, Item: item, Result: res}
					mu.Unlock()
					return nil
				})
				if attempts > 1 {
					mu.Lock()
					retriedCount++
					mu.Unlock()
				}
				if err != nil {
					mu.Lock()
					results[i] = ProcessedItem{Index: i, Item: item, Error: err.Error(), failed: true}
					mu.Unlock()
					if !opts.ContinueOnError {
						return fmt.Errorf("item %d failed: %w", i, err)
					}
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			aborted = true
			if !opts.ContinueOnError {
				return nil, &ferrors.TaskExecutionError{TaskType: "batch", OriginalErr: err}
			}
		}

		if opts.OnChunkDone != nil {
			done := make([]int, 0, end-start)
			for i := start; i < end; i++ {
				done = append(done, i)
			}
			opts.OnChunkDone(done)
		}
	}

	out := &Result{ProcessedItems: results, Stats: Stats{Total: total}}
	for _, r := range results {
		if r.failed {
			out.Stats.Failed++
			out.Failed = append(out.Failed, FailedItem{Index: r.Index, Item: r.Item, Error: r.Error})
		} else {
			out.Stats.Processed++
		}
	}
	out.Stats.Retried = retriedCount
	return out, nil
}
