package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRunProcessesAllItemsInOrder(t *testing.T) {
	items := []interface{}{1, 2, 3, 4, 5}
	result, err := Run(context.Background(), Options{Items: items, MaxWorkers: 2}, func(ctx context.Context, item interface{}, index int) (interface{}, error) {
		return item.(int) * 10, nil
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.Stats.Total != 5 || result.Stats.Processed != 5 || result.Stats.Failed != 0 {
		t.Errorf("unexpected stats: %+v", result.Stats)
	}
	for i, pi := range result.ProcessedItems {
		if pi.Index != i || pi.Result != (i+1)*10 {
			t.Errorf("item %d: %+v", i, pi)
		}
	}
}

func TestRunStopsOnFirstErrorByDefault(t *testing.T) {
	items := []interface{}{1, 2, 3}
	_, err := Run(context.Background(), Options{Items: items, MaxWorkers: 1}, func(ctx context.Context, item interface{}, index int) (interface{}, error) {
		if item.(int) == 2 {
			return nil, errors.New("boom")
		}
		return item, nil
	})
	if err == nil {
		t.Fatal("expected an error when continue_on_error is false")
	}
}

func TestRunContinuesOnErrorWhenRequested(t *testing.T) {
	items := []interface{}{1, 2, 3}
	result, err := Run(context.Background(), Options{Items: items, MaxWorkers: 3, ContinueOnError: true}, func(ctx context.Context, item interface{}, index int) (interface{}, error) {
		if item.(int) == 2 {
			return nil, errors.New("boom")
		}
		return item, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Stats.Failed != 1 || result.Stats.Processed != 2 {
		t.Errorf("unexpected stats: %+v", result.Stats)
	}
	if len(result.Failed) != 1 || result.Failed[0].Index != 1 {
		t.Errorf("unexpected failed list: %+v", result.Failed)
	}
}

func TestRunRetriesBeforeSucceeding(t *testing.T) {
	var mu sync.Mutex
	calls := map[int]int{}
	items := []interface{}{1, 2}
	result, err := Run(context.Background(), Options{
		Items: items, MaxWorkers: 2, RetryMaxAttempts: 2,
	}, func(ctx context.Context, item interface{}, index int) (interface{}, error) {
		mu.Lock()
		calls[index]++
		n := calls[index]
		mu.Unlock()
		if index == 0 && n < 2 {
			return nil, errors.New("transient")
		}
		return item, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Stats.Retried != 1 {
		t.Errorf("Retried = %d, want 1", result.Stats.Retried)
	}
}

func TestRunHonorsChunkSizeViaOnChunkDone(t *testing.T) {
	items := []interface{}{1, 2, 3, 4}
	var chunks [][]int
	_, err := Run(context.Background(), Options{
		Items: items, MaxWorkers: 4, ChunkSize: 2,
		OnChunkDone: func(indices []int) {
			cp := append([]int(nil), indices...)
			chunks = append(chunks, cp)
		},
	}, func(ctx context.Context, item interface{}, index int) (interface{}, error) {
		return item, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 2 || len(chunks[0]) != 2 || len(chunks[1]) != 2 {
		t.Errorf("unexpected chunking: %+v", chunks)
	}
}

func TestRunSkipsAlreadyCompletedItems(t *testing.T) {
	items := []interface{}{1, 2, 3}
	dispatched := map[int]bool{}
	result, err := Run(context.Background(), Options{
		Items:      items,
		MaxWorkers: 3,
		AlreadyCompleted: map[int]ProcessedItem{
			1: {Index: 1, Item: 2, Result: 200},
		},
	}, func(ctx context.Context, item interface{}, index int) (interface{}, error) {
		dispatched[index] = true
		return item, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dispatched[1] {
		t.Error("expected index 1 to be skipped as already completed")
	}
	if result.ProcessedItems[1].Result != 200 {
		t.Errorf("expected the prior result to be preserved, got %+v", result.ProcessedItems[1])
	}
}

func TestRunEmptyItemsReturnsZeroResult(t *testing.T) {
	result, err := Run(context.Background(), Options{}, func(ctx context.Context, item interface{}, index int) (interface{}, error) {
		t.Fatal("dispatch should not be called for an empty item list")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Stats.Total != 0 {
		t.Errorf("Total = %d, want 0", result.Stats.Total)
	}
}
