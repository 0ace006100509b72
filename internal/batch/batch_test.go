package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRunIsolatesFailuresAndGroups(t *testing.T) {
	tasks := []int{1, 2, 3, 4, 5, 6, 7}

	var (
		mu       sync.Mutex
		inFlight int
		peak     int
		started  int
		groupOf  = make(map[int]int)
	)

	perTask := func(ctx context.Context, n int) error {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		// Groups run strictly in sequence, so start order maps tasks to groups.
		groupOf[n] = started/3 + 1
		started++
		mu.Unlock()

		defer func() {
			mu.Lock()
			inFlight--
			mu.Unlock()
		}()

		if n == 4 {
			return errors.New("boom")
		}
		return nil
	}

	summary := Run(context.Background(), tasks, 3, perTask, nil)

	if len(summary.Succeeded) != 6 {
		t.Fatalf("expected 6 successes, got %d", len(summary.Succeeded))
	}
	if len(summary.Failed) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(summary.Failed))
	}
	if summary.Failed[0].Task != 4 {
		t.Fatalf("expected task 4 to fail, got %d", summary.Failed[0].Task)
	}
	if peak > 3 {
		t.Fatalf("peak concurrency %d exceeded limit 3", peak)
	}

	counts := make(map[int]int)
	for _, g := range groupOf {
		counts[g]++
	}
	if counts[1] != 3 || counts[2] != 3 || counts[3] != 1 {
		t.Fatalf("expected groups of 3,3,1, got %v", counts)
	}
}

func TestRunProgressCallback(t *testing.T) {
	tasks := []string{"a", "b", "c", "d"}

	var mu sync.Mutex
	var seen []int
	onDone := func(completed, total int) {
		mu.Lock()
		defer mu.Unlock()
		if total != 4 {
			t.Errorf("expected total 4, got %d", total)
		}
		seen = append(seen, completed)
	}

	summary := Run(context.Background(), tasks, 2, func(ctx context.Context, s string) error {
		return nil
	}, onDone)

	if len(summary.Succeeded) != 4 {
		t.Fatalf("expected 4 successes, got %d", len(summary.Succeeded))
	}
	if len(seen) != 4 {
		t.Fatalf("expected 4 progress calls, got %d", len(seen))
	}
	// Completed counts are monotonically increasing and end at the total.
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("completed counts not increasing: %v", seen)
		}
	}
	if seen[len(seen)-1] != 4 {
		t.Fatalf("final completed count should be 4, got %d", seen[len(seen)-1])
	}
}

func TestRunPanickingCallbackDoesNotFailBatch(t *testing.T) {
	tasks := []int{1, 2, 3}
	summary := Run(context.Background(), tasks, 3, func(ctx context.Context, n int) error {
		return nil
	}, func(completed, total int) {
		panic("observer bug")
	})
	if len(summary.Succeeded) != 3 || len(summary.Failed) != 0 {
		t.Fatalf("callback panic must not affect results: %+v", summary)
	}
}

func TestRunPanickingTaskIsRecordedAsFailure(t *testing.T) {
	summary := Run(context.Background(), []int{1}, 1, func(ctx context.Context, n int) error {
		panic("task bug")
	}, nil)
	if len(summary.Failed) != 1 {
		t.Fatalf("expected panicking task to be a failure, got %+v", summary)
	}
}

func TestRunEmptyTasks(t *testing.T) {
	summary := Run(context.Background(), nil, 3, func(ctx context.Context, n int) error {
		t.Fatal("perTask should not run")
		return nil
	}, nil)
	if len(summary.Succeeded) != 0 || len(summary.Failed) != 0 {
		t.Fatalf("expected empty summary, got %+v", summary)
	}
}
