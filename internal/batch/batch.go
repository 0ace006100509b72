// Package batch runs independent, potentially-failing sub-tasks with bounded
// concurrency. Tasks execute in sequential groups of the configured size; the
// whole group is awaited before the next starts, which keeps peak concurrency
// deterministic and under an external provider's rate ceiling.
package batch

import (
	"context"
	"fmt"
	"sync"
)

// DefaultConcurrency respects the image provider's rate ceiling without
// serializing everything.
const DefaultConcurrency = 3

// Failure pairs a failed task with the error that stopped it.
type Failure[T any] struct {
	Task T
	Err  error
}

// Summary is the outcome of a batch run.
type Summary[T any] struct {
	Succeeded []T
	Failed    []Failure[T]
}

// Run executes perTask for every task in groups of size concurrency. A failing
// task is recorded and does not cancel or affect its siblings. onDone, if set,
// is invoked after every task completion with the running completed count; it
// is best-effort and a panicking callback never fails the batch.
func Run[T any](ctx context.Context, tasks []T, concurrency int, perTask func(context.Context, T) error, onDone func(completed, total int)) Summary[T] {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	total := len(tasks)

	var (
		mu        sync.Mutex
		summary   Summary[T]
		completed int
	)

	for start := 0; start < total; start += concurrency {
		end := start + concurrency
		if end > total {
			end = total
		}
		group := tasks[start:end]

		var wg sync.WaitGroup
		for _, task := range group {
			wg.Add(1)
			go func(task T) {
				defer wg.Done()
				err := runOne(ctx, task, perTask)

				mu.Lock()
				if err != nil {
					summary.Failed = append(summary.Failed, Failure[T]{Task: task, Err: err})
				} else {
					summary.Succeeded = append(summary.Succeeded, task)
				}
				completed++
				done := completed
				mu.Unlock()

				notify(onDone, done, total)
			}(task)
		}
		wg.Wait()
	}
	return summary
}

func runOne[T any](ctx context.Context, task T, perTask func(context.Context, T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return perTask(ctx, task)
}

func notify(onDone func(completed, total int), completed, total int) {
	if onDone == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	onDone(completed, total)
}
