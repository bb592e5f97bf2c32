// Package pool provides the bounded worker pool shared by the matching
// engine and the rule orchestrator: partition work, fan out to pure
// workers, merge results sequentially at a single point.
package pool

import (
	"context"
	"fmt"
	"sync"
)

// Partition splits items into batches of at most size elements.
// A size <= 0 yields a single batch.
func Partition[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]T{items}
	}

	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end])
	}
	return batches
}

// Result holds one unit's output or failure.
type Result[R any] struct {
	Value R
	Err   error
}

// Run dispatches each unit to a bounded worker pool and returns results
// in unit order. Workers must be pure functions over their unit; the
// merge happens here, after all workers return. A panic or error inside
// one unit is captured in its Result and never aborts sibling units.
//
// Cancellation is checked between dispatches: once ctx is done no new
// units start, but in-flight units finish and commit. Units skipped by
// cancellation carry ctx.Err().
func Run[T, R any](ctx context.Context, units []T, workers int, fn func(context.Context, T) (R, error)) []Result[R] {
	if len(units) == 0 {
		return nil
	}
	if workers <= 0 {
		workers = 1
	}

	results := make([]Result[R], len(units))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, unit := range units {
		if err := ctx.Err(); err != nil {
			results[i] = Result[R]{Err: err}
			continue
		}

		sem <- struct{}{} // Acquire
		wg.Add(1)
		go func(idx int, u T) {
			defer wg.Done()
			defer func() { <-sem }() // Release
			defer func() {
				if r := recover(); r != nil {
					results[idx] = Result[R]{Err: fmt.Errorf("worker panic: %v", r)}
				}
			}()

			v, err := fn(ctx, u)
			results[idx] = Result[R]{Value: v, Err: err}
		}(i, unit)
	}

	wg.Wait()
	return results
}
