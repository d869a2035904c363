package vaultfs

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ParallelConfig controls parallel name decryption while listing legacy
// vault folders
type ParallelConfig struct {
	// Enabled enables parallel processing
	Enabled bool

	// MaxWorkers is the maximum number of worker goroutines
	// If 0, defaults to runtime.NumCPU()
	MaxWorkers int

	// MinItemsForParallel is the minimum number of entries to use parallel
	// processing. Below this threshold, entries are processed sequentially.
	MinItemsForParallel int
}

// Validate checks if the parallel configuration is valid
func (p *ParallelConfig) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.MaxWorkers < 0 {
		return errors.New("parallel max workers cannot be negative")
	}
	if p.MaxWorkers > 1024 {
		return errors.New("parallel max workers must not exceed 1024")
	}
	if p.MinItemsForParallel < 1 {
		return errors.New("parallel min items threshold must be at least 1")
	}
	return nil
}

// DefaultParallelConfig returns the default parallel processing configuration
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		Enabled:             true,
		MaxWorkers:          runtime.NumCPU(),
		MinItemsForParallel: 8,
	}
}

func (p ParallelConfig) workers(items int) int {
	if !p.Enabled || items < p.MinItemsForParallel {
		return 1
	}
	n := p.MaxWorkers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return min(n, items)
}

// parallelMap applies fn to every item and returns results and errors in item
// order. A failing item does not stop the others; a panic in fn becomes the
// error of its item. Items not started before ctx is done get ctx.Err().
func parallelMap[T, R any](ctx context.Context, cfg ParallelConfig, items []T, fn func(T) (R, error)) ([]R, []error) {
	results := make([]R, len(items))
	errs := make([]error, len(items))

	run := func(idx int) {
		defer func() {
			if r := recover(); r != nil {
				errs[idx] = fmt.Errorf("panic in worker: %v", r)
			}
		}()
		if err := ctx.Err(); err != nil {
			errs[idx] = err
			return
		}
		results[idx], errs[idx] = fn(items[idx])
	}

	numWorkers := cfg.workers(len(items))
	if numWorkers <= 1 {
		for i := range items {
			run(i)
		}
		return results, errs
	}

	var wg sync.WaitGroup
	jobs := make(chan int, len(items))
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				run(idx)
			}
		}()
	}
	for i := range items {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results, errs
}
