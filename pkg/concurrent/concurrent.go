package concurrent

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/cogniagent/pkg/sequence"
)

// ForEach runs action for each element with at most limit goroutines in
// flight (limit <= 0 means unbounded). The first error cancels the context
// passed to the remaining actions and is returned.
func ForEach[T any](ctx context.Context, i *sequence.Iterator[T], limit int, action func(context.Context, T) error) error {
	errGroup, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		errGroup.SetLimit(limit)
	}
	for value := range i.Seq() {
		if gctx.Err() != nil {
			break
		}
		errGroup.Go(func() error {
			return action(gctx, value)
		})
	}
	return errGroup.Wait()
}

// ParallelMap applies mapFn to each element in parallel, preserving order.
// The workers parameter controls the number of goroutines.
func ParallelMap[T any, R any](i *sequence.Iterator[T], workers int, mapFn func(T) R) []R {
	in := i.Collect()
	out := make([]R, len(in))
	var wg sync.WaitGroup
	sem := make(chan struct{}, max(workers, 1))

	for idx, val := range in {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, v T) {
			defer wg.Done()
			out[i] = mapFn(v)
			<-sem
		}(idx, val)
	}
	wg.Wait()
	return out
}
