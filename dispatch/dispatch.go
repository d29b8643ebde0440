package dispatch

import (
	"context"
	"fmt"

	"github.com/outofforest/parallel"
)

// Body is the per-worker unit of work, invoked with a worker index
// 0..workers-1.
type Body func(ctx context.Context, worker int) error

// Run executes the body once per worker and blocks until every worker
// finished. The calling goroutine participates as worker 0. Synchronization
// is barrier-style: there is no cancellation mid-pass, the pass either
// completes or the first error wins after all workers joined.
func Run(ctx context.Context, workers int, body Body) error {
	if workers <= 1 {
		return body(ctx, 0)
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		for i := 1; i < workers; i++ {
			spawn(fmt.Sprintf("worker-%02d", i), parallel.Continue, func(ctx context.Context) error {
				return body(ctx, i)
			})
		}
		return body(ctx, 0)
	})
}
