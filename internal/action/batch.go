package action

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

const defaultBatchConcurrency = 4

// ExecuteBatch runs a sequence of actions. Sequential by default;
// StopOnError aborts the rest after the first failure, leaving their
// result slots empty. Parallel execution ignores StopOnError and bounds
// in-flight actions by MaxConcurrency.
func (e *Executor) ExecuteBatch(ctx context.Context, principal types.Principal, actions []types.Action, opts types.BatchOptions) []types.ActionResult {
	results := make([]types.ActionResult, len(actions))

	if !opts.Parallel {
		for i, a := range actions {
			results[i] = e.Execute(ctx, principal, a)
			if opts.StopOnError && !results[i].Success {
				break
			}
		}
		return results
	}

	limit := opts.MaxConcurrency
	if limit < 1 {
		limit = defaultBatchConcurrency
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, a := range actions {
		i, a := i, a
		g.Go(func() error {
			res := e.Execute(gctx, principal, a)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
