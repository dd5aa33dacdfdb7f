package index

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	ierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/store"
)

// IsStale reports whether an index lags the store or has queued work.
func (e *Engine) IsStale(name string) (bool, error) {
	stats, err := e.GetIndexStatistics(name)
	if err != nil {
		return false, err
	}
	return stats.IsStale, nil
}

// WaitForNonStale blocks until the index has processed target, the timeout
// elapses or ctx is done. target is fixed by the caller, so the wait ends
// even while writes continue. A timeout of zero or less waits on ctx alone.
// Waiting has no effect on indexing.
func (e *Engine) WaitForNonStale(ctx context.Context, name string, target store.Generation, timeout time.Duration) error {
	idx := e.lookup(name)
	if idx == nil {
		return indexNotFound(name)
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		ch := idx.waitChan()
		if idx.isDropped() {
			return indexNotFound(name)
		}
		snap := idx.snapshot()
		if snap.LastProcessed >= target {
			return nil
		}
		if e.closed.Load() {
			return engineClosed()
		}

		select {
		case <-ch:
		case <-expired:
			return ierrors.TimeoutError(fmt.Sprintf("index %q did not reach generation %d within %s", name, target, timeout)).
				WithDetail("index", name).
				WithDetail("target_generation", fmt.Sprint(target)).
				WithDetail("last_processed", fmt.Sprint(idx.snapshot().LastProcessed))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitForLastWrite waits until the index has processed the store generation
// current at call entry.
func (e *Engine) WaitForLastWrite(ctx context.Context, name string, timeout time.Duration) error {
	return e.WaitForNonStale(ctx, name, e.store.CurrentGeneration(), timeout)
}

// WaitForIndexing waits until every index has processed the store
// generation current at call entry.
func (e *Engine) WaitForIndexing(ctx context.Context, timeout time.Duration) error {
	target := e.store.CurrentGeneration()
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range e.Indexes() {
		g.Go(func() error {
			return e.WaitForNonStale(gctx, name, target, timeout)
		})
	}
	return g.Wait()
}
