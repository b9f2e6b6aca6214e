// Package jobs runs the periodic background work: status promotion and the
// cleanup sweep.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"assignly/internal/cleanup"
)

const defaultTickTimeout = 2 * time.Minute

// Promoter advances stale pending orders; *order.Service implements it.
type Promoter interface {
	PromoteStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// CleanupRunner processes a batch of cleanup jobs; *cleanup.Processor implements it.
type CleanupRunner interface {
	ProcessPending(ctx context.Context, limit int) ([]cleanup.Result, error)
}

// StartPromoter promotes pending orders older than after, every interval.
func StartPromoter(ctx context.Context, p Promoter, interval, after time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	every(ctx, "status_promoter", interval, defaultTickTimeout, func(tickCtx context.Context) {
		n, err := p.PromoteStale(tickCtx, after)
		if err != nil {
			slog.Error("status promoter failed", "err", err)
			return
		}
		if n > 0 {
			slog.Info("status promoter moved orders to writing", "count", n)
		}
	})
}

// StartCleanup runs one batch of pending cleanup jobs every interval.
func StartCleanup(ctx context.Context, r CleanupRunner, interval time.Duration, batch int) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	every(ctx, "cleanup_sweep", interval, defaultTickTimeout, func(tickCtx context.Context) {
		results, err := r.ProcessPending(tickCtx, batch)
		if err != nil {
			slog.Error("cleanup sweep failed", "err", err)
			return
		}
		completed := 0
		for _, res := range results {
			if res.Completed {
				completed++
			}
		}
		if len(results) > 0 {
			slog.Info("cleanup sweep finished", "processed", len(results), "completed", completed)
		}
	})
}

// every calls fn on each tick until ctx is done. Ticks never overlap; each
// runs under its own timeout.
func every(ctx context.Context, name string, interval, timeout time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("background job started", "job", name, "interval", interval.String())
		for {
			select {
			case <-ctx.Done():
				slog.Info("background job stopped", "job", name)
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				fn(tickCtx)
				cancel()
			}
		}
	}()
}
