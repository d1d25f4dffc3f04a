// Package tasks runs pipeline work detached from the request that triggered
// it. Requests return 202 immediately; outcomes land in the store and the
// notify hub.
package tasks

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner spawns background goroutines and tracks them for draining at
// shutdown. Task failures are logged, never propagated to the caller.
type Runner struct {
	baseCtx context.Context
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewRunner creates a Runner whose tasks derive from baseCtx and are bounded
// by timeout (0 means no per-task deadline).
func NewRunner(baseCtx context.Context, timeout time.Duration) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{baseCtx: baseCtx, timeout: timeout}
}

// Go runs fn in a new goroutine. A panic inside fn is recovered and logged so
// one bad job cannot take the process down.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				zap.L().Error("task panicked",
					zap.String("task", name),
					zap.Any("panic", p))
			}
		}()

		ctx := r.baseCtx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}

		start := time.Now()
		if err := fn(ctx); err != nil {
			zap.L().Error("task failed",
				zap.String("task", name),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
			return
		}
		zap.L().Debug("task finished",
			zap.String("task", name),
			zap.Duration("elapsed", time.Since(start)))
	}()
}

// Wait blocks until all spawned tasks have finished or ctx expires.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
