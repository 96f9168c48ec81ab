// Package async runs fire-and-forget side effects outside the request path.
package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

// FailureObserver is notified when a detached task fails.
type FailureObserver interface {
	ObserveSideEffectFailure(task string)
}

// Runner spawns detached tasks. A task never blocks or fails its caller; its
// error is logged and counted.
type Runner struct {
	logger   *logging.Logger
	timeout  time.Duration
	observer FailureObserver
	wg       sync.WaitGroup
}

// NewRunner creates a runner whose tasks time out after 30 seconds.
func NewRunner(logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Default()
	}
	return &Runner{logger: logger, timeout: 30 * time.Second}
}

func (r *Runner) WithTimeout(d time.Duration) *Runner {
	if d > 0 {
		r.timeout = d
	}
	return r
}

func (r *Runner) WithObserver(o FailureObserver) *Runner {
	r.observer = o
	return r
}

// Go runs fn on its own goroutine. The context passed to fn keeps the
// parent's values but not its cancellation, so a finished request does not
// abort its side effects.
func (r *Runner) Go(parent context.Context, name string, fn func(ctx context.Context) error) {
	if r == nil || fn == nil {
		return
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		if err := r.run(ctx, fn); err != nil {
			r.logger.Error("detached task failed", "task", name, "error", err)
			if r.observer != nil {
				r.observer.ObserveSideEffectFailure(name)
			}
		}
	}()
}

func (r *Runner) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

// Wait blocks until in-flight tasks finish or ctx is done.
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
