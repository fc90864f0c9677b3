// Package dispatcher runs crawl work items on a bounded pool of goroutines.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrDrainTimeout is returned by Drain when work is still running at the deadline.
var ErrDrainTimeout = errors.New("dispatcher drain timed out")

// Dispatcher fans work out to at most Size goroutines. Callers either Submit
// directly or claim a slot with Acquire and hand it to Go.
type Dispatcher struct {
	group  *errgroup.Group
	slots  chan struct{}
	size   int
	logger *zap.Logger
}

// New creates a Dispatcher with size concurrent slots. Size below one is
// treated as one.
func New(size int, logger *zap.Logger) *Dispatcher {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		group:  new(errgroup.Group),
		slots:  make(chan struct{}, size),
		size:   size,
		logger: logger,
	}
}

// Size returns the number of concurrent slots.
func (d *Dispatcher) Size() int {
	return d.size
}

// Acquire blocks until a slot is free. It returns false without a slot when
// ctx ends or cancel is closed first.
func (d *Dispatcher) Acquire(ctx context.Context, cancel <-chan struct{}) bool {
	select {
	case d.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	case <-cancel:
		return false
	}
}

// Release returns a slot claimed by Acquire that was not passed to Go.
func (d *Dispatcher) Release() {
	<-d.slots
}

// Go runs fn on a slot already claimed with Acquire and frees the slot when fn
// returns. A panic in fn is recovered and logged so one work item cannot take
// down the pool.
func (d *Dispatcher) Go(fn func()) {
	d.group.Go(func() error {
		defer d.Release()
		defer func() {
			if rec := recover(); rec != nil {
				d.logger.Error("work item panicked", zap.Any("panic", rec), zap.Stack("stack"))
			}
		}()
		fn()
		return nil
	})
}

// Submit runs fn on the pool, blocking while every slot is busy.
func (d *Dispatcher) Submit(fn func()) {
	d.Acquire(context.Background(), nil)
	d.Go(fn)
}

// Drain waits for submitted work to finish, giving up after timeout or when
// ctx ends. A non-positive timeout waits without a deadline.
func (d *Dispatcher) Drain(ctx context.Context, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		_ = d.group.Wait()
		close(done)
	}()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-done:
		return nil
	case <-deadline:
		return ErrDrainTimeout
	case <-ctx.Done():
		return fmt.Errorf("dispatcher drain canceled: %w", ctx.Err())
	}
}
