package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/dispatcher"
	"github.com/JakeFAU/sitecrawler/internal/frontier"
	"github.com/JakeFAU/sitecrawler/internal/linkclass"
	"github.com/JakeFAU/sitecrawler/internal/progress"
)

// run is the state of one active session.
type run struct {
	session  crawler.Session
	cb       crawler.Callbacks
	fetcher  crawler.Fetcher
	frontier *frontier.Frontier
	pool     *dispatcher.Dispatcher
	ctrl     *control
	logger   *zap.Logger

	// ctx scopes the session's fetches.
	ctx    context.Context
	cancel context.CancelFunc
}

func newRun(
	parent context.Context,
	session crawler.Session,
	cb crawler.Callbacks,
	f crawler.Fetcher,
	workers int,
	expected uint,
	logger *zap.Logger,
) *run {
	ctx, cancel := context.WithCancel(parent)
	session.Options = session.Options.Clone()
	session.Status = crawler.StatusRunning
	return &run{
		session:  session,
		cb:       cb,
		fetcher:  f,
		frontier: frontier.New(expected),
		pool:     dispatcher.New(workers, logger),
		ctrl:     newControl(),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// more reports whether the loop has work left and the page budget allows it.
func (r *run) more() bool {
	if r.frontier.Active() == 0 && r.frontier.Len() == 0 {
		return false
	}
	maxPages := r.session.Options.MaxPages
	return maxPages == 0 || r.frontier.VisitedCount() < maxPages
}

// admit reports whether entry may be dispatched.
func (r *run) admit(entry crawler.FrontierEntry) bool {
	if r.frontier.IsVisited(entry.URL) {
		return false
	}
	if maxDepth := r.session.Options.MaxDepth; maxDepth > 0 && entry.Depth > maxDepth {
		return false
	}
	return !linkclass.IsFileURL(entry.URL)
}

// coordinate runs the session to a terminal state and delivers the final
// callback.
func (e *Engine) coordinate(r *run) {
	started := e.clock.Now()
	samplerDone := make(chan struct{})
	go e.sample(r, samplerDone)

	stopped, err := e.loop(r)
	close(samplerDone)

	if drainErr := r.pool.Drain(context.Background(), e.cfg.DrainTimeout); drainErr != nil {
		r.logger.Warn("in-flight pages did not finish", zap.Error(drainErr),
			zap.Int("active", r.frontier.Active()))
	}

	status := crawler.StatusCompleted
	switch {
	case err != nil:
		status = crawler.StatusFailed
	case stopped:
		status = crawler.StatusStopped
	}
	r.ctrl.finish(status)
	e.runs.remove(r.session.ID)
	r.cancel()

	r.logger.Info("crawl finished",
		zap.String("status", string(status)),
		zap.Int("visited", r.frontier.VisitedCount()),
		zap.Int("abandoned", r.frontier.Len()),
		zap.Duration("elapsed", e.clock.Now().Sub(started)))

	if err != nil {
		r.logger.Error("crawl failed", zap.Error(err))
		r.safe("OnError", func() { r.cb.OnError(err) })
		return
	}
	r.safe("OnComplete", r.cb.OnComplete)
}

// loop is the coordinator body. It reports whether it ended because of a
// stop request; a recovered panic becomes the error.
func (e *Engine) loop(r *run) (stopped bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("coordinator panic: %v", rec)
			r.logger.Error("coordinator panicked", zap.Any("panic", rec), zap.Stack("stack"))
		}
	}()

	r.frontier.Push(crawler.FrontierEntry{URL: r.session.StartURL, Depth: 0})
	for r.more() {
		if !r.ctrl.waitWhilePaused(e.ctx) {
			return true, nil
		}
		if r.ctrl.isStopped() || e.ctx.Err() != nil {
			return true, nil
		}
		if r.frontier.Len() == 0 {
			if r.frontier.Active() > 0 {
				e.idle(r)
			}
			continue
		}
		// Claim a worker before dequeuing so a pause or stop that lands while
		// the pool is full leaves the next entry queued.
		if !r.pool.Acquire(e.ctx, r.ctrl.stopCh) {
			continue
		}
		if r.ctrl.current() != crawler.StatusRunning {
			r.pool.Release()
			continue
		}
		entry, ok := r.frontier.Pop()
		if !ok || !r.admit(entry) || !r.frontier.MarkVisited(entry.URL) {
			r.pool.Release()
			continue
		}
		if e.beforeDispatch != nil {
			e.beforeDispatch(r, entry)
		}
		r.frontier.IncActive()
		r.pool.Go(func() { e.process(r, entry) })
	}
	return r.ctrl.isStopped(), nil
}

// idle waits for a push, a finished work item, a stop or IdleWait.
func (e *Engine) idle(r *run) {
	timer := time.NewTimer(e.cfg.IdleWait)
	defer timer.Stop()
	select {
	case <-r.frontier.Notify():
	case <-r.ctrl.stopCh:
	case <-e.ctx.Done():
	case <-timer.C:
	}
}

// sample emits a throughput reading every MetricsInterval until done closes.
func (e *Engine) sample(r *run, done <-chan struct{}) {
	ticker := time.NewTicker(e.cfg.MetricsInterval)
	defer ticker.Stop()
	last := r.frontier.VisitedCount()
	lastAt := e.clock.Now()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		now := e.clock.Now()
		visited := r.frontier.VisitedCount()
		pps := 0.0
		if secs := now.Sub(lastAt).Seconds(); secs > 0 {
			pps = float64(visited-last) / secs
		}
		last, lastAt = visited, now
		active, queued := r.frontier.Active(), r.frontier.Len()
		r.logger.Debug("crawl throughput",
			zap.Float64("pages_per_second", pps),
			zap.Int("active_workers", active),
			zap.Int("queue_size", queued))
		e.emit(progress.Event{
			SessionID:      r.session.ID,
			TS:             now,
			Type:           progress.TypeMetrics,
			Site:           r.session.BaseDomain,
			PagesPerSecond: pps,
			ActiveWorkers:  active,
			QueueSize:      queued,
			Total:          visited,
		})
	}
}

// safe runs a callback, logging instead of propagating a panic.
func (r *run) safe(name string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("callback panicked", zap.String("callback", name), zap.Any("panic", rec))
		}
	}()
	fn()
}
