// Package engine schedules crawl sessions. Each session runs one coordinator
// goroutine that pops the frontier breadth-first and hands pages to a bounded
// worker pool, under pause, resume and stop control.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/fetcher"
	"github.com/JakeFAU/sitecrawler/internal/progress"
)

// ErrClosed is returned by StartCrawl after Shutdown.
var ErrClosed = errors.New("engine is shut down")

// Config tunes coordinator timing.
type Config struct {
	// MetricsInterval is the throughput sampling period.
	MetricsInterval time.Duration `mapstructure:"metrics_interval"`
	// IdleWait bounds how long the coordinator waits on an empty frontier
	// while workers are still active.
	IdleWait time.Duration `mapstructure:"idle_wait"`
	// DrainTimeout bounds the wait for in-flight work after the loop ends.
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	// CancelInFlightOnStop cancels running fetches on StopCrawl instead of
	// letting them finish.
	CancelInFlightOnStop bool `mapstructure:"cancel_inflight_on_stop"`
	// ExpectedURLs sizes each session's visited-set filter.
	ExpectedURLs uint `mapstructure:"expected_urls"`
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		MetricsInterval: 5 * time.Second,
		IdleWait:        100 * time.Millisecond,
		DrainTimeout:    5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = def.MetricsInterval
	}
	if c.IdleWait <= 0 {
		c.IdleWait = def.IdleWait
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = def.DrainTimeout
	}
	return c
}

// Deps are the collaborators an Engine is built from.
type Deps struct {
	// Static serves sessions that do not render JavaScript. Required.
	Static crawler.Fetcher
	// Rendering serves RenderJavaScript sessions. Optional.
	Rendering crawler.Fetcher
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
	// Emitter receives METRICS and LOG events. Optional.
	Emitter progress.Emitter
	Logger  *zap.Logger
}

// Stats is a point-in-time view of a running session.
type Stats struct {
	Status  crawler.Status `json:"status"`
	Visited int            `json:"visited"`
	Queued  int            `json:"queued"`
	Active  int            `json:"active"`
	Workers int            `json:"workers"`
}

// Engine runs any number of independent crawl sessions.
type Engine struct {
	cfg      Config
	selector *fetcher.Selector
	ids      crawler.IDGenerator
	clock    crawler.Clock
	emitter  progress.Emitter
	logger   *zap.Logger
	runs     *registry

	// beforeDispatch runs on the coordinator for each claimed entry.
	beforeDispatch func(r *run, entry crawler.FrontierEntry)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates deps and builds an Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Static == nil {
		return nil, errors.New("engine: static fetcher is required")
	}
	if deps.IDs == nil {
		return nil, errors.New("engine: id generator is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("engine: clock is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:      cfg.withDefaults(),
		selector: fetcher.NewSelector(deps.Static, deps.Rendering),
		ids:      deps.IDs,
		clock:    deps.Clock,
		emitter:  deps.Emitter,
		logger:   logger.Named("engine"),
		runs:     newRegistry(),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// RenderingEnabled reports whether RenderJavaScript sessions can start.
func (e *Engine) RenderingEnabled() bool {
	return e.selector.RenderingEnabled()
}

// StartCrawl registers session and starts its coordinator. It returns once
// the session is RUNNING; discovery is reported through cb.
func (e *Engine) StartCrawl(session crawler.Session, cb crawler.Callbacks) error {
	if cb == nil {
		return errors.New("start crawl: callbacks are required")
	}
	if session.ID == "" {
		return errors.New("start crawl: session id is required")
	}
	if session.StartURL == "" || session.BaseDomain == "" {
		return fmt.Errorf("start crawl: %w", crawler.ErrInvalidStartURL)
	}
	if err := session.Options.Validate(); err != nil {
		return fmt.Errorf("start crawl: %w", err)
	}
	f, err := e.selector.For(session.Options)
	if err != nil {
		return fmt.Errorf("start crawl: %w", err)
	}
	if e.ctx.Err() != nil {
		return ErrClosed
	}

	logger := e.logger.With(zap.String("session_id", session.ID))
	workers, capped := poolSize(f, session.Options.ConcurrentWorkers)
	r := newRun(e.ctx, session, cb, f, workers, e.cfg.ExpectedURLs, logger)
	if !e.runs.add(r) {
		r.cancel()
		return fmt.Errorf("start crawl %s: %w", session.ID, crawler.ErrSessionExists)
	}
	if capped {
		msg := fmt.Sprintf("fetcher supports %d concurrent page(s); running %d worker(s) instead of %d",
			workers, workers, session.Options.ConcurrentWorkers)
		logger.Warn("worker pool capped by fetcher", zap.Int("requested", session.Options.ConcurrentWorkers),
			zap.Int("workers", workers))
		e.emit(progress.Event{
			SessionID: session.ID,
			Type:      progress.TypeLog,
			Site:      session.BaseDomain,
			Level:     "warn",
			Note:      msg,
		})
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.coordinate(r)
	}()
	logger.Info("crawl started",
		zap.String("start_url", session.StartURL),
		zap.Int("max_depth", session.Options.MaxDepth),
		zap.Int("max_pages", session.Options.MaxPages),
		zap.Int("workers", workers),
		zap.Bool("render_javascript", session.Options.RenderJavaScript))
	return nil
}

// PauseCrawl stops dispatch of new pages for id. In-flight pages still
// finish. It reports whether id is an active session.
func (e *Engine) PauseCrawl(id string) bool {
	r, ok := e.runs.get(id)
	if !ok {
		return false
	}
	if r.ctrl.pause() {
		r.logger.Info("crawl paused")
	}
	return true
}

// ResumeCrawl lets a paused session dispatch again.
func (e *Engine) ResumeCrawl(id string) bool {
	r, ok := e.runs.get(id)
	if !ok {
		return false
	}
	if r.ctrl.resume() {
		r.logger.Info("crawl resumed")
	}
	return true
}

// StopCrawl ends the session before its next dequeue. Queued entries are
// abandoned; in-flight pages finish unless CancelInFlightOnStop is set.
func (e *Engine) StopCrawl(id string) bool {
	r, ok := e.runs.get(id)
	if !ok {
		return false
	}
	if r.ctrl.stop() {
		r.logger.Info("crawl stop requested")
		if e.cfg.CancelInFlightOnStop {
			r.cancel()
		}
	}
	return true
}

// Status returns the control state of an active session.
func (e *Engine) Status(id string) (crawler.Status, bool) {
	r, ok := e.runs.get(id)
	if !ok {
		return "", false
	}
	return r.ctrl.current(), true
}

// Stats returns frontier counts for an active session.
func (e *Engine) Stats(id string) (Stats, bool) {
	r, ok := e.runs.get(id)
	if !ok {
		return Stats{}, false
	}
	return Stats{
		Status:  r.ctrl.current(),
		Visited: r.frontier.VisitedCount(),
		Queued:  r.frontier.Len(),
		Active:  r.frontier.Active(),
		Workers: r.pool.Size(),
	}, true
}

// Active lists the ids of running and paused sessions.
func (e *Engine) Active() []string {
	return e.runs.ids()
}

// Shutdown stops every session, cancels in-flight fetches and waits for the
// coordinators to deliver their terminal callbacks.
func (e *Engine) Shutdown(ctx context.Context) error {
	for _, r := range e.runs.all() {
		r.ctrl.stop()
	}
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine shutdown: %w", ctx.Err())
	}
}

func (e *Engine) emit(evt progress.Event) {
	if e.emitter == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = e.clock.Now()
	}
	e.emitter.Emit(evt)
}

// poolSize caps requested by the fetcher's own concurrency limit.
func poolSize(f crawler.Fetcher, requested int) (int, bool) {
	limited, ok := f.(crawler.ConcurrencyLimited)
	if !ok {
		return requested, false
	}
	limit := limited.MaxConcurrency()
	if limit > 0 && limit < requested {
		return limit, true
	}
	return requested, false
}
