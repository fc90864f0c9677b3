// Package headless implements the script-rendering crawler.Fetcher with
// chromedp and headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/fetcher"
)

// Defaults applied when Config leaves a field empty.
const (
	DefaultMaxParallel = 1
	DefaultIdleTimeout = 30 * time.Second
	DefaultSettleDelay = time.Second
)

// ErrRenderTimeout is returned when the page never reaches network idle.
var ErrRenderTimeout = errors.New("render timeout waiting for network idle")

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel is the number of concurrent browser tabs; sessions asking
	// for more workers are capped to it.
	MaxParallel int    `mapstructure:"max_parallel"`
	UserAgent   string `mapstructure:"user_agent"`
	// IdleTimeout bounds the wait for the networkIdle lifecycle event.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// SettleDelay is slept after network idle so late scripts can finish.
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	// ExecPath overrides Chrome discovery.
	ExecPath string `mapstructure:"exec_path"`
}

// Fetcher implements crawler.Fetcher and crawler.ConcurrencyLimited.
type Fetcher struct {
	cfg         Config
	hasher      crawler.Hasher
	logger      *zap.Logger
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates the browser allocator. Chrome itself starts lazily on
// the first fetch.
func NewChromedp(cfg Config, hasher crawler.Hasher, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.MaxParallel == 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	} else if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		hasher:      hasher,
		logger:      logger.Named("headless"),
		limiter:     make(chan struct{}, cfg.MaxParallel),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// MaxConcurrency reports how many pages can render at once.
func (f *Fetcher) MaxConcurrency() int {
	return f.cfg.MaxParallel
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch loads request.URL in a fresh tab, waits for network idle plus the
// settle delay and returns the rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.PageResult, error) {
	if err := f.acquire(ctx); err != nil {
		return crawler.PageResult{}, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.taskTimeout())
	defer cancel()

	meta := newResponseMeta()
	life := newLifecycle()
	chromedp.ListenTarget(taskCtx, func(ev any) {
		meta.captureEvent(ev)
		life.captureEvent(ev)
	})

	start := time.Now()
	out, err := f.runHeadless(taskCtx, request, meta, life)
	result := crawler.PageResult{VisitedAt: start, Rendered: true}
	status, finalURL := meta.snapshotWithFallbacks(request.URL, out.location)
	result.StatusCode = status
	result.Elapsed = time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("headless fetch canceled: %w", ctxErr)
		}
		return result, err
	}
	if status < 200 || status > 299 {
		return result, fmt.Errorf("HTTP %d: %s", status, http.StatusText(status))
	}

	result.Success = true
	result, err = fetcher.BuildResult(result, finalURL, []byte(out.html), f.hasher)
	if err != nil {
		result.Success = false
		return result, err
	}
	if out.title != "" {
		result.Title = out.title
	}
	f.logger.Debug("page rendered",
		zap.String("session_id", request.SessionID),
		zap.String("url", request.URL),
		zap.Int("status_code", status),
		zap.Duration("elapsed", result.Elapsed))
	return result, nil
}

type rendered struct {
	html     string
	title    string
	location string
}

func (f *Fetcher) runHeadless(
	ctx context.Context,
	request crawler.FetchRequest,
	meta *responseMeta,
	life *lifecycle,
) (rendered, error) {
	var out rendered
	actions := []chromedp.Action{
		f.networkSetupAction(request),
		f.navigateAndIdleAction(request.URL, meta, life),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&out.location),
		chromedp.Title(&out.title),
		chromedp.OuterHTML("html", &out.html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return out, fmt.Errorf("chromedp run: %w", err)
	}
	return out, nil
}

func (f *Fetcher) networkSetupAction(request crawler.FetchRequest) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable page domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		for _, c := range toNetworkCookies(request.URL, request.Cookies) {
			if err := c.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	})
}

func (f *Fetcher) navigateAndIdleAction(url string, meta *responseMeta, life *lifecycle) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, loaderID, errorText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return fmt.Errorf("navigate: %w", err)
		}
		meta.setLoader(loaderID)
		if errorText != "" {
			return fmt.Errorf("navigate: %s", errorText)
		}
		return life.waitIdle(ctx, loaderID, f.cfg.IdleTimeout)
	})
}

func (f *Fetcher) taskTimeout() time.Duration {
	return f.cfg.IdleTimeout + f.cfg.SettleDelay + 15*time.Second
}

func (f *Fetcher) acquire(ctx context.Context) error {
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	select {
	case <-f.limiter:
	default:
	}
}

// responseMeta records document responses by loader so that only the
// top-level navigation, not an iframe, decides the page status.
type responseMeta struct {
	mu     sync.RWMutex
	loader cdp.LoaderID
	docs   map[cdp.LoaderID]document
}

type document struct {
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{docs: make(map[cdp.LoaderID]document)}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.docs[event.LoaderID] = document{status: int(event.Response.Status), url: event.Response.URL}
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

// setLoader selects the navigation whose document response is reported.
func (m *responseMeta) setLoader(loaderID cdp.LoaderID) {
	m.mu.Lock()
	m.loader = loaderID
	m.mu.Unlock()
}

// snapshotWithFallbacks returns the document status and URL, falling back to
// the tab location or the requested URL and to 200 when Chrome reported no
// document response (for example a page served from cache).
func (m *responseMeta) snapshotWithFallbacks(requestURL, location string) (int, string) {
	m.mu.RLock()
	doc := m.docs[m.loader]
	m.mu.RUnlock()
	status, url := doc.status, doc.url
	switch {
	case location != "" && location != "about:blank":
		url = location
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}

// lifecycle collects networkIdle events by loader so a wait only matches the
// navigation it started.
type lifecycle struct {
	mu     sync.Mutex
	idle   map[cdp.LoaderID]struct{}
	signal chan struct{}
}

func newLifecycle() *lifecycle {
	return &lifecycle{
		idle:   make(map[cdp.LoaderID]struct{}),
		signal: make(chan struct{}, 1),
	}
}

func (l *lifecycle) captureEvent(ev any) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok || e.Name != "networkIdle" {
		return
	}
	l.mu.Lock()
	l.idle[e.LoaderID] = struct{}{}
	l.mu.Unlock()
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *lifecycle) reached(loaderID cdp.LoaderID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.idle[loaderID]
	return ok
}

func (l *lifecycle) waitIdle(ctx context.Context, loaderID cdp.LoaderID, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for !l.reached(loaderID) {
		select {
		case <-l.signal:
		case <-timer.C:
			return ErrRenderTimeout
		case <-ctx.Done():
			return fmt.Errorf("wait for network idle: %w", ctx.Err())
		}
	}
	return nil
}

func toNetworkCookies(url string, cookies map[string]string) []*network.SetCookieParams {
	if len(cookies) == 0 {
		return nil
	}
	out := make([]*network.SetCookieParams, 0, len(cookies))
	for name, value := range cookies {
		out = append(out, network.SetCookie(name, value).WithURL(url))
	}
	return out
}
