// Package collyfetcher implements the static crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/fetcher"
)

// Defaults applied when Config leaves a field empty.
const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) JCrawler/1.0"
	DefaultTimeout   = 30 * time.Second
)

// Config controls collector behavior.
type Config struct {
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// MaxBodySize caps the bytes read per response; 0 keeps colly's default.
	MaxBodySize int `mapstructure:"max_body_size"`
}

// Fetcher implements crawler.Fetcher with one GET per page and no script
// execution.
type Fetcher struct {
	cfg           Config
	hasher        crawler.Hasher
	logger        *zap.Logger
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// capture collects what the hooks observe for one visit.
type capture struct {
	status   int
	finalURL string
	body     []byte
	err      error
}

// New builds a Fetcher. Clones of the base collector share its HTTP client,
// so transport, timeout and cookie settings are fixed here.
func New(cfg Config, hasher crawler.Hasher, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.UserAgent(cfg.UserAgent),
	)
	// Status handling happens in Fetch; colly would otherwise treat 203-299
	// as errors.
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	// Sessions send their cookies explicitly; a shared jar would leak them
	// between sessions.
	c.DisableCookies()

	return &Fetcher{
		cfg:           cfg,
		hasher:        hasher,
		logger:        logger.Named("colly"),
		baseCollector: c,
	}
}

// Fetch GETs request.URL, following redirects. Any non-2xx status is a
// failure reported as "HTTP <code>: <status text>".
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.PageResult, error) {
	start := time.Now()
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	var got capture
	f.configureCollectorHooks(collector, request, &got)

	err := f.runCollector(ctx, collector, request.URL)
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		// The visit may still be writing to got.
		return crawler.PageResult{Elapsed: time.Since(start), VisitedAt: start}, err
	}
	if err != nil && got.err == nil {
		got.err = err
	}

	page := crawler.PageResult{
		StatusCode: got.status,
		Elapsed:    time.Since(start),
		VisitedAt:  start,
	}
	if got.err != nil {
		if got.status > 0 {
			return page, httpError(got.status)
		}
		return page, fmt.Errorf("colly response failed: %w", got.err)
	}
	if got.status < 200 || got.status > 299 {
		return page, httpError(got.status)
	}

	page.Success = true
	page, err = fetcher.BuildResult(page, got.finalURL, got.body, f.hasher)
	if err != nil {
		page.Success = false
		return page, err
	}
	f.logger.Debug("page fetched",
		zap.String("session_id", request.SessionID),
		zap.String("url", request.URL),
		zap.Int("status_code", got.status),
		zap.Int("bytes", len(got.body)),
		zap.Duration("elapsed", page.Elapsed))
	return page, nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, request crawler.FetchRequest, got *capture) {
	cookie := crawler.CookieHeader(request.Cookies)
	hooks.OnRequest(func(r *colly.Request) {
		if cookie != "" {
			r.Headers.Set("Cookie", cookie)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		got.status = r.StatusCode
		got.body = append([]byte(nil), r.Body...)
		if r.Request != nil && r.Request.URL != nil {
			got.finalURL = r.Request.URL.String()
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		got.err = err
		if r != nil {
			got.status = r.StatusCode
		}
	})
}

// runCollector visits url, returning as soon as ctx ends. The request itself
// carries ctx too, so the abandoned visit aborts shortly after.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func httpError(status int) error {
	return fmt.Errorf("HTTP %d: %s", status, http.StatusText(status))
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
	}
}
