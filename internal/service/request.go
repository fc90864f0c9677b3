package service

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/linkclass"
)

// StartRequest describes a crawl to start. Nil option fields take the
// service defaults.
type StartRequest struct {
	StartURL             string            `json:"start_url"`
	MaxDepth             *int              `json:"max_depth,omitempty"`
	MaxPages             *int              `json:"max_pages,omitempty"`
	RequestDelay         *float64          `json:"request_delay_seconds,omitempty"`
	ConcurrentWorkers    *int              `json:"concurrent_workers,omitempty"`
	RenderJavaScript     bool              `json:"render_javascript,omitempty"`
	Cookies              map[string]string `json:"cookies,omitempty"`
	CookieString         string            `json:"cookie_string,omitempty"`
	AttachmentExtensions []string          `json:"attachment_extensions,omitempty"`
}

// Options merges the request over defaults. Cookies from CookieString are
// applied first so explicit Cookies win.
func (r StartRequest) Options(defaults crawler.Options) crawler.Options {
	opts := defaults.Clone()
	if r.MaxDepth != nil {
		opts.MaxDepth = *r.MaxDepth
	}
	if r.MaxPages != nil {
		opts.MaxPages = *r.MaxPages
	}
	if r.RequestDelay != nil {
		opts.RequestDelay = *r.RequestDelay
	}
	if r.ConcurrentWorkers != nil {
		opts.ConcurrentWorkers = *r.ConcurrentWorkers
	}
	if r.RenderJavaScript {
		opts.RenderJavaScript = true
	}
	if r.CookieString != "" || len(r.Cookies) > 0 {
		cookies := make(map[string]string, len(opts.Cookies)+len(r.Cookies))
		for k, v := range opts.Cookies {
			cookies[k] = v
		}
		for k, v := range crawler.ParseCookieString(r.CookieString) {
			cookies[k] = v
		}
		for k, v := range r.Cookies {
			cookies[k] = v
		}
		opts.Cookies = cookies
	}
	if len(r.AttachmentExtensions) > 0 {
		exts := make([]string, 0, len(r.AttachmentExtensions))
		for _, ext := range r.AttachmentExtensions {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext != "" && !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			if ext != "" {
				exts = append(exts, ext)
			}
		}
		opts.AttachmentExtensions = exts
	}
	return opts
}

// seed normalizes the start URL and derives the session's base domain.
func seed(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("%w: start_url is required", crawler.ErrInvalidStartURL)
	}
	start, ok := linkclass.Normalize(raw, raw)
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not an absolute http(s) url", crawler.ErrInvalidStartURL, raw)
	}
	domain, err := linkclass.ExtractDomain(start)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", crawler.ErrInvalidStartURL, err)
	}
	return start, domain, nil
}
