package crawler

import (
	"fmt"
	"sort"
	"strings"
)

// Bounds enforced by Options.Validate.
const (
	MaxDepthLimit          = 50
	MaxPagesLimit          = 10000
	MaxConcurrentWorkers   = 20
	DefaultMaxDepth        = 50
	DefaultRequestDelay    = 1.0
	DefaultConcurrentCount = 5
)

// DefaultAttachmentExtensions lists file types recorded as attachments.
var DefaultAttachmentExtensions = []string{
	".pdf", ".docx", ".doc", ".xlsx", ".xls", ".ppt", ".pptx",
	".zip", ".rar", ".7z", ".tar", ".gz",
	".csv", ".txt", ".json", ".xml",
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".bmp", ".webp",
	".odt", ".ods", ".odp", ".rtf", ".sql", ".log", ".md",
}

// DefaultOptions returns the options applied when a request leaves fields unset.
func DefaultOptions() Options {
	return Options{
		MaxDepth:             DefaultMaxDepth,
		MaxPages:             0,
		RequestDelay:         DefaultRequestDelay,
		ConcurrentWorkers:    DefaultConcurrentCount,
		AttachmentExtensions: append([]string(nil), DefaultAttachmentExtensions...),
	}
}

// Validate checks the option ranges.
func (o Options) Validate() error {
	if o.MaxDepth < 0 || o.MaxDepth > MaxDepthLimit {
		return fmt.Errorf("%w: max_depth must be between 0 and %d", ErrInvalidOptions, MaxDepthLimit)
	}
	if o.MaxPages < 0 || o.MaxPages > MaxPagesLimit {
		return fmt.Errorf("%w: max_pages must be between 0 and %d", ErrInvalidOptions, MaxPagesLimit)
	}
	if o.RequestDelay < 0 {
		return fmt.Errorf("%w: request_delay_seconds must be >= 0", ErrInvalidOptions)
	}
	if o.ConcurrentWorkers < 1 || o.ConcurrentWorkers > MaxConcurrentWorkers {
		return fmt.Errorf("%w: concurrent_workers must be between 1 and %d", ErrInvalidOptions, MaxConcurrentWorkers)
	}
	for _, ext := range o.AttachmentExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("%w: attachment extension %q must start with '.'", ErrInvalidOptions, ext)
		}
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate a running session's options.
func (o Options) Clone() Options {
	cp := o
	if o.Cookies != nil {
		cp.Cookies = make(map[string]string, len(o.Cookies))
		for k, v := range o.Cookies {
			cp.Cookies[k] = v
		}
	}
	cp.AttachmentExtensions = append([]string(nil), o.AttachmentExtensions...)
	return cp
}

// ParseCookieString turns "a=1; b=2" into a map. Malformed parts are skipped.
func ParseCookieString(raw string) map[string]string {
	cookies := make(map[string]string)
	for _, part := range strings.Split(raw, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		cookies[key] = strings.TrimSpace(value)
	}
	return cookies
}

// CookieHeader renders cookies as a single Cookie header value in key order.
func CookieHeader(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	keys := make([]string, 0, len(cookies))
	for k := range cookies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+cookies[k])
	}
	return strings.Join(parts, "; ")
}
