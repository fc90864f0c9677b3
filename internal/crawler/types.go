package crawler

import (
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Status represents the lifecycle state of a crawl session.
type Status string

// Session status values persisted in the session store.
const (
	StatusInitialized Status = "initialized"
	StatusRunning     Status = "running"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusStopped     Status = "stopped"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// Options is the per-session configuration snapshot.
type Options struct {
	// MaxDepth bounds link depth from the seed; 0 means unbounded.
	MaxDepth int `json:"max_depth" mapstructure:"max_depth"`
	// MaxPages bounds the number of claimed URLs; 0 means unbounded.
	MaxPages int `json:"max_pages" mapstructure:"max_pages"`
	// RequestDelay is slept by each worker after a page, in seconds.
	RequestDelay float64 `json:"request_delay_seconds" mapstructure:"request_delay_seconds"`
	// ConcurrentWorkers sizes the worker pool.
	ConcurrentWorkers int `json:"concurrent_workers" mapstructure:"concurrent_workers"`
	// RenderJavaScript selects the script-rendering fetcher.
	RenderJavaScript bool `json:"render_javascript" mapstructure:"render_javascript"`
	// Cookies are sent with every request of the session.
	Cookies map[string]string `json:"cookies,omitempty" mapstructure:"cookies"`
	// AttachmentExtensions is the allow-list used to classify attachments.
	AttachmentExtensions []string `json:"attachment_extensions" mapstructure:"attachment_extensions"`
}

// Delay converts RequestDelay into a duration.
func (o Options) Delay() time.Duration {
	if o.RequestDelay <= 0 {
		return 0
	}
	return time.Duration(o.RequestDelay * float64(time.Second))
}

// Counters tracks discovery totals for a session.
type Counters struct {
	Pages         int `json:"pages"`
	FailedPages   int `json:"failed_pages"`
	Flows         int `json:"flows"`
	Attachments   int `json:"attachments"`
	ExternalURLs  int `json:"external_urls"`
	InternalLinks int `json:"internal_links"`
}

// Add returns the element-wise sum of c and delta.
func (c Counters) Add(delta Counters) Counters {
	return Counters{
		Pages:         c.Pages + delta.Pages,
		FailedPages:   c.FailedPages + delta.FailedPages,
		Flows:         c.Flows + delta.Flows,
		Attachments:   c.Attachments + delta.Attachments,
		ExternalURLs:  c.ExternalURLs + delta.ExternalURLs,
		InternalLinks: c.InternalLinks + delta.InternalLinks,
	}
}

// Session is the metadata persisted for each crawl.
type Session struct {
	ID         string     `json:"id"`
	StartURL   string     `json:"start_url"`
	BaseDomain string     `json:"base_domain"`
	Status     Status     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Counters   Counters   `json:"counters"`
	Options    Options    `json:"options"`
}

// FrontierEntry is a URL waiting to be claimed by the scheduler.
type FrontierEntry struct {
	URL       string
	Depth     int
	ParentURL string
}

// FetchRequest is handed to a Fetcher for a single page.
type FetchRequest struct {
	SessionID string
	URL       string
	ParentURL string
	Depth     int
	Cookies   map[string]string
}

// PageResult is the outcome of one fetch.
type PageResult struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"session_id"`
	URL           string        `json:"url"`
	ParentURL     string        `json:"parent_url,omitempty"`
	Depth         int           `json:"depth"`
	Success       bool          `json:"success"`
	StatusCode    int           `json:"status_code"`
	Title         string        `json:"title,omitempty"`
	ContentHash   string        `json:"content_hash,omitempty"`
	ContentLength int           `json:"content_length"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	Elapsed       time.Duration `json:"elapsed_ns"`
	VisitedAt     time.Time     `json:"visited_at"`
	Rendered      bool          `json:"rendered"`

	// Document is the parsed body; set only on success and never persisted.
	Document *goquery.Document `json:"-"`
}

// NavigationFlow is one discovered traversal edge. Flows are not deduplicated.
type NavigationFlow struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	StartURL     string    `json:"start_url"`
	EndURL       string    `json:"end_url"`
	Path         []string  `json:"path"`
	Depth        int       `json:"depth"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// NewNavigationFlow builds a flow from a 2 or 3 element path.
func NewNavigationFlow(path []string, depth int) NavigationFlow {
	flow := NavigationFlow{
		Path:  append([]string(nil), path...),
		Depth: depth,
	}
	switch n := len(path); {
	case n >= 2:
		flow.StartURL = path[n-2]
		flow.EndURL = path[n-1]
	case n == 1:
		flow.StartURL = path[0]
		flow.EndURL = path[0]
	}
	return flow
}

// LinkKind classifies a recorded link.
type LinkKind string

// Link kinds stored alongside pages.
const (
	LinkInternal   LinkKind = "internal"
	LinkExternal   LinkKind = "external"
	LinkAttachment LinkKind = "attachment"
)

// LinkRecord is persisted for each reported internal, external or attachment URL.
type LinkRecord struct {
	SessionID    string    `json:"session_id"`
	Kind         LinkKind  `json:"kind"`
	URL          string    `json:"url"`
	FoundOnPage  string    `json:"found_on_page,omitempty"`
	PageID       string    `json:"page_id,omitempty"`
	FileName     string    `json:"file_name,omitempty"`
	Extension    string    `json:"extension,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}
