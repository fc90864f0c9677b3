package progress

import (
	"errors"
	"fmt"
	"time"
)

// Type denotes the kind of milestone represented by an Event.
type Type string

// Supported event types.
const (
	TypeSessionStarted    Type = "SESSION_STARTED"
	TypeStatusChanged     Type = "STATUS_CHANGED"
	TypePageDiscovered    Type = "PAGE_DISCOVERED"
	TypeFlowDiscovered    Type = "FLOW_DISCOVERED"
	TypeAttachmentFound   Type = "ATTACHMENT_FOUND"
	TypeExternalURLFound  Type = "EXTERNAL_URL_FOUND"
	TypeInternalLinkFound Type = "INTERNAL_LINK_FOUND"
	TypeMetrics           Type = "METRICS"
	TypeLog               Type = "LOG"
	TypeCompleted         Type = "CRAWL_COMPLETED"
	TypeError             Type = "CRAWL_ERROR"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for page events.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single component of crawl progress.
type Event struct {
	// SessionID identifies the crawl session.
	SessionID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Type denotes which milestone occurred.
	Type Type
	// Site is the session's base domain, used as a metrics label.
	Site string
	// URL is the page, link or attachment the event is about.
	URL string
	// FoundOn is the page a link was discovered on.
	FoundOn string
	// Depth is the crawl depth of a page or flow.
	Depth int
	// Path is the navigation path of a flow event.
	Path []string
	// StatusCode is the HTTP status of a page event (0 when no response).
	StatusCode int
	// StatusClass groups StatusCode.
	StatusClass StatusClass
	// Success marks page events whose fetch succeeded.
	Success bool
	// Bytes is the page body size.
	Bytes int64
	// Dur is the fetch latency for pages and the session runtime for completions.
	Dur time.Duration
	// Status is the new session status for status and completion events.
	Status string
	// Total is the running count for the event's type within the session.
	Total int
	// PagesPerSecond, ActiveWorkers and QueueSize are set on metrics samples.
	PagesPerSecond float64
	ActiveWorkers  int
	QueueSize      int
	// Level is the severity of a log event (info, warn, error).
	Level string
	// Note carries low-volume context such as error text or a log message.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SessionID == "" {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case TypeSessionStarted, TypeStatusChanged, TypeCompleted, TypeError, TypeLog:
	case TypePageDiscovered, TypeAttachmentFound, TypeExternalURLFound, TypeInternalLinkFound:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Type)
		}
	case TypeFlowDiscovered:
		if len(e.Path) < 2 {
			return errors.New("flow requires a path of at least two urls")
		}
	case TypeMetrics:
		if e.PagesPerSecond < 0 || e.ActiveWorkers < 0 || e.QueueSize < 0 {
			return errors.New("metrics values must be >= 0")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for page events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
