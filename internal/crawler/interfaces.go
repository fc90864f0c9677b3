package crawler

import (
	"context"
	"time"
)

// SessionStore persists sessions and everything discovered while crawling them.
type SessionStore interface {
	CreateSession(ctx context.Context, session Session) error
	UpdateStatus(ctx context.Context, sessionID string, status Status, finishedAt *time.Time) error
	IncrementCounters(ctx context.Context, sessionID string, delta Counters) error
	GetSession(ctx context.Context, sessionID string) (Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	SavePage(ctx context.Context, page PageResult) error
	ListPages(ctx context.Context, sessionID string) ([]PageResult, error)
	SaveFlow(ctx context.Context, flow NavigationFlow) error
	ListFlows(ctx context.Context, sessionID string) ([]NavigationFlow, error)
	SaveLink(ctx context.Context, link LinkRecord) error
	ListLinks(ctx context.Context, sessionID string, kind LinkKind) ([]LinkRecord, error)
}

// Fetcher retrieves and parses a single page.
//
// A non-nil error marks the page as failed; the returned PageResult still
// carries whatever was observed (status code, elapsed time).
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (PageResult, error)
}

// ConcurrencyLimited is implemented by fetchers that cannot serve the full
// requested worker count. MaxConcurrency returns 0 for no limit.
type ConcurrencyLimited interface {
	MaxConcurrency() int
}

// Callbacks receives discovery and lifecycle events for one session. Methods
// are invoked from many goroutines and must be safe for concurrent use.
type Callbacks interface {
	OnPageDiscovered(page PageResult)
	OnFlowDiscovered(path []string, depth int)
	OnAttachmentFound(url string, pageID string)
	OnExternalURLFound(url string, foundOnPage string)
	OnInternalLinkFound(url string, foundOnPage string)
	OnComplete()
	OnError(err error)
}

// Hasher computes content fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session and page IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
