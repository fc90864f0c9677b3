package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/linkclass"
	"github.com/JakeFAU/sitecrawler/internal/progress"
)

// recorder implements crawler.Callbacks for one session. Store failures are
// logged and never reach the engine.
type recorder struct {
	svc     *Service
	session crawler.Session
	logger  *zap.Logger
	done    chan struct{}

	mu       sync.Mutex
	counters crawler.Counters
	pageURLs map[string]string
	stopped  bool
	finished bool
	doneOnce sync.Once
}

var _ crawler.Callbacks = (*recorder)(nil)

func newRecorder(svc *Service, session crawler.Session) *recorder {
	return &recorder{
		svc:      svc,
		session:  session,
		logger:   svc.logger.With(zap.String("session_id", session.ID)),
		done:     make(chan struct{}),
		pageURLs: make(map[string]string),
	}
}

func (r *recorder) OnPageDiscovered(page crawler.PageResult) {
	delta := crawler.Counters{Pages: 1}
	if !page.Success {
		delta.FailedPages = 1
	}
	total := r.count(delta, func() {
		if page.ID != "" {
			r.pageURLs[page.ID] = page.URL
		}
	}).Pages

	r.write("save page", func(ctx context.Context) error {
		return r.svc.store.SavePage(ctx, page)
	})
	r.increment(delta)
	r.svc.emit(progress.Event{
		SessionID:   r.session.ID,
		Type:        progress.TypePageDiscovered,
		Site:        r.session.BaseDomain,
		URL:         page.URL,
		FoundOn:     page.ParentURL,
		Depth:       page.Depth,
		StatusCode:  page.StatusCode,
		StatusClass: progress.ClassifyStatus(page.StatusCode),
		Success:     page.Success,
		Bytes:       int64(page.ContentLength),
		Dur:         nonNegative(page.Elapsed),
		Total:       total,
		Note:        page.ErrorMessage,
	})
}

func (r *recorder) OnFlowDiscovered(path []string, depth int) {
	flow := crawler.NewNavigationFlow(path, depth)
	flow.SessionID = r.session.ID
	flow.DiscoveredAt = r.now()
	id, err := r.svc.ids.NewID()
	if err != nil {
		r.logger.Warn("generate flow id", zap.Error(err))
	}
	flow.ID = id

	delta := crawler.Counters{Flows: 1}
	total := r.count(delta, nil).Flows
	r.write("save flow", func(ctx context.Context) error {
		return r.svc.store.SaveFlow(ctx, flow)
	})
	r.increment(delta)
	r.svc.emit(progress.Event{
		SessionID: r.session.ID,
		Type:      progress.TypeFlowDiscovered,
		Site:      r.session.BaseDomain,
		URL:       flow.EndURL,
		FoundOn:   flow.StartURL,
		Depth:     depth,
		Path:      flow.Path,
		Total:     total,
	})
}

func (r *recorder) OnAttachmentFound(url string, pageID string) {
	var foundOn string
	total := r.count(crawler.Counters{Attachments: 1}, func() {
		foundOn = r.pageURLs[pageID]
	}).Attachments
	name, ext := linkclass.FileName(url)
	r.saveLink(crawler.LinkRecord{
		Kind:        crawler.LinkAttachment,
		URL:         url,
		FoundOnPage: foundOn,
		PageID:      pageID,
		FileName:    name,
		Extension:   ext,
	}, crawler.Counters{Attachments: 1}, progress.TypeAttachmentFound, total)
}

func (r *recorder) OnExternalURLFound(url string, foundOnPage string) {
	delta := crawler.Counters{ExternalURLs: 1}
	total := r.count(delta, nil).ExternalURLs
	r.saveLink(crawler.LinkRecord{
		Kind:        crawler.LinkExternal,
		URL:         url,
		FoundOnPage: foundOnPage,
	}, delta, progress.TypeExternalURLFound, total)
}

func (r *recorder) OnInternalLinkFound(url string, foundOnPage string) {
	delta := crawler.Counters{InternalLinks: 1}
	total := r.count(delta, nil).InternalLinks
	r.saveLink(crawler.LinkRecord{
		Kind:        crawler.LinkInternal,
		URL:         url,
		FoundOnPage: foundOnPage,
	}, delta, progress.TypeInternalLinkFound, total)
}

func (r *recorder) OnComplete() {
	r.mu.Lock()
	status := crawler.StatusCompleted
	if r.stopped {
		status = crawler.StatusStopped
	}
	r.mu.Unlock()
	r.finish(status, "")
}

func (r *recorder) OnError(err error) {
	msg := "crawl failed"
	if err != nil {
		msg = err.Error()
	}
	r.finish(crawler.StatusFailed, msg)
}

func (r *recorder) saveLink(link crawler.LinkRecord, delta crawler.Counters, typ progress.Type, total int) {
	link.SessionID = r.session.ID
	link.DiscoveredAt = r.now()
	r.write("save link", func(ctx context.Context) error {
		return r.svc.store.SaveLink(ctx, link)
	})
	r.increment(delta)
	r.svc.emit(progress.Event{
		SessionID: r.session.ID,
		Type:      typ,
		Site:      r.session.BaseDomain,
		URL:       link.URL,
		FoundOn:   link.FoundOnPage,
		Total:     total,
	})
}

// count adds delta to the in-memory totals, runs fn under the same lock and
// returns the new totals.
func (r *recorder) count(delta crawler.Counters, fn func()) crawler.Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = r.counters.Add(delta)
	if fn != nil {
		fn()
	}
	return r.counters
}

func (r *recorder) increment(delta crawler.Counters) {
	r.write("increment counters", func(ctx context.Context) error {
		return r.svc.store.IncrementCounters(ctx, r.session.ID, delta)
	})
}

// markStopped makes the eventual completion record STOPPED.
func (r *recorder) markStopped() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
}

// transition persists a pause, resume or stop request. It is ignored once the
// session has finished, and a stopped session never goes back to PAUSED or
// RUNNING.
func (r *recorder) transition(ctx context.Context, status crawler.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished || (r.stopped && status != crawler.StatusStopped) {
		return
	}
	if err := r.svc.store.UpdateStatus(ctx, r.session.ID, status, nil); err != nil {
		r.logger.Warn("persist status", zap.String("status", string(status)), zap.Error(err))
		return
	}
	r.svc.emit(progress.Event{
		SessionID: r.session.ID,
		Type:      progress.TypeStatusChanged,
		Site:      r.session.BaseDomain,
		Status:    string(status),
	})
}

func (r *recorder) finish(status crawler.Status, errText string) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	counters := r.counters
	r.mu.Unlock()

	now := r.now()
	r.write("persist final status", func(ctx context.Context) error {
		return r.svc.store.UpdateStatus(ctx, r.session.ID, status, &now)
	})
	r.svc.forget(r.session.ID)

	evt := progress.Event{
		SessionID: r.session.ID,
		Type:      progress.TypeCompleted,
		Site:      r.session.BaseDomain,
		Status:    string(status),
		Dur:       nonNegative(now.Sub(r.session.StartedAt)),
		Total:     counters.Pages,
	}
	if status == crawler.StatusFailed {
		evt.Type = progress.TypeError
		evt.Note = errText
		r.logger.Error("session failed", zap.String("error", errText))
	} else {
		r.logger.Info("session finished",
			zap.String("status", string(status)),
			zap.Int("pages", counters.Pages),
			zap.Int("failed_pages", counters.FailedPages),
			zap.Int("flows", counters.Flows),
			zap.Int("attachments", counters.Attachments),
			zap.Int("external_urls", counters.ExternalURLs),
			zap.Int("internal_links", counters.InternalLinks))
	}
	r.svc.emit(evt)
	r.closeDone()
}

func (r *recorder) closeDone() {
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *recorder) write(op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.svc.cfg.StoreTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		r.logger.Warn("store write failed", zap.String("op", op), zap.Error(err))
	}
}

func (r *recorder) now() time.Time {
	return r.svc.clock.Now().UTC()
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
