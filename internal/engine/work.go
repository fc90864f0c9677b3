package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/linkclass"
)

// process fetches one claimed entry, reports it and queues what it links to.
// It always releases the active slot, whatever happens inside.
func (e *Engine) process(r *run, entry crawler.FrontierEntry) {
	defer r.frontier.DecActive()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("work item panicked",
				zap.String("url", entry.URL),
				zap.Any("panic", rec),
				zap.Stack("stack"))
		}
	}()

	page := e.fetch(r, entry)
	r.safe("OnPageDiscovered", func() { r.cb.OnPageDiscovered(page) })
	if page.Success && page.Document != nil {
		e.follow(r, entry, page)
	}
	e.pause(r.session.Options.Delay())
}

// fetch calls the session fetcher and stamps the engine-owned fields.
func (e *Engine) fetch(r *run, entry crawler.FrontierEntry) crawler.PageResult {
	start := e.clock.Now()
	page, err := r.fetcher.Fetch(r.ctx, crawler.FetchRequest{
		SessionID: r.session.ID,
		URL:       entry.URL,
		ParentURL: entry.ParentURL,
		Depth:     entry.Depth,
		Cookies:   r.session.Options.Cookies,
	})

	id, idErr := e.ids.NewID()
	if idErr != nil {
		r.logger.Warn("page id generation failed", zap.String("url", entry.URL), zap.Error(idErr))
	}
	page.ID = id
	page.SessionID = r.session.ID
	page.URL = entry.URL
	page.ParentURL = entry.ParentURL
	page.Depth = entry.Depth
	if page.VisitedAt.IsZero() {
		page.VisitedAt = start
	}
	if page.Elapsed <= 0 {
		page.Elapsed = e.clock.Now().Sub(start)
	}
	if err != nil {
		page.Success = false
		page.Document = nil
		if page.ErrorMessage == "" {
			page.ErrorMessage = err.Error()
		}
		r.logger.Debug("page fetch failed",
			zap.String("url", entry.URL),
			zap.Int("status_code", page.StatusCode),
			zap.Error(err))
	}
	return page
}

// follow classifies the links of a fetched page, reports them and queues
// unvisited internal pages one level deeper.
func (e *Engine) follow(r *run, entry crawler.FrontierEntry, page crawler.PageResult) {
	base := page.URL
	if page.Document.Url != nil {
		base = page.Document.Url.String()
	}
	exts := r.session.Options.AttachmentExtensions
	links := linkclass.Classify(page.Document, base, r.session.BaseDomain, exts)

	depth := entry.Depth + 1
	for _, link := range links.Internal {
		r.safe("OnInternalLinkFound", func() { r.cb.OnInternalLinkFound(link, page.URL) })
		if r.frontier.IsVisited(link) {
			continue
		}
		r.frontier.Push(crawler.FrontierEntry{URL: link, Depth: depth, ParentURL: page.URL})
		path := flowPath(entry.ParentURL, page.URL, link)
		r.safe("OnFlowDiscovered", func() { r.cb.OnFlowDiscovered(path, depth) })
	}
	for _, link := range links.Attachments {
		r.safe("OnAttachmentFound", func() { r.cb.OnAttachmentFound(link, page.ID) })
	}
	for _, link := range links.External {
		r.safe("OnExternalURLFound", func() { r.cb.OnExternalURLFound(link, page.URL) })
	}
}

// pause sleeps for the request delay. Only engine shutdown cuts it short.
func (e *Engine) pause(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-e.ctx.Done():
	}
}

// flowPath is [grandparent, parent, child], or [parent, child] from the seed.
func flowPath(grandparent, parent, child string) []string {
	if grandparent == "" {
		return []string{parent, child}
	}
	return []string{grandparent, parent, child}
}
