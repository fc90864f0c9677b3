package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/engine"
	"github.com/JakeFAU/sitecrawler/internal/progress"
)

// DefaultStoreTimeout bounds each store write made from engine callbacks.
const DefaultStoreTimeout = 5 * time.Second

// Engine is the part of *engine.Engine the service drives.
type Engine interface {
	StartCrawl(session crawler.Session, cb crawler.Callbacks) error
	PauseCrawl(id string) bool
	ResumeCrawl(id string) bool
	StopCrawl(id string) bool
	Stats(id string) (engine.Stats, bool)
}

// Config carries crawl defaults and store timeouts.
type Config struct {
	Defaults     crawler.Options
	StoreTimeout time.Duration
}

// Deps are the collaborators a Service is built from.
type Deps struct {
	Store   crawler.SessionStore
	Engine  Engine
	IDs     crawler.IDGenerator
	Clock   crawler.Clock
	Emitter progress.Emitter
	Logger  *zap.Logger
}

// Service manages the lifecycle of crawl sessions.
type Service struct {
	cfg     Config
	store   crawler.SessionStore
	engine  Engine
	ids     crawler.IDGenerator
	clock   crawler.Clock
	emitter progress.Emitter
	logger  *zap.Logger

	mu        sync.Mutex
	recorders map[string]*recorder
}

// New validates deps and builds a Service.
func New(cfg Config, deps Deps) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("service: session store is required")
	case deps.Engine == nil:
		return nil, errors.New("service: engine is required")
	case deps.IDs == nil:
		return nil, errors.New("service: id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("service: clock is required")
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.Defaults.ConcurrentWorkers == 0 && cfg.Defaults.AttachmentExtensions == nil {
		cfg.Defaults = crawler.DefaultOptions()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		engine:    deps.Engine,
		ids:       deps.IDs,
		clock:     deps.Clock,
		emitter:   deps.Emitter,
		logger:    logger.Named("service"),
		recorders: make(map[string]*recorder),
	}, nil
}

// Defaults returns a copy of the options applied to unset request fields.
func (s *Service) Defaults() crawler.Options {
	return s.cfg.Defaults.Clone()
}

// Start validates req, persists a new session and hands it to the engine.
func (s *Service) Start(ctx context.Context, req StartRequest) (crawler.Session, error) {
	start, domain, err := seed(req.StartURL)
	if err != nil {
		return crawler.Session{}, err
	}
	opts := req.Options(s.cfg.Defaults)
	if err := opts.Validate(); err != nil {
		return crawler.Session{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.Session{}, fmt.Errorf("generate session id: %w", err)
	}

	session := crawler.Session{
		ID:         id,
		StartURL:   start,
		BaseDomain: domain,
		Status:     crawler.StatusInitialized,
		StartedAt:  s.clock.Now().UTC(),
		Options:    opts,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return crawler.Session{}, fmt.Errorf("create session: %w", err)
	}
	if err := s.store.UpdateStatus(ctx, id, crawler.StatusRunning, nil); err != nil {
		return crawler.Session{}, fmt.Errorf("mark session running: %w", err)
	}
	session.Status = crawler.StatusRunning

	rec := newRecorder(s, session)
	s.track(rec)
	s.emit(progress.Event{
		SessionID: id,
		Type:      progress.TypeSessionStarted,
		Site:      domain,
		URL:       start,
		Status:    string(crawler.StatusRunning),
	})
	if err := s.engine.StartCrawl(session, rec); err != nil {
		s.forget(id)
		now := s.clock.Now().UTC()
		if uerr := s.store.UpdateStatus(ctx, id, crawler.StatusFailed, &now); uerr != nil {
			s.logger.Warn("mark session failed", zap.String("session_id", id), zap.Error(uerr))
		}
		s.emit(progress.Event{
			SessionID: id,
			Type:      progress.TypeError,
			Site:      domain,
			Status:    string(crawler.StatusFailed),
			Note:      err.Error(),
		})
		rec.closeDone()
		return crawler.Session{}, err
	}

	s.logger.Info("session started",
		zap.String("session_id", id),
		zap.String("start_url", start),
		zap.String("base_domain", domain))
	return session, nil
}

// Pause stops dispatching new pages for id.
func (s *Service) Pause(ctx context.Context, id string) (crawler.Session, error) {
	return s.control(ctx, id, crawler.StatusPaused, s.engine.PauseCrawl)
}

// Resume lets a paused session continue.
func (s *Service) Resume(ctx context.Context, id string) (crawler.Session, error) {
	return s.control(ctx, id, crawler.StatusRunning, s.engine.ResumeCrawl)
}

// Stop ends the session. The final STOPPED record, with its finish time, is
// written once in-flight pages drain.
func (s *Service) Stop(ctx context.Context, id string) (crawler.Session, error) {
	return s.control(ctx, id, crawler.StatusStopped, func(id string) bool {
		rec := s.recorder(id)
		if rec == nil {
			return false
		}
		rec.markStopped()
		return s.engine.StopCrawl(id)
	})
}

func (s *Service) control(ctx context.Context, id string, status crawler.Status, apply func(string) bool) (crawler.Session, error) {
	if _, err := s.store.GetSession(ctx, id); err != nil {
		return crawler.Session{}, err
	}
	rec := s.recorder(id)
	if rec == nil || !apply(id) {
		return crawler.Session{}, fmt.Errorf("%s %s: %w", verb(status), id, crawler.ErrSessionNotActive)
	}
	rec.transition(ctx, status)
	return s.store.GetSession(ctx, id)
}

// Get returns the stored session.
func (s *Service) Get(ctx context.Context, id string) (crawler.Session, error) {
	return s.store.GetSession(ctx, id)
}

// Stats returns live frontier counts for an active session.
func (s *Service) Stats(id string) (engine.Stats, bool) {
	return s.engine.Stats(id)
}

// List returns every stored session.
func (s *Service) List(ctx context.Context) ([]crawler.Session, error) {
	return s.store.ListSessions(ctx)
}

// Pages returns the pages recorded for id.
func (s *Service) Pages(ctx context.Context, id string) ([]crawler.PageResult, error) {
	if _, err := s.store.GetSession(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListPages(ctx, id)
}

// PageNode is a page together with the links recorded on it.
type PageNode struct {
	crawler.PageResult
	// ChildPages are the internal links found on the page, repeats included.
	ChildPages []string `json:"child_pages"`
	// URLs are the external URLs found on the page.
	URLs []string `json:"urls"`
	// Downloads are the attachments found on the page.
	Downloads []Download `json:"downloads"`
}

// Download names one attachment of a page.
type Download struct {
	URL      string `json:"url"`
	FileName string `json:"file_name,omitempty"`
}

// PageGraph returns the pages recorded for id, each with its internal links,
// external URLs and attachments. Links are matched to pages by the URL they
// were found on; attachments by page id.
func (s *Service) PageGraph(ctx context.Context, id string) ([]PageNode, error) {
	pages, err := s.Pages(ctx, id)
	if err != nil {
		return nil, err
	}
	internal, err := s.store.ListLinks(ctx, id, crawler.LinkInternal)
	if err != nil {
		return nil, err
	}
	external, err := s.store.ListLinks(ctx, id, crawler.LinkExternal)
	if err != nil {
		return nil, err
	}
	attachments, err := s.store.ListLinks(ctx, id, crawler.LinkAttachment)
	if err != nil {
		return nil, err
	}

	children := make(map[string][]string)
	for _, link := range internal {
		children[link.FoundOnPage] = append(children[link.FoundOnPage], link.URL)
	}
	urls := make(map[string][]string)
	for _, link := range external {
		urls[link.FoundOnPage] = append(urls[link.FoundOnPage], link.URL)
	}
	downloads := make(map[string][]Download)
	for _, link := range attachments {
		downloads[link.PageID] = append(downloads[link.PageID], Download{URL: link.URL, FileName: link.FileName})
	}

	nodes := make([]PageNode, 0, len(pages))
	for _, page := range pages {
		node := PageNode{
			PageResult: page,
			ChildPages: children[page.URL],
			URLs:       urls[page.URL],
			Downloads:  downloads[page.ID],
		}
		if node.ChildPages == nil {
			node.ChildPages = []string{}
		}
		if node.URLs == nil {
			node.URLs = []string{}
		}
		if node.Downloads == nil {
			node.Downloads = []Download{}
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// Flows returns the navigation flows recorded for id.
func (s *Service) Flows(ctx context.Context, id string) ([]crawler.NavigationFlow, error) {
	if _, err := s.store.GetSession(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListFlows(ctx, id)
}

// Links returns the link records of one kind recorded for id.
func (s *Service) Links(ctx context.Context, id string, kind crawler.LinkKind) ([]crawler.LinkRecord, error) {
	if _, err := s.store.GetSession(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListLinks(ctx, id, kind)
}

// Wait blocks until id reaches a terminal state or ctx ends, then returns
// the stored session.
func (s *Service) Wait(ctx context.Context, id string) (crawler.Session, error) {
	if rec := s.recorder(id); rec != nil {
		select {
		case <-rec.done:
		case <-ctx.Done():
			return crawler.Session{}, fmt.Errorf("wait for session %s: %w", id, ctx.Err())
		}
	}
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return crawler.Session{}, err
	}
	if !session.Status.Terminal() {
		return session, fmt.Errorf("wait for session %s: %w", id, crawler.ErrSessionNotActive)
	}
	return session, nil
}

func (s *Service) track(rec *recorder) {
	s.mu.Lock()
	s.recorders[rec.session.ID] = rec
	s.mu.Unlock()
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	delete(s.recorders, id)
	s.mu.Unlock()
}

func (s *Service) recorder(id string) *recorder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorders[id]
}

func (s *Service) emit(evt progress.Event) {
	if s.emitter == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = s.clock.Now().UTC()
	}
	s.emitter.Emit(evt)
}

func verb(status crawler.Status) string {
	switch status {
	case crawler.StatusPaused:
		return "pause"
	case crawler.StatusStopped:
		return "stop"
	default:
		return "resume"
	}
}
