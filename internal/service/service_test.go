package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/clock/system"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/engine"
	"github.com/JakeFAU/sitecrawler/internal/fetcher"
	"github.com/JakeFAU/sitecrawler/internal/hash/sha256"
	"github.com/JakeFAU/sitecrawler/internal/id/uuid"
	"github.com/JakeFAU/sitecrawler/internal/progress"
	"github.com/JakeFAU/sitecrawler/internal/storage/memory"
)

// siteFetcher serves canned HTML keyed by URL.
type siteFetcher map[string]string

func (s siteFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.PageResult, error) {
	body, ok := s[req.URL]
	if !ok {
		return crawler.PageResult{StatusCode: 404}, errors.New("HTTP 404: Not Found")
	}
	return fetcher.BuildResult(crawler.PageResult{Success: true, StatusCode: 200}, req.URL, []byte(body), sha256.New())
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) ofType(t progress.Type) []progress.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []progress.Event
	for _, evt := range c.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

// fakeEngine records callbacks and lets tests finish sessions by hand.
type fakeEngine struct {
	mu       sync.Mutex
	startErr error
	// finishOnStart completes each session before StartCrawl returns.
	finishOnStart bool
	active        map[string]crawler.Callbacks
	calls         []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{active: make(map[string]crawler.Callbacks)}
}

func (f *fakeEngine) StartCrawl(session crawler.Session, cb crawler.Callbacks) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if f.finishOnStart {
		cb.OnComplete()
		return nil
	}
	f.active[session.ID] = cb
	return nil
}

func (f *fakeEngine) control(name, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	_, ok := f.active[id]
	return ok
}

func (f *fakeEngine) PauseCrawl(id string) bool  { return f.control("pause", id) }
func (f *fakeEngine) ResumeCrawl(id string) bool { return f.control("resume", id) }
func (f *fakeEngine) StopCrawl(id string) bool   { return f.control("stop", id) }

func (f *fakeEngine) Stats(id string) (engine.Stats, bool) {
	if !f.control("stats", id) {
		return engine.Stats{}, false
	}
	return engine.Stats{Status: crawler.StatusRunning, Workers: 1}, true
}

// end removes id from the active set and returns its callbacks.
func (f *fakeEngine) end(id string) crawler.Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	cb := f.active[id]
	delete(f.active, id)
	return cb
}

func newTestService(t *testing.T, eng Engine, emitter progress.Emitter) (*Service, *memory.SessionStore) {
	t.Helper()
	store := memory.NewSessionStore()
	svc, err := New(Config{}, Deps{
		Store:   store,
		Engine:  eng,
		IDs:     uuid.New(),
		Clock:   system.New(),
		Emitter: emitter,
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)
	return svc, store
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func quickRequest(start string) StartRequest {
	return StartRequest{
		StartURL:          start,
		MaxDepth:          intPtr(0),
		RequestDelay:      floatPtr(0),
		ConcurrentWorkers: intPtr(2),
	}
}

func waitFor(t *testing.T, svc *Service, id string) crawler.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	session, err := svc.Wait(ctx, id)
	require.NoError(t, err)
	return session
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{})
	require.Error(t, err)
	_, err = New(Config{}, Deps{Store: memory.NewSessionStore()})
	require.Error(t, err)
	_, err = New(Config{}, Deps{Store: memory.NewSessionStore(), Engine: newFakeEngine()})
	require.Error(t, err)
	_, err = New(Config{}, Deps{Store: memory.NewSessionStore(), Engine: newFakeEngine(), IDs: uuid.New()})
	require.Error(t, err)

	svc, _ := newTestService(t, newFakeEngine(), nil)
	require.Equal(t, crawler.DefaultOptions(), svc.Defaults())
}

func TestCrawlRecordsDiscoveries(t *testing.T) {
	t.Parallel()

	site := siteFetcher{
		"https://site.test/": `<html><head><title>Home</title></head><body>
			<a href="/a">A</a>
			<a href="https://other.org/x">elsewhere</a>
			<a href="/doc.pdf">report</a>
		</body></html>`,
		"https://site.test/a": `<html><body><a href="/">home</a></body></html>`,
	}
	eng, err := engine.New(engine.Config{IdleWait: 5 * time.Millisecond, MetricsInterval: time.Hour}, engine.Deps{
		Static: site,
		IDs:    uuid.New(),
		Clock:  system.New(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, eng.Shutdown(context.Background())) })

	emitter := &captureEmitter{}
	svc, _ := newTestService(t, eng, emitter)
	ctx := context.Background()

	session, err := svc.Start(ctx, quickRequest("https://site.test/#top"))
	require.NoError(t, err)
	require.Equal(t, "https://site.test/", session.StartURL)
	require.Equal(t, crawler.StatusRunning, session.Status)

	final := waitFor(t, svc, session.ID)
	require.Equal(t, crawler.StatusCompleted, final.Status)
	require.NotNil(t, final.FinishedAt)
	require.Equal(t, crawler.Counters{
		Pages:         2,
		Flows:         1,
		Attachments:   1,
		ExternalURLs:  1,
		InternalLinks: 2,
	}, final.Counters)

	pages, err := svc.Pages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	require.Equal(t, "https://site.test/", pages[0].URL)
	require.Equal(t, "Home", pages[0].Title)
	require.Len(t, pages[0].ContentHash, 64)

	graph, err := svc.PageGraph(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, graph, 2)
	require.Equal(t, pages[0].ID, graph[0].ID)
	require.Equal(t, []string{"https://site.test/a"}, graph[0].ChildPages)
	require.Equal(t, []string{"https://other.org/x"}, graph[0].URLs)
	require.Equal(t, []Download{{URL: "https://site.test/doc.pdf", FileName: "doc.pdf"}}, graph[0].Downloads)
	require.Equal(t, "https://site.test/a", graph[1].URL)
	require.Equal(t, []string{"https://site.test/"}, graph[1].ChildPages)
	require.Empty(t, graph[1].URLs)
	require.Empty(t, graph[1].Downloads)

	flows, err := svc.Flows(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	require.Equal(t, []string{"https://site.test/", "https://site.test/a"}, flows[0].Path)
	require.NotEmpty(t, flows[0].ID)

	attachments, err := svc.Links(ctx, session.ID, crawler.LinkAttachment)
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	require.Equal(t, "https://site.test/doc.pdf", attachments[0].URL)
	require.Equal(t, "https://site.test/", attachments[0].FoundOnPage)
	require.Equal(t, pages[0].ID, attachments[0].PageID)
	require.Equal(t, "doc.pdf", attachments[0].FileName)
	require.Equal(t, ".pdf", attachments[0].Extension)

	external, err := svc.Links(ctx, session.ID, crawler.LinkExternal)
	require.NoError(t, err)
	require.Len(t, external, 1)
	require.Equal(t, "https://other.org/x", external[0].URL)

	completed := emitter.ofType(progress.TypeCompleted)
	require.NotEmpty(t, completed)
	last := completed[len(completed)-1]
	require.Equal(t, session.ID, last.SessionID)
	require.Equal(t, string(crawler.StatusCompleted), last.Status)
	require.Equal(t, 2, last.Total)
	require.Len(t, emitter.ofType(progress.TypeSessionStarted), 1)
	for _, evt := range emitter.ofType(progress.TypePageDiscovered) {
		require.NoError(t, evt.Validate())
	}

	sessions, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestStartRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, newFakeEngine(), nil)
	ctx := context.Background()

	_, err := svc.Start(ctx, StartRequest{})
	require.ErrorIs(t, err, crawler.ErrInvalidStartURL)
	_, err = svc.Start(ctx, StartRequest{StartURL: "ftp://example.com/"})
	require.ErrorIs(t, err, crawler.ErrInvalidStartURL)
	_, err = svc.Start(ctx, StartRequest{StartURL: "https://example.com/", ConcurrentWorkers: intPtr(99)})
	require.ErrorIs(t, err, crawler.ErrInvalidOptions)
	_, err = svc.Start(ctx, StartRequest{StartURL: "https://example.com/", MaxPages: intPtr(-1)})
	require.ErrorIs(t, err, crawler.ErrInvalidOptions)

	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestStartMarksFailedWhenEngineRejects(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	eng.startErr = crawler.ErrRenderingDisabled
	emitter := &captureEmitter{}
	svc, store := newTestService(t, eng, emitter)
	ctx := context.Background()

	_, err := svc.Start(ctx, StartRequest{StartURL: "https://example.com/", RenderJavaScript: true})
	require.ErrorIs(t, err, crawler.ErrRenderingDisabled)

	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, crawler.StatusFailed, sessions[0].Status)
	require.NotNil(t, sessions[0].FinishedAt)
	require.True(t, sessions[0].Options.RenderJavaScript)

	failures := emitter.ofType(progress.TypeError)
	require.Len(t, failures, 1)
	require.Equal(t, string(crawler.StatusFailed), failures[0].Status)
	require.Contains(t, failures[0].Note, "rendering")
}

func TestSessionStartedPrecedesCompletion(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	eng.finishOnStart = true
	emitter := &captureEmitter{}
	svc, _ := newTestService(t, eng, emitter)

	session, err := svc.Start(context.Background(), quickRequest("https://example.com/"))
	require.NoError(t, err)
	final := waitFor(t, svc, session.ID)
	require.Equal(t, crawler.StatusCompleted, final.Status)

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	require.GreaterOrEqual(t, len(emitter.events), 2)
	require.Equal(t, progress.TypeSessionStarted, emitter.events[0].Type)
	require.Equal(t, progress.TypeCompleted, emitter.events[len(emitter.events)-1].Type)
}

func TestPauseResumeStop(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	emitter := &captureEmitter{}
	svc, _ := newTestService(t, eng, emitter)
	ctx := context.Background()

	session, err := svc.Start(ctx, quickRequest("https://example.com/"))
	require.NoError(t, err)

	paused, err := svc.Pause(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.StatusPaused, paused.Status)

	resumed, err := svc.Resume(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.StatusRunning, resumed.Status)

	stats, ok := svc.Stats(session.ID)
	require.True(t, ok)
	require.Equal(t, 1, stats.Workers)

	stopped, err := svc.Stop(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.StatusStopped, stopped.Status)
	require.Nil(t, stopped.FinishedAt)

	// A pause racing the drain must not overwrite STOPPED.
	again, err := svc.Pause(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.StatusStopped, again.Status)

	eng.end(session.ID).OnComplete()
	final := waitFor(t, svc, session.ID)
	require.Equal(t, crawler.StatusStopped, final.Status)
	require.NotNil(t, final.FinishedAt)

	changes := emitter.ofType(progress.TypeStatusChanged)
	require.Len(t, changes, 3)
	require.Equal(t, string(crawler.StatusPaused), changes[0].Status)
	require.Equal(t, string(crawler.StatusRunning), changes[1].Status)
	require.Equal(t, string(crawler.StatusStopped), changes[2].Status)

	_, err = svc.Resume(ctx, session.ID)
	require.ErrorIs(t, err, crawler.ErrSessionNotActive)
}

func TestControlErrors(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	svc, _ := newTestService(t, eng, nil)
	ctx := context.Background()

	_, err := svc.Pause(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrSessionNotFound)
	_, err = svc.Stop(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrSessionNotFound)
	_, err = svc.PageGraph(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrSessionNotFound)
	_, err = svc.Pages(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrSessionNotFound)
	_, err = svc.Flows(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrSessionNotFound)
	_, err = svc.Links(ctx, "missing", crawler.LinkExternal)
	require.ErrorIs(t, err, crawler.ErrSessionNotFound)

	session, err := svc.Start(ctx, quickRequest("https://example.com/"))
	require.NoError(t, err)
	eng.end(session.ID).OnComplete()

	final := waitFor(t, svc, session.ID)
	require.Equal(t, crawler.StatusCompleted, final.Status)
	_, err = svc.Pause(ctx, session.ID)
	require.ErrorIs(t, err, crawler.ErrSessionNotActive)
	_, err = svc.Stop(ctx, session.ID)
	require.ErrorIs(t, err, crawler.ErrSessionNotActive)
}

func TestOnErrorMarksFailed(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	emitter := &captureEmitter{}
	svc, _ := newTestService(t, eng, emitter)
	ctx := context.Background()

	session, err := svc.Start(ctx, quickRequest("https://example.com/"))
	require.NoError(t, err)
	cb := eng.end(session.ID)
	cb.OnError(errors.New("coordinator panic: boom"))
	cb.OnComplete()

	final := waitFor(t, svc, session.ID)
	require.Equal(t, crawler.StatusFailed, final.Status)
	failures := emitter.ofType(progress.TypeError)
	require.Len(t, failures, 1)
	require.Equal(t, "coordinator panic: boom", failures[0].Note)
	require.Empty(t, emitter.ofType(progress.TypeCompleted))
}

func TestRecorderCountsFailedPages(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	svc, store := newTestService(t, eng, nil)
	ctx := context.Background()

	session, err := svc.Start(ctx, quickRequest("https://example.com/"))
	require.NoError(t, err)
	cb := eng.end(session.ID)
	cb.OnPageDiscovered(crawler.PageResult{ID: "p-1", SessionID: session.ID, URL: "https://example.com/", Success: true, StatusCode: 200})
	cb.OnPageDiscovered(crawler.PageResult{ID: "p-2", SessionID: session.ID, URL: "https://example.com/x", StatusCode: 500, ErrorMessage: "HTTP 500: Internal Server Error"})
	cb.OnInternalLinkFound("https://example.com/x", "https://example.com/")
	cb.OnFlowDiscovered([]string{"https://example.com/", "https://example.com/x"}, 1)
	cb.OnComplete()

	final := waitFor(t, svc, session.ID)
	require.Equal(t, crawler.Counters{Pages: 2, FailedPages: 1, Flows: 1, InternalLinks: 1}, final.Counters)
	internal, err := store.ListLinks(ctx, session.ID, crawler.LinkInternal)
	require.NoError(t, err)
	require.Len(t, internal, 1)
	require.Equal(t, "https://example.com/", internal[0].FoundOnPage)
}

func TestWaitHonoursContext(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, newFakeEngine(), nil)
	session, err := svc.Start(context.Background(), quickRequest("https://example.com/"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.Wait(ctx, session.ID)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = svc.Wait(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrSessionNotFound)
}

func TestStartRequestOptions(t *testing.T) {
	t.Parallel()

	defaults := crawler.DefaultOptions()
	defaults.Cookies = map[string]string{"base": "1"}

	opts := StartRequest{}.Options(defaults)
	require.Equal(t, defaults, opts)

	opts = StartRequest{
		MaxDepth:             intPtr(0),
		MaxPages:             intPtr(100),
		RequestDelay:         floatPtr(0.25),
		ConcurrentWorkers:    intPtr(8),
		RenderJavaScript:     true,
		CookieString:         "a=1; b=2",
		Cookies:              map[string]string{"b": "3"},
		AttachmentExtensions: []string{"PDF", ".csv", " "},
	}.Options(defaults)
	require.Zero(t, opts.MaxDepth)
	require.Equal(t, 100, opts.MaxPages)
	require.Equal(t, 0.25, opts.RequestDelay)
	require.Equal(t, 8, opts.ConcurrentWorkers)
	require.True(t, opts.RenderJavaScript)
	require.Equal(t, map[string]string{"base": "1", "a": "1", "b": "3"}, opts.Cookies)
	require.Equal(t, []string{".pdf", ".csv"}, opts.AttachmentExtensions)
	require.Equal(t, map[string]string{"base": "1"}, defaults.Cookies)
}

func TestSeedNormalizesStartURL(t *testing.T) {
	t.Parallel()

	start, domain, err := seed("  https://WWW.Example.com:443/docs/#intro ")
	require.NoError(t, err)
	require.Equal(t, "https://www.example.com/docs/", start)
	require.Equal(t, "example.com", domain)

	_, _, err = seed("not a url")
	require.ErrorIs(t, err, crawler.ErrInvalidStartURL)
}
