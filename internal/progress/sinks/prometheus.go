package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/sitecrawler/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus. It owns collectors for
// session lifecycle, page fetches, link discovery and per-session throughput.
type PrometheusSink struct {
	sessionsStarted   prometheus.Counter
	sessionsCompleted *prometheus.CounterVec
	sessionsRunning   prometheus.Gauge
	sessionRuntime    *prometheus.HistogramVec

	pages         *prometheus.CounterVec
	pageBytes     *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	links         *prometheus.CounterVec

	pagesPerSecond *prometheus.GaugeVec
	activeWorkers  *prometheus.GaugeVec
	frontierSize   *prometheus.GaugeVec

	tracker *sessionTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitecrawler_sessions_started_total",
			Help: "Total crawl sessions that have started.",
		}),
		sessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecrawler_sessions_completed_total",
			Help: "Total crawl sessions finished partitioned by final status.",
		}, []string{"status"}),
		sessionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitecrawler_sessions_running",
			Help: "Current number of running crawl sessions.",
		}),
		sessionRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitecrawler_session_runtime_seconds",
			Help:    "Wall time per finished crawl session.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"status"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecrawler_pages_total",
			Help: "Pages fetched partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		pageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecrawler_page_bytes_total",
			Help: "Page body bytes fetched per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitecrawler_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by site and status class.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site", "status_class"}),
		links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitecrawler_links_discovered_total",
			Help: "Discovered links and flows partitioned by site and kind.",
		}, []string{"site", "kind"}),
		pagesPerSecond: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sitecrawler_pages_per_second",
			Help: "Most recent throughput sample per running session.",
		}, []string{"session_id"}),
		activeWorkers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sitecrawler_active_workers",
			Help: "In-flight work items per running session.",
		}, []string{"session_id"}),
		frontierSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sitecrawler_frontier_size",
			Help: "Queued frontier entries per running session.",
		}, []string{"session_id"}),
		tracker: newSessionTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.sessionsStarted,
		s.sessionsCompleted,
		s.sessionsRunning,
		s.sessionRuntime,
		s.pages,
		s.pageBytes,
		s.fetchDuration,
		s.links,
		s.pagesPerSecond,
		s.activeWorkers,
		s.frontierSize,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	switch evt.Type {
	case progress.TypeSessionStarted:
		s.sessionsStarted.Inc()
		if s.tracker.start(evt.SessionID) {
			s.sessionsRunning.Inc()
		}
	case progress.TypeCompleted, progress.TypeError:
		s.handleFinish(evt)
	case progress.TypePageDiscovered:
		s.handlePage(evt, site)
	case progress.TypeFlowDiscovered:
		s.links.WithLabelValues(site, "flow").Inc()
	case progress.TypeInternalLinkFound:
		s.links.WithLabelValues(site, "internal").Inc()
	case progress.TypeExternalURLFound:
		s.links.WithLabelValues(site, "external").Inc()
	case progress.TypeAttachmentFound:
		s.links.WithLabelValues(site, "attachment").Inc()
	case progress.TypeMetrics:
		if s.tracker.running(evt.SessionID) {
			s.pagesPerSecond.WithLabelValues(evt.SessionID).Set(evt.PagesPerSecond)
			s.activeWorkers.WithLabelValues(evt.SessionID).Set(float64(evt.ActiveWorkers))
			s.frontierSize.WithLabelValues(evt.SessionID).Set(float64(evt.QueueSize))
		}
	}
}

func (s *PrometheusSink) handleFinish(evt progress.Event) {
	status := evt.Status
	if status == "" {
		status = "unknown"
	}
	s.sessionsCompleted.WithLabelValues(status).Inc()
	if evt.Dur > 0 {
		s.sessionRuntime.WithLabelValues(status).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.SessionID) {
		s.sessionsRunning.Dec()
	}
	s.pagesPerSecond.DeleteLabelValues(evt.SessionID)
	s.activeWorkers.DeleteLabelValues(evt.SessionID)
	s.frontierSize.DeleteLabelValues(evt.SessionID)
}

func (s *PrometheusSink) handlePage(evt progress.Event, site string) {
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.ClassifyStatus(evt.StatusCode))
	}
	s.pages.WithLabelValues(site, statusClass).Inc()
	if evt.Bytes > 0 {
		s.pageBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(site, statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type sessionTracker struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{active: make(map[string]struct{})}
}

func (t *sessionTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; ok {
		return false
	}
	t.active[id] = struct{}{}
	return true
}

func (t *sessionTracker) running(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[id]
	return ok
}

func (t *sessionTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; !ok {
		return false
	}
	delete(t.active, id)
	return true
}
