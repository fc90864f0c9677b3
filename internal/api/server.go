package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/engine"
	"github.com/JakeFAU/sitecrawler/internal/id/uuid"
	"github.com/JakeFAU/sitecrawler/internal/metrics"
	"github.com/JakeFAU/sitecrawler/internal/service"
)

const maxBodyBytes = 1 << 20

// CrawlService is the session API the handlers drive; *service.Service
// implements it.
type CrawlService interface {
	Start(ctx context.Context, req service.StartRequest) (crawler.Session, error)
	Pause(ctx context.Context, id string) (crawler.Session, error)
	Resume(ctx context.Context, id string) (crawler.Session, error)
	Stop(ctx context.Context, id string) (crawler.Session, error)
	Get(ctx context.Context, id string) (crawler.Session, error)
	Stats(id string) (engine.Stats, bool)
	List(ctx context.Context) ([]crawler.Session, error)
	Pages(ctx context.Context, id string) ([]crawler.PageResult, error)
	PageGraph(ctx context.Context, id string) ([]service.PageNode, error)
	Flows(ctx context.Context, id string) ([]crawler.NavigationFlow, error)
	Links(ctx context.Context, id string, kind crawler.LinkKind) ([]crawler.LinkRecord, error)
}

// Config controls middleware behavior.
type Config struct {
	RequestTimeout time.Duration
	AuthEnabled    bool
	APIKey         string
}

// Server wires HTTP handlers to the crawl service.
type Server struct {
	router chi.Router
	svc    CrawlService
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. httpMetrics and
// gatherer are optional.
func NewServer(
	cfg Config,
	svc CrawlService,
	httpMetrics *metrics.HTTP,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		svc:    svc,
		logger: logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestIDHeader)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(chimw.Timeout(cfg.RequestTimeout))
	if httpMetrics != nil {
		r.Use(httpMetrics.Middleware)
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))

	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/cookies/parse", s.parseCookies)
		r.Route("/crawls", func(r chi.Router) {
			r.Post("/", s.startCrawl)
			r.Get("/", s.listCrawls)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Use(validSessionID)
				r.Get("/", s.getCrawl)
				r.Post("/pause", s.pauseCrawl)
				r.Post("/resume", s.resumeCrawl)
				r.Post("/stop", s.stopCrawl)
				r.Get("/pages", s.listPages)
				r.Get("/flows", s.listFlows)
				r.Get("/external-urls", s.listLinks(crawler.LinkExternal))
				r.Get("/attachments", s.listLinks(crawler.LinkAttachment))
				r.Get("/internal-links", s.listLinks(crawler.LinkInternal))
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req service.StartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	session, err := s.svc.Start(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, session)
}

func (s *Server) listCrawls(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.svc.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type crawlDetail struct {
	Session crawler.Session `json:"session"`
	Live    *engine.Stats   `json:"live,omitempty"`
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	session, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	detail := crawlDetail{Session: session}
	if stats, ok := s.svc.Stats(id); ok {
		detail.Live = &stats
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) pauseCrawl(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.svc.Pause)
}

func (s *Server) resumeCrawl(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.svc.Resume)
}

func (s *Server) stopCrawl(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.svc.Stop)
}

func (s *Server) control(
	w http.ResponseWriter,
	r *http.Request,
	op func(context.Context, string) (crawler.Session, error),
) {
	session, err := op(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// listPages returns bare page rows, or with ?expand=links each page's child
// pages, external URLs and downloads.
func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	if r.URL.Query().Get("expand") == "links" {
		nodes, err := s.svc.PageGraph(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pages": nodes})
		return
	}
	pages, err := s.svc.Pages(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *Server) listFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.svc.Flows(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flows": flows})
}

func (s *Server) listLinks(kind crawler.LinkKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		links, err := s.svc.Links(r.Context(), chi.URLParam(r, "session_id"), kind)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"kind": kind, "links": links})
	}
}

type parseCookiesRequest struct {
	Cookies string `json:"cookies"`
}

func (s *Server) parseCookies(w http.ResponseWriter, r *http.Request) {
	var req parseCookiesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cookies": crawler.ParseCookieString(req.Cookies)})
}

// writeServiceError maps crawler sentinels onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, crawler.ErrInvalidStartURL),
		errors.Is(err, crawler.ErrInvalidOptions),
		errors.Is(err, crawler.ErrRenderingDisabled):
		return http.StatusBadRequest
	case errors.Is(err, crawler.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, crawler.ErrSessionNotActive),
		errors.Is(err, crawler.ErrSessionExists):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func validSessionID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !uuid.Valid(chi.URLParam(r, "session_id")) {
			writeError(w, http.StatusBadRequest, "invalid session id")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
