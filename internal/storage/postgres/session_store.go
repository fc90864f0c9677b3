// Package postgres provides a Postgres-backed crawler.SessionStore.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// Postgres error codes mapped onto crawler sentinels.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// dbtx is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it
// in tests.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// SessionStore persists sessions and crawl results in Postgres.
type SessionStore struct {
	db dbtx
}

var _ crawler.SessionStore = (*SessionStore)(nil)

// NewSessionStore connects to Postgres using cfg.
func NewSessionStore(ctx context.Context, cfg Config) (*SessionStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SessionStore{db: pool}, nil
}

// NewSessionStoreWithPool wraps an existing pool (primarily for testing).
func NewSessionStoreWithPool(db dbtx) (*SessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SessionStore{db: db}, nil
}

// Migrate creates the schema when it does not exist.
func (s *SessionStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *SessionStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// CreateSession inserts a new session row.
func (s *SessionStore) CreateSession(ctx context.Context, session crawler.Session) error {
	options, err := json.Marshal(session.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	const query = `
INSERT INTO crawl_sessions (
	id, start_url, base_domain, status, started_at, finished_at, options
) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err = s.db.Exec(ctx, query,
		session.ID,
		session.StartURL,
		session.BaseDomain,
		string(session.Status),
		session.StartedAt,
		session.FinishedAt,
		options,
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", session.ID, mapError(err))
	}
	return nil
}

// UpdateStatus sets the status. A nil finishedAt keeps the stored finish time.
func (s *SessionStore) UpdateStatus(ctx context.Context, sessionID string, status crawler.Status, finishedAt *time.Time) error {
	const query = `
UPDATE crawl_sessions
SET status = $2, finished_at = COALESCE($3, finished_at)
WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, sessionID, string(status), finishedAt)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrSessionNotFound
	}
	return nil
}

// IncrementCounters adds delta to the session's counters in one statement.
func (s *SessionStore) IncrementCounters(ctx context.Context, sessionID string, delta crawler.Counters) error {
	const query = `
UPDATE crawl_sessions SET
	pages = pages + $2,
	failed_pages = failed_pages + $3,
	flows = flows + $4,
	attachments = attachments + $5,
	external_urls = external_urls + $6,
	internal_links = internal_links + $7
WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, sessionID,
		delta.Pages, delta.FailedPages, delta.Flows,
		delta.Attachments, delta.ExternalURLs, delta.InternalLinks)
	if err != nil {
		return fmt.Errorf("increment counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrSessionNotFound
	}
	return nil
}

const sessionColumns = `id, start_url, base_domain, status, started_at, finished_at, options,
	pages, failed_pages, flows, attachments, external_urls, internal_links`

// GetSession fetches a session by ID.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (crawler.Session, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM crawl_sessions WHERE id = $1`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Session{}, crawler.ErrSessionNotFound
	}
	if err != nil {
		return crawler.Session{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return session, nil
}

// ListSessions returns every session, most recently started first.
func (s *SessionStore) ListSessions(ctx context.Context) ([]crawler.Session, error) {
	rows, err := s.db.Query(ctx, `SELECT `+sessionColumns+` FROM crawl_sessions ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	out := make([]crawler.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// SavePage inserts a page row.
func (s *SessionStore) SavePage(ctx context.Context, page crawler.PageResult) error {
	const query = `
INSERT INTO crawl_pages (
	id, session_id, url, parent_url, depth, success, status_code, title,
	content_hash, content_length, error_message, elapsed_ns, visited_at, rendered
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	_, err := s.db.Exec(ctx, query,
		page.ID, page.SessionID, page.URL, page.ParentURL, page.Depth, page.Success,
		page.StatusCode, page.Title, page.ContentHash, page.ContentLength,
		page.ErrorMessage, int64(page.Elapsed), page.VisitedAt, page.Rendered,
	)
	if err != nil {
		return fmt.Errorf("insert page: %w", mapError(err))
	}
	return nil
}

// ListPages returns the recorded pages in discovery order.
func (s *SessionStore) ListPages(ctx context.Context, sessionID string) ([]crawler.PageResult, error) {
	const query = `
SELECT id, session_id, url, parent_url, depth, success, status_code, title,
	content_hash, content_length, error_message, elapsed_ns, visited_at, rendered
FROM crawl_pages WHERE session_id = $1 ORDER BY seq`
	rows, err := s.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()
	out := make([]crawler.PageResult, 0)
	for rows.Next() {
		var (
			page    crawler.PageResult
			elapsed int64
		)
		if err := rows.Scan(&page.ID, &page.SessionID, &page.URL, &page.ParentURL, &page.Depth,
			&page.Success, &page.StatusCode, &page.Title, &page.ContentHash, &page.ContentLength,
			&page.ErrorMessage, &elapsed, &page.VisitedAt, &page.Rendered); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		page.Elapsed = time.Duration(elapsed)
		out = append(out, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return out, nil
}

// SaveFlow inserts a navigation flow row.
func (s *SessionStore) SaveFlow(ctx context.Context, flow crawler.NavigationFlow) error {
	const query = `
INSERT INTO crawl_flows (id, session_id, start_url, end_url, path, depth, discovered_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := s.db.Exec(ctx, query,
		flow.ID, flow.SessionID, flow.StartURL, flow.EndURL, flow.Path, flow.Depth, flow.DiscoveredAt)
	if err != nil {
		return fmt.Errorf("insert flow: %w", mapError(err))
	}
	return nil
}

// ListFlows returns the recorded flows in discovery order.
func (s *SessionStore) ListFlows(ctx context.Context, sessionID string) ([]crawler.NavigationFlow, error) {
	const query = `
SELECT id, session_id, start_url, end_url, path, depth, discovered_at
FROM crawl_flows WHERE session_id = $1 ORDER BY seq`
	rows, err := s.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()
	out := make([]crawler.NavigationFlow, 0)
	for rows.Next() {
		var flow crawler.NavigationFlow
		if err := rows.Scan(&flow.ID, &flow.SessionID, &flow.StartURL, &flow.EndURL,
			&flow.Path, &flow.Depth, &flow.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		out = append(out, flow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	return out, nil
}

// SaveLink inserts a link row.
func (s *SessionStore) SaveLink(ctx context.Context, link crawler.LinkRecord) error {
	const query = `
INSERT INTO crawl_links (session_id, kind, url, found_on_page, page_id, file_name, extension, discovered_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := s.db.Exec(ctx, query,
		link.SessionID, string(link.Kind), link.URL, link.FoundOnPage,
		link.PageID, link.FileName, link.Extension, link.DiscoveredAt)
	if err != nil {
		return fmt.Errorf("insert link: %w", mapError(err))
	}
	return nil
}

// ListLinks returns the session's link rows of kind in discovery order.
func (s *SessionStore) ListLinks(ctx context.Context, sessionID string, kind crawler.LinkKind) ([]crawler.LinkRecord, error) {
	const query = `
SELECT session_id, kind, url, found_on_page, page_id, file_name, extension, discovered_at
FROM crawl_links WHERE session_id = $1 AND kind = $2 ORDER BY seq`
	rows, err := s.db.Query(ctx, query, sessionID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()
	out := make([]crawler.LinkRecord, 0)
	for rows.Next() {
		var (
			link    crawler.LinkRecord
			rawKind string
		)
		if err := rows.Scan(&link.SessionID, &rawKind, &link.URL, &link.FoundOnPage,
			&link.PageID, &link.FileName, &link.Extension, &link.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		link.Kind = crawler.LinkKind(rawKind)
		out = append(out, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return out, nil
}

func scanSession(row pgx.Row) (crawler.Session, error) {
	var (
		session  crawler.Session
		status   string
		finished *time.Time
		options  []byte
	)
	err := row.Scan(
		&session.ID, &session.StartURL, &session.BaseDomain, &status,
		&session.StartedAt, &finished, &options,
		&session.Counters.Pages, &session.Counters.FailedPages, &session.Counters.Flows,
		&session.Counters.Attachments, &session.Counters.ExternalURLs, &session.Counters.InternalLinks,
	)
	if err != nil {
		return crawler.Session{}, err
	}
	session.Status = crawler.Status(status)
	session.FinishedAt = finished
	if len(options) > 0 {
		if err := json.Unmarshal(options, &session.Options); err != nil {
			return crawler.Session{}, fmt.Errorf("decode options: %w", err)
		}
	}
	return session, nil
}

// mapError turns constraint violations into crawler sentinels.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return crawler.ErrSessionExists
	case codeForeignKeyViolation:
		return crawler.ErrSessionNotFound
	default:
		return err
	}
}
