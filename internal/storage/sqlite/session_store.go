// Package sqlite provides a file-backed crawler.SessionStore on the pure-Go
// modernc.org/sqlite driver, suited to single-host CLI runs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

const schema = `
CREATE TABLE IF NOT EXISTS crawl_sessions (
	id             TEXT PRIMARY KEY,
	start_url      TEXT NOT NULL,
	base_domain    TEXT NOT NULL,
	status         TEXT NOT NULL,
	started_at     INTEGER NOT NULL,
	finished_at    INTEGER,
	options        TEXT NOT NULL,
	pages          INTEGER NOT NULL DEFAULT 0,
	failed_pages   INTEGER NOT NULL DEFAULT 0,
	flows          INTEGER NOT NULL DEFAULT 0,
	attachments    INTEGER NOT NULL DEFAULT 0,
	external_urls  INTEGER NOT NULL DEFAULT 0,
	internal_links INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS crawl_pages (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL,
	session_id     TEXT NOT NULL REFERENCES crawl_sessions(id) ON DELETE CASCADE,
	url            TEXT NOT NULL,
	parent_url     TEXT NOT NULL DEFAULT '',
	depth          INTEGER NOT NULL,
	success        INTEGER NOT NULL,
	status_code    INTEGER NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	content_hash   TEXT NOT NULL DEFAULT '',
	content_length INTEGER NOT NULL DEFAULT 0,
	error_message  TEXT NOT NULL DEFAULT '',
	elapsed_ns     INTEGER NOT NULL DEFAULT 0,
	visited_at     INTEGER NOT NULL,
	rendered       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_pages_session ON crawl_pages(session_id, seq);

CREATE TABLE IF NOT EXISTS crawl_flows (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT NOT NULL,
	session_id    TEXT NOT NULL REFERENCES crawl_sessions(id) ON DELETE CASCADE,
	start_url     TEXT NOT NULL,
	end_url       TEXT NOT NULL,
	path          TEXT NOT NULL,
	depth         INTEGER NOT NULL,
	discovered_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_flows_session ON crawl_flows(session_id, seq);

CREATE TABLE IF NOT EXISTS crawl_links (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL REFERENCES crawl_sessions(id) ON DELETE CASCADE,
	kind          TEXT NOT NULL,
	url           TEXT NOT NULL,
	found_on_page TEXT NOT NULL DEFAULT '',
	page_id       TEXT NOT NULL DEFAULT '',
	file_name     TEXT NOT NULL DEFAULT '',
	extension     TEXT NOT NULL DEFAULT '',
	discovered_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_links_session_kind ON crawl_links(session_id, kind, seq);
`

// SessionStore persists sessions in a SQLite database file.
type SessionStore struct {
	db   *sql.DB
	path string
}

var _ crawler.SessionStore = (*SessionStore)(nil)

// Open opens or creates the database at path, enables WAL and foreign keys
// and creates the schema.
func Open(ctx context.Context, path string) (*SessionStore, error) {
	if path == "" {
		return nil, fmt.Errorf("storage.sqlite_path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	dsn := "file:" + path + "?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &SessionStore{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *SessionStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session row.
func (s *SessionStore) CreateSession(ctx context.Context, session crawler.Session) error {
	options, err := json.Marshal(session.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO crawl_sessions (id, start_url, base_domain, status, started_at, finished_at, options)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.StartURL, session.BaseDomain, string(session.Status),
		toNanos(session.StartedAt), nullNanos(session.FinishedAt), string(options))
	if err != nil {
		return fmt.Errorf("insert session %s: %w", session.ID, mapError(err))
	}
	return nil
}

// UpdateStatus sets the status. A nil finishedAt keeps the stored finish time.
func (s *SessionStore) UpdateStatus(ctx context.Context, sessionID string, status crawler.Status, finishedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_sessions SET status = ?, finished_at = COALESCE(?, finished_at) WHERE id = ?`,
		string(status), nullNanos(finishedAt), sessionID)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return requireRow(res)
}

// IncrementCounters adds delta to the session's counters.
func (s *SessionStore) IncrementCounters(ctx context.Context, sessionID string, delta crawler.Counters) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE crawl_sessions SET
	pages = pages + ?,
	failed_pages = failed_pages + ?,
	flows = flows + ?,
	attachments = attachments + ?,
	external_urls = external_urls + ?,
	internal_links = internal_links + ?
WHERE id = ?`,
		delta.Pages, delta.FailedPages, delta.Flows,
		delta.Attachments, delta.ExternalURLs, delta.InternalLinks, sessionID)
	if err != nil {
		return fmt.Errorf("increment counters: %w", err)
	}
	return requireRow(res)
}

const sessionColumns = `id, start_url, base_domain, status, started_at, finished_at, options,
	pages, failed_pages, flows, attachments, external_urls, internal_links`

// GetSession fetches a session by ID.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (crawler.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM crawl_sessions WHERE id = ?`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Session{}, crawler.ErrSessionNotFound
	}
	if err != nil {
		return crawler.Session{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return session, nil
}

// ListSessions returns every session, most recently started first.
func (s *SessionStore) ListSessions(ctx context.Context) ([]crawler.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM crawl_sessions ORDER BY started_at DESC, id`)
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
	return out, rows.Err()
}

// SavePage inserts a page row.
func (s *SessionStore) SavePage(ctx context.Context, page crawler.PageResult) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO crawl_pages (
	id, session_id, url, parent_url, depth, success, status_code, title,
	content_hash, content_length, error_message, elapsed_ns, visited_at, rendered
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		page.ID, page.SessionID, page.URL, page.ParentURL, page.Depth, page.Success,
		page.StatusCode, page.Title, page.ContentHash, page.ContentLength,
		page.ErrorMessage, int64(page.Elapsed), toNanos(page.VisitedAt), page.Rendered)
	if err != nil {
		return fmt.Errorf("insert page: %w", mapError(err))
	}
	return nil
}

// ListPages returns the recorded pages in discovery order.
func (s *SessionStore) ListPages(ctx context.Context, sessionID string) ([]crawler.PageResult, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, url, parent_url, depth, success, status_code, title,
	content_hash, content_length, error_message, elapsed_ns, visited_at, rendered
FROM crawl_pages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()
	out := make([]crawler.PageResult, 0)
	for rows.Next() {
		var (
			page             crawler.PageResult
			elapsed, visited int64
		)
		if err := rows.Scan(&page.ID, &page.SessionID, &page.URL, &page.ParentURL, &page.Depth,
			&page.Success, &page.StatusCode, &page.Title, &page.ContentHash, &page.ContentLength,
			&page.ErrorMessage, &elapsed, &visited, &page.Rendered); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		page.Elapsed = time.Duration(elapsed)
		page.VisitedAt = fromNanos(visited)
		out = append(out, page)
	}
	return out, rows.Err()
}

// SaveFlow inserts a navigation flow row; the path is stored as JSON.
func (s *SessionStore) SaveFlow(ctx context.Context, flow crawler.NavigationFlow) error {
	path, err := json.Marshal(flow.Path)
	if err != nil {
		return fmt.Errorf("marshal flow path: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO crawl_flows (id, session_id, start_url, end_url, path, depth, discovered_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		flow.ID, flow.SessionID, flow.StartURL, flow.EndURL, string(path), flow.Depth, toNanos(flow.DiscoveredAt))
	if err != nil {
		return fmt.Errorf("insert flow: %w", mapError(err))
	}
	return nil
}

// ListFlows returns the recorded flows in discovery order.
func (s *SessionStore) ListFlows(ctx context.Context, sessionID string) ([]crawler.NavigationFlow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, start_url, end_url, path, depth, discovered_at
FROM crawl_flows WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()
	out := make([]crawler.NavigationFlow, 0)
	for rows.Next() {
		var (
			flow       crawler.NavigationFlow
			path       string
			discovered int64
		)
		if err := rows.Scan(&flow.ID, &flow.SessionID, &flow.StartURL, &flow.EndURL,
			&path, &flow.Depth, &discovered); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		if err := json.Unmarshal([]byte(path), &flow.Path); err != nil {
			return nil, fmt.Errorf("decode flow path: %w", err)
		}
		flow.DiscoveredAt = fromNanos(discovered)
		out = append(out, flow)
	}
	return out, rows.Err()
}

// SaveLink inserts a link row.
func (s *SessionStore) SaveLink(ctx context.Context, link crawler.LinkRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO crawl_links (session_id, kind, url, found_on_page, page_id, file_name, extension, discovered_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		link.SessionID, string(link.Kind), link.URL, link.FoundOnPage,
		link.PageID, link.FileName, link.Extension, toNanos(link.DiscoveredAt))
	if err != nil {
		return fmt.Errorf("insert link: %w", mapError(err))
	}
	return nil
}

// ListLinks returns the session's link rows of kind in discovery order.
func (s *SessionStore) ListLinks(ctx context.Context, sessionID string, kind crawler.LinkKind) ([]crawler.LinkRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, kind, url, found_on_page, page_id, file_name, extension, discovered_at
FROM crawl_links WHERE session_id = ? AND kind = ? ORDER BY seq`, sessionID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()
	out := make([]crawler.LinkRecord, 0)
	for rows.Next() {
		var (
			link       crawler.LinkRecord
			rawKind    string
			discovered int64
		)
		if err := rows.Scan(&link.SessionID, &rawKind, &link.URL, &link.FoundOnPage,
			&link.PageID, &link.FileName, &link.Extension, &discovered); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		link.Kind = crawler.LinkKind(rawKind)
		link.DiscoveredAt = fromNanos(discovered)
		out = append(out, link)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (crawler.Session, error) {
	var (
		session  crawler.Session
		status   string
		started  int64
		finished sql.NullInt64
		options  string
	)
	err := row.Scan(
		&session.ID, &session.StartURL, &session.BaseDomain, &status, &started, &finished, &options,
		&session.Counters.Pages, &session.Counters.FailedPages, &session.Counters.Flows,
		&session.Counters.Attachments, &session.Counters.ExternalURLs, &session.Counters.InternalLinks,
	)
	if err != nil {
		return crawler.Session{}, err
	}
	session.Status = crawler.Status(status)
	session.StartedAt = fromNanos(started)
	if finished.Valid {
		t := fromNanos(finished.Int64)
		session.FinishedAt = &t
	}
	if err := json.Unmarshal([]byte(options), &session.Options); err != nil {
		return crawler.Session{}, fmt.Errorf("decode options: %w", err)
	}
	return session, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return crawler.ErrSessionNotFound
	}
	return nil
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// mapError turns constraint violations into crawler sentinels.
func mapError(err error) error {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return crawler.ErrSessionExists
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return crawler.ErrSessionNotFound
	default:
		return err
	}
}
