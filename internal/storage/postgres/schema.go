package postgres

// schema creates the session tables. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS crawl_sessions (
	id             TEXT PRIMARY KEY,
	start_url      TEXT NOT NULL,
	base_domain    TEXT NOT NULL,
	status         TEXT NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL,
	finished_at    TIMESTAMPTZ,
	options        JSONB NOT NULL,
	pages          INTEGER NOT NULL DEFAULT 0,
	failed_pages   INTEGER NOT NULL DEFAULT 0,
	flows          INTEGER NOT NULL DEFAULT 0,
	attachments    INTEGER NOT NULL DEFAULT 0,
	external_urls  INTEGER NOT NULL DEFAULT 0,
	internal_links INTEGER NOT NULL DEFAULT 0
)`,
	`CREATE TABLE IF NOT EXISTS crawl_pages (
	seq            BIGSERIAL PRIMARY KEY,
	id             TEXT NOT NULL,
	session_id     TEXT NOT NULL REFERENCES crawl_sessions(id) ON DELETE CASCADE,
	url            TEXT NOT NULL,
	parent_url     TEXT NOT NULL DEFAULT '',
	depth          INTEGER NOT NULL,
	success        BOOLEAN NOT NULL,
	status_code    INTEGER NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	content_hash   TEXT NOT NULL DEFAULT '',
	content_length INTEGER NOT NULL DEFAULT 0,
	error_message  TEXT NOT NULL DEFAULT '',
	elapsed_ns     BIGINT NOT NULL DEFAULT 0,
	visited_at     TIMESTAMPTZ NOT NULL,
	rendered       BOOLEAN NOT NULL DEFAULT FALSE
)`,
	`CREATE INDEX IF NOT EXISTS crawl_pages_session_idx ON crawl_pages (session_id, seq)`,
	`CREATE TABLE IF NOT EXISTS crawl_flows (
	seq           BIGSERIAL PRIMARY KEY,
	id            TEXT NOT NULL,
	session_id    TEXT NOT NULL REFERENCES crawl_sessions(id) ON DELETE CASCADE,
	start_url     TEXT NOT NULL,
	end_url       TEXT NOT NULL,
	path          TEXT[] NOT NULL,
	depth         INTEGER NOT NULL,
	discovered_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS crawl_flows_session_idx ON crawl_flows (session_id, seq)`,
	`CREATE TABLE IF NOT EXISTS crawl_links (
	seq           BIGSERIAL PRIMARY KEY,
	session_id    TEXT NOT NULL REFERENCES crawl_sessions(id) ON DELETE CASCADE,
	kind          TEXT NOT NULL,
	url           TEXT NOT NULL,
	found_on_page TEXT NOT NULL DEFAULT '',
	page_id       TEXT NOT NULL DEFAULT '',
	file_name     TEXT NOT NULL DEFAULT '',
	extension     TEXT NOT NULL DEFAULT '',
	discovered_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS crawl_links_session_kind_idx ON crawl_links (session_id, kind, seq)`,
}
