// Package api hosts the HTTP server, middleware, and REST handlers for crawl
// sessions. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls to start a session and POST /v1/crawls/{id}/pause,
//     /resume and /stop to control it.
//   - GET /v1/crawls/{id}/pages, /flows, /external-urls, /attachments and
//     /internal-links for what a session discovered.
//   - POST /v1/cookies/parse to turn a Cookie header string into a map.
package api
