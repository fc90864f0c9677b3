// Package service runs crawl sessions on the engine and records what they
// discover.
//
// Service validates start requests, persists session metadata through a
// crawler.SessionStore and translates engine callbacks into stored pages,
// flows and link records plus progress events. The HTTP API and the CLI
// both drive crawls through it.
package service
