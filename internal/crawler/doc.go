// Package crawler holds the domain model shared by the crawl engine, the
// fetchers, the session service and the stores: sessions and their options,
// frontier entries, page results, navigation flows and link records, plus the
// interfaces those subsystems use to talk to each other.
package crawler
