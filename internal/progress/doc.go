// Package progress carries crawl discovery and lifecycle events from the
// engine and service to pluggable sinks. A Hub batches events on a background
// goroutine so emitters never wait on logging or metrics.
package progress
