// Package progress carries scrape lifecycle events from the queue to pluggable
// sinks. A Hub batches events on a background goroutine so emitters never block
// on logging, metrics or the event bus.
package progress
