// Package progress carries crawl milestones from the engine to pluggable
// sinks. Events are buffered and flushed in batches on a background goroutine
// so emitters never block on slow consumers.
package progress
