// Package progress carries job lifecycle events from the poll loop to pluggable
// sinks. A Hub buffers events without blocking the emitter and flushes them in
// batches on a background goroutine.
package progress
