// Package queue serializes build requests against the shared project tree.
//
// The Coordinator accepts requests from any number of callers, validates them
// before they are queued, and drains them in FIFO order with a single worker.
// Each caller receives exactly one Result per accepted request; progress
// updates are fanned out to subscribers while the job runs.
package queue
