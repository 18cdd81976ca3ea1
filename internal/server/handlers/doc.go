// Package handlers implements the webapk HTTP API.
//
// BuildHandlers accepts multipart build requests, reports job state, streams
// progress as server-sent events and serves finished artifacts.
// MonitoringHandlers serves the health check.
package handlers
