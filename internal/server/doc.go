// Package server provides the viewer-facing HTTP server for Airboard.
//
// This package is internal to Airboard and handles:
//
//   - WebSocket upgrades on /ws, handed to the session handler
//   - The read-only device and reading query API
//   - Health and Prometheus endpoints
//   - Serving the embedded dashboard
//
// The server uses Go 1.22 method and wildcard route patterns and shuts down
// gracefully when its context is cancelled.
package server
