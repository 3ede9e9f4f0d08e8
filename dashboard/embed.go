// Package dashboard provides the embedded viewer page for Airboard.
//
// The page opens a WebSocket to /ws, identifies with the main scope (or a
// single device when the URL carries ?device=<id>) and renders a live table
// of the latest reading and status per device. It is served by the viewer
// server at "/" with {{.Title}} replaced by the configured title.
package dashboard

import "embed"

// Assets holds assets/index.html.
//
//go:embed assets/*
var Assets embed.FS
