// Package hub fans ingested events out to connected viewer sessions.
//
// This package is internal to Airboard. The main components are:
//
//   - [Hub]: Registry of live sessions with scope-filtered publishing
//   - [Session]: A viewer's id, scope and bounded delivery channels
//
// Publishing never blocks: each session has a tiny buffer and a send to a full
// buffer is dropped for that session only. A slow viewer therefore misses
// events instead of stalling ingestion or other viewers.
package hub
