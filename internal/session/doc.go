// Package session runs the per-connection state machine for live viewers.
//
// This package is internal to Airboard. A viewer connection moves through
// three states:
//
//	AwaitingIdentify -> Active -> Closed
//
// The first inbound message must be an identify envelope naming a scope. Once
// accepted, the session is registered with the [hub.Hub] and the handler
// forwards keep_alive ticks, readings and status changes until a write fails,
// the viewer disconnects, or the server shuts down. Any failure while
// awaiting identify closes the connection without registering.
//
// A connection identifies once. Later inbound messages are read and discarded
// only to notice disconnects.
package session
