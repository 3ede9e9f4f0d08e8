// Package protocol defines the JSON envelopes exchanged with viewer
// connections.
//
// This package is internal to Airboard. Every message is an object with a
// "type" tag and, except for keep_alive, a "data" payload:
//
//	{"type":"identify","data":{"type":"child","id":"D1"}}
//	{"type":"data","data":{"id":"D1","co":0.5, ...}}
//	{"type":"device_active","data":{"id":"D1","active":true}}
//	{"type":"keep_alive"}
//
// Only identify is accepted inbound; the other three are produced by the
// server.
package protocol
