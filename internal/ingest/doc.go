// Package ingest accepts telemetry frames from field devices over raw TCP.
//
// This package is internal to Airboard. Each accepted connection carries
// exactly one frame: the device writes it and closes its side. The
// [Listener] reads until end of stream or the read timeout, parses the frame,
// checks the device is registered, emits a [telemetry.ReceivedEvent] on
// [Listener.Events] and then records the reading as the device's latest.
//
// The event is emitted before persistence so viewers see live data even when
// the database is slow or failing. A full event buffer drops the event
// rather than stalling the connection.
package ingest
