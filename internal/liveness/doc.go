// Package liveness derives each device's online status from how recently it
// reported.
//
// This package is internal to Airboard. The [Monitor] periodically compares
// every device's last write time against a threshold, persists any change to
// the stored active flag and publishes a [telemetry.ActiveEvent] for it.
// Only transitions are published; a device that stays online produces no
// events.
package liveness
