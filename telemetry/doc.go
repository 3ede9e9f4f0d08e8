// Package telemetry defines the values that flow through Airboard: sensor
// readings, the events produced from them, and the subscription scope a
// viewer selects.
//
// All types are plain values. They are safe to copy and to send over
// channels, and none of them carries a lifecycle of its own.
//
// A [Reading] holds the 14 fixed-position sensor fields of one device frame.
// Fields that could not be parsed are NaN; on the wire NaN is encoded as
// JSON null and decoded back to NaN. Out-of-range fields are ±Inf, which JSON
// cannot carry either: they are also encoded as null, so a viewer sees an
// infinite field the same way as a corrupt one and it decodes as NaN.
package telemetry
