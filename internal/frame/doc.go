// Package frame decodes the plain-text telemetry frames sent by field devices.
//
// This package is internal to Airboard. A frame is a single line of
// semicolon-separated tokens: the device id followed by exactly
// [telemetry.FieldCount] numeric fields in the fixed [telemetry.FieldNames]
// order.
//
//	D1;0.5;410;21.3;40;35;4;6;8;100;50;10;2;1;0
//
// Parsing is pure. Fields that fail to parse are kept as NaN so a single bad
// sensor does not discard the rest of the reading.
package frame
