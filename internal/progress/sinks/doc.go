// Package sinks implements progress consumers: a structured log sink and a
// terminal dot indicator.
package sinks
