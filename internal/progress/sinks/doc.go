// Package sinks implements progress consumers: structured logs, Prometheus
// counters, and a publisher fan-out for terminal job events.
package sinks
