// Package sinks implements progress consumers: structured logging, Prometheus
// collectors and a NATS publisher. Each satisfies progress.Sink.
package sinks
