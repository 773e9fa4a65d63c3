// Package observe provides the logging, tracing and metrics primitives shared
// by every authgate component.
//
// It is a pure instrumentation library: no transport and no I/O beyond
// exporter setup. Components receive a Logger (and optionally a Middleware)
// at construction time; a nil Logger is replaced with a no-op logger.
package observe
