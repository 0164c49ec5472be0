// Package logx wraps zerolog for pushbridge: a console sink for humans,
// an optional JSON file sink, and a Service whose level and sinks can be
// swapped on config reload without re-plumbing component loggers.
package logx
