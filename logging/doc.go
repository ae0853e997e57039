// Package logging provides a minimal logging interface and adapters for layermesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the router, topology manager and cognition clients use for observability.
// This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - MeshLogger with component/submission context and domain helpers
//     (cognition calls, signal routing, topology changes, breaker transitions)
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	mesh := layermesh.New(func(o *layermesh.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
