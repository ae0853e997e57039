// Package cognition mediates calls to an external, costly and unreliable
// cognition service (typically an LLM) with a deterministic local stand-in.
//
// A Client composes three per-endpoint guards:
//
//   - Ledger: windowed spend with soft and hard limits
//   - Breaker: Closed/Open/HalfOpen failure state machine
//   - Limiter: token-bucket admission control
//
// For each Invoke the client decides, in order: serve the fallback when the
// budget is exhausted, serve the fallback while the breaker is open, probe
// with a single trial once the reset timeout elapsed, reject (or wait) when
// the rate limiter has no token, and otherwise call the endpoint under a
// deadline. Failures are never returned raw; they become a Fallback outcome,
// or a Rejected outcome when the fallback itself fails.
//
// Clients are shared per logical endpoint through a Registry, because the
// ledger and breaker describe the external resource rather than any single
// caller.
package cognition
