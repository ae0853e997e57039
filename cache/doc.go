// Package cache provides the generation-stamped result cache used by
// transforms to memoize expensive computations such as cognition calls.
//
// Every entry belongs to the topology generation that was current when it was
// stored. Observing a newer generation purges the cache wholesale, so a
// result computed against an old wiring is never served after a mutation.
package cache
