// Package topology owns the node registry and the adjacency graph of a mesh.
//
// Nodes live in numbered layers and may only link to nodes exactly one
// layer above (forward) or below (backward). Every mutation goes through the
// Manager, which validates the invariant against the proposed change before
// committing anything:
//
//   - AddNode rejects layers outside the configured range
//   - Link rejects unknown, draining, self and non-adjacent endpoints
//   - Rewire validates every replacement link before touching any
//   - RemoveNode only drains; Reap evicts drained nodes once they are idle
//   - Apply re-applies a full declaration list as one atomic change
//
// Each successful mutation bumps the generation and publishes a new
// immutable Snapshot. Routers resolve neighbors through snapshots and key
// their caches by generation.
package topology
