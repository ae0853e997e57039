// Package core provides the foundational domain types shared by every
// layermesh component. It defines:
//
//   - Nodes (layer-tagged processing units) through NodeID, Layer, NodeState
//     and the NodeInfo view handed to transforms
//   - Signals (units of work routed between adjacent layers) and the
//     Emissions a transform produces from them
//   - The Transform capability every node carries
//   - Submission results and their terminal Status
//   - Cost events emitted by the cognition ledger
//   - The error taxonomy (topology, routing and cognition errors)
//
// The package keeps implementation concerns (registry, scheduling, external
// calls) out of scope so that topology, router and cognition can depend on a
// small shared vocabulary without depending on each other.
package core
