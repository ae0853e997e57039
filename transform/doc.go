// Package transform provides the built-in node transforms and the selector
// registry used to build them from configuration.
//
// Built-ins:
//   - relay: pass the payload on in one direction, terminating at the edge layer
//   - reflect: forward on odd layers, backward on even layers
//   - terminal: end the signal with its payload as output
//   - cognitive: ask a cognition endpoint and route by the directives in its reply;
//     the "system" setting is a text/template over the node and the signal
//   - batch: absorb inbound signals until a batch is full, then emit one aggregate
//
// Transforms are selected by name in node declarations; settings from the
// declaration are available through core.NodeInfo.
package transform
