// Package rate enforces per-client request budgets for the HTTP transport.
//
// # Window semantics
//
// The Redis backend keeps fixed-window counters: INCR plus EXPIRE on the first
// hit of a window. Keys have the form <prefix>:rl:<scope>:<client hash>, where
// the client hash is [internal.HashClientKey] of the caller's address, so raw
// IPs never reach the shared store.
//
// The local backend is an in-process token bucket per scope and client with a
// burst equal to the per-minute budget. It suits single-node deployments.
//
// # What this package must NOT do
//
//   - Decide what happens on a limited request (the transport maps it to 429).
//   - Be imported outside the paradox module.
package rate
