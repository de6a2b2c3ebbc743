// Package paradox runs adaptive challenge-escalation sessions that separate
// humans from automation.
//
// A session is a chain of rounds. Each round hands the client a challenge and
// a signed token bound to the server-held round index. The client answers with
// the token, the answer and behavioral telemetry. The engine fuses answer
// correctness, behavior and consistency with earlier answers into a score and
// then accepts, escalates to a harder round, rejects, or falls back to an
// alternative verification path.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build]. Concurrent answers to the same round are serialized by a
// compare-and-swap on the stored round index: exactly one wins and the rest see
// [ErrStaleRound].
//
// # Architecture boundaries
//
// paradox is the public surface. It exposes [Engine], [Builder], [Config] and
// value types. Token signing lives in token/, scoring in verdict/, telemetry
// normalization in behavior/, challenge generation in challenge/ and
// persistence in session/. Those packages never import paradox.
//
// # What this package must NOT do
//
//   - Surface verdict reasons or scores to clients. Denials are uniform.
//   - Mutate a session anywhere except through the store's CompareAndSwap.
//   - Treat anything but store failures as service errors.
package paradox
