// Package internal contains helpers that are intentionally private to paradox:
// session id and nonce generation, and client key hashing.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - fingerprint: bounded MinHash digests of answers
//   - rate: fixed-window and token-bucket rate limit primitives
//   - reaper: periodic expiry sweeps
//   - security: configuration posture reports
//
// # What this package must NOT do
//
//   - Export types that appear in the public paradox API.
//   - Be imported by any package outside the paradox module.
package internal
