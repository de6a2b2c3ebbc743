// Package session persists challenge-session records and performs the
// round-keyed compare-and-swap that serializes state transitions.
//
// # Binary encoding
//
// Records are stored as a compact versioned binary blob. The first six bytes
// are fixed: version, big-endian round index, status. The Redis Lua script
// reads only that prefix, so the layout of later fields may grow without
// touching the script.
//
// # Drivers
//
//   - [RedisStore]: Lua CAS plus an expiry-scored ZSET of active sessions.
//   - [MemoryStore]: single-process map with lazy expiry.
//   - [BadgerStore]: embedded badger/v4 with TTL entries and transactional CAS.
//
// # Architecture boundaries
//
// This package owns persistence and TTL enforcement. It does NOT verify
// tokens, score rounds or decide transitions; those belong to the engine.
//
// # What this package must NOT do
//
//   - Import the root paradox package (no upward imports).
//   - Return a record whose expiry has passed.
//   - Store raw answer text.
package session
