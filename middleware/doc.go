// Package middleware holds the gin middleware placed in front of the paradox
// HTTP handlers.
//
// # Chain
//
//   - [RequestContext] assigns an X-Request-ID and copies request id, client IP
//     and User-Agent into the request context for engine logs and audit.
//   - [SecurityHeaders] sets no-store caching and the usual hardening headers.
//   - [AccessLog] writes one slog line per request.
//   - [RateGuard] enforces a per-client budget for one scope and answers 429.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into context values and refusals. It
// does NOT verify tokens or touch session state; all verification decisions
// are delegated to Engine.Respond.
//
// # What this package must NOT do
//
//   - Parse or create round tokens.
//   - Access the session store.
//   - Fail closed when the shared rate-limit backend is down.
package middleware
