// Package token issues and verifies the signed round tokens that bind a client
// to the server-held session record.
//
// A token is a compact JWS signed with an HMAC-SHA2 method. It carries the
// session id, the round index, the round nonce and the issuance time. The
// session store stays the source of truth for the current round; this package
// only proves that a token was minted by the server and is still fresh.
//
// # What this package must NOT do
//
//   - Look up session state or decide whether a round is current.
//   - Reveal which check failed to remote callers (the engine collapses all
//     three errors into one denial).
package token
