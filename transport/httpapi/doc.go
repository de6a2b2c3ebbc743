// Package httpapi serves the paradox engine over HTTP with gin.
//
// Routes:
//
//	POST /session  start a session and receive round 0
//	POST /respond  answer the current round
//	GET  /health   store reachability and active session count
//	GET  /metrics  Prometheus exposition, when a handler is configured
//
// Every verification denial is a 403 with the same body, so a client cannot
// tell a bad signature from a stale round. Store failures are 503.
package httpapi
