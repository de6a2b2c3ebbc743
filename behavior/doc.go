// Package behavior turns raw, untrusted client telemetry into the bounded
// feature vector consumed by the verdict engine.
//
// Normalization is pure and total: malformed or missing telemetry never
// produces an error. Omitted signals default to low values so that stripping
// telemetry from a request can only lower a client's humanness score.
//
// # What this package must NOT do
//
//   - Trust client-reported timing over server-observed timing.
//   - Persist or log raw telemetry.
package behavior
