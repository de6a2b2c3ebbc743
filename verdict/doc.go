// Package verdict fuses answer correctness, behavioral features and answer
// history into a single per-round decision.
//
// [Engine.Score] is a pure function of its input and configuration. It holds
// no state between calls and may be shared freely across goroutines.
//
// # Decision order
//
//  1. A score under the reject threshold is REJECT.
//  2. A correct answer at or above the accept threshold with no anomaly flags
//     is a passing round. It becomes ACCEPT once the consecutive-pass quota
//     and the minimum trust score are met, and ESCALATE before that.
//  3. Anything else is ESCALATE. Behavioral anomalies outrank a correct answer.
//  4. ESCALATE at the escalation ceiling becomes FALLBACK.
package verdict
