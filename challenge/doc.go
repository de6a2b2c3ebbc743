// Package challenge defines the pluggable challenge-generator contract and a
// built-in catalogue of self-referential puzzles.
//
// The session engine depends only on [Generator] and [AnswerChecker]. It never
// branches on a challenge's kind and never inspects a verifier beyond passing
// it back to the checker.
package challenge
