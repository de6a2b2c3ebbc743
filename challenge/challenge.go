package challenge

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/paradox/internal/fingerprint"
)

// ErrTimeout is returned by [Generate] when the generator did not answer in time.
var ErrTimeout = errors.New("challenge generator timeout")

// Request is the input to a generator.
type Request struct {
	Difficulty int
	RoundIndex uint32
	// PriorDigests are fingerprints of earlier answers, oldest first.
	PriorDigests []fingerprint.Digest
}

// Challenge is one generated round. Verifier never leaves the server.
type Challenge struct {
	Kind       string         `json:"kind"`
	Prompt     string         `json:"prompt"`
	Options    []string       `json:"options,omitempty"`
	Input      bool           `json:"input"`
	Difficulty int            `json:"difficulty"`
	Payload    map[string]any `json:"payload,omitempty"`

	Verifier []byte `json:"-"`
	// ReferencesPrior marks rounds whose answer should relate to an earlier answer.
	ReferencesPrior bool `json:"-"`
	// TimeDilation, when above zero, is the clock rate the client is told to
	// run its answer timer at. The server checks reported timings against it.
	TimeDilation float64 `json:"-"`
}

// Generator produces a challenge and its verifier.
type Generator interface {
	Generate(ctx context.Context, req Request) (Challenge, error)
}

// GeneratorFunc adapts a function to [Generator].
type GeneratorFunc func(ctx context.Context, req Request) (Challenge, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Challenge, error) {
	return f(ctx, req)
}

// AnswerChecker decides whether an answer satisfies a verifier. Generators may
// implement it to own their verifier format.
type AnswerChecker interface {
	Check(verifier []byte, answer string) bool
}

// DigestChecker is the default checker. An empty verifier accepts any
// non-blank answer. Otherwise the verifier is a concatenation of SHA-256
// digests of normalized accepted answers.
type DigestChecker struct{}

// Check implements [AnswerChecker] in constant time per candidate digest.
func (DigestChecker) Check(verifier []byte, answer string) bool {
	if strings.TrimSpace(answer) == "" {
		return false
	}
	if len(verifier) == 0 {
		return true
	}
	if len(verifier)%sha256.Size != 0 {
		return false
	}

	sum := answerDigest(answer)
	match := 0
	for i := 0; i < len(verifier); i += sha256.Size {
		match |= subtle.ConstantTimeCompare(verifier[i:i+sha256.Size], sum[:])
	}
	return match == 1
}

// VerifierFor builds a digest verifier accepting any of answers.
func VerifierFor(answers ...string) []byte {
	out := make([]byte, 0, len(answers)*sha256.Size)
	for _, a := range answers {
		sum := answerDigest(a)
		out = append(out, sum[:]...)
	}
	return out
}

func answerDigest(answer string) [sha256.Size]byte {
	return sha256.Sum256([]byte(fingerprint.Normalize(answer)))
}

// Generate runs g under timeout. A generator that ignores its context is
// abandoned when the deadline passes and its result discarded.
func Generate(ctx context.Context, g Generator, req Request, timeout time.Duration) (Challenge, error) {
	if timeout <= 0 {
		return g.Generate(ctx, req)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		ch  Challenge
		err error
	}
	done := make(chan result, 1)
	go func() {
		ch, err := g.Generate(ctx, req)
		done <- result{ch: ch, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return Challenge{}, ErrTimeout
		}
		return r.ch, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Challenge{}, ErrTimeout
		}
		return Challenge{}, ctx.Err()
	}
}
