package challenge

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/MrEthical07/paradox/internal/fingerprint"
)

func TestDigestChecker(t *testing.T) {
	var c DigestChecker

	if !c.Check(nil, "anything at all") {
		t.Fatal("empty verifier should accept non-blank answers")
	}
	if c.Check(nil, "   ") {
		t.Fatal("blank answers must never pass")
	}

	v := VerifierFor("Continue", "It's impossible")
	for _, ok := range []string{"continue", " CONTINUE ", "It's impossible!"} {
		if !c.Check(v, ok) {
			t.Fatalf("expected %q to pass", ok)
		}
	}
	if c.Check(v, "stop") {
		t.Fatal("unexpected pass for wrong answer")
	}
	if c.Check([]byte{1, 2, 3}, "continue") {
		t.Fatal("truncated verifier must fail closed")
	}
}

func TestCatalogProducesEveryBasicKind(t *testing.T) {
	cat := NewCatalog(rand.NewPCG(1, 2))
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		ch, err := cat.Generate(context.Background(), Request{Difficulty: 1})
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		seen[ch.Kind] = true
		if ch.ReferencesPrior {
			t.Fatal("round without prior answers must not reference them")
		}
	}
	for _, kind := range []string{KindCreativeInput, KindQuantumState, KindInfiniteRegress} {
		if !seen[kind] {
			t.Fatalf("expected kind %s at difficulty 1", kind)
		}
	}
}

func TestCatalogUsesPriorAnswersAtHigherDifficulty(t *testing.T) {
	cat := NewCatalog(rand.NewPCG(3, 4))
	prior := []fingerprint.Digest{fingerprint.Of("a lighthouse for lost thoughts")}

	referenced := false
	for i := 0; i < 200; i++ {
		ch, err := cat.Generate(context.Background(), Request{Difficulty: 4, RoundIndex: 3, PriorDigests: prior})
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if ch.ReferencesPrior {
			referenced = true
		}
		if ch.Difficulty != 4 {
			t.Fatalf("expected difficulty echoed, got %d", ch.Difficulty)
		}
	}
	if !referenced {
		t.Fatal("expected context-dependent rounds once prior answers exist")
	}
}

func TestCatalogTimeDilationAtTrapDifficulty(t *testing.T) {
	cat := NewCatalog(rand.NewPCG(5, 6))
	ch, err := cat.Generate(context.Background(), Request{Difficulty: TrapDifficulty})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if ch.Payload["time_dilation"] != timeDilation || ch.TimeDilation != timeDilation {
		t.Fatalf("expected time dilation on payload and challenge, got %v / %v", ch.Payload, ch.TimeDilation)
	}

	ch, err = cat.Generate(context.Background(), Request{Difficulty: TrapDifficulty - 1})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if ch.TimeDilation != 0 {
		t.Fatalf("expected real time below the trap difficulty, got %v", ch.TimeDilation)
	}
}

func TestMetaLoopReferenceIgnoresFingerprint(t *testing.T) {
	build := func(answer string) Challenge {
		cat := NewCatalog(rand.NewPCG(9, 10))
		prior := []fingerprint.Digest{fingerprint.Of(answer)}
		return metaLoop(cat, Request{Difficulty: 3, RoundIndex: 2, PriorDigests: prior})
	}

	a := build("a river that flows uphill")
	b := build("the clock that reads itself")
	if a.Prompt != b.Prompt || a.Payload["ref"] != b.Payload["ref"] {
		t.Fatalf("meta loop output depends on the stored fingerprint: %q vs %q", a.Prompt, b.Prompt)
	}
	if ref, ok := a.Payload["ref"].(string); !ok || ref == "" {
		t.Fatalf("expected a reference in the payload, got %v", a.Payload)
	}
	if !a.ReferencesPrior {
		t.Fatal("meta loop must reference the prior answer")
	}
}

func TestSequenceVerifierMatchesNextTerm(t *testing.T) {
	cat := NewCatalog(rand.NewPCG(7, 8))
	ch := sequence(cat, Request{Difficulty: 2})

	terms, ok := ch.Payload["terms"].([]string)
	if !ok || len(terms) < 3 {
		t.Fatalf("unexpected terms payload %v", ch.Payload)
	}
	var checker DigestChecker
	if checker.Check(ch.Verifier, terms[len(terms)-1]) {
		t.Fatal("last shown term must not be the answer")
	}
}

func TestGenerateTimeout(t *testing.T) {
	slow := GeneratorFunc(func(ctx context.Context, req Request) (Challenge, error) {
		select {
		case <-time.After(time.Second):
			return Challenge{Kind: "late"}, nil
		case <-ctx.Done():
			return Challenge{}, ctx.Err()
		}
	})

	start := time.Now()
	_, err := Generate(context.Background(), slow, Request{}, 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("timeout was not enforced promptly")
	}
}

func TestGenerateAbandonsGeneratorIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := GeneratorFunc(func(context.Context, Request) (Challenge, error) {
		<-release
		return Challenge{}, nil
	})

	if _, err := Generate(context.Background(), stuck, Request{}, 10*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestGeneratePassesThroughErrors(t *testing.T) {
	boom := errors.New("boom")
	g := GeneratorFunc(func(context.Context, Request) (Challenge, error) { return Challenge{}, boom })
	if _, err := Generate(context.Background(), g, Request{}, time.Second); !errors.Is(err, boom) {
		t.Fatalf("expected generator error, got %v", err)
	}
}
