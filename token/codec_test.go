package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestCodec(t *testing.T, clock *fakeClock) *Codec {
	t.Helper()
	c, err := NewCodec(Config{
		Secret: testSecret,
		Issuer: "paradox",
		TTL:    2 * time.Minute,
		Skew:   30 * time.Second,
		Now:    clock.Now,
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return c
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCodec(t, clock)

	tok, err := c.Issue("sid-1", 4, "nonce-a")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := c.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.SessionID != "sid-1" || claims.RoundIndex != 4 || claims.Nonce != "nonce-a" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.IssuedAt.Equal(clock.now) {
		t.Fatalf("expected iat %v, got %v", clock.now, claims.IssuedAt)
	}
}

func TestVerifyDetectsEveryBitFlip(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCodec(t, clock)

	tok, err := c.Issue("sid-1", 7, "nonce-b")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	raw := []byte(tok)
	for i := range raw {
		for bit := 0; bit < 8; bit++ {
			mutated := make([]byte, len(raw))
			copy(mutated, raw)
			mutated[i] ^= 1 << bit

			if _, err := c.Verify(string(mutated)); err == nil {
				t.Fatalf("flip of byte %d bit %d verified", i, bit)
			}
		}
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCodec(t, clock)

	other, err := NewCodec(Config{
		Secret: []byte("ffffffffffffffffffffffffffffffff"),
		Issuer: "paradox",
		TTL:    2 * time.Minute,
		Now:    clock.Now,
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	forged, err := other.Issue("sid-1", 0, "n")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := c.Verify(forged); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestVerifyExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCodec(t, clock)

	tok, err := c.Issue("sid-1", 0, "n")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	clock.now = clock.now.Add(2*time.Minute + 20*time.Second)
	if _, err := c.Verify(tok); err != nil {
		t.Fatalf("expected token within skew to verify: %v", err)
	}

	clock.now = clock.now.Add(time.Minute)
	if _, err := c.Verify(tok); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyRejectsFutureIssuance(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCodec(t, clock)

	future := &fakeClock{now: clock.now.Add(5 * time.Minute)}
	ahead := newTestCodec(t, future)
	tok, err := ahead.Issue("sid-1", 0, "n")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := c.Verify(tok); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired for future iat, got %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	c := newTestCodec(t, &fakeClock{now: time.Now()})

	for _, in := range []string{"", "abc", "a.b.c", strings.Repeat("x", maxTokenLength+1)} {
		if _, err := c.Verify(in); !errors.Is(err, ErrMalformed) {
			t.Fatalf("input %q: expected ErrMalformed, got %v", in, err)
		}
	}
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCodec(t, clock)

	claims := roundClaims{SID: "s", Nonce: "n", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "paradox",
		IssuedAt:  gjwt.NewNumericDate(clock.now),
		ExpiresAt: gjwt.NewNumericDate(clock.now.Add(time.Minute)),
	}}
	tok, err := gjwt.NewWithClaims(gjwt.SigningMethodHS512, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := c.Verify(tok); err == nil {
		t.Fatal("expected HS512 token to be rejected by HS256 codec")
	}
}

func TestVerifyRequiresClaims(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := newTestCodec(t, clock)

	claims := roundClaims{SID: "", Nonce: "n", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "paradox",
		IssuedAt:  gjwt.NewNumericDate(clock.now),
		ExpiresAt: gjwt.NewNumericDate(clock.now.Add(time.Minute)),
	}}
	tok, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := c.Verify(tok); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for missing sid, got %v", err)
	}
}

func TestKeyRotation(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	oldKey := testSecret
	newKey := []byte("abcdefabcdefabcdefabcdefabcdefab")

	oldCodec, err := NewCodec(Config{Secret: oldKey, TTL: time.Minute, KeyID: "k1", Now: clock.Now})
	if err != nil {
		t.Fatalf("old codec: %v", err)
	}
	rotated, err := NewCodec(Config{
		Secret:     newKey,
		TTL:        time.Minute,
		KeyID:      "k2",
		VerifyKeys: map[string][]byte{"k1": oldKey, "k2": newKey},
		Now:        clock.Now,
	})
	if err != nil {
		t.Fatalf("rotated codec: %v", err)
	}

	tok, err := oldCodec.Issue("sid", 1, "n")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := rotated.Verify(tok); err != nil {
		t.Fatalf("expected old kid to verify after rotation: %v", err)
	}
	if _, err := oldCodec.Verify(mustIssue(t, rotated)); err == nil {
		t.Fatal("expected k2 token to fail on a codec that only knows k1")
	}
}

func mustIssue(t *testing.T, c *Codec) string {
	t.Helper()
	tok, err := c.Issue("sid", 1, "n")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func TestNewCodecValidation(t *testing.T) {
	cases := []Config{
		{Secret: testSecret},
		{Secret: []byte("short"), TTL: time.Minute},
		{Secret: testSecret, TTL: time.Minute, Skew: -time.Second},
		{Secret: testSecret, TTL: time.Minute, Method: "rs256"},
		{Secret: testSecret, TTL: time.Minute, KeyID: "missing", VerifyKeys: map[string][]byte{"k1": testSecret}},
	}
	for i, cfg := range cases {
		if _, err := NewCodec(cfg); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestRoundIDBindsAllFields(t *testing.T) {
	base := RoundID("sid", 3, "nonce")
	if len(base) != 16 {
		t.Fatalf("expected 16 hex chars, got %q", base)
	}
	if base != RoundID("sid", 3, "nonce") {
		t.Fatal("round id must be deterministic")
	}
	for _, other := range []string{RoundID("sid2", 3, "nonce"), RoundID("sid", 4, "nonce"), RoundID("sid", 3, "nonce2")} {
		if other == base {
			t.Fatal("round id must change with every bound field")
		}
	}
}

func BenchmarkVerify(b *testing.B) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c, err := NewCodec(Config{
		Secret: testSecret,
		Issuer: "paradox",
		TTL:    2 * time.Minute,
		Now:    clock.Now,
	})
	if err != nil {
		b.Fatal(err)
	}
	tok, err := c.Issue("sid-bench", 3, "nonce-bench")
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Verify(tok); err != nil {
			b.Fatal(err)
		}
	}
}
