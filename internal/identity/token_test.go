package identity

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTokenCodecIssueAndVerify(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	codec := NewTokenCodec([]byte("secret"), "openbot", 24*time.Hour, clock.Now)

	token, exp, err := codec.Issue("lobster_1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if want := clock.Now().Add(24 * time.Hour); !exp.Equal(want) {
		t.Fatalf("expiry = %v, want %v", exp, want)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("expected compact three-segment token, got %q", token)
	}

	claims, err := codec.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "lobster_1" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if claims.Issuer != "openbot" {
		t.Fatalf("issuer = %q", claims.Issuer)
	}
	if claims.ID == "" {
		t.Fatalf("expected non-empty jti")
	}

	// Same subject, new token: jti keeps them distinct.
	second, _, err := codec.Issue("lobster_1")
	if err != nil {
		t.Fatalf("Issue second: %v", err)
	}
	if second == token {
		t.Fatalf("expected distinct tokens for repeated issuance")
	}
}

func TestTokenCodecRejectsTampering(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	codec := NewTokenCodec([]byte("secret"), "openbot", time.Hour, clock.Now)

	token, _, err := codec.Issue("lobster_1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	cases := map[string]string{
		"empty":            "",
		"whitespace":       "   ",
		"not a jwt":        "definitely-not-a-token",
		"two segments":     parts[0] + "." + parts[1],
		"tampered payload": tampered,
		"stripped sig":     parts[0] + "." + parts[1] + ".",
	}
	for name, input := range cases {
		if _, err := codec.Verify(input); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}

	other := NewTokenCodec([]byte("different"), "openbot", time.Hour, clock.Now)
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: expected ErrInvalidToken, got %v", err)
	}

	foreign := NewTokenCodec([]byte("secret"), "someone-else", time.Hour, clock.Now)
	if _, err := foreign.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong issuer: expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenCodecExpiry(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	codec := NewTokenCodec([]byte("secret"), "openbot", time.Hour, clock.Now)

	token, _, err := codec.Issue("lobster_1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock.Advance(59 * time.Minute)
	if _, err := codec.Verify(token); err != nil {
		t.Fatalf("token should still be valid: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if _, err := codec.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}
