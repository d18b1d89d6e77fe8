package accountflow

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "acc-1"}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestHeldTokenExpiredPrecheck(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	if heldTokenExpired(mintToken(t, now.Add(time.Hour)), now) {
		t.Fatal("expected future-dated token to pass")
	}
	if !heldTokenExpired(mintToken(t, now.Add(-time.Minute)), now) {
		t.Fatal("expected past-dated token to be flagged expired")
	}
}

func TestHeldTokenExpiredIgnoresOpaqueTokens(t *testing.T) {
	now := time.Now()

	// Non-JWT and claim-less tokens pass through; their expiry is the
	// server's call.
	if heldTokenExpired("opaque-random-token", now) {
		t.Fatal("expected opaque token to pass the precheck")
	}
	if heldTokenExpired(mintToken(t, time.Time{}), now) {
		t.Fatal("expected token without exp claim to pass the precheck")
	}
	if heldTokenExpired("", now) {
		t.Fatal("expected empty token to pass the precheck")
	}
}
