package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestHS256RoundTrip(t *testing.T) {
	secret := "test-secret"

	token, err := SignHS256("user-1", "acme", RoleStaff, time.Hour, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	parsed, err := ParseAndVerifyHS256(token, secret)
	if err != nil {
		t.Fatalf("ParseAndVerifyHS256 failed: %v", err)
	}
	if parsed.Subject != "user-1" || parsed.Tenant != "acme" || !parsed.HasRole(RoleOwner, RoleStaff) {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
	if _, err := ParseAndVerifyHS256(token, "wrong-secret"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken with wrong secret, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	token, err := SignHS256("user-1", "acme", RoleOwner, -time.Minute, "s")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	if _, err := ParseAndVerifyHS256(token, "s"); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestNoneAlgorithmRejected(t *testing.T) {
	claims := Claims{Tenant: "acme", Role: RoleOwner, RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := ParseAndVerifyHS256(token, "s"); err == nil {
		t.Fatal("expected alg=none token to be rejected")
	}
}

func TestBearerToken(t *testing.T) {
	if tok, ok := BearerToken("bearer abc"); !ok || tok != "abc" {
		t.Fatalf("got %q %v", tok, ok)
	}
	if _, ok := BearerToken("Basic abc"); ok {
		t.Fatal("expected non-bearer header to be rejected")
	}
}
