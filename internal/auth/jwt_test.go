package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidateAccessToken(t *testing.T) {
	ts := NewTokenService("test-secret-key")

	token, err := ts.GenerateAccessToken(42)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error: %v", err)
	}
	if token == "" {
		t.Fatal("GenerateAccessToken() returned empty token")
	}

	claims, err := ts.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error: %v", err)
	}
	if claims.UserID != 42 {
		t.Errorf("UserID = %d, want 42", claims.UserID)
	}
	if claims.Subject != "42" {
		t.Errorf("Subject = %q, want 42", claims.Subject)
	}
}

func TestRejectExpiredToken(t *testing.T) {
	ts := NewTokenService("test-secret-key")

	token, err := ts.GenerateToken(1, -time.Second)
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}

	if _, err := ts.ValidateAccessToken(token); err == nil {
		t.Error("ValidateAccessToken() should reject expired token")
	}
}

func TestRejectOtherSecret(t *testing.T) {
	token, err := NewTokenService("one").GenerateAccessToken(1)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error: %v", err)
	}
	if _, err := NewTokenService("two").ValidateAccessToken(token); err == nil {
		t.Error("ValidateAccessToken() should reject a token signed with another secret")
	}
}

func TestRejectTamperedToken(t *testing.T) {
	ts := NewTokenService("test-secret-key")

	token, err := ts.GenerateAccessToken(1)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error: %v", err)
	}

	// Flip a character in the middle of the signature; the last base64url
	// character carries padding bits the decoder ignores.
	sigStart := strings.LastIndex(token, ".") + 1
	mid := sigStart + (len(token)-sigStart)/2
	b := token[mid]
	if b == 'A' {
		b = 'B'
	} else {
		b = 'A'
	}
	tampered := token[:mid] + string(b) + token[mid+1:]

	if _, err := ts.ValidateAccessToken(tampered); err == nil {
		t.Error("ValidateAccessToken() should reject tampered token")
	}
}

func TestRejectWrongSigningMethod(t *testing.T) {
	claims := Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing with none: %v", err)
	}

	ts := NewTokenService("test-secret-key")
	if _, err := ts.ValidateAccessToken(tokenString); err == nil {
		t.Error("ValidateAccessToken() should reject token with 'none' signing method")
	}
}

func TestRejectWrongIssuer(t *testing.T) {
	claims := Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-key"))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	if _, err := NewTokenService("test-secret-key").ValidateAccessToken(tokenString); err == nil {
		t.Error("ValidateAccessToken() should reject a foreign issuer")
	}
}
