package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAccessToken_RoundTripsUser(t *testing.T) {
	token, err := GenerateAccessToken("test-secret", "user-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims, err := ValidateToken("test-secret", token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.UserID != "user-123" {
		t.Errorf("expected user %q, got %q", "user-123", claims.UserID)
	}
	if claims.TokenType != "access" {
		t.Errorf("expected token type %q, got %q", "access", claims.TokenType)
	}
}

func TestGenerateAccessTokenTTL_SetsExpiry(t *testing.T) {
	token, err := GenerateAccessTokenTTL("test-secret", "user-123", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claims, err := ValidateToken("test-secret", token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining <= 59*time.Minute || remaining > time.Hour {
		t.Errorf("expected expiry about an hour away, got %s", remaining)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	token, _ := GenerateAccessToken("secret-one", "user-123")

	if _, err := ValidateToken("secret-two", token); err == nil {
		t.Error("expected error for wrong secret, got nil")
	}
}

func TestValidateToken_ExpiredToken(t *testing.T) {
	claims := &Claims{
		UserID:    "user-123",
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("unexpected error signing token: %v", err)
	}

	if _, err := ValidateToken("test-secret", signed); err == nil {
		t.Error("expected error for expired token, got nil")
	}
}

func TestValidateToken_RejectsNoneAlgorithm(t *testing.T) {
	claims := &Claims{
		UserID:    "user-123",
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("unexpected error signing token: %v", err)
	}

	if _, err := ValidateToken("test-secret", signed); err == nil {
		t.Error("expected error for unsigned token, got nil")
	}
}

func TestValidateToken_RequiresUser(t *testing.T) {
	token, _ := GenerateAccessToken("test-secret", "")

	if _, err := ValidateToken("test-secret", token); err == nil {
		t.Error("expected error for token without user, got nil")
	}
}

func TestValidateToken_Garbage(t *testing.T) {
	if _, err := ValidateToken("test-secret", "not.a.token"); err == nil {
		t.Error("expected error for garbage token, got nil")
	}
}
