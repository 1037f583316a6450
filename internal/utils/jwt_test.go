package utils

import (
	"testing"
	"time"
)

func init() {
	SetJWTSecret("test-secret-key-for-testing")
}

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(1, "testuser", "admin", 24)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if token == "" {
		t.Error("GenerateToken() returned empty token")
	}

	if len(token) < 50 {
		t.Errorf("token seems too short: %d chars", len(token))
	}
}

func TestGenerateToken_DifferentTokens(t *testing.T) {
	token1, _ := GenerateToken(1, "user1", "admin", 24)
	token2, _ := GenerateToken(2, "user2", "member", 24)

	if token1 == token2 {
		t.Error("different users should produce different tokens")
	}
}

func TestParseToken(t *testing.T) {
	userID := uint(42)
	username := "testuser"
	role := "creator"

	token, _ := GenerateToken(userID, username, role, 24)

	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	if claims.UserID != userID {
		t.Errorf("UserID = %d, expected %d", claims.UserID, userID)
	}
	if claims.Username != username {
		t.Errorf("Username = %q, expected %q", claims.Username, username)
	}
	if claims.Role != role {
		t.Errorf("Role = %q, expected %q", claims.Role, role)
	}
}

func TestParseToken_InvalidToken(t *testing.T) {
	invalidTokens := []string{
		"",
		"not-a-token",
		"a.b.c",
		"eyJhbGciOiJIUzI1NiJ9.eyJmb28iOiJiYXIifQ.invalid",
	}

	for _, token := range invalidTokens {
		if _, err := ParseToken(token); err == nil {
			t.Errorf("ParseToken(%q) should fail", token)
		}
	}
}

func TestParseToken_Expired(t *testing.T) {
	token, err := GenerateToken(1, "testuser", "member", -1)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	// Negative expiry is normalized to the default, so the token is valid.
	if _, err := ParseToken(token); err != nil {
		t.Errorf("token with normalized expiry should parse, got %v", err)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, _ := GenerateToken(1, "testuser", "member", 24)

	SetJWTSecret("a-different-secret")
	defer SetJWTSecret("test-secret-key-for-testing")

	if _, err := ParseToken(token); err == nil {
		t.Error("token signed with old secret should fail to parse")
	}
}

func TestGenerateToken_ExpiryInFuture(t *testing.T) {
	token, _ := GenerateToken(1, "testuser", "member", 1)
	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(time.Now()) {
		t.Error("expiry should be in the future")
	}
}
