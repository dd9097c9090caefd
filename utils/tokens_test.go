package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
)

func TestManagerRoundTrip(t *testing.T) {
	m, err := NewManager("secret")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	token, err := m.NewJWT("42", time.Hour)
	if err != nil {
		t.Fatalf("NewJWT: %v", err)
	}
	userID, err := m.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if userID != "42" {
		t.Fatalf("expected user 42, got %q", userID)
	}
}

func TestManagerRejectsBadTokens(t *testing.T) {
	m, _ := NewManager("secret")
	other, _ := NewManager("other")

	foreign, _ := other.NewJWT("42", time.Hour)
	if _, err := m.Parse(foreign); err == nil {
		t.Fatal("expected signature error")
	}

	expired, _ := m.NewJWT("42", -time.Minute)
	if _, err := m.Parse(expired); err == nil {
		t.Fatal("expected expiry error")
	}

	numeric, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 7}).SignedString([]byte("secret"))
	if id, err := m.Parse(numeric); err != nil || id != "7" {
		t.Fatalf("expected numeric user id 7, got %q (%v)", id, err)
	}

	anonymous, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "admin"}).SignedString([]byte("secret"))
	if _, err := m.Parse(anonymous); err == nil {
		t.Fatal("expected missing user id error")
	}

	if _, err := NewManager(""); err == nil {
		t.Fatal("expected empty key error")
	}
}
