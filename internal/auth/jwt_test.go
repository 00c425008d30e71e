package auth

import (
	"testing"
	"time"
)

func TestTokenMaker_RoundTrip(t *testing.T) {
	tm := NewTokenMaker("test-secret")

	tok, err := tm.New("u_1", "ana", "ana@x.com", time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	claims, err := tm.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != "u_1" || claims.Username != "ana" || claims.Email != "ana@x.com" {
		t.Fatalf("claims=%+v", claims)
	}
}

func TestTokenMaker_RejectsWrongSecret(t *testing.T) {
	tok, err := NewTokenMaker("secret-a").New("u_1", "ana", "ana@x.com", time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := NewTokenMaker("secret-b").Parse(tok); err == nil {
		t.Fatal("token signed with another secret must not parse")
	}
}

func TestTokenMaker_RejectsExpired(t *testing.T) {
	tm := NewTokenMaker("test-secret")

	tok, err := tm.New("u_1", "ana", "ana@x.com", -time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := tm.Parse(tok); err == nil {
		t.Fatal("expired token must not parse")
	}
}
