package token

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testKeyring(t *testing.T) *Keyring {
	t.Helper()
	secret := base64.RawURLEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	kr, err := NewKeyring("HS256", map[string]string{"k1": secret}, "k1", "trailchat", 30)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	return kr
}

func TestSignVerify_RoundTrip(t *testing.T) {
	kr := testKeyring(t)

	tok, err := kr.Sign("user-1", "a@b.io", "user", time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	claims, err := kr.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "a@b.io" || claims.Role != "user" {
		t.Errorf("claims mismatch: %+v", claims)
	}
	if claims.ID == "" {
		t.Error("expected a jti")
	}
	left := kr.Remaining(claims)
	if left <= 59*time.Minute || left > time.Hour {
		t.Errorf("unexpected remaining validity %v", left)
	}
}

func TestSign_ClampsTTL(t *testing.T) {
	kr := testKeyring(t)
	kr.MaxTTL = time.Hour

	tok, err := kr.Sign("user-1", "a@b.io", "user", 48*time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	claims, err := kr.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got := kr.Remaining(claims); got > time.Hour {
		t.Errorf("TTL not clamped: %v left", got)
	}
}

func TestSign_RequiresSubject(t *testing.T) {
	kr := testKeyring(t)
	if _, err := kr.Sign("", "a@b.io", "user", time.Hour); !errors.Is(err, ErrSubjectMissing) {
		t.Errorf("expected ErrSubjectMissing, got %v", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	kr := testKeyring(t)
	base := time.Now()
	kr.nowFunc = func() time.Time { return base }

	tok, err := kr.Sign("user-1", "a@b.io", "user", time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	// Verification clock well past expiry (beyond parser leeway).
	kr.nowFunc = func() time.Time { return base.Add(2 * time.Hour) }
	if _, err := kr.Verify(tok); err == nil {
		t.Error("expected expired token to fail verification")
	} else if !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerify_IssuerMismatch(t *testing.T) {
	kr := testKeyring(t)
	other := testKeyring(t)
	other.Issuer = "someone-else"

	tok, err := other.Sign("user-1", "a@b.io", "user", time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := kr.Verify(tok); !errors.Is(err, ErrIssuerMismatch) {
		t.Errorf("expected ErrIssuerMismatch, got %v", err)
	}
}

func TestVerify_UnknownKID(t *testing.T) {
	kr := testKeyring(t)
	secret := base64.RawURLEncoding.EncodeToString([]byte("fedcba9876543210fedcba9876543210"))
	other, err := NewKeyring("HS256", map[string]string{"k2": secret}, "k2", "trailchat", 30)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	tok, err := other.Sign("user-1", "a@b.io", "user", time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := kr.Verify(tok); !errors.Is(err, ErrUnknownKID) {
		t.Errorf("expected ErrUnknownKID, got %v", err)
	}
}

func TestVerify_GarbageToken(t *testing.T) {
	kr := testKeyring(t)
	for _, tok := range []string{"", "not-a-jwt", strings.Repeat("x", 200)} {
		if _, err := kr.Verify(tok); err == nil {
			t.Errorf("expected error for %q", tok)
		}
	}
}

func TestNewKeyring_Rejections(t *testing.T) {
	good := base64.RawURLEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	if _, err := NewKeyring("none", map[string]string{"k1": good}, "k1", "x", 0); err == nil {
		t.Error("alg none accepted")
	}
	if _, err := NewKeyring("HS256", map[string]string{"k1": "!!!"}, "k1", "x", 0); err == nil {
		t.Error("non-base64url key accepted")
	}
	short := base64.RawURLEncoding.EncodeToString([]byte("short"))
	if _, err := NewKeyring("HS256", map[string]string{"k1": short}, "k1", "x", 0); err == nil {
		t.Error("short key accepted")
	}
	if _, err := NewKeyring("HS256", map[string]string{"k1": good}, "missing", "x", 0); err == nil {
		t.Error("missing current kid accepted")
	}
}
