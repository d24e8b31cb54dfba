package identity

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"offline-contest/internal/domain"
	"offline-contest/internal/infra/memory"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("any-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestTokenFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth", "token")
	p := NewProvider(path, "", memory.NewKVStore())

	if tok, err := p.Token(); err != nil || tok != "" {
		t.Fatalf("expected empty token, got %q %v", tok, err)
	}
	if _, err := p.CurrentUserID(); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized without token, got %v", err)
	}

	if err := p.SaveToken(signedToken(t, jwt.MapClaims{"sub": "user-42"})); err != nil {
		t.Fatalf("save token: %v", err)
	}
	id, err := p.CurrentUserID()
	if err != nil || id != "user-42" {
		t.Fatalf("expected user-42, got %q %v", id, err)
	}

	if err := p.ClearToken(); err != nil {
		t.Fatalf("clear token: %v", err)
	}
	if tok, _ := p.Token(); tok != "" {
		t.Fatalf("expected token removed, got %q", tok)
	}
}

func TestOverrideWinsAndUserIDClaim(t *testing.T) {
	p := NewProvider(filepath.Join(t.TempDir(), "token"), signedToken(t, jwt.MapClaims{"userId": "alt"}), memory.NewKVStore())
	id, err := p.CurrentUserID()
	if err != nil || id != "alt" {
		t.Fatalf("expected userId claim, got %q %v", id, err)
	}
}

func TestSaveTokenRejectsGarbage(t *testing.T) {
	p := NewProvider(filepath.Join(t.TempDir(), "token"), "", memory.NewKVStore())
	if err := p.SaveToken("not-a-jwt"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected malformed token error, got %v", err)
	}
}

func TestDidUserChange(t *testing.T) {
	ctx := context.Background()
	p := NewProvider("", "", memory.NewKVStore())

	changed, err := p.DidUserChange(ctx, "a")
	if err != nil || changed {
		t.Fatalf("first user must not count as a change, got %v %v", changed, err)
	}
	if err := p.RememberUser(ctx, "a"); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if changed, _ := p.DidUserChange(ctx, "a"); changed {
		t.Fatalf("same user reported as change")
	}
	if changed, _ := p.DidUserChange(ctx, "b"); !changed {
		t.Fatalf("expected different user to be a change")
	}
	if err := p.ClearUserState(ctx); err != nil {
		t.Fatalf("clear user state: %v", err)
	}
	if changed, _ := p.DidUserChange(ctx, "b"); changed {
		t.Fatalf("expected no change after clearing")
	}
}
