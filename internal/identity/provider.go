// Package identity resolves the participant from the bearer token cached on
// this device and tracks which user last used the device.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"offline-contest/internal/domain"
	"offline-contest/internal/storage"

	"github.com/golang-jwt/jwt/v5"
)

type tokenClaims struct {
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// Provider reads the token from an override (environment) or a token file.
// Tokens are not verified locally; the contest service verifies them.
type Provider struct {
	tokenPath string
	override  string
	store     storage.Store

	mu sync.Mutex
}

func NewProvider(tokenPath, override string, store storage.Store) *Provider {
	return &Provider{tokenPath: tokenPath, override: strings.TrimSpace(override), store: store}
}

// Token returns the cached bearer token, or "" when none is stored.
func (p *Provider) Token() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.override != "" {
		return p.override, nil
	}
	if p.tokenPath == "" {
		return "", nil
	}
	raw, err := os.ReadFile(p.tokenPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// SaveToken caches a token for later offline use.
func (p *Provider) SaveToken(token string) error {
	if _, err := UserIDFromToken(token); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tokenPath == "" {
		return errors.New("no token path configured")
	}
	if err := os.MkdirAll(filepath.Dir(p.tokenPath), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	return os.WriteFile(p.tokenPath, []byte(strings.TrimSpace(token)+"\n"), 0o600)
}

// ClearToken forgets the cached token, e.g. after the service rejected it.
func (p *Provider) ClearToken() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.override = ""
	if p.tokenPath == "" {
		return nil
	}
	if err := os.Remove(p.tokenPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}

// CurrentUserID extracts the participant id from the cached token.
func (p *Provider) CurrentUserID() (string, error) {
	token, err := p.Token()
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", fmt.Errorf("%w: no token stored", domain.ErrUnauthorized)
	}
	return UserIDFromToken(token)
}

// UserIDFromToken reads the subject (or userId claim) without verifying the
// signature.
func UserIDFromToken(token string) (string, error) {
	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return "", fmt.Errorf("%w: malformed token: %v", domain.ErrUnauthorized, err)
	}
	if claims.Subject != "" {
		return claims.Subject, nil
	}
	if claims.UserID != "" {
		return claims.UserID, nil
	}
	return "", fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
}

// DidUserChange reports whether userID differs from the user that last used
// this device. The first user seen is not a change.
func (p *Provider) DidUserChange(ctx context.Context, userID string) (bool, error) {
	raw, err := p.store.Get(ctx, storage.KeyLastUser)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	last := string(raw)
	return last != "" && last != userID, nil
}

// RememberUser records userID as the device's current user.
func (p *Provider) RememberUser(ctx context.Context, userID string) error {
	return p.store.Set(ctx, storage.KeyLastUser, []byte(userID))
}

// ClearUserState forgets the device's last user.
func (p *Provider) ClearUserState(ctx context.Context) error {
	return p.store.Remove(ctx, storage.KeyLastUser)
}
