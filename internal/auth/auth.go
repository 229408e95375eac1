// Package auth persists the API credential used to stamp queued writes.
//
// Tokens live in the offline blob store under a fixed key, so a login
// survives restarts and logout is a blob delete. The engine copies the
// token into each queued entry at enqueue time; rotating the credential
// never rewrites entries already in the queue.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/timetracker-dev/tt/internal/storage"
)

// TokenKey is the offline_data key holding the bearer token.
const TokenKey = "auth_token"

// ErrNoToken is returned when no credential has been saved.
var ErrNoToken = errors.New("not logged in")

// TokenStore reads and writes the persisted credential.
type TokenStore struct {
	store storage.Store
}

// NewTokenStore wraps an open store.
func NewTokenStore(store storage.Store) *TokenStore {
	return &TokenStore{store: store}
}

// Save persists the bearer token.
func (t *TokenStore) Save(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token is required")
	}
	if err := t.store.PutBlob(ctx, TokenKey, []byte(token)); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// Token returns the saved bearer token, or ErrNoToken when none exists.
func (t *TokenStore) Token(ctx context.Context) (string, error) {
	raw, err := t.store.GetBlob(ctx, TokenKey)
	if storage.IsNotFound(err) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// Clear removes the saved token. Clearing an absent token is not an
// error.
func (t *TokenStore) Clear(ctx context.Context) error {
	if err := t.store.DeleteBlob(ctx, TokenKey); err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	return nil
}

// Expiry reports when a JWT bearer token expires. The token is decoded
// without signature verification; the server remains the authority, this
// only drives local "login expires in ..." messaging. Tokens without an
// exp claim return the zero time.
func Expiry(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("failed to decode token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

// Expired reports whether the token carries an exp claim in the past.
// Undecodable tokens and tokens without exp report false; the server
// rejects them on delivery if they are actually bad.
func Expired(token string, now time.Time) bool {
	exp, err := Expiry(token)
	if err != nil || exp.IsZero() {
		return false
	}
	return exp.Before(now)
}
