package roomapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// TokenStore is the single shared source of truth for the provider bearer
// credential. The device controller, the adapter's recovery path and any
// background refresh all read through it, so the value is never captured in a
// closure anywhere. Implements device.CredentialProvider.
type TokenStore struct {
	refreshURL string
	http       *http.Client

	mu    sync.Mutex
	token string
}

// NewTokenStore creates a store seeded with an initial token. refreshURL may
// be empty when no refresh endpoint is available; Refresh then fails and the
// caller surfaces a re-authenticate condition.
func NewTokenStore(refreshURL, initial string) *TokenStore {
	return &TokenStore{
		refreshURL: refreshURL,
		token:      initial,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Set replaces the stored credential.
func (s *TokenStore) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Token returns the current credential, refreshing when none is held yet.
func (s *TokenStore) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	tok := s.token
	s.mu.Unlock()
	if tok != "" {
		return tok, nil
	}
	return s.Refresh(ctx)
}

// Refresh obtains a fresh credential from the auth backend and stores it.
func (s *TokenStore) Refresh(ctx context.Context) (string, error) {
	if s.refreshURL == "" {
		return "", errors.New("roomapi: no token refresh endpoint configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.refreshURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("roomapi: token refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("roomapi: token refresh status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("roomapi: decode token refresh: %w", err)
	}
	if body.AccessToken == "" {
		return "", errors.New("roomapi: token refresh returned empty token")
	}

	s.Set(body.AccessToken)
	return body.AccessToken, nil
}
