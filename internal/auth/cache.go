package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// tokenCache persists the OAuth2 token between runs so sign-in is only
// needed when the refresh token expires or is revoked.
type tokenCache struct {
	path string
}

// Load reads the cached token. Returns (nil, nil) when no token has
// been cached yet.
func (c *tokenCache) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token cache: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("failed to parse token cache: %w", err)
	}
	return &tok, nil
}

// Save writes the token with owner-only permissions.
func (c *tokenCache) Save(tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return fmt.Errorf("failed to create token cache directory: %w", err)
	}

	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	return nil
}

// Clear removes the cached token. Idempotent.
func (c *tokenCache) Clear() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear token cache: %w", err)
	}
	return nil
}
