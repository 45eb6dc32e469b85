// Package auth acquires Microsoft Entra access tokens for the Field
// Service Web API.
//
// Token acquisition is silent-first: a cached token is reused while
// valid, then refreshed via its refresh token. Only when both fail does
// the manager fall back to the OAuth2 device-code flow, and only when
// interactive mode is enabled. Non-interactive callers get
// ErrAuthRequired instead of a hung prompt.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// ErrAuthRequired indicates no usable session exists and the caller
// must run an interactive sign-in.
var ErrAuthRequired = errors.New("sign-in required, run 'fieldboard login'")

// Config holds the Entra application registration details.
type Config struct {
	// TenantID is the Entra directory (tenant) id.
	TenantID string

	// ClientID is the registered public-client application id.
	ClientID string

	// OrgID is the Dynamics organization, used to build the default
	// Web API scope.
	OrgID string

	// Scopes overrides the default scope set when non-empty.
	Scopes []string

	// CachePath is where the token is persisted between runs.
	CachePath string

	// Interactive enables the device-code fallback. Leave false for
	// headless invocations.
	Interactive bool

	// Logger receives auth flow messages. Defaults to stderr.
	Logger *log.Logger

	// Notify is called with the device-code details when an
	// interactive sign-in starts. Defaults to printing on the logger.
	Notify func(userCode, verificationURI string)
}

// Manager produces access tokens for the Dynamics Web API. It is safe
// for concurrent use; acquisition is serialized so parallel callers
// never trigger duplicate sign-ins.
type Manager struct {
	oauth       oauth2.Config
	cache       *tokenCache
	interactive bool
	notify      func(userCode, verificationURI string)
	logger      *log.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// NewManager creates a token manager for the given registration.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if cfg.OrgID == "" && len(cfg.Scopes) == 0 {
		return nil, fmt.Errorf("org id or explicit scopes required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{
			fmt.Sprintf("https://%s.api.crm4.dynamics.com/.default", cfg.OrgID),
			"offline_access",
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[auth] ", log.LstdFlags)
	}

	notify := cfg.Notify
	if notify == nil {
		notify = func(userCode, verificationURI string) {
			logger.Printf("To sign in, open %s and enter code %s", verificationURI, userCode)
		}
	}

	return &Manager{
		oauth: oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: microsoft.AzureADEndpoint(cfg.TenantID),
			Scopes:   scopes,
		},
		cache:       &tokenCache{path: cfg.CachePath},
		interactive: cfg.Interactive,
		notify:      notify,
		logger:      logger,
	}, nil
}

// AcquireToken returns a valid access token. Satisfies
// dynamics.TokenSource.
func (m *Manager) AcquireToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token.Valid() {
		return m.token.AccessToken, nil
	}

	tok, err := m.silent(ctx)
	if err == nil {
		m.token = tok
		return tok.AccessToken, nil
	}

	if !m.interactive {
		return "", fmt.Errorf("no cached session: %w", ErrAuthRequired)
	}

	tok, err = m.deviceFlow(ctx)
	if err != nil {
		return "", err
	}
	m.token = tok
	return tok.AccessToken, nil
}

// SignIn runs the interactive device-code flow unconditionally and
// caches the result. Used by the login command.
func (m *Manager) SignIn(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.deviceFlow(ctx)
	if err != nil {
		return err
	}
	m.token = tok
	return nil
}

// SignOut drops the in-memory token and clears the cache.
func (m *Manager) SignOut() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = nil
	return m.cache.Clear()
}

// silent tries the cached token as-is, then a refresh. Callers hold
// the mutex.
func (m *Manager) silent(ctx context.Context) (*oauth2.Token, error) {
	cached, err := m.cache.Load()
	if err != nil {
		m.logger.Printf("Warning: discarding unreadable token cache: %v", err)
		cached = nil
	}
	if cached == nil {
		return nil, fmt.Errorf("no cached token")
	}
	if cached.Valid() {
		return cached, nil
	}
	if cached.RefreshToken == "" {
		return nil, fmt.Errorf("cached token expired without refresh token")
	}

	tok, err := m.oauth.TokenSource(ctx, cached).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	if err := m.cache.Save(tok); err != nil {
		m.logger.Printf("Warning: failed to cache refreshed token: %v", err)
	}
	return tok, nil
}

// deviceFlow runs the OAuth2 device-code grant. Callers hold the
// mutex.
func (m *Manager) deviceFlow(ctx context.Context) (*oauth2.Token, error) {
	resp, err := m.oauth.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start device sign-in: %w", err)
	}

	m.notify(resp.UserCode, resp.VerificationURI)

	tok, err := m.oauth.DeviceAccessToken(ctx, resp)
	if err != nil {
		return nil, fmt.Errorf("device sign-in failed: %w", err)
	}

	if err := m.cache.Save(tok); err != nil {
		m.logger.Printf("Warning: failed to cache token: %v", err)
	}
	return tok, nil
}
