package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anschmieg/copilot-gateway/internal/deviceauth"
	"github.com/anschmieg/copilot-gateway/internal/upstream"
	"github.com/anschmieg/copilot-gateway/pkg/tokenmask"
)

// refreshBuffer is how far ahead of expiry an API token is considered
// stale.
const refreshBuffer = 5 * time.Minute

// tokenSource is the subset of upstream.Client the Manager depends on,
// narrowed for testability.
type tokenSource interface {
	GetAPIToken(ctx context.Context, oauthToken string) (*upstream.APIToken, error)
}

// authFlow is the subset of deviceauth.Client the Manager depends on.
type authFlow interface {
	PerformDeviceAuthFlow(ctx context.Context) (*deviceauth.Result, error)
}

// Manager implements the Credential Manager: a single operation,
// ValidAPIToken, that layers proactive caching and refresh over the
// Credential Store, Device-Auth Client, and Upstream Client's
// get_api_token.
type Manager struct {
	store  *Store
	client tokenSource
	auth   authFlow

	mu               sync.Mutex
	cachedAPIToken   *upstream.APIToken
	cachedOAuthToken string
}

// NewManager builds a Manager over the given Credential Store,
// Upstream Client, and Device-Auth Client.
func NewManager(store *Store, client tokenSource, auth authFlow) *Manager {
	return &Manager{store: store, client: client, auth: auth}
}

// ValidAPIToken returns a currently-usable API token, refreshing it
// (and the OAuth token behind it, if necessary) when the cached one
// has none or is within refreshBuffer of expiry.
func (m *Manager) ValidAPIToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tokenUsableLocked() {
		return m.cachedAPIToken.Token, nil
	}
	return m.refreshLocked(ctx)
}

// ForceRefreshAPIToken clears the cached API token and fetches a fresh
// one unconditionally.
func (m *Manager) ForceRefreshAPIToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cachedAPIToken = nil
	return m.refreshLocked(ctx)
}

func (m *Manager) tokenUsableLocked() bool {
	if m.cachedAPIToken == nil {
		return false
	}
	deadline := time.Unix(m.cachedAPIToken.ExpiresAt, 0).Add(-refreshBuffer)
	return time.Now().Before(deadline)
}

func (m *Manager) refreshLocked(ctx context.Context) (string, error) {
	oauthToken, err := m.resolveOAuthTokenLocked(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving oauth token: %w", err)
	}

	apiToken, err := m.client.GetAPIToken(ctx, oauthToken)
	if err != nil {
		return "", fmt.Errorf("fetching api token: %w", err)
	}

	slog.Info("refreshed api token", "token", tokenmask.Mask(apiToken.Token))
	m.cachedAPIToken = apiToken
	return apiToken.Token, nil
}

// resolveOAuthTokenLocked implements step 1 of valid_api_token: cached
// OAuth token, else Credential Store, else device-auth.
func (m *Manager) resolveOAuthTokenLocked(ctx context.Context) (string, error) {
	if m.cachedOAuthToken != "" {
		return m.cachedOAuthToken, nil
	}

	if token, ok := m.store.ReadOAuthToken(); ok {
		m.cachedOAuthToken = token
		return token, nil
	}

	if m.auth == nil {
		return "", fmt.Errorf("no oauth token on file and no device-auth client configured")
	}

	result, err := m.auth.PerformDeviceAuthFlow(ctx)
	if err != nil {
		return "", fmt.Errorf("device authorization failed: %w", err)
	}

	if err := m.store.SaveOAuthToken(result.AccessToken, result.User); err != nil {
		return "", fmt.Errorf("saving oauth token: %w", err)
	}

	m.cachedOAuthToken = result.AccessToken
	return result.AccessToken, nil
}

// SeedOAuthToken pre-populates the in-memory OAuth token cache without
// touching the Credential Store, for CI/test use (the
// COPILOT_OAUTH_TOKEN / OAUTH_TOKEN env vars).
func (m *Manager) SeedOAuthToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cachedOAuthToken = token
}

// APIEndpoint returns the endpoint discovered by the most recent
// successful API-token fetch, or the upstream default if none has
// happened yet.
func (m *Manager) APIEndpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cachedAPIToken.Endpoint()
}
