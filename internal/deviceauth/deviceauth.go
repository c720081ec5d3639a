// Package deviceauth implements the Device-Auth Client: the OAuth 2.0
// device-authorization grant used to mint an OAuth token when the
// Credential Store has none on file.
package deviceauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anschmieg/copilot-gateway/pkg/tokenmask"
)

const (
	// DefaultDeviceCodeURL and DefaultTokenURL are GitHub's device-flow
	// endpoints.
	DefaultDeviceCodeURL = "https://github.com/login/device/code"
	DefaultTokenURL      = "https://github.com/login/oauth/access_token"
	DefaultIdentityURL   = "https://api.github.com/user"

	defaultScope      = "read:user"
	maxPollAttempts   = 60
	slowDownIncrement = 5 * time.Second
)

// Launcher opens a URL in the user's browser. PrintFallback is used
// when none is wired in.
type Launcher func(url string) error

// PrintFallback prints the verification URI and code instead of
// opening a browser, matching the "fall back to printing" step of the
// device-authorization contract.
func PrintFallback(verificationURI, userCode string) {
	fmt.Printf("To authenticate, visit %s and enter code: %s\n", verificationURI, userCode)
}

// deviceCodeResponse is the provider's response to the device-code
// request.
type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// tokenPollResponse is one poll's response body; exactly one of
// AccessToken or Error is populated.
type tokenPollResponse struct {
	AccessToken string `json:"access_token"`
	Error       string `json:"error"`
}

// Errors returned by PerformDeviceAuthFlow on terminal failure.
var (
	ErrExpired       = fmt.Errorf("device code expired before authorization")
	ErrDenied        = fmt.Errorf("user denied authorization")
	ErrPollExhausted = fmt.Errorf("exceeded maximum device-auth poll attempts")
)

// Client drives the device-authorization grant against a GitHub-shaped
// OAuth provider.
type Client struct {
	httpClient    *http.Client
	deviceCodeURL string
	tokenURL      string
	identityURL   string
	clientID      string
	launcher      Launcher
}

// Option configures a Client.
type Option func(*Client)

// WithLauncher overrides the browser launcher invoked to present the
// verification URI to the user.
func WithLauncher(l Launcher) Option { return func(c *Client) { c.launcher = l } }

// WithDeviceCodeURL overrides the device-code endpoint (tests).
func WithDeviceCodeURL(u string) Option { return func(c *Client) { c.deviceCodeURL = u } }

// WithTokenURL overrides the polling endpoint (tests).
func WithTokenURL(u string) Option { return func(c *Client) { c.tokenURL = u } }

// WithIdentityURL overrides the identity endpoint (tests).
func WithIdentityURL(u string) Option { return func(c *Client) { c.identityURL = u } }

// NewClient creates a device-auth Client for the given OAuth client ID.
func NewClient(clientID string, opts ...Option) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		deviceCodeURL: DefaultDeviceCodeURL,
		tokenURL:      DefaultTokenURL,
		identityURL:   DefaultIdentityURL,
		clientID:      clientID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// requestDeviceCode implements step 1 of the grant.
func (c *Client) requestDeviceCode(ctx context.Context) (*deviceCodeResponse, error) {
	form := url.Values{"client_id": {c.clientID}, "scope": {defaultScope}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.deviceCodeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building device code request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting device code: %w", err)
	}
	defer resp.Body.Close()

	var out deviceCodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("parsing device code response: %w", err)
	}
	if out.Interval <= 0 {
		out.Interval = 5
	}
	return &out, nil
}

// presentToUser implements step 2: launch a browser, or print the
// fallback instructions if no launcher is wired in or it fails.
func (c *Client) presentToUser(code *deviceCodeResponse) {
	target := fmt.Sprintf("%s?user_code=%s", code.VerificationURI, code.UserCode)
	if c.launcher != nil {
		if err := c.launcher(target); err == nil {
			return
		}
		slog.Warn("browser launcher failed, falling back to printed instructions")
	}
	PrintFallback(code.VerificationURI, code.UserCode)
}

// pollForAccessToken implements step 3.
func (c *Client) pollForAccessToken(ctx context.Context, code *deviceCodeResponse) (string, error) {
	interval := time.Duration(code.Interval) * time.Second

	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}

		form := url.Values{
			"client_id":   {c.clientID},
			"device_code": {code.DeviceCode},
			"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return "", fmt.Errorf("building token poll request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("polling for access token: %w", err)
		}
		var body tokenPollResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if decodeErr != nil {
			return "", fmt.Errorf("parsing token poll response: %w", decodeErr)
		}

		if resp.StatusCode == http.StatusOK && body.AccessToken != "" {
			return body.AccessToken, nil
		}

		switch body.Error {
		case "authorization_pending":
			continue
		case "slow_down":
			interval += slowDownIncrement
			continue
		case "expired_token":
			return "", ErrExpired
		case "access_denied":
			return "", ErrDenied
		default:
			return "", fmt.Errorf("device auth polling failed: %s", body.Error)
		}
	}
	return "", ErrPollExhausted
}

// identifyUser implements step 4: retrieve the login name bound to
// accessToken, for provenance recording in the credentials file.
func (c *Client) identifyUser(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.identityURL, nil)
	if err != nil {
		return "", fmt.Errorf("building identity request: %w", err)
	}
	req.Header.Set("Authorization", "token "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting user identity: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Login string `json:"login"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("parsing identity response: %w", err)
	}
	return out.Login, nil
}

// Result is the outcome of a completed device-authorization flow.
type Result struct {
	AccessToken string
	User        string
}

// PerformDeviceAuthFlow runs the full grant: request a device code,
// present it to the user, poll until authorized, and identify the
// resulting user.
func (c *Client) PerformDeviceAuthFlow(ctx context.Context) (*Result, error) {
	code, err := c.requestDeviceCode(ctx)
	if err != nil {
		return nil, err
	}

	c.presentToUser(code)

	accessToken, err := c.pollForAccessToken(ctx, code)
	if err != nil {
		return nil, err
	}

	user, err := c.identifyUser(ctx, accessToken)
	if err != nil {
		slog.Warn("device auth succeeded but identity lookup failed", "error", err)
	}

	slog.Info("device authorization flow complete", "user", user, "token", tokenmask.Mask(accessToken))
	return &Result{AccessToken: accessToken, User: user}, nil
}
