// Package upstream implements the Upstream Client: the component that
// exchanges an OAuth token for a short-lived API token, lists available
// models, and performs chat-completion calls (buffered and streaming)
// against the discovered Copilot API endpoint.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/anschmieg/copilot-gateway/pkg/openai"
)

const (
	// IdentityBase is the GitHub identity API used to exchange an
	// OAuth token for a short-lived API token.
	IdentityBase = "https://api.github.com"

	// DefaultAPIEndpoint is used until endpoint discovery (the first
	// successful GetAPIToken call) overwrites it.
	DefaultAPIEndpoint = "https://api.individual.githubcopilot.com"

	defaultEditorVersion = "vscode/1.95.0"
	defaultPluginVersion = "copilot/1.0.0"
	defaultUserAgent     = "GitHub-Copilot-LLM-Provider/1.0"
)

// APIToken is the short-lived bearer credential obtained by exchanging
// an OAuth token.
type APIToken struct {
	Token     string
	ExpiresAt int64
	RefreshIn int
	Endpoints map[string]string
}

// Endpoint returns the discovered API base URL, falling back to
// DefaultAPIEndpoint if the upstream didn't advertise one.
func (t *APIToken) Endpoint() string {
	if t == nil {
		return DefaultAPIEndpoint
	}
	if ep, ok := t.Endpoints["api"]; ok && ep != "" {
		return ep
	}
	return DefaultAPIEndpoint
}

// Client wraps the GitHub Copilot backend.
type Client struct {
	httpClient    *http.Client
	identityBase  string
	editorVersion string
	pluginVersion string
	userAgent     string
}

// Option configures a Client.
type Option func(*Client)

// WithEditorVersion overrides the spoofed Editor-Version header.
func WithEditorVersion(v string) Option { return func(c *Client) { c.editorVersion = v } }

// WithPluginVersion overrides the spoofed Editor-Plugin-Version header.
func WithPluginVersion(v string) Option { return func(c *Client) { c.pluginVersion = v } }

// WithIdentityBase overrides the GitHub identity API base URL. Used by
// tests to point GetAPIToken at an httptest server.
func WithIdentityBase(base string) Option { return func(c *Client) { c.identityBase = base } }

// NewClient creates an upstream Client with a generous request/socket
// timeout (10 minutes) to accommodate slow streaming completions, and a
// tighter 30s connect timeout.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
			},
		},
		identityBase:  IdentityBase,
		editorVersion: defaultEditorVersion,
		pluginVersion: defaultPluginVersion,
		userAgent:     defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) setCommonHeaders(req *http.Request, bearer string) {
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Editor-Version", c.editorVersion)
	req.Header.Set("Editor-Plugin-Version", c.pluginVersion)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.New().String())
}

// GetAPIToken exchanges an OAuth token for a short-lived API token.
func (c *Client) GetAPIToken(ctx context.Context, oauthToken string) (*APIToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.identityBase+"/copilot_internal/v2/token", nil)
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Authorization", "token "+oauthToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting API token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading API token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyError(resp.StatusCode, string(body), resp.Header.Get("Retry-After"))
	}

	parsed := gjson.ParseBytes(body)
	token := &APIToken{
		Token:     parsed.Get("token").String(),
		ExpiresAt: parsed.Get("expires_at").Int(),
		RefreshIn: int(parsed.Get("refresh_in").Int()),
		Endpoints: map[string]string{},
	}
	parsed.Get("endpoints").ForEach(func(key, value gjson.Result) bool {
		token.Endpoints[key.String()] = value.String()
		return true
	})
	return token, nil
}

// ListModels lists the models available to apiToken against the given
// API endpoint.
func (c *Client) ListModels(ctx context.Context, apiEndpoint, apiToken string) ([]openai.Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiEndpoint+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("building models request: %w", err)
	}
	c.setCommonHeaders(req, apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading models response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyError(resp.StatusCode, string(body), resp.Header.Get("Retry-After"))
	}

	var list openai.ModelList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("parsing models response: %w", err)
	}
	return list.Data, nil
}

// claudePriority is the preference order consulted by PreferredClaudeModel.
var claudePriority = []string{
	"claude-sonnet-4",
	"claude-3.7-sonnet",
	"claude-3.5-sonnet",
	"claude-3-sonnet-20240229",
	"claude-3-haiku",
}

// PreferredClaudeModel returns the best available Claude model id
// against a fixed priority list, falling back to any model whose id
// contains "claude", then to the first listed model.
func (c *Client) PreferredClaudeModel(ctx context.Context, apiEndpoint, apiToken string) (string, error) {
	models, err := c.ListModels(ctx, apiEndpoint, apiToken)
	if err != nil {
		return "", err
	}

	ids := make(map[string]bool, len(models))
	for _, m := range models {
		ids[m.ID] = true
	}

	for _, want := range claudePriority {
		if ids[want] {
			return want, nil
		}
	}
	for _, m := range models {
		if strings.Contains(strings.ToLower(m.ID), "claude") {
			return m.ID, nil
		}
	}
	if len(models) > 0 {
		return models[0].ID, nil
	}
	return "gpt-4o", nil
}

// FallbackModelForRateLimit returns the model to retry with after a
// rate-limit event.
func (c *Client) FallbackModelForRateLimit(ctx context.Context, apiEndpoint, apiToken, current string) (string, error) {
	models, err := c.ListModels(ctx, apiEndpoint, apiToken)
	if err != nil {
		return current, err
	}

	ids := make(map[string]bool, len(models))
	for _, m := range models {
		ids[m.ID] = true
	}

	if ids["gpt-4o"] {
		return "gpt-4o", nil
	}
	for _, m := range models {
		if strings.Contains(strings.ToLower(m.ID), "gpt") {
			return m.ID, nil
		}
	}
	return current, nil
}

// ChatCompletion performs a buffered chat-completion call.
func (c *Client) ChatCompletion(ctx context.Context, apiEndpoint, apiToken string, chatReq *openai.ChatRequest) (*openai.ChatResponse, error) {
	chatReq.Stream = false
	body, err := buildChatCompletionBody(chatReq)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiEndpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building chat completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setCommonHeaders(req, apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling chat completions: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading chat completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyError(resp.StatusCode, string(respBody), resp.Header.Get("Retry-After"))
	}

	var out openai.ChatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("parsing chat completion response: %w", err)
	}
	return &out, nil
}

// ChatCompletionStream performs a streaming chat-completion call and
// returns a StreamReader the caller drains for SSE payload strings.
func (c *Client) ChatCompletionStream(ctx context.Context, apiEndpoint, apiToken string, chatReq *openai.ChatRequest) (*StreamReader, error) {
	chatReq.Stream = true
	body, err := buildChatCompletionBody(chatReq)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiEndpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building chat completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.setCommonHeaders(req, apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling streaming chat completions: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, classifyError(resp.StatusCode, string(respBody), resp.Header.Get("Retry-After"))
	}

	return newStreamReader(resp.Body), nil
}
