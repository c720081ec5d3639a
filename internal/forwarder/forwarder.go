// Package forwarder implements the Forwarder: the retry-and-fallback
// state machine wrapping every upstream call, and the four
// buffered/streaming x OpenAI/Anthropic operations built on top of it.
package forwarder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/anschmieg/copilot-gateway/internal/anthropic"
	"github.com/anschmieg/copilot-gateway/internal/metering"
	"github.com/anschmieg/copilot-gateway/internal/translate"
	"github.com/anschmieg/copilot-gateway/internal/upstream"
	"github.com/anschmieg/copilot-gateway/pkg/anthropicwire"
	"github.com/anschmieg/copilot-gateway/pkg/openai"
)

// maxTokenRetries bounds the token-expiry retry loop.
const maxTokenRetries = 1

// tokenProvider is the subset of credentials.Manager the Forwarder
// depends on.
type tokenProvider interface {
	ValidAPIToken(ctx context.Context) (string, error)
	ForceRefreshAPIToken(ctx context.Context) (string, error)
	APIEndpoint() string
}

// upstreamClient is the subset of upstream.Client the Forwarder
// depends on.
type upstreamClient interface {
	PreferredClaudeModel(ctx context.Context, apiEndpoint, apiToken string) (string, error)
	FallbackModelForRateLimit(ctx context.Context, apiEndpoint, apiToken, current string) (string, error)
	ChatCompletion(ctx context.Context, apiEndpoint, apiToken string, req *openai.ChatRequest) (*openai.ChatResponse, error)
	ChatCompletionStream(ctx context.Context, apiEndpoint, apiToken string, req *openai.ChatRequest) (*upstream.StreamReader, error)
}

// Forwarder wraps the Upstream Client with the model-selection and
// retry-and-fallback algorithm.
type Forwarder struct {
	tokens tokenProvider
	client upstreamClient
	meter  *metering.Meter

	mu                   sync.Mutex
	sessionFallbackModel string
}

// New builds a Forwarder over a Credential Manager and an Upstream
// Client. meter may be nil (metering disabled).
func New(tokens tokenProvider, client upstreamClient, meter *metering.Meter) *Forwarder {
	return &Forwarder{tokens: tokens, client: client, meter: meter}
}

// claudePrefixMap is consulted by initialSelection, in priority order.
var claudePrefixMap = []struct {
	prefix string
	model  string
}{
	{"claude-3.7-", "claude-3.7-sonnet"},
	{"claude-3.5-", "claude-3.5-sonnet"},
}

// initialSelection implements the pure string-match model mapping.
func initialSelection(requested string) string {
	for _, m := range claudePrefixMap {
		if strings.HasPrefix(requested, m.prefix) {
			return m.model
		}
	}
	if strings.HasPrefix(requested, "claude-") {
		return "claude-sonnet-4"
	}
	if strings.HasPrefix(requested, "gpt-4") {
		return "gpt-4o"
	}
	if strings.HasPrefix(requested, "gpt-3.5") {
		return "gpt-3.5-turbo"
	}
	return requested
}

// actualBestModel defers to preferred_claude_model only when the
// caller asked for a Claude variant.
func (f *Forwarder) actualBestModel(ctx context.Context, requested, apiEndpoint, apiToken string) string {
	selected := initialSelection(requested)
	if !strings.HasPrefix(requested, "claude-") {
		return selected
	}
	preferred, err := f.client.PreferredClaudeModel(ctx, apiEndpoint, apiToken)
	if err != nil {
		slog.Warn("preferred claude model lookup failed, using initial selection", "error", err)
		return selected
	}
	return preferred
}

func (f *Forwarder) currentModel(requested string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionFallbackModel != "" {
		return f.sessionFallbackModel
	}
	return initialSelection(requested)
}

func (f *Forwarder) setSessionFallbackModel(model string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionFallbackModel != model {
		slog.Info("session fallback model changed", "model", model)
	}
	f.sessionFallbackModel = model
}

// op is one upstream call, parameterized over the token/model it
// should use.
type op[T any] func(ctx context.Context, apiEndpoint, apiToken, model string) (T, error)

// executeWithRetryAndFallback implements the retry-and-fallback
// algorithm, generic over the upstream call's return type so it serves
// both the buffered and streaming operations.
func executeWithRetryAndFallback[T any](ctx context.Context, f *Forwarder, requestedModel string, call op[T]) (T, error) {
	var zero T
	model := f.currentModel(requestedModel)

	var lastErr error
	for attempt := 0; attempt <= maxTokenRetries; attempt++ {
		var (
			token string
			err   error
		)
		if attempt == 0 {
			token, err = f.tokens.ValidAPIToken(ctx)
		} else {
			token, err = f.tokens.ForceRefreshAPIToken(ctx)
		}
		if err != nil {
			return zero, fmt.Errorf("obtaining api token: %w", err)
		}

		apiEndpoint := f.tokens.APIEndpoint()
		// Session stickiness takes priority over re-deriving the best
		// model on the first attempt: once a rate-limit event has
		// pinned a fallback model, every later call uses it
		// unconditionally.
		if attempt == 0 && !f.sessionFallbackSet() {
			model = f.actualBestModel(ctx, requestedModel, apiEndpoint, token)
		}

		result, callErr := call(ctx, apiEndpoint, token, model)
		if callErr == nil {
			return result, nil
		}

		switch callErr.(type) {
		case *upstream.TokenExpiredError:
			lastErr = callErr
			slog.Info("token expired, refreshing and retrying", "attempt", attempt)
			continue
		case *upstream.RateLimitError:
			newModel, fbErr := f.client.FallbackModelForRateLimit(ctx, apiEndpoint, token, model)
			if fbErr != nil || newModel == model {
				return zero, callErr
			}
			f.setSessionFallbackModel(newModel)
			return call(ctx, apiEndpoint, token, newModel)
		default:
			return zero, callErr
		}
	}
	return zero, lastErr
}

func (f *Forwarder) sessionFallbackSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionFallbackModel != ""
}

// recordUsage pushes a completion's accounting into the usage meter,
// if one is configured. Never fails the caller.
func (f *Forwarder) recordUsage(user, model string, resp *openai.ChatResponse) {
	if f.meter == nil || resp == nil {
		return
	}
	f.meter.Record(metering.Record{
		User:         user,
		Model:        model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	})
}

// CompleteOpenAI performs a buffered chat-completion call already in
// the OpenAI dialect, returning an OpenAI-shaped response.
func (f *Forwarder) CompleteOpenAI(ctx context.Context, user string, req *openai.ChatRequest) (*openai.ChatResponse, error) {
	resp, err := executeWithRetryAndFallback(ctx, f, req.Model, func(ctx context.Context, apiEndpoint, token, model string) (*openai.ChatResponse, error) {
		req.Model = model
		return f.client.ChatCompletion(ctx, apiEndpoint, token, req)
	})
	if err != nil {
		return nil, err
	}
	f.recordUsage(user, req.Model, resp)
	return resp, nil
}

// StreamOpenAI performs a streaming chat-completion call already in
// the OpenAI dialect, returning the raw upstream SSE reader.
func (f *Forwarder) StreamOpenAI(ctx context.Context, req *openai.ChatRequest) (*upstream.StreamReader, error) {
	return executeWithRetryAndFallback(ctx, f, req.Model, func(ctx context.Context, apiEndpoint, token, model string) (*upstream.StreamReader, error) {
		req.Model = model
		req.Stream = true
		return f.client.ChatCompletionStream(ctx, apiEndpoint, token, req)
	})
}

// CompleteAnthropic performs a buffered chat completion for a
// normalized Anthropic request and translates the result back into
// the Anthropic response shape.
func (f *Forwarder) CompleteAnthropic(ctx context.Context, user string, raw []byte) (*anthropicwire.MessagesResponse, error) {
	normalized, err := anthropic.Parse(raw)
	if err != nil {
		return nil, err
	}

	openaiResp, err := executeWithRetryAndFallback(ctx, f, normalized.Model, func(ctx context.Context, apiEndpoint, token, model string) (*openai.ChatResponse, error) {
		req := translate.ToOpenAIRequest(normalized, model)
		return f.client.ChatCompletion(ctx, apiEndpoint, token, req)
	})
	if err != nil {
		return nil, err
	}

	f.recordUsage(user, normalized.Model, openaiResp)
	return translate.ToAnthropicResponse(openaiResp, normalized.Model), nil
}

// StreamAnthropic performs a streaming chat completion for a
// normalized Anthropic request. The caller relays the returned
// StreamReader's raw OpenAI-shaped payloads verbatim; translating a
// streamed response back into Anthropic-dialect SSE events is not
// implemented.
func (f *Forwarder) StreamAnthropic(ctx context.Context, raw []byte) (*upstream.StreamReader, error) {
	normalized, err := anthropic.Parse(raw)
	if err != nil {
		return nil, err
	}

	return executeWithRetryAndFallback(ctx, f, normalized.Model, func(ctx context.Context, apiEndpoint, token, model string) (*upstream.StreamReader, error) {
		req := translate.ToOpenAIRequest(normalized, model)
		req.Stream = true
		return f.client.ChatCompletionStream(ctx, apiEndpoint, token, req)
	})
}
