package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anschmieg/copilot-gateway/internal/anthropic"
	"github.com/anschmieg/copilot-gateway/internal/upstream"
	"github.com/anschmieg/copilot-gateway/pkg/anthropicwire"
	"github.com/anschmieg/copilot-gateway/pkg/openai"
)

type fakeForwarder struct {
	chatResp      *openai.ChatResponse
	chatErr       error
	anthropicResp *anthropicwire.MessagesResponse
	anthropicErr  error
	lastCaller    string
}

func (f *fakeForwarder) CompleteOpenAI(ctx context.Context, user string, req *openai.ChatRequest) (*openai.ChatResponse, error) {
	f.lastCaller = user
	return f.chatResp, f.chatErr
}

func (f *fakeForwarder) StreamOpenAI(ctx context.Context, req *openai.ChatRequest) (*upstream.StreamReader, error) {
	return nil, nil
}

func (f *fakeForwarder) CompleteAnthropic(ctx context.Context, user string, raw []byte) (*anthropicwire.MessagesResponse, error) {
	f.lastCaller = user
	if f.anthropicErr != nil {
		return nil, f.anthropicErr
	}
	if f.anthropicResp != nil {
		return f.anthropicResp, nil
	}
	// exercise the real parser so invalid bodies surface real errors.
	if _, err := anthropic.Parse(raw); err != nil {
		return nil, err
	}
	return &anthropicwire.MessagesResponse{}, nil
}

func (f *fakeForwarder) StreamAnthropic(ctx context.Context, raw []byte) (*upstream.StreamReader, error) {
	return nil, nil
}

func TestHandleHealth(t *testing.T) {
	s := New(&fakeForwarder{}, AuthConfig{DisableAuth: true})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Errorf("body = %q, want OK", rec.Body.String())
	}
}

func TestHandleRoot(t *testing.T) {
	s := New(&fakeForwarder{}, AuthConfig{DisableAuth: true})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["name"] != serviceName {
		t.Errorf("name = %q, want %q", body["name"], serviceName)
	}
}

func TestOpenAIChatCompletions_HappyPath(t *testing.T) {
	fwd := &fakeForwarder{chatResp: &openai.ChatResponse{
		ID: "chatcmpl-1",
		Choices: []openai.Choice{{
			Message:      openai.Message{Role: "assistant", Content: "Hello"},
			FinishReason: "stop",
		}},
	}}
	s := New(fwd, AuthConfig{DisableAuth: true})

	body := `{"model":"gpt-4","messages":[{"role":"user","content":"Hi"}],"stream":false}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp openai.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if resp.Choices[0].Message.Content != "Hello" {
		t.Errorf("content = %q, want Hello", resp.Choices[0].Message.Content)
	}
}

func TestOpenAIChatCompletions_MissingModel(t *testing.T) {
	s := New(&fakeForwarder{}, AuthConfig{DisableAuth: true})

	body := `{"messages":[{"role":"user","content":"Hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAnthropicMessages_InvalidRequest(t *testing.T) {
	s := New(&fakeForwarder{}, AuthConfig{DisableAuth: true})

	body := `{"messages":[]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
	var envelope anthropicwire.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if envelope.Error.Type != "invalid_request_error" {
		t.Errorf("error.type = %q, want invalid_request_error", envelope.Error.Type)
	}
}

func TestIngressAuth_RejectsMissingBearer(t *testing.T) {
	s := New(&fakeForwarder{}, AuthConfig{ValidAPIKeys: []string{"secret"}})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestIngressAuth_AcceptsValidBearer(t *testing.T) {
	fwd := &fakeForwarder{chatResp: &openai.ChatResponse{Choices: []openai.Choice{{Message: openai.Message{Content: "hi"}}}}}
	s := New(fwd, AuthConfig{ValidAPIKeys: []string{"secret"}})

	body := `{"model":"gpt-4","messages":[{"role":"user","content":"Hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if fwd.lastCaller != "secret" {
		t.Errorf("caller = %q, want secret", fwd.lastCaller)
	}
}

