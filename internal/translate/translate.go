// Package translate implements two pure functions that convert between
// the normalized Anthropic request shape and the upstream OpenAI
// shape, in both directions. Neither function performs I/O or blocks.
package translate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anschmieg/copilot-gateway/internal/protocol"
	"github.com/anschmieg/copilot-gateway/pkg/anthropicwire"
	"github.com/anschmieg/copilot-gateway/pkg/openai"
)

const (
	defaultContent  = "Hello"
	defaultMessage  = "Hello"
	minMaxTokens    = 1
	maxMaxTokens    = 4096
	fallbackTokens  = 100
	minTemperature  = 0.0
	maxTemperature  = 2.0
)

// ToOpenAIRequest converts a normalized Anthropic request to the
// OpenAI-dialect shape the Upstream Client sends. model overrides the
// model carried in req (the Forwarder resolves the actual upstream
// model name; the translator just uses whatever it's given).
func ToOpenAIRequest(req *protocol.NormalizedRequest, model string) *openai.ChatRequest {
	var messages []openai.Message

	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.Message{Role: "system", Content: req.System})
	}

	for _, m := range req.Messages {
		messages = append(messages, messageToOpenAI(m))
	}

	if len(messages) == 0 {
		messages = append(messages, openai.Message{Role: "user", Content: defaultMessage})
	}

	maxTokens := clampMaxTokens(req.MaxTokens)

	out := &openai.ChatRequest{
		Model:     model,
		Messages:  messages,
		Stream:    req.Stream,
		MaxTokens: &maxTokens,
		Stop:      req.StopSequences,
	}

	if req.Temperature != nil && *req.Temperature >= minTemperature && *req.Temperature <= maxTemperature {
		out.Temperature = req.Temperature
	}
	if req.TopP != nil {
		out.TopP = req.TopP
	}
	if req.ToolChoice != nil {
		var v interface{}
		if err := json.Unmarshal(req.ToolChoice, &v); err == nil {
			out.ToolChoice = v
		}
	}

	out.Tools = toolsToOpenAI(req.Tools)

	return out
}

func clampMaxTokens(n int) int {
	if n <= 0 {
		return fallbackTokens
	}
	if n < minMaxTokens {
		return minMaxTokens
	}
	if n > maxMaxTokens {
		return maxMaxTokens
	}
	return n
}

// messageToOpenAI converts a single normalized message. When the
// original Anthropic content was a block array (Structured is set), it
// walks the blocks to separate text from tool_use/tool_result instead
// of sending the already-flattened prose, so a round trip through the
// Forwarder can reconstruct a proper tool-calls array.
func messageToOpenAI(m protocol.NormalizedMessage) openai.Message {
	if len(m.Structured) == 0 {
		content := m.Text
		if strings.TrimSpace(content) == "" {
			content = defaultContent
		}
		return openai.Message{Role: m.Role, Content: content}
	}

	var blocks []anthropicwire.ContentBlock
	if err := json.Unmarshal(m.Structured, &blocks); err != nil {
		content := m.Text
		if strings.TrimSpace(content) == "" {
			content = defaultContent
		}
		return openai.Message{Role: m.Role, Content: content}
	}

	var textParts []string
	var toolCalls []openai.ToolCall
	var toolCallID string

	for _, b := range blocks {
		switch b.Type {
		case "text":
			textParts = append(textParts, b.Text)
		case "tool_use":
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   b.ID,
				Type: "function",
				Function: openai.FunctionCall{
					Name:      b.Name,
					Arguments: string(b.Input),
				},
			})
		case "tool_result":
			toolCallID = b.ToolUseID
			if text := toolResultText(b.Content); text != "" {
				textParts = append(textParts, text)
			}
		}
	}

	out := openai.Message{
		Role:       m.Role,
		Content:    strings.Join(textParts, "\n"),
		ToolCalls:  toolCalls,
		ToolCallID: toolCallID,
	}
	if out.Content == "" && len(toolCalls) == 0 {
		out.Content = defaultContent
	}
	return out
}

func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// toolsToOpenAI converts each dialect-independent tool descriptor to
// the OpenAI shape. Since the parser only emits ToolDescriptors that
// carry a name, every entry it produces converts cleanly;
// the drop-with-warning path exists for callers that construct a
// protocol.NormalizedRequest directly (e.g. tests) with a malformed
// descriptor.
func toolsToOpenAI(tools []protocol.ToolDescriptor) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		if strings.TrimSpace(t.Name) == "" {
			slog.Warn("dropping tool descriptor with no name")
			continue
		}
		out = append(out, openai.Tool{
			Type: "function",
			Function: openai.FunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// ToAnthropicResponse converts a buffered OpenAI-dialect response into
// the Anthropic /v1/messages response shape. requestedModel is the
// model name the caller originally asked for; it is preserved in the
// response regardless of which model actually served the request.
func ToAnthropicResponse(resp *openai.ChatResponse, requestedModel string) *anthropicwire.MessagesResponse {
	var blocks []anthropicwire.ContentBlock
	hasToolUse := false

	for _, choice := range resp.Choices {
		if strings.TrimSpace(choice.Message.Content) != "" {
			blocks = append(blocks, anthropicwire.ContentBlock{Type: "text", Text: choice.Message.Content})
		}
		for _, tc := range choice.Message.ToolCalls {
			input, err := parseToolArguments(tc.Function.Arguments)
			if err != nil {
				slog.Warn("tool call arguments were not valid JSON, wrapping raw string", "tool", tc.Function.Name)
			}
			blocks = append(blocks, anthropicwire.ContentBlock{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Input: input,
			})
			hasToolUse = true
		}
	}

	if len(blocks) == 0 {
		blocks = []anthropicwire.ContentBlock{{Type: "text", Text: ""}}
	}

	stopReason := "end_turn"
	if hasToolUse {
		stopReason = "tool_use"
	} else if len(resp.Choices) > 0 {
		switch resp.Choices[0].FinishReason {
		case "stop":
			stopReason = "end_turn"
		case "length":
			stopReason = "max_tokens"
		default:
			stopReason = "end_turn"
		}
	}

	return &anthropicwire.MessagesResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      requestedModel,
		Content:    blocks,
		StopReason: stopReason,
		Usage: anthropicwire.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
}

// parseToolArguments parses a model-issued tool-call arguments string
// as JSON. The JSON is opaque and produced by the LLM, so on parse
// failure the raw string is wrapped rather than failing the whole
// response.
func parseToolArguments(raw string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return json.RawMessage("{}"), nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		wrapped, marshalErr := json.Marshal(map[string]string{"arguments": raw})
		if marshalErr != nil {
			return json.RawMessage("{}"), fmt.Errorf("arguments neither valid JSON nor encodable: %w", err)
		}
		return wrapped, err
	}
	return json.RawMessage(trimmed), nil
}
