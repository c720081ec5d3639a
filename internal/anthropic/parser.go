// Package anthropic implements the Anthropic Parser: it reads a raw
// /v1/messages request body and produces a protocol.NormalizedRequest,
// tolerating the shape variation real Anthropic clients exhibit
// (content as a string or a block array, system as a string or a block
// array).
package anthropic

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anschmieg/copilot-gateway/internal/protocol"
	"github.com/anschmieg/copilot-gateway/pkg/anthropicwire"
)

// ValidationErrors collects every user-visible validation failure found
// while parsing a single request, so a caller gets one 400 response
// that names every problem instead of stopping at the first.
type ValidationErrors []string

func (v ValidationErrors) Error() string {
	return strings.Join(v, "; ")
}

// Parse decodes a raw Anthropic /v1/messages body into a normalized
// request. It returns ValidationErrors when the body is well-formed
// JSON but fails the documented field requirements, and a plain error
// when the body isn't JSON at all.
func Parse(raw []byte) (*protocol.NormalizedRequest, error) {
	var wire anthropicwire.MessagesRequest
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var errs ValidationErrors

	if strings.TrimSpace(wire.Model) == "" {
		errs = append(errs, "missing required field: model")
	}
	if wire.MaxTokens == nil {
		errs = append(errs, "missing required field: max_tokens")
	} else if *wire.MaxTokens <= 0 {
		errs = append(errs, "max_tokens must be a positive integer")
	}
	if len(wire.Messages) == 0 {
		errs = append(errs, "missing required field: messages")
	}

	messages := make([]protocol.NormalizedMessage, 0, len(wire.Messages))
	for i, m := range wire.Messages {
		if strings.TrimSpace(m.Role) == "" {
			errs = append(errs, fmt.Sprintf("messages[%d]: blank role", i))
			continue
		}

		text, structured, err := flattenContent(m.Content)
		if err != nil {
			errs = append(errs, fmt.Sprintf("messages[%d]: %v", i, err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			errs = append(errs, fmt.Sprintf("messages[%d]: blank content", i))
			continue
		}

		messages = append(messages, protocol.NormalizedMessage{
			Role:       m.Role,
			Text:       text,
			Structured: structured,
		})
	}

	if len(errs) > 0 {
		return nil, errs
	}

	system, err := flattenSystem(wire.System)
	if err != nil {
		return nil, ValidationErrors{fmt.Sprintf("system: %v", err)}
	}

	tools, err := parseTools(wire.Tools)
	if err != nil {
		return nil, ValidationErrors{fmt.Sprintf("tools: %v", err)}
	}

	req := &protocol.NormalizedRequest{
		Model:         wire.Model,
		MaxTokens:     *wire.MaxTokens,
		Messages:      messages,
		System:        system,
		Stream:        wire.Stream,
		Temperature:   wire.Temperature,
		TopP:          wire.TopP,
		TopK:          wire.TopK,
		StopSequences: wire.StopSeqs,
		Tools:         tools,
		ToolChoice:    wire.ToolChoice,
	}
	return req, nil
}

// flattenContent sniffs whether content is a plain string or a
// content-block array and returns both the flattened text view and,
// when it was an array, the original array as opaque JSON for later
// structured re-translation.
func flattenContent(raw json.RawMessage) (text string, structured json.RawMessage, err error) {
	if len(raw) == 0 {
		return "", nil, nil
	}

	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", nil, fmt.Errorf("invalid content string: %w", err)
		}
		return s, nil, nil
	}

	var blocks []anthropicwire.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", nil, fmt.Errorf("invalid content array: %w", err)
	}

	return FlattenBlocks(blocks), json.RawMessage(raw), nil
}

// FlattenBlocks joins the flattened prose for a content-block array.
func FlattenBlocks(blocks []anthropicwire.ContentBlock) string {
	lines := make([]string, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			lines = append(lines, b.Text)
		case "tool_use":
			lines = append(lines, fmt.Sprintf("I used the %s tool with parameters: %s", b.Name, string(b.Input)))
		case "tool_result":
			content := extractToolResultText(b.Content)
			if strings.TrimSpace(content) != "" {
				lines = append(lines, fmt.Sprintf("The tool execution returned: %s", content))
			} else {
				lines = append(lines, "The tool execution completed.")
			}
		default:
			lines = append(lines, fmt.Sprintf("[%s]", b.Type))
		}
	}
	return strings.Join(lines, "\n")
}

// extractToolResultText flattens a tool_result block's content, which
// may itself be a string or a nested content-block array.
func extractToolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return ""
	}
	var blocks []anthropicwire.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		return FlattenBlocks(blocks)
	}
	return ""
}

// flattenSystem sniffs whether system is a plain string or a
// content-block array and returns the flattened text view.
func flattenSystem(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid system string: %w", err)
		}
		return s, nil
	}
	var blocks []anthropicwire.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", fmt.Errorf("invalid system array: %w", err)
	}
	return FlattenBlocks(blocks), nil
}

// parseTools decodes the raw tool descriptors. Anthropic-shaped
// {name, description, input_schema} entries and OpenAI-shaped
// {type, function: {name, description, parameters}} entries are both
// accepted; any other entry is dropped with a warning.
func parseTools(raw []json.RawMessage) ([]protocol.ToolDescriptor, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	tools := make([]protocol.ToolDescriptor, 0, len(raw))
	for _, r := range raw {
		var t anthropicwire.ToolDescriptor
		if err := json.Unmarshal(r, &t); err == nil && strings.TrimSpace(t.Name) != "" {
			tools = append(tools, protocol.ToolDescriptor{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			})
			continue
		}
		var fn struct {
			Function struct {
				Name        string          `json:"name"`
				Description string          `json:"description"`
				Parameters  json.RawMessage `json:"parameters"`
			} `json:"function"`
		}
		if err := json.Unmarshal(r, &fn); err == nil && strings.TrimSpace(fn.Function.Name) != "" {
			tools = append(tools, protocol.ToolDescriptor{
				Name:        fn.Function.Name,
				Description: fn.Function.Description,
				Parameters:  fn.Function.Parameters,
			})
			continue
		}
		slog.Warn("dropping tool descriptor that matches neither the Anthropic nor the OpenAI shape")
	}
	return tools, nil
}
