// Package anthropicwire contains the wire types for the Anthropic-shaped
// /v1/messages dialect this gateway accepts from callers and emits
// responses in. Anthropic requests are loosely typed in practice:
// content and system fields may be a plain string or a content-block
// array, so this package also defines the raw-JSON shims the parser
// uses to tolerate that polymorphism; see internal/anthropic.
package anthropicwire

import "encoding/json"

// MessagesRequest is a raw Anthropic /v1/messages request body, decoded
// loosely: Content and System are kept as json.RawMessage because
// real clients send either a string or an array there.
type MessagesRequest struct {
	Model       string          `json:"model"`
	MaxTokens   *int            `json:"max_tokens"`
	Messages    []RawMessage    `json:"messages"`
	System      json.RawMessage `json:"system,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	TopK        *int            `json:"top_k,omitempty"`
	StopSeqs    []string        `json:"stop_sequences,omitempty"`
	Tools       []json.RawMessage `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
}

// RawMessage is a single Anthropic message with Content left as raw
// JSON so the parser can sniff whether it's a string or a block array.
type RawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentBlock is one element of an Anthropic content-block array.
// Only the fields relevant to a given Type are populated.
type ContentBlock struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "tool_use"
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ToolDescriptor is an Anthropic-shaped tool definition.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// MessagesResponse is the response shape of a buffered /v1/messages call.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// Usage reports Anthropic-dialect token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ErrorEnvelope is the error body shape returned on the Anthropic-dialect surface.
type ErrorEnvelope struct {
	Type  string    `json:"type"`
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the error details of an ErrorEnvelope.
type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
