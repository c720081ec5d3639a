// Package protocol holds the dialect-independent request shape that
// sits between the Anthropic Parser and the Translator.
package protocol

import "encoding/json"

// NormalizedRequest is the dialect-independent intermediate a parsed
// Anthropic request (or, in principle, any other dialect) is reduced
// to before translation to the upstream OpenAI shape.
type NormalizedRequest struct {
	Model         string
	MaxTokens     int
	Messages      []NormalizedMessage
	System        string
	Stream        bool
	Temperature   *float64
	TopP          *float64
	TopK          *int
	StopSequences []string
	Tools         []ToolDescriptor
	ToolChoice    json.RawMessage
}

// NormalizedMessage is one message in a NormalizedRequest. Structured
// carries the original Anthropic content-block array verbatim (as
// opaque JSON) when the source message's content was an array, so the
// Translator can reconstruct tool-use/tool-result round-trips instead
// of working only from the flattened Text.
type NormalizedMessage struct {
	Role       string
	Text       string
	Structured json.RawMessage
}

// ToolDescriptor is a dialect-independent tool definition. Parameters
// is kept as a raw JSON schema so it can be spliced into the outbound
// request without re-serialization.
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}
