package upstream

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"

	"github.com/anschmieg/copilot-gateway/pkg/openai"
)

// buildChatCompletionBody marshals a chat request for the wire. Tool
// parameter schemas are spliced back in with sjson's raw setters after
// the initial marshal, rather than trusted to round-trip through
// encoding/json a second time, so a caller-supplied JSON Schema reaches
// the model byte-for-byte instead of being re-canonicalized.
func buildChatCompletionBody(req *openai.ChatRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling chat completion request: %w", err)
	}

	for i, tool := range req.Tools {
		if len(tool.Function.Parameters) == 0 {
			continue
		}
		path := fmt.Sprintf("tools.%d.function.parameters", i)
		body, err = sjson.SetRawBytes(body, path, tool.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("splicing tool parameters for %q: %w", tool.Function.Name, err)
		}
	}

	return body, nil
}
