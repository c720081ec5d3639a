package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/anschmieg/copilot-gateway/pkg/anthropicwire"
	"github.com/anschmieg/copilot-gateway/pkg/openai"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeOpenAIError emits the OpenAI-dialect error envelope:
// `{error: {message, type, param?, code?}}`.
func writeOpenAIError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, openai.ErrorEnvelope{Error: openai.ErrorBody{
		Message: message,
		Type:    errType,
	}})
}

// writeAnthropicError emits the Anthropic-dialect error envelope:
// `{type:"error", error:{type, message}}`.
func writeAnthropicError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, anthropicwire.ErrorEnvelope{
		Type: "error",
		Error: anthropicwire.ErrorBody{
			Type:    errType,
			Message: message,
		},
	})
}
