package httpapi

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anschmieg/copilot-gateway/internal/anthropic"
	"github.com/anschmieg/copilot-gateway/internal/upstream"
	"github.com/anschmieg/copilot-gateway/pkg/openai"
)

// handleOpenAIChatCompletions implements POST /v1/chat/completions.
func (s *Server) handleOpenAIChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body: "+err.Error())
		return
	}
	if req.Model == "" {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "missing required field: model")
		return
	}
	if len(req.Messages) == 0 {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "missing required field: messages")
		return
	}

	caller := callerFromContext(r.Context())

	if req.Stream {
		stream, err := s.forward.StreamOpenAI(r.Context(), &req)
		if err != nil {
			writeOpenAIError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		relaySSE(w, r, stream)
		return
	}

	resp, err := s.forward.CompleteOpenAI(r.Context(), caller, &req)
	if err != nil {
		slog.Error("openai completion failed", "error", err)
		writeOpenAIError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAnthropicMessages implements POST /v1/messages.
func (s *Server) handleAnthropicMessages(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "could not read request body")
		return
	}

	caller := callerFromContext(r.Context())

	if wantsStream(raw) {
		stream, err := s.forward.StreamAnthropic(r.Context(), raw)
		if err != nil {
			writeAnthropicErrForForward(w, err)
			return
		}
		relaySSE(w, r, stream)
		return
	}

	resp, err := s.forward.CompleteAnthropic(r.Context(), caller, raw)
	if err != nil {
		writeAnthropicErrForForward(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// wantsStream sniffs the top-level "stream" field without requiring a
// fully validated request, since that validation happens downstream in
// anthropic.Parse.
func wantsStream(raw []byte) bool {
	var probe struct {
		Stream bool `json:"stream"`
	}
	_ = json.Unmarshal(raw, &probe)
	return probe.Stream
}

// writeAnthropicErrForForward classifies an error returned by
// CompleteAnthropic/StreamAnthropic into a 400/500 split: a
// ValidationErrors (or malformed JSON) is the caller's fault,
// everything else is an upstream/internal failure.
func writeAnthropicErrForForward(w http.ResponseWriter, err error) {
	var verrs anthropic.ValidationErrors
	if errors.As(err, &verrs) {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", verrs.Error())
		return
	}
	if isInvalidJSON(err) {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	slog.Error("anthropic completion failed", "error", err)
	writeAnthropicError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

func isInvalidJSON(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "invalid JSON")
}

// relaySSE drains a StreamReader, framing each payload as
// `data: <payload>\n\n` and terminating with `data: [DONE]\n\n`. A
// mid-stream upstream failure is reported as one final error frame
// rather than a 500.
func relaySSE(w http.ResponseWriter, r *http.Request, stream *upstream.StreamReader) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	writer := bufio.NewWriter(w)
	defer stream.Close()

	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		payload, err := stream.Next()
		if err != nil {
			if errors.Is(err, upstream.ErrStreamDone) {
				fmt.Fprint(writer, "data: [DONE]\n\n")
				writer.Flush()
				if canFlush {
					flusher.Flush()
				}
				return
			}
			slog.Error("stream relay failed", "error", err)
			fmt.Fprint(writer, `data: {"error":"Stream error"}`+"\n\n")
			writer.Flush()
			if canFlush {
				flusher.Flush()
			}
			return
		}

		fmt.Fprintf(writer, "data: %s\n\n", payload)
		writer.Flush()
		if canFlush {
			flusher.Flush()
		}
	}
}
