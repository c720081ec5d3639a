package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/anschmieg/copilot-gateway/internal/auth"
)

type contextKey string

const callerContextKey contextKey = "caller"

// ingressAuth requires every /v1/* request to carry a bearer token
// valid against ValidAPIKeys, a JWT minted by auth.MintCallerToken, or
// anything at all when DisableAuth is set. A 401 here never reaches
// the Forwarder.
func (s *Server) ingressAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authCfg.DisableAuth {
			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), "anonymous")))
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeUnauthorized(w, r)
			return
		}

		if caller, ok := s.verifyAPIKey(token); ok {
			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
			return
		}

		if s.authCfg.JWTSecret != "" {
			if caller, err := auth.VerifyCallerToken(token, s.authCfg.JWTSecret); err == nil {
				next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
				return
			}
		}

		writeUnauthorized(w, r)
	})
}

// verifyAPIKey checks token against the configured VALID_API_KEYS list,
// returning the token itself as the caller identity (there is no
// separate per-key label in this deployment model).
func (s *Server) verifyAPIKey(token string) (string, bool) {
	for _, key := range s.authCfg.ValidAPIKeys {
		if token == key {
			return token, true
		}
	}
	return "", false
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return h
}

func withCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

func callerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(callerContextKey).(string); ok {
		return v
	}
	return "anonymous"
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/v1/messages") {
		writeAnthropicError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing API key")
		return
	}
	writeOpenAIError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing API key")
}
