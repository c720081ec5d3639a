// Package httpapi implements the HTTP surface: the health/root
// endpoints and the two dialect-specific completion endpoints, routed
// with go-chi/chi/v5.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/anschmieg/copilot-gateway/internal/upstream"
	"github.com/anschmieg/copilot-gateway/pkg/anthropicwire"
	"github.com/anschmieg/copilot-gateway/pkg/openai"
)

const serviceName = "copilot-gateway"
const serviceVersion = "0.1.0"
const serviceDescription = "Anthropic/OpenAI-dialect gateway in front of the GitHub Copilot chat API"

// Forwarder is the subset of forwarder.Forwarder the HTTP surface
// depends on.
type Forwarder interface {
	CompleteOpenAI(ctx context.Context, user string, req *openai.ChatRequest) (*openai.ChatResponse, error)
	StreamOpenAI(ctx context.Context, req *openai.ChatRequest) (*upstream.StreamReader, error)
	CompleteAnthropic(ctx context.Context, user string, raw []byte) (*anthropicwire.MessagesResponse, error)
	StreamAnthropic(ctx context.Context, raw []byte) (*upstream.StreamReader, error)
}

// AuthConfig configures the ingress-auth middleware.
type AuthConfig struct {
	ValidAPIKeys []string
	DisableAuth  bool
	JWTSecret    string
}

// Server bundles the chi router with the dependencies its handlers
// need.
type Server struct {
	router  chi.Router
	forward Forwarder
	authCfg AuthConfig
}

// New builds a Server wired to the given Forwarder and ingress-auth
// configuration.
func New(forward Forwarder, authCfg AuthConfig) *Server {
	s := &Server{forward: forward, authCfg: authCfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleRoot)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.ingressAuth)
		v1.Post("/chat/completions", s.handleOpenAIChatCompletions)
		v1.Post("/messages", s.handleAnthropicMessages)
	})

	s.router = r
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":        serviceName,
		"version":     serviceVersion,
		"description": serviceDescription,
	})
}
