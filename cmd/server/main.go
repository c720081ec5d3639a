// Command server runs the copilot-gateway HTTP surface: a gateway
// translating OpenAI- and Anthropic-dialect chat requests onto the
// GitHub Copilot chat API.
//
// CLI usage:
//
//	--get-api-key="oauth-token"
//	  Exchange a GitHub OAuth token for a Copilot API token and print it.
//	--test-auth="api-key"
//	  Check whether the given value is a valid app API key.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anschmieg/copilot-gateway/internal/auth"
	"github.com/anschmieg/copilot-gateway/internal/config"
	"github.com/anschmieg/copilot-gateway/internal/credentials"
	"github.com/anschmieg/copilot-gateway/internal/deviceauth"
	"github.com/anschmieg/copilot-gateway/internal/forwarder"
	"github.com/anschmieg/copilot-gateway/internal/httpapi"
	"github.com/anschmieg/copilot-gateway/internal/metering"
	"github.com/anschmieg/copilot-gateway/internal/upstream"
)

func main() {
	getAPIKey := flag.String("get-api-key", "", "exchange a GitHub OAuth token for a Copilot API token and print it")
	testAuth := flag.String("test-auth", "", "check whether the given value is a valid app API key")
	flag.Parse()

	cfg := config.Load()

	upstreamClient := upstream.NewClient(
		upstream.WithEditorVersion(cfg.EditorVersion),
		upstream.WithPluginVersion(cfg.EditorPluginVersion),
	)

	if *getAPIKey != "" {
		tok, err := upstreamClient.GetAPIToken(context.Background(), *getAPIKey)
		if err != nil {
			log.Fatalf("failed to retrieve API token: %v", err)
		}
		fmt.Println(tok.Token)
		return
	}

	if *testAuth != "" {
		if auth.VerifyAppAPIKey(*testAuth) {
			fmt.Println("valid application API key")
		} else {
			log.Fatal("invalid API key")
		}
		return
	}

	store, err := credentials.NewStore()
	if err != nil {
		log.Fatalf("locating credentials store: %v", err)
	}

	var credManager *credentials.Manager
	if cfg.GitHubClientID != "" {
		credManager = credentials.NewManager(store, upstreamClient, deviceauth.NewClient(cfg.GitHubClientID))
	} else {
		credManager = credentials.NewManager(store, upstreamClient, nil)
	}
	if cfg.SeedOAuthToken != "" {
		credManager.SeedOAuthToken(cfg.SeedOAuthToken)
	}

	var meterOpts []metering.Option
	if cfg.StripeSubscriptionItem != "" {
		meterOpts = append(meterOpts, metering.WithStripeSubscriptionItem(cfg.StripeSubscriptionItem))
	}
	meter := metering.NewMeter(cfg.UsageMeteringEnabled, cfg.StripeAPIKey, meterOpts...)

	fwd := forwarder.New(credManager, upstreamClient, meter)

	server := httpapi.New(fwd, httpapi.AuthConfig{
		ValidAPIKeys: cfg.ValidAPIKeys,
		DisableAuth:  cfg.DisableAuth,
		JWTSecret:    cfg.JWTSecret,
	})

	addr := cfg.Host + ":" + cfg.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("could not start server: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during server shutdown", "error", err)
	} else {
		slog.Info("server gracefully stopped")
	}
}
