// Command apitest is a debug CLI that exercises the Credential Manager
// and Upstream Client directly, without going through the HTTP surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/anschmieg/copilot-gateway/internal/credentials"
	"github.com/anschmieg/copilot-gateway/internal/deviceauth"
	"github.com/anschmieg/copilot-gateway/internal/upstream"
	"github.com/anschmieg/copilot-gateway/pkg/openai"
	"github.com/anschmieg/copilot-gateway/pkg/tokenmask"
)

func main() {
	prompt := flag.String("prompt", "Hello, what can you do?", "the prompt to send")
	model := flag.String("model", "gpt-4o", "the model to request")
	oauthToken := flag.String("oauth-token", "", "GitHub OAuth token (skips the device-auth flow and credentials file)")
	githubClientID := flag.String("github-client-id", "", "OAuth app id to use for device authorization if no oauth token is on file")
	editorVersion := flag.String("editor-version", "", "override Editor-Version header")
	pluginVersion := flag.String("plugin-version", "", "override Editor-Plugin-Version header")
	listModels := flag.Bool("list-models", false, "list available models instead of sending a prompt")
	flag.Parse()

	var opts []upstream.Option
	if *editorVersion != "" {
		opts = append(opts, upstream.WithEditorVersion(*editorVersion))
	}
	if *pluginVersion != "" {
		opts = append(opts, upstream.WithPluginVersion(*pluginVersion))
	}
	client := upstream.NewClient(opts...)

	ctx := context.Background()

	var apiToken *upstream.APIToken
	var err error
	if *oauthToken != "" {
		apiToken, err = client.GetAPIToken(ctx, *oauthToken)
	} else {
		store, storeErr := credentials.NewStore()
		if storeErr != nil {
			log.Fatalf("locating credentials store: %v", storeErr)
		}
		var manager *credentials.Manager
		if *githubClientID != "" {
			manager = credentials.NewManager(store, client, deviceauth.NewClient(*githubClientID))
		} else {
			manager = credentials.NewManager(store, client, nil)
		}
		var tok string
		tok, err = manager.ValidAPIToken(ctx)
		if err == nil {
			apiToken = &upstream.APIToken{Token: tok}
		}
	}
	if err != nil {
		log.Fatalf("failed to obtain API token: %v", err)
	}
	fmt.Printf("using API token: %s\n", tokenmask.Mask(apiToken.Token))

	apiEndpoint := apiToken.Endpoint()

	if *listModels {
		models, err := client.ListModels(ctx, apiEndpoint, apiToken.Token)
		if err != nil {
			log.Fatalf("failed to list models: %v", err)
		}
		for _, m := range models {
			fmt.Printf("- %s\n", m.ID)
		}
		return
	}

	req := &openai.ChatRequest{
		Model:    *model,
		Messages: []openai.Message{{Role: "user", Content: *prompt}},
	}

	resp, err := client.ChatCompletion(ctx, apiEndpoint, apiToken.Token, req)
	if err != nil {
		log.Fatalf("chat completion failed: %v", err)
	}
	if len(resp.Choices) == 0 {
		log.Fatal("upstream returned no choices")
	}
	fmt.Println(resp.Choices[0].Message.Content)
}
