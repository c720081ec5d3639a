// Package config loads the ambient environment surface: a .env file
// (if present) followed by os.Getenv with defaults.
package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the fully-resolved environment surface for a single
// process run.
type Config struct {
	Port string
	Host string

	ValidAPIKeys []string
	DisableAuth  bool
	JWTSecret    string

	GitHubClientID      string
	EditorVersion       string
	EditorPluginVersion string

	SeedOAuthToken string

	UsageMeteringEnabled   bool
	StripeAPIKey           string
	StripeSubscriptionItem string
}

// Load reads .env (via loadEnvFile, searching the working directory and
// then its ancestors) and returns the resolved Config.
func Load() *Config {
	loadEnvFile()

	return &Config{
		Port: getEnvDefault("PORT", "8080"),
		Host: getEnvDefault("HOST", "0.0.0.0"),

		ValidAPIKeys: splitCSV(os.Getenv("VALID_API_KEYS")),
		DisableAuth:  parseBool(os.Getenv("DISABLE_AUTH")),
		JWTSecret:    os.Getenv("JWT_SECRET"),

		GitHubClientID:      os.Getenv("GITHUB_CLIENT_ID"),
		EditorVersion:       getEnvDefault("EDITOR_VERSION", "vscode/1.95.0"),
		EditorPluginVersion: getEnvDefault("EDITOR_PLUGIN_VERSION", "copilot/1.0.0"),

		SeedOAuthToken: firstNonEmpty(os.Getenv("COPILOT_OAUTH_TOKEN"), os.Getenv("OAUTH_TOKEN")),

		UsageMeteringEnabled:   parseBool(os.Getenv("USAGE_METERING_ENABLED")),
		StripeAPIKey:           os.Getenv("STRIPE_API_KEY"),
		StripeSubscriptionItem: os.Getenv("STRIPE_SUBSCRIPTION_ITEM"),
	}
}

// loadEnvFile loads environment variables from a .env file if present,
// trying the current directory first and then walking up through parent
// directories.
func loadEnvFile() {
	if err := godotenv.Load(); err == nil {
		log.Println("loaded environment variables from .env in current directory")
		return
	}

	workDir, err := os.Getwd()
	if err != nil {
		log.Printf("warning: could not determine current directory: %v", err)
		return
	}

	for dir := workDir; dir != "/"; dir = filepath.Dir(dir) {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err == nil {
			log.Printf("loaded environment variables from %s", envPath)
			return
		}
	}

	log.Println("no .env file found, using existing environment variables")
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
