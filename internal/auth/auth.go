package auth

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// VerifyAppAPIKey checks if the provided API key is valid for accessing this app's API.
// This function verifies keys against the VALID_API_KEYS environment variable, which
// should contain a comma-separated list of valid API keys.
//
// If the DISABLE_AUTH environment variable is set to "true" or "1", all authentication
// checks will be bypassed and any API key will be considered valid.
//
// This function is used to authenticate API requests to the proxy application itself,
// not for authenticating with external services like GitHub Copilot.
//
// Parameters:
//   - apiKey: The API key to validate
//
// Returns:
//   - bool: true if the API key is valid or if authentication is disabled, false otherwise
func VerifyAppAPIKey(apiKey string) bool {
	// Check if authorization is disabled globally
	if disableAuth := os.Getenv("DISABLE_AUTH"); disableAuth == "true" || disableAuth == "1" {
		slog.Warn("ingress authentication disabled, accepting all bearer tokens")
		return true
	}

	// Check environment variables
	validKeys := os.Getenv("VALID_API_KEYS")
	if validKeys == "" {
		slog.Error("no VALID_API_KEYS configured, rejecting all callers")
		return false
	}

	keys := strings.Split(validKeys, ",")
	for _, key := range keys {
		trimmedKey := strings.TrimSpace(key)
		if apiKey == trimmedKey {
			return true
		}
	}

	return false
}

// jwtLifetime is how long a minted ingress JWT remains valid.
const jwtLifetime = time.Hour

// ErrTokenExpired is returned when a presented JWT has expired.
var ErrTokenExpired = errors.New("ingress token expired")

// ErrInvalidToken is returned when a presented JWT fails validation.
var ErrInvalidToken = errors.New("invalid ingress token")

// CallerClaims is the JWT claim set minted for an individual caller in
// a multi-caller deployment, so each caller gets an individually
// revocable credential.
type CallerClaims struct {
	jwt.RegisteredClaims
	CallerID string `json:"caller_id"`
}

// MintCallerToken issues a short-lived JWT identifying callerID,
// signed with secret.
func MintCallerToken(callerID, secret string) (string, error) {
	now := time.Now()
	claims := CallerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        now.Format(time.RFC3339Nano),
		},
		CallerID: callerID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// VerifyCallerToken validates a JWT minted by MintCallerToken and
// returns the caller id it identifies.
func VerifyCallerToken(tokenString, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CallerClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*CallerClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	return claims.CallerID, nil
}
